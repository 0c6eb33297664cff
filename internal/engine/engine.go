// Package engine wires the stores, workflow loader, watcher and
// orchestrator together from the process environment.
package engine

import (
	"context"
	"log/slog"
	"os"

	"github.com/taskweave/taskweave/internal/config"
	"github.com/taskweave/taskweave/internal/event"
	"github.com/taskweave/taskweave/internal/iteration"
	"github.com/taskweave/taskweave/internal/orchestrator"
	"github.com/taskweave/taskweave/internal/task"
	"github.com/taskweave/taskweave/internal/watcher"
	"github.com/taskweave/taskweave/internal/workflow"
	"github.com/taskweave/taskweave/pkg/storage"
	"github.com/taskweave/taskweave/pkg/worktree"
)

type Engine struct {
	Tasks        *task.Store
	Iterations   *iteration.Store
	Workflows    *workflow.Loader
	Bus          *event.Bus
	Watcher      *watcher.Watcher
	Orchestrator *orchestrator.Orchestrator
}

func New(env *config.Env) (*Engine, error) {
	store, err := storage.NewLocalStorage(env.DataDir)
	if err != nil {
		return nil, err
	}

	logger := slog.Default()
	bus := event.NewBus()
	tasks := task.NewStore(store)
	iterations := iteration.NewStore(store)
	workflows := workflow.NewLoader(env.WorkflowDir)
	watch := watcher.New(env.DataDir, bus, env.WatchDebounce(), logger)

	// Worktree provisioning is best effort; outside a git repository the
	// orchestrator simply runs steps in the current directory.
	var worktrees *worktree.Manager
	if cwd, err := os.Getwd(); err == nil {
		if m, err := worktree.NewManager(cwd, env.DataDir); err == nil {
			worktrees = m
		}
	}

	orch := orchestrator.New(orchestrator.Deps{
		Tasks:      tasks,
		Iterations: iterations,
		Workflows:  workflows,
		Bus:        bus,
		Worktrees:  worktrees,
		OutputDir:  env.OutputDir,
		Logger:     logger,
	})

	return &Engine{
		Tasks:        tasks,
		Iterations:   iterations,
		Workflows:    workflows,
		Bus:          bus,
		Watcher:      watch,
		Orchestrator: orch,
	}, nil
}

// WatchEvents subscribes to status watch events, narrowed to one task
// when taskID is non-zero.
func (e *Engine) WatchEvents(ctx context.Context, taskID int) (<-chan watcher.Event, error) {
	if taskID != 0 {
		return e.Watcher.TaskEvents(ctx, taskID)
	}
	return e.Watcher.Events(ctx)
}

// Close releases the event bus; the watcher is stopped separately by
// whoever started it.
func (e *Engine) Close() error {
	return e.Bus.Close()
}
