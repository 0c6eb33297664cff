// Package orchestrator drives one task through its workflow: it resolves
// the workflow, provisions the worktree when asked to, walks the steps
// sequentially threading outputs forward, reflects progress into the
// iteration status file, and settles the task's state from the outcome.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/taskweave/taskweave/internal/event"
	"github.com/taskweave/taskweave/internal/iteration"
	"github.com/taskweave/taskweave/internal/runner"
	"github.com/taskweave/taskweave/internal/task"
	"github.com/taskweave/taskweave/internal/workflow"
	"github.com/taskweave/taskweave/pkg/cerr"
	"github.com/taskweave/taskweave/pkg/clog"
	"github.com/taskweave/taskweave/pkg/worktree"
)

type Orchestrator struct {
	tasks      *task.Store
	iterations *iteration.Store
	workflows  *workflow.Loader
	bus        *event.Bus
	worktrees  *worktree.Manager
	outputDir  string
	logger     *slog.Logger

	// newRunner is a seam for tests; production wiring keeps the default.
	newRunner func(wf *workflow.Workflow, opts runner.Options) *runner.Runner
}

type Deps struct {
	Tasks      *task.Store
	Iterations *iteration.Store
	Workflows  *workflow.Loader
	Bus        *event.Bus
	// Worktrees may be nil when the caller manages working directories.
	Worktrees *worktree.Manager
	OutputDir string
	Logger    *slog.Logger
}

func New(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		tasks:      deps.Tasks,
		iterations: deps.Iterations,
		workflows:  deps.Workflows,
		bus:        deps.Bus,
		worktrees:  deps.Worktrees,
		outputDir:  deps.OutputDir,
		logger:     logger,
		newRunner:  runner.New,
	}
}

// Run executes one iteration of the task's workflow. Step failures settle
// the task as FAILED rather than propagating; only broken invariants
// (store or workflow errors) surface as errors.
func (o *Orchestrator) Run(ctx context.Context, taskID int, extraInputs map[string]string) (*task.Task, error) {
	t, err := o.tasks.Load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	clog.AddAttribute(ctx, "task", t.ID)

	wf, err := o.workflows.LoadByName(t.WorkflowName)
	if err != nil {
		return nil, err
	}

	provided := make(map[string]string, len(t.Inputs)+len(extraInputs))
	for name, value := range t.Inputs {
		provided[name] = value
	}
	for name, value := range extraInputs {
		provided[name] = value
	}
	validation := wf.ValidateInputs(provided)
	for _, warning := range validation.Warnings {
		o.logger.WarnContext(ctx, "workflow input", "warning", warning)
	}
	if !validation.Valid {
		return nil, cerr.NewError(cerr.InvalidArgument,
			"workflow inputs are invalid: "+strings.Join(validation.Errors, "; "), nil)
	}
	inputs := wf.ResolveInputs(provided)

	if err := o.provisionWorktree(ctx, t); err != nil {
		return nil, err
	}

	if t.Status == task.StatusNew {
		if err := t.MarkInProgress(); err != nil {
			return nil, err
		}
	}

	it, err := o.nextIteration(ctx, t)
	if err != nil {
		return nil, err
	}
	clog.AddAttribute(ctx, "iteration", it.Iteration)
	if err := t.MarkIterating(); err != nil {
		return nil, err
	}
	if err := o.tasks.Save(ctx, t); err != nil {
		return nil, err
	}
	o.publishTask(ctx, t)

	outcome := o.runSteps(ctx, t, wf, it, inputs)

	if outcome != nil {
		o.writeStatus(ctx, t.ID, it.Iteration, iteration.StatusFailed, 100, outcome.Error())
		if err := t.MarkFailed(outcome.Error()); err != nil {
			return nil, err
		}
	} else {
		o.writeStatus(ctx, t.ID, it.Iteration, iteration.StatusCompleted, 100, "")
		if err := t.MarkCompleted(); err != nil {
			return nil, err
		}
	}
	if err := o.tasks.Save(ctx, t); err != nil {
		return nil, err
	}
	o.publishTask(ctx, t)
	return t, nil
}

// runSteps walks the workflow sequentially. The returned error is the
// reason the iteration failed, nil when every step passed or failures
// were configured to be skipped.
func (o *Orchestrator) runSteps(ctx context.Context, t *task.Task, wf *workflow.Workflow, it *iteration.Iteration, inputs map[string]string) error {
	workDir := t.WorktreePath
	if workDir == "" {
		workDir = "."
	}
	r := o.newRunner(wf, runner.Options{
		WorkDir:      workDir,
		OutputDir:    o.stepOutputDir(t, it),
		ToolOverride: t.Agent,
		Logger:       o.logger,
	})

	prior := make(map[string]map[string]string, len(wf.Steps))
	for i := range wf.Steps {
		step := &wf.Steps[i]
		o.writeStatus(ctx, t.ID, it.Iteration, iteration.StatusRunning, i*100/len(wf.Steps), "")

		result, err := o.runStepWithRetries(ctx, r, wf, step.ID, inputs, prior)
		if err != nil {
			return err
		}
		prior[step.ID] = result.Outputs

		if !result.Success {
			if wf.Config.ContinueOnError {
				o.logger.WarnContext(ctx, "continuing past failed step", "step", step.ID, "error", result.Error)
				continue
			}
			return fmt.Errorf("step %s failed: %s", step.ID, result.Error)
		}
	}
	return nil
}

func (o *Orchestrator) runStepWithRetries(ctx context.Context, r *runner.Runner, wf *workflow.Workflow, stepID string, inputs map[string]string, prior map[string]map[string]string) (*runner.StepResult, error) {
	retries := wf.StepRetries(stepID)
	var result *runner.StepResult
	for attempt := 0; ; attempt++ {
		var err error
		result, err = r.Run(ctx, stepID, inputs, prior)
		if err != nil {
			return nil, err
		}
		if result.Success || attempt >= retries || !result.Retryable() {
			return result, nil
		}
		o.logger.WarnContext(ctx, "retrying step",
			"step", stepID, "attempt", attempt+1, "of", retries, "error", result.Error)
	}
}

// nextIteration creates the attempt record: CreateInitial for a task that
// has never run, CreateIteration carrying the prior attempt's plan and
// summary forward otherwise.
func (o *Orchestrator) nextIteration(ctx context.Context, t *task.Task) (*iteration.Iteration, error) {
	latest, err := o.iterations.Latest(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	if latest == 0 {
		return o.iterations.CreateInitial(ctx, t.ID, t.Title, t.Description)
	}

	previous := o.previousContext(ctx, t.ID, latest)
	n := t.NextIteration()
	if n <= latest {
		n = latest + 1
		t.Iterations = n
	}
	return o.iterations.CreateIteration(ctx, t.ID, n, t.Title, t.Description, previous)
}

// previousContext recovers the prior attempt's plan/summary from its
// markdown files so the next attempt does not re-derive them.
func (o *Orchestrator) previousContext(ctx context.Context, taskID, prior int) *iteration.PreviousContext {
	files, err := o.iterations.MarkdownFiles(ctx, taskID, prior, "plan.md", "summary.md")
	if err != nil {
		o.logger.WarnContext(ctx, "failed to read prior iteration markdown",
			"iteration", prior, "error", err)
		files = nil
	}
	return &iteration.PreviousContext{
		Plan:            files["plan.md"],
		Summary:         files["summary.md"],
		IterationNumber: prior,
	}
}

func (o *Orchestrator) provisionWorktree(ctx context.Context, t *task.Task) error {
	if o.worktrees == nil || t.SourceBranch == "" || t.WorktreePath != "" {
		return nil
	}
	path, branch, err := o.worktrees.Create(t.ID, t.SourceBranch)
	if err != nil {
		return cerr.NewError(cerr.Internal,
			fmt.Sprintf("failed to provision worktree for task %d", t.ID), err)
	}
	t.WorktreePath = path
	t.BranchName = branch
	return o.tasks.Save(ctx, t)
}

func (o *Orchestrator) stepOutputDir(t *task.Task, it *iteration.Iteration) string {
	if o.outputDir == "" {
		return ""
	}
	return filepath.Join(o.outputDir, fmt.Sprintf("%d", t.ID), fmt.Sprintf("%d", it.Iteration))
}

func (o *Orchestrator) writeStatus(ctx context.Context, taskID, iter int, value iteration.StatusValue, progress int, errMsg string) {
	st := &iteration.Status{
		Status:    value,
		Progress:  progress,
		UpdatedAt: time.Now(),
		Error:     errMsg,
	}
	if value == iteration.StatusCompleted || value == iteration.StatusFailed {
		now := time.Now()
		st.CompletedAt = &now
	}
	if err := o.iterations.WriteStatus(ctx, taskID, iter, st); err != nil {
		o.logger.WarnContext(ctx, "failed to write iteration status",
			"iteration", iter, "error", err)
	}
}

func (o *Orchestrator) publishTask(ctx context.Context, t *task.Task) {
	if o.bus == nil {
		return
	}
	if err := o.bus.Publish(event.TopicTask, event.TaskEvent{
		TaskID:    t.ID,
		UUID:      t.UUID,
		Status:    string(t.Status),
		Timestamp: time.Now(),
	}); err != nil {
		o.logger.WarnContext(ctx, "failed to publish task event", "error", err)
	}
}
