package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"

	"github.com/taskweave/taskweave/internal/config"
	"github.com/taskweave/taskweave/internal/engine"
	"github.com/taskweave/taskweave/internal/task"
	"github.com/taskweave/taskweave/pkg/clog"
)

var (
	app = kingpin.New("taskweave", "Task and workflow orchestration for AI coding agents")

	// Task commands
	createCmd      = app.Command("create", "Create a new task")
	createTitle    = createCmd.Arg("title", "Task title").Required().String()
	createWorkflow = createCmd.Flag("workflow", "Workflow name").Required().String()
	createDesc     = createCmd.Flag("description", "Task description").String()
	createAgent    = createCmd.Flag("agent", "Preferred agent tool").String()
	createBranch   = createCmd.Flag("source-branch", "Git branch to base the task worktree on").String()
	createInputs   = createCmd.Flag("input", "Workflow input as NAME=VALUE").StringMap()

	listCmd = app.Command("list", "List all tasks")

	showCmd  = app.Command("show", "Show task details")
	showID   = showCmd.Arg("id", "Task ID").Required().Int()
	showJSON = showCmd.Flag("json", "Print the raw task document").Bool()

	runCmd    = app.Command("run", "Run a task through its workflow")
	runID     = runCmd.Arg("id", "Task ID").Required().Int()
	runInputs = runCmd.Flag("input", "Workflow input as NAME=VALUE").StringMap()

	restartCmd = app.Command("restart", "Restart a new or failed task")
	restartID  = restartCmd.Arg("id", "Task ID").Required().Int()

	deleteCmd = app.Command("delete", "Delete a task and its iterations")
	deleteID  = deleteCmd.Arg("id", "Task ID").Required().Int()

	watchCmd = app.Command("watch", "Watch iteration status files and print events")
	watchID  = watchCmd.Flag("task", "Only watch one task").Int()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	env, err := config.LoadEnv()
	if err != nil {
		fatal(err)
	}
	clog.SetDefault(env.SlogLevel())

	eng, err := engine.New(env)
	if err != nil {
		fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = clog.ContextWithSlog(ctx)

	switch command {
	case createCmd.FullCommand():
		err = handleCreate(ctx, eng)
	case listCmd.FullCommand():
		err = handleList(ctx, eng)
	case showCmd.FullCommand():
		err = handleShow(ctx, eng)
	case runCmd.FullCommand():
		err = handleRun(ctx, eng)
	case restartCmd.FullCommand():
		err = handleRestart(ctx, eng)
	case deleteCmd.FullCommand():
		err = handleDelete(ctx, eng)
	case watchCmd.FullCommand():
		err = handleWatch(ctx, eng)
	}
	if err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("error:"), err)
	os.Exit(1)
}

func handleCreate(ctx context.Context, eng *engine.Engine) error {
	t, err := eng.Tasks.Create(ctx, task.CreateSpec{
		Title:        *createTitle,
		Description:  *createDesc,
		WorkflowName: *createWorkflow,
		Agent:        *createAgent,
		SourceBranch: *createBranch,
		Inputs:       *createInputs,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Created task %s (%s)\n", color.CyanString("%d", t.ID), t.Title)
	return nil
}

func handleList(ctx context.Context, eng *engine.Engine) error {
	tasks, err := eng.Tasks.List(ctx)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks.")
		return nil
	}
	for _, t := range tasks {
		fmt.Printf("%4d  %-12s  %-20s  %s\n",
			t.ID, statusColor(t.Status), t.WorkflowName, t.Title)
	}
	return nil
}

func handleShow(ctx context.Context, eng *engine.Engine) error {
	t, err := eng.Tasks.Load(ctx, *showID)
	if err != nil {
		return err
	}
	if *showJSON {
		data, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	fmt.Printf("Task:       %d (%s)\n", t.ID, t.UUID)
	fmt.Printf("Title:      %s\n", t.Title)
	fmt.Printf("Status:     %s\n", statusColor(t.Status))
	fmt.Printf("Workflow:   %s\n", t.WorkflowName)
	fmt.Printf("Iterations: %d\n", t.Iterations)
	if t.Agent != "" {
		fmt.Printf("Agent:      %s\n", t.Agent)
	}
	if t.WorktreePath != "" {
		fmt.Printf("Worktree:   %s (%s)\n", t.WorktreePath, t.BranchName)
	}
	if t.Error != "" {
		fmt.Printf("Error:      %s\n", color.RedString(t.Error))
	}
	return nil
}

func handleRun(ctx context.Context, eng *engine.Engine) error {
	t, err := eng.Orchestrator.Run(ctx, *runID, *runInputs)
	if err != nil {
		return err
	}
	fmt.Printf("Task %d finished with status %s\n", t.ID, statusColor(t.Status))
	if t.Status == task.StatusFailed {
		os.Exit(1)
	}
	return nil
}

func handleRestart(ctx context.Context, eng *engine.Engine) error {
	t, err := eng.Tasks.Load(ctx, *restartID)
	if err != nil {
		return err
	}
	if err := t.Restart(); err != nil {
		return err
	}
	if err := eng.Tasks.Save(ctx, t); err != nil {
		return err
	}
	fmt.Printf("Restarted task %d (restart count %d)\n", t.ID, t.RestartCount)
	return nil
}

func handleDelete(ctx context.Context, eng *engine.Engine) error {
	if err := eng.Tasks.Delete(ctx, *deleteID); err != nil {
		return err
	}
	fmt.Printf("Deleted task %d\n", *deleteID)
	return nil
}

func handleWatch(ctx context.Context, eng *engine.Engine) error {
	if err := eng.Watcher.Start(); err != nil {
		return err
	}
	defer eng.Watcher.Stop()

	events, err := eng.WatchEvents(ctx, *watchID)
	if err != nil {
		return err
	}
	fmt.Println("Watching for status changes (Ctrl-C to stop)...")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Error != "" {
				fmt.Printf("%s task %d iteration %d: %s\n",
					color.RedString("%-7s", ev.Type), ev.TaskID, ev.Iteration, ev.Error)
				continue
			}
			line := fmt.Sprintf("%-7s task %d iteration %d", ev.Type, ev.TaskID, ev.Iteration)
			if ev.Data != nil {
				line += fmt.Sprintf(": %s (%d%%)", ev.Data.Status, ev.Data.Progress)
			}
			fmt.Println(line)
		}
	}
}

func statusColor(s task.Status) string {
	switch s {
	case task.StatusCompleted, task.StatusMerged, task.StatusPushed:
		return color.GreenString(string(s))
	case task.StatusFailed:
		return color.RedString(string(s))
	case task.StatusInProgress, task.StatusIterating:
		return color.YellowString(string(s))
	default:
		return string(s)
	}
}
