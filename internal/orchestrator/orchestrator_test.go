package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskweave/taskweave/internal/event"
	"github.com/taskweave/taskweave/internal/iteration"
	"github.com/taskweave/taskweave/internal/runner"
	"github.com/taskweave/taskweave/internal/task"
	"github.com/taskweave/taskweave/internal/workflow"
	"github.com/taskweave/taskweave/pkg/cerr"
	"github.com/taskweave/taskweave/pkg/clog"
	"github.com/taskweave/taskweave/pkg/storage"
)

type fixture struct {
	orch       *Orchestrator
	tasks      *task.Store
	iterations *iteration.Store
	dataDir    string
}

// stubExec fakes the agent process layer. Each call consumes the next
// scripted result.
type stubExec struct {
	results []stubResult
	prompts []string
	calls   int
}

type stubResult struct {
	stdout   string
	exitCode int
	err      error
}

func (s *stubExec) exec(_ context.Context, _ string, _ []string, prompt, _ string, _ int64) (*runner.ProcessResult, error) {
	s.prompts = append(s.prompts, prompt)
	idx := s.calls
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	s.calls++
	r := s.results[idx]
	return &runner.ProcessResult{Stdout: r.stdout, ExitCode: r.exitCode}, r.err
}

func newFixture(t *testing.T, wf *workflow.Workflow, exec *stubExec) *fixture {
	t.Helper()
	dataDir := t.TempDir()
	store, err := storage.NewLocalStorage(dataDir)
	require.NoError(t, err)

	workflowDir := filepath.Join(dataDir, "workflows")
	loader := workflow.NewLoader(workflowDir)
	_, err = loader.Save(wf)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := event.NewBus()
	t.Cleanup(func() { _ = bus.Close() })

	orch := New(Deps{
		Tasks:      task.NewStore(store),
		Iterations: iteration.NewStore(store),
		Workflows:  loader,
		Bus:        bus,
		Logger:     logger,
	})
	orch.newRunner = func(wf *workflow.Workflow, opts runner.Options) *runner.Runner {
		opts.Probe = func(context.Context, runner.Tool) bool { return true }
		opts.Exec = exec.exec
		return runner.New(wf, opts)
	}

	return &fixture{
		orch:       orch,
		tasks:      orch.tasks,
		iterations: orch.iterations,
		dataDir:    dataDir,
	}
}

func twoStepWorkflow() *workflow.Workflow {
	return &workflow.Workflow{
		Version:  workflow.CurrentVersion,
		Name:     "feature",
		Inputs:   []workflow.Input{{Name: "goal", Type: workflow.InputTypeString, Required: true}},
		Defaults: workflow.Defaults{Tool: "claude"},
		Steps: []workflow.Step{
			{
				ID:     "plan",
				Type:   workflow.StepTypeAgent,
				Prompt: "Plan: {{inputs.goal}}",
				Outputs: []workflow.Output{
					{Name: "plan", Type: workflow.OutputTypeString},
				},
			},
			{
				ID:     "implement",
				Type:   workflow.StepTypeAgent,
				Prompt: "Implement: {{steps.plan.outputs.plan}}",
			},
		},
	}
}

func createTask(t *testing.T, f *fixture) *task.Task {
	t.Helper()
	tk, err := f.tasks.Create(context.Background(), task.CreateSpec{
		Title:        "Ship the feature",
		WorkflowName: "feature",
		Inputs:       map[string]string{"goal": "make it fast"},
	})
	require.NoError(t, err)
	return tk
}

func TestRunCompletesTask(t *testing.T) {
	ctx := context.Background()
	exec := &stubExec{results: []stubResult{
		{stdout: `{"result": "{\"plan\": \"two commits\"}"}`},
		{stdout: `{"result": "done"}`},
	}}
	f := newFixture(t, twoStepWorkflow(), exec)
	tk := createTask(t, f)

	got, err := f.orch.Run(ctx, tk.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)

	// Step outputs thread into the next prompt.
	require.Len(t, exec.prompts, 2)
	assert.Contains(t, exec.prompts[0], "Plan: make it fast")
	assert.Contains(t, exec.prompts[1], "Implement: two commits")

	// The attempt record and its final status exist on disk.
	it, err := f.iterations.Load(ctx, tk.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, it.Iteration)
	st, err := f.iterations.LoadStatus(ctx, tk.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, iteration.StatusCompleted, st.Status)
	assert.Equal(t, 100, st.Progress)
	require.NotNil(t, st.CompletedAt)

	persisted, err := f.tasks.Load(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, persisted.Status)
	require.NotNil(t, persisted.CompletedAt)
}

func TestRunFailingStepFailsTask(t *testing.T) {
	ctx := context.Background()
	exec := &stubExec{results: []stubResult{
		{stdout: "", exitCode: 2},
	}}
	f := newFixture(t, twoStepWorkflow(), exec)
	tk := createTask(t, f)

	got, err := f.orch.Run(ctx, tk.ID, nil)
	require.NoError(t, err, "a step failure settles the task, it does not raise")
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "step plan failed")
	assert.Equal(t, 1, exec.calls, "later steps do not run after a failure")

	st, err := f.iterations.LoadStatus(ctx, tk.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, iteration.StatusFailed, st.Status)
	assert.NotEmpty(t, st.Error)
}

func TestRunContinueOnError(t *testing.T) {
	ctx := context.Background()
	wf := twoStepWorkflow()
	wf.Config.ContinueOnError = true
	exec := &stubExec{results: []stubResult{
		{stdout: "", exitCode: 2},
		{stdout: `{"result": "done"}`},
	}}
	f := newFixture(t, wf, exec)
	tk := createTask(t, f)

	got, err := f.orch.Run(ctx, tk.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status, "failures are skipped when configured")
	assert.Equal(t, 2, exec.calls)
}

func TestRunRetriesRetryableFailures(t *testing.T) {
	ctx := context.Background()
	wf := twoStepWorkflow()
	wf.Steps = wf.Steps[:1]
	wf.Steps[0].Config = &workflow.StepConfig{Retries: 2}
	exec := &stubExec{results: []stubResult{
		{stdout: "", exitCode: 1}, // retryable exit failure
		{stdout: `{"result": "{\"plan\": \"ok\"}"}`},
	}}
	f := newFixture(t, wf, exec)
	tk := createTask(t, f)

	got, err := f.orch.Run(ctx, tk.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.Equal(t, 2, exec.calls, "one failure, one successful retry")
}

func TestRunSecondAttemptCarriesPreviousContext(t *testing.T) {
	ctx := context.Background()
	exec := &stubExec{results: []stubResult{
		{stdout: `{"result": "{\"plan\": \"two commits\"}"}`},
	}}
	wf := twoStepWorkflow()
	wf.Steps = wf.Steps[:1]
	f := newFixture(t, wf, exec)
	tk := createTask(t, f)

	_, err := f.orch.Run(ctx, tk.ID, nil)
	require.NoError(t, err)

	// The agent left a plan and summary behind in the first attempt.
	iterDir := filepath.Join(f.dataDir, "tasks", "1", "iterations", "1")
	require.NoError(t, os.WriteFile(filepath.Join(iterDir, "plan.md"), []byte("# the plan"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(iterDir, "summary.md"), []byte("# what happened"), 0o644))

	_, err = f.orch.Run(ctx, tk.ID, nil)
	require.NoError(t, err)

	second, err := f.iterations.Load(ctx, tk.ID, 2)
	require.NoError(t, err)
	require.NotNil(t, second.PreviousContext)
	assert.Equal(t, "# the plan", second.PreviousContext.Plan)
	assert.Equal(t, "# what happened", second.PreviousContext.Summary)
	assert.Equal(t, 1, second.PreviousContext.IterationNumber)

	persisted, err := f.tasks.Load(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, persisted.Iterations)
}

func TestRunRejectsMissingRequiredInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, twoStepWorkflow(), &stubExec{results: []stubResult{{}}})

	tk, err := f.tasks.Create(ctx, task.CreateSpec{
		Title:        "No inputs",
		WorkflowName: "feature",
	})
	require.NoError(t, err)

	_, err = f.orch.Run(ctx, tk.ID, nil)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
	assert.Contains(t, err.Error(), `required input "goal" is missing`)
}

func TestRunExtraInputsOverrideTaskInputs(t *testing.T) {
	ctx := context.Background()
	exec := &stubExec{results: []stubResult{
		{stdout: `{"result": "{\"plan\": \"ok\"}"}`},
		{stdout: `{"result": "done"}`},
	}}
	f := newFixture(t, twoStepWorkflow(), exec)
	tk := createTask(t, f)

	_, err := f.orch.Run(ctx, tk.ID, map[string]string{"goal": "override wins"})
	require.NoError(t, err)
	require.NotEmpty(t, exec.prompts)
	assert.Contains(t, exec.prompts[0], "Plan: override wins")
	assert.False(t, strings.Contains(exec.prompts[0], "make it fast"))
}

func TestRunLogRecordsCarryTaskAttribute(t *testing.T) {
	exec := &stubExec{results: []stubResult{
		{stdout: `{"result": "{\"plan\": \"two commits\"}"}`},
		{stdout: `{"result": "done"}`},
	}}
	f := newFixture(t, twoStepWorkflow(), exec)
	tk := createTask(t, f)

	var buf bytes.Buffer
	f.orch.logger = clog.NewWithWriter(&buf, slog.LevelDebug)

	// An undeclared input draws a warning through the ordinary log path.
	ctx := clog.ContextWithSlog(context.Background())
	_, err := f.orch.Run(ctx, tk.ID, map[string]string{"surprise": "x"})
	require.NoError(t, err)

	out := buf.String()
	require.Contains(t, out, "workflow input")
	assert.Contains(t, out, fmt.Sprintf("task=%d", tk.ID),
		"context attributes must reach every record, not just context-free key/values")
	assert.Contains(t, out, "iteration=1")
}

func TestRunUnknownTaskAndWorkflow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, twoStepWorkflow(), &stubExec{results: []stubResult{{}}})

	_, err := f.orch.Run(ctx, 99, nil)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))

	tk, err := f.tasks.Create(ctx, task.CreateSpec{Title: "t", WorkflowName: "ghost"})
	require.NoError(t, err)
	_, err = f.orch.Run(ctx, tk.ID, nil)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}
