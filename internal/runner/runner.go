// Package runner executes one workflow step: it selects an agent binary,
// renders the step prompt from inputs and prior step outputs, spawns the
// process under a timeout, and parses declared outputs back out. A step is
// a recoverable unit: every execution failure is folded into the result's
// outputs map instead of being raised.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/taskweave/taskweave/internal/workflow"
	"github.com/taskweave/taskweave/pkg/cerr"
)

// Output keys the runner always populates.
const (
	OutputKeyRawOutput      = "raw_output"
	OutputKeyInputPrompt    = "input_prompt"
	OutputKeyError          = "error"
	OutputKeyErrorCode      = "error_code"
	OutputKeyErrorRetryable = "error_retryable"
)

type StepResult struct {
	ID       string
	Success  bool
	Error    string
	Duration time.Duration
	Outputs  map[string]string
	Warnings []string
}

type probeFunc func(ctx context.Context, t Tool) bool

type execFunc func(ctx context.Context, bin string, args []string, prompt, workDir string, timeoutMillis int64) (*ProcessResult, error)

type Options struct {
	// WorkDir is the agent's working directory (usually the task worktree).
	WorkDir string
	// OutputDir, when set, receives declared file outputs.
	OutputDir string
	// ToolOverride is the caller's preferred tool; step-level tools still win.
	ToolOverride string
	Logger       *slog.Logger

	// Test seams. Production wiring leaves them nil.
	Probe probeFunc
	Exec  execFunc
}

type Runner struct {
	wf           *workflow.Workflow
	workDir      string
	outputDir    string
	toolOverride string
	logger       *slog.Logger
	probe        probeFunc
	exec         execFunc
}

func New(wf *workflow.Workflow, opts Options) *Runner {
	r := &Runner{
		wf:           wf,
		workDir:      opts.WorkDir,
		outputDir:    opts.OutputDir,
		toolOverride: opts.ToolOverride,
		logger:       opts.Logger,
		probe:        opts.Probe,
		exec:         opts.Exec,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.probe == nil {
		r.probe = func(ctx context.Context, t Tool) bool { return probeTool(ctx, t) }
	}
	if r.exec == nil {
		r.exec = runProcess
	}
	return r
}

// Run executes one step, threading prior step outputs into the prompt.
// The only hard failures are an unknown step id and the absence of any
// runnable tool; execution failures come back as a failed StepResult.
func (r *Runner) Run(ctx context.Context, stepID string, inputs map[string]string, prior map[string]map[string]string) (*StepResult, error) {
	step := r.wf.Step(stepID)
	if step == nil {
		return nil, cerr.NewError(cerr.NotFound,
			fmt.Sprintf("workflow %q has no step %q", r.wf.Name, stepID), nil)
	}

	configured := r.wf.StepTool(stepID, r.toolOverride)
	tool, err := r.selectTool(ctx, stepID, configured, r.wf.Defaults.Tool)
	if err != nil {
		return nil, err
	}

	rendered := renderPrompt(r.wf, step, tool, inputs, prior)
	for _, warning := range rendered.Warnings {
		r.logger.WarnContext(ctx, "prompt rendering", "step", stepID, "warning", warning)
	}

	result := &StepResult{
		ID:       stepID,
		Outputs:  map[string]string{OutputKeyInputPrompt: rendered.Prompt},
		Warnings: rendered.Warnings,
	}

	timeout := r.wf.StepTimeout(stepID)
	model := r.wf.StepModel(stepID, "")
	r.logger.InfoContext(ctx, "running step",
		"step", stepID, "tool", tool.Name, "timeout", timeout)

	started := time.Now()
	proc, execErr := r.exec(ctx, tool.Name, tool.Args(model), rendered.Prompt, r.workDir, timeout.Milliseconds())
	result.Duration = time.Since(started)
	if proc != nil {
		result.Outputs[OutputKeyRawOutput] = proc.Stdout
	}

	if execErr != nil {
		r.recordFailure(ctx, result, classifyFailure(tool, timeout, proc, execErr))
		return result, nil
	}
	if proc.ExitCode != 0 {
		r.recordFailure(ctx, result, NewExitError(tool.Name, proc.ExitCode, proc.Stderr))
		return result, nil
	}

	response, warnings := extractResponse(tool, proc.Stdout)
	warnings = append(warnings, extractStringOutputs(step, response, result.Outputs)...)
	warnings = append(warnings, collectFileOutputs(step, r.workDir, r.outputDir, result.Outputs)...)
	for _, warning := range warnings {
		r.logger.WarnContext(ctx, "output parsing", "step", stepID, "warning", warning)
	}
	result.Warnings = append(result.Warnings, warnings...)
	result.Success = true

	r.logger.InfoContext(ctx, "step completed", "step", stepID, "duration", result.Duration)
	return result, nil
}

// classifyFailure maps a process error onto the AgentError family. A
// cancellation whose cause was the auth detector is an authentication
// failure even though the process layer reports it as canceled.
func classifyFailure(tool Tool, timeout time.Duration, proc *ProcessResult, err error) error {
	switch {
	case errors.Is(err, errAuthDetected):
		return NewAuthenticationError(tool.Name)
	case errors.Is(err, errTimeoutExceeded), errors.Is(err, context.DeadlineExceeded):
		return NewTimeoutError(tool.Name, timeout)
	case errors.Is(err, context.Canceled):
		return NewCanceledError(tool.Name)
	}
	if proc != nil && proc.ExitCode != 0 {
		return NewExitError(tool.Name, proc.ExitCode, proc.Stderr)
	}
	return &AgentError{Message: err.Error(), Code: "EXECUTION_FAILED", Retryable: true}
}

func (r *Runner) recordFailure(ctx context.Context, result *StepResult, err error) {
	code := "UNKNOWN"
	retryable := false
	var agentErr *AgentError
	if errors.As(err, &agentErr) {
		code = agentErr.Code
		retryable = agentErr.Retryable
	}

	result.Success = false
	result.Error = err.Error()
	result.Outputs[OutputKeyError] = err.Error()
	result.Outputs[OutputKeyErrorCode] = code
	result.Outputs[OutputKeyErrorRetryable] = strconv.FormatBool(retryable)

	r.logger.ErrorContext(ctx, "step failed",
		"step", result.ID, "code", code, "retryable", retryable, "error", err)
}

// Retryable reports whether a failed result may be attempted again.
func (s *StepResult) Retryable() bool {
	return s.Outputs[OutputKeyErrorRetryable] == "true"
}
