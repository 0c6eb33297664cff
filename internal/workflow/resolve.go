package workflow

import "time"

// StepTool resolves the tool for a step. Precedence: step-level value >
// caller-supplied override > workflow-level default.
func (w *Workflow) StepTool(stepID, override string) string {
	if step := w.Step(stepID); step != nil && step.Tool != "" {
		return step.Tool
	}
	if override != "" {
		return override
	}
	return w.Defaults.Tool
}

// StepModel resolves the model for a step with the same precedence as
// StepTool.
func (w *Workflow) StepModel(stepID, override string) string {
	if step := w.Step(stepID); step != nil && step.Model != "" {
		return step.Model
	}
	if override != "" {
		return override
	}
	return w.Defaults.Model
}

// StepTimeout resolves a step's wall-clock budget. Precedence: step-level
// config.timeout > workflow-level config.timeout > the 30-minute fallback.
func (w *Workflow) StepTimeout(stepID string) time.Duration {
	if step := w.Step(stepID); step != nil && step.Config != nil && step.Config.TimeoutSec > 0 {
		return time.Duration(step.Config.TimeoutSec) * time.Second
	}
	if w.Config.TimeoutSec > 0 {
		return time.Duration(w.Config.TimeoutSec) * time.Second
	}
	return DefaultTimeoutSec * time.Second
}

// StepRetries resolves how many retries a step allows. No retries unless
// configured.
func (w *Workflow) StepRetries(stepID string) int {
	if step := w.Step(stepID); step != nil && step.Config != nil && step.Config.Retries > 0 {
		return step.Config.Retries
	}
	return 0
}
