package workflow

import (
	"fmt"

	"github.com/taskweave/taskweave/pkg/cerr"
)

func validationError(msg string) error {
	return cerr.NewError(cerr.InvalidArgument, "workflow validation failed: "+msg, nil)
}

// Validate checks the document against the versioned schema. Loading fails
// fast on definition bugs: duplicate step ids, duplicate input names, and
// step types without an implemented executor.
func (w *Workflow) Validate() error {
	if w.Name == "" {
		return validationError("name must not be empty")
	}
	if len(w.Steps) == 0 {
		return validationError("at least one step is required")
	}

	inputNames := make(map[string]bool, len(w.Inputs))
	for _, input := range w.Inputs {
		if input.Name == "" {
			return validationError("input name must not be empty")
		}
		if inputNames[input.Name] {
			return validationError(fmt.Sprintf("duplicate input %q", input.Name))
		}
		inputNames[input.Name] = true
		switch input.Type {
		case InputTypeString, InputTypeNumber, InputTypeBoolean, "":
		default:
			return validationError(fmt.Sprintf("input %q has unknown type %q", input.Name, input.Type))
		}
	}

	stepIDs := make(map[string]bool, len(w.Steps))
	for i := range w.Steps {
		step := &w.Steps[i]
		if step.ID == "" {
			return validationError(fmt.Sprintf("step %d has no id", i))
		}
		if stepIDs[step.ID] {
			return validationError(fmt.Sprintf("duplicate step id %q", step.ID))
		}
		stepIDs[step.ID] = true

		if step.Type == "" {
			step.Type = StepTypeAgent
		}
		if !step.Type.Known() {
			return validationError(fmt.Sprintf("step %q has unknown type %q", step.ID, step.Type))
		}
		if !step.Type.Executable() {
			return validationError(fmt.Sprintf("step %q has unsupported step type %q", step.ID, step.Type))
		}
		if step.Prompt == "" {
			return validationError(fmt.Sprintf("step %q has no prompt", step.ID))
		}

		outputNames := make(map[string]bool, len(step.Outputs))
		for _, out := range step.Outputs {
			if out.Name == "" {
				return validationError(fmt.Sprintf("step %q has an output without a name", step.ID))
			}
			if outputNames[out.Name] {
				return validationError(fmt.Sprintf("step %q has duplicate output %q", step.ID, out.Name))
			}
			outputNames[out.Name] = true
			switch out.Type {
			case OutputTypeString, OutputTypeNumber, OutputTypeBoolean, "":
			case OutputTypeFile:
				if out.Filename == "" {
					return validationError(fmt.Sprintf(
						"step %q output %q is file-typed but names no filename", step.ID, out.Name))
				}
			default:
				return validationError(fmt.Sprintf(
					"step %q output %q has unknown type %q", step.ID, out.Name, out.Type))
			}
		}
	}
	return nil
}

// InputValidation is the structured result of ValidateInputs. Warnings are
// advisory and never make the result invalid on their own.
type InputValidation struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// ValidateInputs checks caller-supplied inputs against the declared ones.
// A missing required input with no default is an error; a provided input
// the workflow never declares is only a warning, so forward-compatible
// callers keep working.
func (w *Workflow) ValidateInputs(provided map[string]string) InputValidation {
	result := InputValidation{Valid: true}

	declared := make(map[string]Input, len(w.Inputs))
	for _, input := range w.Inputs {
		if _, dup := declared[input.Name]; dup {
			result.Errors = append(result.Errors,
				fmt.Sprintf("workflow declares input %q more than once", input.Name))
			result.Valid = false
			continue
		}
		declared[input.Name] = input
	}

	for _, input := range w.Inputs {
		if !input.Required || input.Default != "" {
			continue
		}
		if _, ok := provided[input.Name]; !ok {
			result.Errors = append(result.Errors,
				fmt.Sprintf("required input %q is missing and has no default", input.Name))
			result.Valid = false
		}
	}

	for name := range provided {
		if _, ok := declared[name]; !ok {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("input %q is not declared by workflow %q", name, w.Name))
		}
	}

	return result
}

// ResolveInputs merges declared defaults with the caller-supplied values.
func (w *Workflow) ResolveInputs(provided map[string]string) map[string]string {
	resolved := make(map[string]string, len(w.Inputs)+len(provided))
	for _, input := range w.Inputs {
		if input.Default != "" {
			resolved[input.Name] = input.Default
		}
	}
	for name, value := range provided {
		resolved[name] = value
	}
	return resolved
}
