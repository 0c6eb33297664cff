package workflow

// CurrentVersion is the workflow document schema version. Legacy documents
// without a version are migrated by stamping the current one on load.
const CurrentVersion = "1.0"

// DefaultTimeoutSec applies when neither a step nor the workflow configures
// a timeout (30 minutes).
const DefaultTimeoutSec = 1800

type StepType string

const (
	// StepTypeAgent is the only step type with an implemented executor.
	StepTypeAgent StepType = "agent"

	// Declared but unimplemented variants. These are recognized so a
	// document using them is rejected with a clear error at load time
	// instead of being silently inert.
	StepTypeConditional StepType = "conditional"
	StepTypeParallel    StepType = "parallel"
	StepTypeSequential  StepType = "sequential"
)

// Executable reports whether an executor exists for the step type.
func (t StepType) Executable() bool {
	return t == StepTypeAgent
}

func (t StepType) Known() bool {
	switch t {
	case StepTypeAgent, StepTypeConditional, StepTypeParallel, StepTypeSequential:
		return true
	}
	return false
}

type InputType string

const (
	InputTypeString  InputType = "string"
	InputTypeNumber  InputType = "number"
	InputTypeBoolean InputType = "boolean"
)

type OutputType string

const (
	OutputTypeString  OutputType = "string"
	OutputTypeNumber  OutputType = "number"
	OutputTypeBoolean OutputType = "boolean"
	OutputTypeFile    OutputType = "file"
)

type Input struct {
	Name        string    `yaml:"name"`
	Type        InputType `yaml:"type"`
	Description string    `yaml:"description,omitempty"`
	Required    bool      `yaml:"required"`
	Default     string    `yaml:"default,omitempty"`
}

type Output struct {
	Name        string     `yaml:"name"`
	Type        OutputType `yaml:"type"`
	Description string     `yaml:"description,omitempty"`
	// Filename names the file an agent must create for a file-typed output.
	Filename string `yaml:"filename,omitempty"`
}

type Defaults struct {
	Tool  string `yaml:"tool,omitempty"`
	Model string `yaml:"model,omitempty"`
}

type Config struct {
	TimeoutSec      int  `yaml:"timeout,omitempty"`
	ContinueOnError bool `yaml:"continueOnError,omitempty"`
}

type StepConfig struct {
	TimeoutSec int `yaml:"timeout,omitempty"`
	Retries    int `yaml:"retries,omitempty"`
}

type Step struct {
	ID      string      `yaml:"id"`
	Name    string      `yaml:"name,omitempty"`
	Type    StepType    `yaml:"type"`
	Tool    string      `yaml:"tool,omitempty"`
	Model   string      `yaml:"model,omitempty"`
	Prompt  string      `yaml:"prompt"`
	Outputs []Output    `yaml:"outputs,omitempty"`
	Config  *StepConfig `yaml:"config,omitempty"`
}

// Workflow is a declarative, versioned sequence of steps used to execute
// a task. Loaded read-mostly.
type Workflow struct {
	Version     string   `yaml:"version"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Inputs      []Input  `yaml:"inputs,omitempty"`
	Outputs     []Output `yaml:"outputs,omitempty"`
	Defaults    Defaults `yaml:"defaults,omitempty"`
	Config      Config   `yaml:"config,omitempty"`
	Steps       []Step   `yaml:"steps"`
}

// Step returns the step with the given id, or nil.
func (w *Workflow) Step(stepID string) *Step {
	for i := range w.Steps {
		if w.Steps[i].ID == stepID {
			return &w.Steps[i]
		}
	}
	return nil
}
