package workflow

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskweave/taskweave/pkg/cerr"
)

func testWorkflow() *Workflow {
	return &Workflow{
		Version: CurrentVersion,
		Name:    "feature",
		Inputs: []Input{
			{Name: "goal", Type: InputTypeString, Required: true},
			{Name: "branch", Type: InputTypeString, Default: "main"},
		},
		Defaults: Defaults{Tool: "claude", Model: "sonnet"},
		Config:   Config{TimeoutSec: 600},
		Steps: []Step{
			{
				ID:     "plan",
				Type:   StepTypeAgent,
				Prompt: "Plan how to achieve: {{inputs.goal}}",
				Outputs: []Output{
					{Name: "plan", Type: OutputTypeString},
				},
			},
			{
				ID:     "implement",
				Type:   StepTypeAgent,
				Tool:   "codex",
				Prompt: "Implement the plan: {{steps.plan.outputs.plan}}",
				Config: &StepConfig{TimeoutSec: 120, Retries: 2},
			},
		},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, testWorkflow().Validate())

	t.Run("duplicate step id", func(t *testing.T) {
		w := testWorkflow()
		w.Steps[1].ID = "plan"
		err := w.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `duplicate step id "plan"`)
	})

	t.Run("unsupported step type", func(t *testing.T) {
		w := testWorkflow()
		w.Steps[0].Type = StepTypeParallel
		err := w.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported step type")
	})

	t.Run("unknown step type", func(t *testing.T) {
		w := testWorkflow()
		w.Steps[0].Type = "mystery"
		err := w.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown type")
	})

	t.Run("empty type defaults to agent", func(t *testing.T) {
		w := testWorkflow()
		w.Steps[0].Type = ""
		require.NoError(t, w.Validate())
		assert.Equal(t, StepTypeAgent, w.Steps[0].Type)
	})

	t.Run("duplicate input", func(t *testing.T) {
		w := testWorkflow()
		w.Inputs = append(w.Inputs, Input{Name: "goal"})
		err := w.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `duplicate input "goal"`)
	})

	t.Run("file output without filename", func(t *testing.T) {
		w := testWorkflow()
		w.Steps[0].Outputs = append(w.Steps[0].Outputs, Output{Name: "report", Type: OutputTypeFile})
		err := w.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "names no filename")
	})

	t.Run("no steps", func(t *testing.T) {
		w := testWorkflow()
		w.Steps = nil
		require.Error(t, w.Validate())
	})
}

func TestValidateInputs(t *testing.T) {
	w := testWorkflow()

	t.Run("missing required input is an error", func(t *testing.T) {
		result := w.ValidateInputs(map[string]string{})
		assert.False(t, result.Valid)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], `required input "goal" is missing`)
	})

	t.Run("default satisfies a required input", func(t *testing.T) {
		required := &Workflow{
			Version: CurrentVersion,
			Name:    "w",
			Inputs:  []Input{{Name: "branch", Required: true, Default: "main"}},
			Steps:   []Step{{ID: "s", Type: StepTypeAgent, Prompt: "p"}},
		}
		result := required.ValidateInputs(map[string]string{})
		assert.True(t, result.Valid)
		assert.Empty(t, result.Errors)
	})

	t.Run("undeclared input is only a warning", func(t *testing.T) {
		result := w.ValidateInputs(map[string]string{"goal": "x", "extra": "y"})
		assert.True(t, result.Valid)
		assert.Empty(t, result.Errors)
		require.Len(t, result.Warnings, 1)
		assert.Contains(t, result.Warnings[0], `input "extra" is not declared`)
	})

	t.Run("duplicate declared input is an error", func(t *testing.T) {
		dup := &Workflow{
			Version: CurrentVersion,
			Name:    "w",
			Inputs: []Input{
				{Name: "goal", Required: true},
				{Name: "goal", Default: "again"},
			},
			Steps: []Step{{ID: "s", Type: StepTypeAgent, Prompt: "p"}},
		}
		result := dup.ValidateInputs(map[string]string{"goal": "x"})
		assert.False(t, result.Valid)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], `declares input "goal" more than once`)
	})
}

func TestResolveInputs(t *testing.T) {
	w := testWorkflow()
	resolved := w.ResolveInputs(map[string]string{"goal": "ship"})
	assert.Equal(t, "ship", resolved["goal"])
	assert.Equal(t, "main", resolved["branch"], "defaults fill gaps")

	resolved = w.ResolveInputs(map[string]string{"goal": "ship", "branch": "dev"})
	assert.Equal(t, "dev", resolved["branch"], "provided values beat defaults")
}

func TestStepAccessors(t *testing.T) {
	w := testWorkflow()

	assert.Equal(t, "claude", w.StepTool("plan", ""), "workflow default")
	assert.Equal(t, "gemini", w.StepTool("plan", "gemini"), "override beats default")
	assert.Equal(t, "codex", w.StepTool("implement", "gemini"), "step-level beats override")

	assert.Equal(t, "sonnet", w.StepModel("plan", ""))
	assert.Equal(t, "opus", w.StepModel("plan", "opus"))

	assert.Equal(t, 120*time.Second, w.StepTimeout("implement"), "step config wins")
	assert.Equal(t, 600*time.Second, w.StepTimeout("plan"), "workflow config wins")
	w.Config.TimeoutSec = 0
	assert.Equal(t, 30*time.Minute, w.StepTimeout("plan"), "fallback budget")

	assert.Equal(t, 2, w.StepRetries("implement"))
	assert.Equal(t, 0, w.StepRetries("plan"))
}

func TestLoaderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(dir)

	path, err := loader.Save(testWorkflow())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "feature.yaml"), path)

	loaded, err := loader.LoadByName("feature")
	require.NoError(t, err)
	assert.Equal(t, "feature", loaded.Name)
	require.Len(t, loaded.Steps, 2)
	assert.Equal(t, "codex", loaded.Steps[1].Tool)
	require.NotNil(t, loaded.Steps[1].Config)
	assert.Equal(t, 2, loaded.Steps[1].Config.Retries)
}

func TestLoaderStampsMissingVersion(t *testing.T) {
	dir := t.TempDir()
	doc := `
name: legacy
steps:
  - id: only
    type: agent
    prompt: do "the" thing
`
	path := filepath.Join(dir, "legacy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	loaded, err := NewLoader(dir).LoadByName("legacy")
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, loaded.Version)
}

func TestLoaderErrors(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(dir)

	_, err := loader.LoadByName("ghost")
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))

	path := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\n\t- not yaml"), 0o644))
	_, err = loader.LoadByName("broken")
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.DataLoss))

	invalid := testWorkflow()
	invalid.Steps[1].ID = invalid.Steps[0].ID
	_, err = loader.Save(invalid)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
}

func TestYMLExtensionResolves(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(dir)

	data := `
version: "1.0"
name: alt
steps:
  - id: s1
    type: agent
    prompt: hello
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "alt.yml"), []byte(data), 0o644))
	loaded, err := loader.LoadByName("alt")
	require.NoError(t, err)
	assert.Equal(t, "alt", loaded.Name)
}
