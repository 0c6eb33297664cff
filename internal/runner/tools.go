package runner

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/taskweave/taskweave/pkg/cerr"
)

// Tool describes one of the supported agent binaries: how to probe it, the
// fixed flag set to run it with, and how to read its output.
type Tool struct {
	Name string
	// VersionArgs probe the binary for availability.
	VersionArgs []string
	// RunArgs are the fixed flags: bypass-approval/sandbox, JSON output
	// where the tool supports it, and stdin prompt delivery.
	RunArgs []string
	// ModelFlag, when set, lets a step or workflow pin a model.
	ModelFlag string
	// ResultField names the key of the tool's JSON envelope holding the
	// response text. Empty means the tool prints plain text.
	ResultField string
	// FileWriteQuirk marks tools known to have trouble invoking their own
	// file-write capability; output instructions phrase file creation
	// explicitly for them.
	FileWriteQuirk bool
}

// Args builds the full argument list for a run.
func (t Tool) Args(model string) []string {
	args := append([]string{}, t.RunArgs...)
	if model != "" && t.ModelFlag != "" {
		args = append(args, t.ModelFlag, model)
	}
	return args
}

// The five supported agent binaries. The flag sets are fixed per tool;
// each reads its prompt from standard input.
var tools = map[string]Tool{
	"claude": {
		Name:        "claude",
		VersionArgs: []string{"--version"},
		RunArgs:     []string{"--print", "--output-format", "json", "--dangerously-skip-permissions"},
		ModelFlag:   "--model",
		ResultField: "result",
	},
	"codex": {
		Name:        "codex",
		VersionArgs: []string{"--version"},
		RunArgs:     []string{"exec", "--dangerously-bypass-approvals-and-sandbox", "--json", "-"},
		ModelFlag:   "--model",
		ResultField: "message",
	},
	"gemini": {
		Name:        "gemini",
		VersionArgs: []string{"--version"},
		RunArgs:     []string{"--yolo", "--output-format", "json"},
		ModelFlag:   "--model",
		ResultField: "response",
	},
	"amp": {
		Name:           "amp",
		VersionArgs:    []string{"--version"},
		RunArgs:        []string{"--execute", "--dangerously-allow-all"},
		ResultField:    "",
		FileWriteQuirk: true,
	},
	"opencode": {
		Name:           "opencode",
		VersionArgs:    []string{"--version"},
		RunArgs:        []string{"run", "--format", "json"},
		ModelFlag:      "--model",
		ResultField:    "content",
		FileWriteQuirk: true,
	},
}

// LookupTool returns the definition of a supported tool by name.
func LookupTool(name string) (Tool, bool) {
	t, ok := tools[name]
	return t, ok
}

const probeTimeout = 5 * time.Second

// probeTool checks that the binary exists and answers its version flag.
func probeTool(ctx context.Context, t Tool) bool {
	if _, err := exec.LookPath(t.Name); err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return exec.CommandContext(ctx, t.Name, t.VersionArgs...).Run() == nil
}

// selectTool probes the step's configured tool and falls back to the
// workflow default when it is a different tool. No runnable candidate is
// the one hard failure of the runner: it surfaces at construction instead
// of being deferred into execution.
func (r *Runner) selectTool(ctx context.Context, stepID, configured, fallback string) (Tool, error) {
	candidates := []string{configured}
	if fallback != "" && fallback != configured {
		candidates = append(candidates, fallback)
	}

	for i, name := range candidates {
		t, ok := LookupTool(name)
		if !ok {
			r.logger.WarnContext(ctx, "unsupported tool configured for step", "step", stepID, "tool", name)
			continue
		}
		if !r.probe(ctx, t) {
			continue
		}
		if i > 0 {
			r.logger.WarnContext(ctx, "configured tool unavailable, substituting workflow default",
				"step", stepID, "configured", configured, "using", name)
		}
		return t, nil
	}

	return Tool{}, cerr.NewError(cerr.FailedPrecondition,
		fmt.Sprintf("could not find any tool to run step '%s'", stepID), nil)
}
