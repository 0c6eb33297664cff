package runner

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/taskweave/taskweave/internal/workflow"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// placeholder is the structured record of one {{...}} occurrence collected
// by the first rendering pass.
type placeholder struct {
	raw      string // full match including braces
	key      string // trimmed inner expression
	value    string
	resolved bool
	warning  string
}

// RenderResult carries the rendered prompt and the soft warnings collected
// along the way. Rendering never fails on an unresolved placeholder: the
// workflow author may intend the gap to fail later at the agent level.
type RenderResult struct {
	Prompt   string
	Warnings []string
}

// renderPrompt substitutes {{inputs.NAME}} and
// {{steps.STEP_ID.outputs.OUTPUT_NAME}} placeholders in two passes: the
// first collects every placeholder with its resolution status, the second
// performs the substitution. Unresolved placeholders stay verbatim, each
// contributing exactly one warning.
func renderPrompt(wf *workflow.Workflow, step *workflow.Step, tool Tool, inputs map[string]string, prior map[string]map[string]string) RenderResult {
	placeholders := collectPlaceholders(wf, step.Prompt, inputs, prior)

	var warnings []string
	substitutions := make(map[string]string, len(placeholders))
	for _, p := range placeholders {
		if p.resolved {
			substitutions[p.raw] = p.value
		}
		if p.warning != "" {
			warnings = append(warnings, p.warning)
		}
	}

	rendered := placeholderPattern.ReplaceAllStringFunc(step.Prompt, func(match string) string {
		if value, ok := substitutions[match]; ok {
			return value
		}
		return match
	})

	if instructions := outputInstructions(step, tool); instructions != "" {
		rendered += "\n\n" + instructions
	}

	return RenderResult{Prompt: rendered, Warnings: warnings}
}

func collectPlaceholders(wf *workflow.Workflow, template string, inputs map[string]string, prior map[string]map[string]string) []placeholder {
	matches := placeholderPattern.FindAllStringSubmatch(template, -1)
	seen := make(map[string]bool, len(matches))
	var placeholders []placeholder

	for _, match := range matches {
		raw, key := match[0], strings.TrimSpace(match[1])
		if seen[raw] {
			continue
		}
		seen[raw] = true
		placeholders = append(placeholders, resolvePlaceholder(wf, raw, key, inputs, prior))
	}
	return placeholders
}

func resolvePlaceholder(wf *workflow.Workflow, raw, key string, inputs map[string]string, prior map[string]map[string]string) placeholder {
	p := placeholder{raw: raw, key: key}
	parts := strings.Split(key, ".")

	switch {
	case len(parts) == 2 && parts[0] == "inputs":
		name := parts[1]
		value, ok := inputs[name]
		if !ok {
			p.warning = fmt.Sprintf("unresolved placeholder %s: unknown input %q", raw, name)
			return p
		}
		p.value = value
		p.resolved = true

	case len(parts) == 4 && parts[0] == "steps" && parts[2] == "outputs":
		stepID, outputName := parts[1], parts[3]
		outputs, ok := prior[stepID]
		if !ok {
			p.warning = fmt.Sprintf("unresolved placeholder %s: step %q has not executed", raw, stepID)
			return p
		}
		value, ok := outputs[outputName]
		if !ok {
			p.warning = fmt.Sprintf("unresolved placeholder %s: step %q has no output %q", raw, stepID, outputName)
			return p
		}
		p.resolved = true
		p.value = value
		// A file-typed output resolves to the file's contents, not its
		// path. Unreadable files fall back to the path with a warning.
		if declaredOutputType(wf, stepID, outputName) == workflow.OutputTypeFile {
			content, err := os.ReadFile(value)
			if err != nil {
				p.warning = fmt.Sprintf("placeholder %s: file output %q is unreadable, substituting path: %v",
					raw, outputName, err)
				return p
			}
			p.value = string(content)
		}

	default:
		p.warning = fmt.Sprintf("unresolved placeholder %s: malformed placeholder syntax", raw)
	}
	return p
}

func declaredOutputType(wf *workflow.Workflow, stepID, outputName string) workflow.OutputType {
	step := wf.Step(stepID)
	if step == nil {
		return ""
	}
	for _, out := range step.Outputs {
		if out.Name == outputName {
			return out.Type
		}
	}
	return ""
}

// outputInstructions renders the machine-readable suffix telling the agent
// how to format its response so declared outputs can be parsed back out.
func outputInstructions(step *workflow.Step, tool Tool) string {
	var jsonOutputs []workflow.Output
	var fileOutputs []workflow.Output
	for _, out := range step.Outputs {
		if out.Type == workflow.OutputTypeFile {
			fileOutputs = append(fileOutputs, out)
		} else {
			jsonOutputs = append(jsonOutputs, out)
		}
	}
	if len(jsonOutputs) == 0 && len(fileOutputs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("--- OUTPUT INSTRUCTIONS ---\n")

	if len(jsonOutputs) > 0 {
		b.WriteString("At the end of your response, output a single JSON object with exactly these keys:\n")
		b.WriteString("```json\n{\n")
		for i, out := range jsonOutputs {
			desc := out.Description
			if desc == "" {
				desc = string(out.Type)
				if desc == "" {
					desc = "string"
				}
			}
			fmt.Fprintf(&b, "  %q: \"<%s>\"", out.Name, desc)
			if i < len(jsonOutputs)-1 {
				b.WriteString(",")
			}
			b.WriteString("\n")
		}
		b.WriteString("}\n```\n")
	}

	for _, out := range fileOutputs {
		fmt.Fprintf(&b, "Create a file named exactly `%s` in your working directory", out.Filename)
		if out.Description != "" {
			fmt.Fprintf(&b, " containing %s", out.Description)
		}
		b.WriteString(".\n")
		if tool.FileWriteQuirk {
			fmt.Fprintf(&b,
				"If your file-writing tool is unavailable, write `%s` with a shell command instead (for example a heredoc). Do not skip creating the file.\n",
				out.Filename)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
