package runner

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/taskweave/taskweave/internal/workflow"
)

// Placeholder values stored when a declared output cannot be recovered.
const (
	placeholderOutputNotFound = "[Output not found]"
	placeholderNoJSON         = "[No JSON output]"
	placeholderFileNotCreated = "[File not created]"
	placeholderFileUnreadable = "[File unreadable]"
)

var fencedJSONPattern = regexp.MustCompile("(?s)```json\\s*(.*?)```")

// extractResponse unwraps the tool's JSON envelope. Tools name the result
// field differently (result, response, content, message); a tool without
// an envelope, or an envelope that fails to parse, yields the raw text.
func extractResponse(tool Tool, raw string) (string, []string) {
	if tool.ResultField == "" {
		return raw, nil
	}

	if value, ok := envelopeField(raw, tool.ResultField); ok {
		return value, nil
	}
	// Some tools emit one JSON document per line; take the last line that
	// carries the result field.
	lines := strings.Split(strings.TrimSpace(raw), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if value, ok := envelopeField(lines[i], tool.ResultField); ok {
			return value, nil
		}
	}

	return raw, []string{fmt.Sprintf(
		"%s output is not a JSON envelope, treating it as plain text", tool.Name)}
}

func envelopeField(raw, field string) (string, bool) {
	var envelope map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &envelope); err != nil {
		return "", false
	}
	value, ok := envelope[field]
	if !ok {
		return "", false
	}
	if s, ok := value.(string); ok {
		return s, true
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", false
	}
	return string(encoded), true
}

// responseJSON locates the JSON object of a response: the whole response
// first, then the first fenced ```json block.
func responseJSON(response string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(response)), &obj); err == nil {
		return obj, true
	}
	if match := fencedJSONPattern.FindStringSubmatch(response); match != nil {
		if err := json.Unmarshal([]byte(strings.TrimSpace(match[1])), &obj); err == nil {
			return obj, true
		}
	}
	return nil, false
}

// extractStringOutputs recovers the step's declared non-file outputs from
// the response text. Absence is a soft condition: the key gets a
// placeholder value and a warning, never an error.
func extractStringOutputs(step *workflow.Step, response string, outputs map[string]string) []string {
	var declared []workflow.Output
	for _, out := range step.Outputs {
		if out.Type != workflow.OutputTypeFile {
			declared = append(declared, out)
		}
	}
	if len(declared) == 0 {
		return nil
	}

	obj, found := responseJSON(response)
	var warnings []string
	for _, out := range declared {
		if !found {
			outputs[out.Name] = placeholderNoJSON
			warnings = append(warnings, fmt.Sprintf(
				"output %q: response contains no JSON object", out.Name))
			continue
		}
		value, ok := obj[out.Name]
		if !ok {
			outputs[out.Name] = placeholderOutputNotFound
			warnings = append(warnings, fmt.Sprintf(
				"output %q missing from response JSON", out.Name))
			continue
		}
		if s, ok := value.(string); ok {
			outputs[out.Name] = s
		} else {
			outputs[out.Name] = fmt.Sprintf("%v", value)
		}
	}
	return warnings
}

// collectFileOutputs resolves the step's declared file outputs from the
// agent's working directory. When an output directory is configured the
// file is copied there and the source removed; a copy rather than a rename
// so bind-mounted or cross-filesystem directories keep working. The output
// map gets the resulting path under the output name and the decoded
// content under "<name>_content".
func collectFileOutputs(step *workflow.Step, workDir, outputDir string, outputs map[string]string) []string {
	var warnings []string
	for _, out := range step.Outputs {
		if out.Type != workflow.OutputTypeFile {
			continue
		}

		source := filepath.Join(workDir, out.Filename)
		content, err := os.ReadFile(source)
		if err != nil {
			if os.IsNotExist(err) {
				outputs[out.Name] = placeholderFileNotCreated
				warnings = append(warnings, fmt.Sprintf(
					"output %q: expected file %s was not created", out.Name, out.Filename))
			} else {
				outputs[out.Name] = placeholderFileUnreadable
				warnings = append(warnings, fmt.Sprintf(
					"output %q: failed to read %s: %v", out.Name, out.Filename, err))
			}
			continue
		}

		finalPath := source
		if outputDir != "" {
			moved, err := moveFile(source, filepath.Join(outputDir, out.Filename))
			if err != nil {
				warnings = append(warnings, fmt.Sprintf(
					"output %q: failed to move %s into %s: %v", out.Name, out.Filename, outputDir, err))
			} else {
				finalPath = moved
			}
		}

		outputs[out.Name] = finalPath
		outputs[out.Name+"_content"] = string(content)
	}
	return warnings
}

func moveFile(source, dest string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", err
	}
	in, err := os.Open(source)
	if err != nil {
		return "", err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	if err := os.Remove(source); err != nil {
		return "", err
	}
	abs, err := filepath.Abs(dest)
	if err != nil {
		return dest, nil
	}
	return abs, nil
}
