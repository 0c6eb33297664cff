package workflow

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/taskweave/taskweave/pkg/cerr"
)

// Loader loads workflow documents from a directory, by name or by path.
type Loader struct {
	dir string
}

func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Load reads and validates a workflow document from path. Legacy documents
// without a version are migrated by stamping the current version.
func (l *Loader) Load(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cerr.NewError(cerr.NotFound,
				fmt.Sprintf("workflow %s not found", path), err)
		}
		return nil, cerr.NewError(cerr.Internal,
			fmt.Sprintf("failed to read workflow %s", path), err)
	}

	var w Workflow
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, cerr.NewError(cerr.DataLoss,
			fmt.Sprintf("workflow %s is not valid YAML", path), err)
	}

	if w.Version == "" {
		w.Version = CurrentVersion
	}

	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &w, nil
}

// LoadByName resolves "<name>.yaml" or "<name>.yml" under the loader's
// directory.
func (l *Loader) LoadByName(name string) (*Workflow, error) {
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(l.dir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return l.Load(path)
		}
	}
	return nil, cerr.NewError(cerr.NotFound,
		fmt.Sprintf("workflow %q not found in %s", name, l.dir), nil)
}

// Save writes the workflow document under the loader's directory.
func (l *Loader) Save(w *Workflow) (string, error) {
	if err := w.Validate(); err != nil {
		return "", err
	}
	data, err := yaml.Marshal(w)
	if err != nil {
		return "", cerr.NewError(cerr.Internal, "failed to marshal workflow", err)
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return "", cerr.NewError(cerr.Internal,
			fmt.Sprintf("failed to create workflow directory %s", l.dir), err)
	}
	path := filepath.Join(l.dir, w.Name+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", cerr.NewError(cerr.Internal,
			fmt.Sprintf("failed to write workflow %s", path), err)
	}
	return path, nil
}

// Create builds and validates a workflow in memory.
func Create(name, description string, defaults Defaults, config Config, inputs []Input, steps []Step) (*Workflow, error) {
	w := &Workflow{
		Version:     CurrentVersion,
		Name:        name,
		Description: description,
		Defaults:    defaults,
		Config:      config,
		Inputs:      inputs,
		Steps:       steps,
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}
