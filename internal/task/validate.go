package task

import (
	"fmt"

	"github.com/taskweave/taskweave/pkg/cerr"
)

func validationError(field, msg string) error {
	return cerr.NewError(cerr.InvalidArgument,
		fmt.Sprintf("task validation failed: %s: %s", field, msg), nil)
}

// Validate checks schema conformance. It runs after construction and after
// every mutation so a corrupt object is never silently persisted.
func (t *Task) Validate() error {
	if t.ID < 1 {
		return validationError("id", fmt.Sprintf("must be a positive integer, got %d", t.ID))
	}
	if t.UUID == "" {
		return validationError("uuid", "must not be empty")
	}
	if t.Title == "" {
		return validationError("title", "must not be empty")
	}
	if !t.Status.Valid() {
		return validationError("status", fmt.Sprintf("unknown status %q", t.Status))
	}
	if t.Iterations < 1 {
		return validationError("iterations", fmt.Sprintf("must be at least 1, got %d", t.Iterations))
	}
	if t.RestartCount < 0 {
		return validationError("restartCount", fmt.Sprintf("must not be negative, got %d", t.RestartCount))
	}
	if t.Version == "" {
		return validationError("version", "must not be empty")
	}
	return nil
}
