package task

import (
	"strings"
	"time"
)

// CurrentVersion is the schema version stamped on every saved description.
// Loading an older version triggers a migration pass.
const CurrentVersion = "2.0"

type Status string

const (
	StatusNew        Status = "NEW"
	StatusInProgress Status = "IN_PROGRESS"
	StatusIterating  Status = "ITERATING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusMerged     Status = "MERGED"
	StatusPushed     Status = "PUSHED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusInProgress, StatusIterating, StatusCompleted,
		StatusFailed, StatusMerged, StatusPushed:
		return true
	}
	return false
}

// Terminal reports whether the status is sticky: once merged or pushed a
// task is never downgraded.
func (s Status) Terminal() bool {
	return s == StatusMerged || s == StatusPushed
}

// legacy status values written by older schema versions.
var statusAliases = map[string]Status{
	"created":     StatusNew,
	"queued":      StatusNew,
	"running":     StatusInProgress,
	"in-progress": StatusInProgress,
	"iterate":     StatusIterating,
	"done":        StatusCompleted,
	"complete":    StatusCompleted,
	"error":       StatusFailed,
	"errored":     StatusFailed,
}

// ParseStatus normalizes a persisted status string. Lowercase and alias
// spellings from legacy documents map onto the current enum; anything
// unrecognized normalizes to NEW.
func ParseStatus(raw string) Status {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if s.Valid() {
		return s
	}
	if alias, ok := statusAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return alias
	}
	return StatusNew
}

// Task is the durable description of one unit of work. It survives across
// iterations and restarts and is persisted as flat JSON (description.json).
type Task struct {
	ID          int               `json:"id"`
	UUID        string            `json:"uuid"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Inputs      map[string]string `json:"inputs,omitempty"`

	WorkflowName string `json:"workflowName"`
	Agent        string `json:"agent,omitempty"`
	SourceBranch string `json:"sourceBranch,omitempty"`
	WorktreePath string `json:"worktreePath,omitempty"`
	BranchName   string `json:"branchName,omitempty"`

	Status          Status     `json:"status"`
	Iterations      int        `json:"iterations"`
	CreatedAt       time.Time  `json:"createdAt"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	LastIterationAt *time.Time `json:"lastIterationAt,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	FailedAt        *time.Time `json:"failedAt,omitempty"`
	LastStatusCheck *time.Time `json:"lastStatusCheck,omitempty"`
	RestartCount    int        `json:"restartCount"`
	LastRestartAt   *time.Time `json:"lastRestartAt,omitempty"`
	Error           string     `json:"error,omitempty"`

	// Mirrored from the container collaborator; the engine never writes
	// these on its own initiative.
	ContainerID     string `json:"containerId,omitempty"`
	ExecutionStatus string `json:"executionStatus,omitempty"`
	ExitCode        *int   `json:"exitCode,omitempty"`

	Version string `json:"version"`
}
