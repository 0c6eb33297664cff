package iteration

import "time"

// CurrentVersion is the iteration schema version. The schema is small and
// additive, so migration only stamps the version on load.
const CurrentVersion = "1.1"

// PreviousContext carries the prior attempt's plan and summary forward so
// a later iteration does not have to re-derive them.
type PreviousContext struct {
	Plan            string `json:"plan,omitempty"`
	Summary         string `json:"summary,omitempty"`
	IterationNumber int    `json:"iterationNumber,omitempty"`
}

// Iteration is one execution attempt of a task. It is written once at
// creation and never mutated afterwards except through its status
// sub-resource.
type Iteration struct {
	ID              int              `json:"id"` // task id
	Iteration       int              `json:"iteration"`
	Title           string           `json:"title"`
	Description     string           `json:"description,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	PreviousContext *PreviousContext `json:"previousContext,omitempty"`
	Version         string           `json:"version"`
}

type StatusValue string

const (
	StatusQueued    StatusValue = "queued"
	StatusRunning   StatusValue = "running"
	StatusCompleted StatusValue = "completed"
	StatusFailed    StatusValue = "failed"
)

func (s StatusValue) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Status is the live execution status of an iteration, persisted as a
// sibling status.json. The running agent process is its sole writer; the
// orchestrating process only seeds the initial queued record.
type Status struct {
	Status      StatusValue `json:"status"`
	Progress    int         `json:"progress"`
	UpdatedAt   time.Time   `json:"updatedAt"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
	Error       string      `json:"error,omitempty"`
}
