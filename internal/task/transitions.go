package task

import (
	"fmt"
	"time"

	"github.com/taskweave/taskweave/pkg/cerr"
)

// allowed transitions of the task state machine:
// NEW → IN_PROGRESS → ITERATING ⇄ (COMPLETED | FAILED) → (MERGED | PUSHED)
var transitions = map[Status][]Status{
	StatusNew:        {StatusInProgress},
	StatusInProgress: {StatusIterating, StatusCompleted, StatusFailed},
	StatusIterating:  {StatusCompleted, StatusFailed, StatusIterating},
	StatusCompleted:  {StatusIterating, StatusMerged, StatusPushed},
	StatusFailed:     {StatusIterating, StatusMerged, StatusPushed},
	StatusMerged:     {},
	StatusPushed:     {},
}

func (t *Task) canTransition(to Status) bool {
	for _, next := range transitions[t.Status] {
		if next == to {
			return true
		}
	}
	return false
}

// touch stamps LastStatusCheck. Every transition goes through here.
func (t *Task) touch() {
	now := time.Now()
	t.LastStatusCheck = &now
}

func (t *Task) transition(to Status) error {
	if t.Status == to {
		t.touch()
		return nil
	}
	if !t.canTransition(to) {
		return cerr.NewError(cerr.FailedPrecondition,
			fmt.Sprintf("cannot transition task from %s to %s", t.Status, to), nil)
	}
	t.Status = to
	t.touch()
	return t.Validate()
}

func (t *Task) MarkInProgress() error {
	if err := t.transition(StatusInProgress); err != nil {
		return err
	}
	if t.StartedAt == nil {
		now := time.Now()
		t.StartedAt = &now
	}
	return nil
}

func (t *Task) MarkIterating() error {
	if err := t.transition(StatusIterating); err != nil {
		return err
	}
	now := time.Now()
	t.LastIterationAt = &now
	return nil
}

// MarkCompleted is a no-op when the task is already merged or pushed:
// terminal states are never downgraded.
func (t *Task) MarkCompleted() error {
	if t.Status.Terminal() {
		t.touch()
		return nil
	}
	if err := t.transition(StatusCompleted); err != nil {
		return err
	}
	now := time.Now()
	t.CompletedAt = &now
	t.Error = ""
	return nil
}

func (t *Task) MarkFailed(reason string) error {
	if t.Status.Terminal() {
		t.touch()
		return nil
	}
	if err := t.transition(StatusFailed); err != nil {
		return err
	}
	now := time.Now()
	t.FailedAt = &now
	t.Error = reason
	return nil
}

func (t *Task) MarkMerged() error {
	return t.transition(StatusMerged)
}

func (t *Task) MarkPushed() error {
	return t.transition(StatusPushed)
}

// Restart is permitted only from NEW or FAILED. Restarting from any other
// status is a caller error, not a silent no-op.
func (t *Task) Restart() error {
	if t.Status != StatusNew && t.Status != StatusFailed {
		return cerr.NewError(cerr.FailedPrecondition,
			fmt.Sprintf("cannot restart task in current state (%s)", t.Status), nil)
	}
	now := time.Now()
	t.Status = StatusInProgress
	t.RestartCount++
	t.LastRestartAt = &now
	if t.StartedAt == nil {
		t.StartedAt = &now
	}
	t.Error = ""
	t.touch()
	return t.Validate()
}

// ResetToNew rewinds the task to its initial state, keeping identity and
// counters intact.
func (t *Task) ResetToNew() error {
	t.Status = StatusNew
	t.StartedAt = nil
	t.CompletedAt = nil
	t.FailedAt = nil
	t.Error = ""
	t.touch()
	return t.Validate()
}

// NextIteration bumps the iteration counter. Iterations never decrease.
func (t *Task) NextIteration() int {
	t.Iterations++
	now := time.Now()
	t.LastIterationAt = &now
	t.touch()
	return t.Iterations
}
