package runner

import (
	"fmt"
	"time"
)

// AgentError is the base error for step execution failures. Every kind
// carries a machine-readable code and a retryability flag; the step
// boundary recovers these into the outputs map instead of propagating.
type AgentError struct {
	Message   string
	Code      string
	Retryable bool
}

func (e *AgentError) Error() string {
	return e.Message
}

// AuthenticationError means the agent binary wants an interactive login.
// Never retried automatically: the run can only succeed after a human
// signs in.
type AuthenticationError struct {
	AgentError
	Tool string
}

func NewAuthenticationError(tool string) *AuthenticationError {
	return &AuthenticationError{
		AgentError: AgentError{
			Message:   fmt.Sprintf("%s requires authentication, please run it interactively and log in", tool),
			Code:      "AUTH_REQUIRED",
			Retryable: false,
		},
		Tool: tool,
	}
}

func (e *AuthenticationError) Unwrap() error {
	return &e.AgentError
}

// TimeoutError means the agent exceeded its configured wall-clock budget.
type TimeoutError struct {
	AgentError
	Tool    string
	Timeout time.Duration
}

func NewTimeoutError(tool string, timeout time.Duration) *TimeoutError {
	return &TimeoutError{
		AgentError: AgentError{
			Message:   fmt.Sprintf("%s did not finish within %s", tool, timeout),
			Code:      "TIMEOUT",
			Retryable: true,
		},
		Tool:    tool,
		Timeout: timeout,
	}
}

func (e *TimeoutError) Unwrap() error {
	return &e.AgentError
}

// NewExitError classifies a non-zero exit. The stderr tail rides along in
// the message since the exit code alone rarely explains anything.
func NewExitError(tool string, exitCode int, stderr string) *AgentError {
	msg := fmt.Sprintf("%s exited with code %d", tool, exitCode)
	if tail := lastLines(stderr, 3); tail != "" {
		msg += ": " + tail
	}
	return &AgentError{
		Message:   msg,
		Code:      fmt.Sprintf("EXIT_CODE_%d", exitCode),
		Retryable: true,
	}
}

func NewCanceledError(tool string) *AgentError {
	return &AgentError{
		Message:   fmt.Sprintf("%s was canceled", tool),
		Code:      "CANCELED",
		Retryable: false,
	}
}
