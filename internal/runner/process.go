package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// cancellation causes, distinguished after the fact via context.Cause.
var (
	errTimeoutExceeded = errors.New("step timeout exceeded")
	errAuthDetected    = errors.New("authentication prompt detected on stderr")
)

// ProcessResult is what a finished (or killed) agent process left behind.
type ProcessResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// gracePeriod is how long a signaled process gets to exit before the kill.
const gracePeriod = 10 * time.Second

// runProcess spawns the tool binary, feeds the rendered prompt on stdin,
// and collects stdout/stderr. The process layer's time unit is
// milliseconds. Two independent triggers race to cancel the run through
// the shared context: the wall-clock timeout and the stderr auth detector;
// whichever fires first wins and the cause is read back by the caller.
func runProcess(parent context.Context, bin string, args []string, prompt, workDir string, timeoutMillis int64) (*ProcessResult, error) {
	timeout := time.Duration(timeoutMillis) * time.Millisecond
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	timer := time.AfterFunc(timeout, func() {
		cancel(errTimeoutExceeded)
	})
	defer timer.Stop()

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = workDir
	cmd.Stdin = strings.NewReader(prompt)
	// Cancellation is cooperative: signal and let the process wind down,
	// escalating only after the grace period.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = gracePeriod

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	// Stream stderr through the auth detector while the main flow waits.
	var stderr strings.Builder
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		watchStderr(stderrPipe, &stderr, func() {
			cancel(errAuthDetected)
		})
	}()

	waitErr := cmd.Wait()
	wg.Wait()

	result := &ProcessResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
	}

	if waitErr != nil {
		// A death caused by our own cancellation reports the cause, not
		// the generic signal error.
		if cause := context.Cause(ctx); cause != nil {
			return result, cause
		}
		return result, waitErr
	}
	return result, nil
}

// watchStderr accumulates stderr chunk by chunk and fires onAuth once when
// the accumulated stream matches a login prompt.
func watchStderr(r io.Reader, acc *strings.Builder, onAuth func()) {
	buf := make([]byte, 4096)
	fired := false
	for {
		n, err := r.Read(buf)
		if n > 0 {
			acc.Write(buf[:n])
			if !fired && DetectAuthPrompt(acc.String()) {
				fired = true
				onAuth()
			}
		}
		if err != nil {
			return
		}
	}
}
