// Package toolchain runs preprocessors that live outside the process: shell
// commands and WASI command modules. Source text goes in on stdin and the
// compiled text comes back on stdout.
package toolchain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// CommandError is a preprocessor rejecting its input: the tool ran and exited
// non-zero. Its message is what the tool printed, so it is shown to users.
type CommandError struct {
	Tool     string
	ExitCode int
	Stderr   string
	Stdout   string
}

func (e *CommandError) Error() string {
	if msg := strings.TrimSpace(e.Stderr); msg != "" {
		return msg
	}
	if msg := strings.TrimSpace(e.Stdout); msg != "" {
		return msg
	}
	return fmt.Sprintf("exit status %d", e.ExitCode)
}

// UnavailableError means the tool could not run at all (binary missing,
// module failed to load, exec disabled).
type UnavailableError struct {
	Tool string
	Err  error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s preprocessor unavailable: %v", e.Tool, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// TimeoutError represents a tool that did not finish in time
type TimeoutError struct {
	Tool     string
	Duration string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s preprocessor timed out after %s", e.Tool, e.Duration)
}

// CircuitOpenError indicates the circuit breaker is open
type CircuitOpenError struct {
	Tool string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("%s preprocessor temporarily unavailable, try again shortly", e.Tool)
}

// IsInfrastructure reports whether err is a failure of the tool itself rather
// than of the user's source. Only these count against the circuit breaker.
func IsInfrastructure(err error) bool {
	if err == nil {
		return false
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return false
	}
	var unavailable *UnavailableError
	var timeout *TimeoutError
	return errors.As(err, &unavailable) ||
		errors.As(err, &timeout) ||
		errors.Is(err, context.DeadlineExceeded)
}
