package cli

import (
	"errors"
	"fmt"
)

// Process exit codes.
const (
	ExitOK = 0
	// ExitFailure covers configuration, connection and usage errors.
	ExitFailure = 1
	// ExitWorkflowFailed means every workflow ran but at least one ended Failed.
	ExitWorkflowFailed = 2
)

// ExitError carries a specific exit code out of a cobra RunE function so
// commands never call os.Exit themselves.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// NewExitError creates an ExitError with the given exit code.
func NewExitError(code int) *ExitError {
	return &ExitError{Code: code}
}

// IsExitError reports whether err wraps an ExitError and returns its code.
func IsExitError(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}
