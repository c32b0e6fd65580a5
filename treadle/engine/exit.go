package engine

import "fmt"

// ExitError carries a step's non-zero exit code. It wraps
// ErrStepFailed so callers can match either the class or the code.
type ExitError struct {
	Code int64
	OOM  bool
}

func (e *ExitError) Error() string {
	if e.OOM {
		return fmt.Sprintf("step exited with code %d (oom killed)", e.Code)
	}
	return fmt.Sprintf("step exited with code %d", e.Code)
}

func (e *ExitError) Unwrap() error {
	return ErrStepFailed
}
