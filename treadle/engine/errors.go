package engine

import "errors"

var (
	ErrProvisionFailed = errors.New("sandbox provisioning failed")
	ErrStepFailed      = errors.New("step failed")
	ErrTimedOut        = errors.New("timed out")
	ErrOOMKilled       = errors.New("oom killed")
)
