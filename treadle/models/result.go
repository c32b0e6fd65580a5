package models

// StepOutcome is the recorded result of a single executed step.
// Tolerated marks failures guarded by the step's continue_on_error.
type StepOutcome struct {
	Name      string     `json:"name"`
	Status    StatusKind `json:"status"`
	ExitCode  int64      `json:"exit_code"`
	Tolerated bool       `json:"tolerated,omitempty"`
}

// RunResult accumulates per-step outcomes in execution order. It is
// written once by the run loop and read when the verdict is published.
type RunResult struct {
	Steps       []StepOutcome
	Provisioned bool
	TimedOut    bool
}

func (r *RunResult) RecordSuccess(name string) {
	r.Steps = append(r.Steps, StepOutcome{Name: name, Status: StatusKindSuccess})
}

func (r *RunResult) RecordFailure(name string, exitCode int64, tolerated bool) {
	r.Steps = append(r.Steps, StepOutcome{
		Name:      name,
		Status:    StatusKindFailed,
		ExitCode:  exitCode,
		Tolerated: tolerated,
	})
}

// Conclusion derives the published status. Provision failures,
// timeouts and unguarded step failures conclude failure; guarded
// step failures conclude neutral; a job-level continue_on_error maps
// a failing conclusion to neutral.
func (r *RunResult) Conclusion(jobContinueOnError bool) Conclusion {
	c := r.conclude()
	if c == ConclusionFailure && jobContinueOnError {
		return ConclusionNeutral
	}
	return c
}

func (r *RunResult) conclude() Conclusion {
	if !r.Provisioned || r.TimedOut {
		return ConclusionFailure
	}

	tolerated := false
	for _, s := range r.Steps {
		if s.Status != StatusKindFailed {
			continue
		}
		if !s.Tolerated {
			return ConclusionFailure
		}
		tolerated = true
	}

	if tolerated {
		return ConclusionNeutral
	}
	return ConclusionSuccess
}
