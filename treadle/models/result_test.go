package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConclusion_AllStepsSucceed(t *testing.T) {
	r := &RunResult{Provisioned: true}
	r.RecordSuccess("lint")
	r.RecordSuccess("build")

	assert.Equal(t, ConclusionSuccess, r.Conclusion(false))
}

func TestConclusion_UnguardedFailure(t *testing.T) {
	r := &RunResult{Provisioned: true}
	r.RecordSuccess("lint")
	r.RecordFailure("build", 2, false)

	assert.Equal(t, ConclusionFailure, r.Conclusion(false))
}

func TestConclusion_GuardedFailureIsNeutral(t *testing.T) {
	r := &RunResult{Provisioned: true}
	r.RecordSuccess("build")
	r.RecordFailure("lint", 1, true)

	assert.Equal(t, ConclusionNeutral, r.Conclusion(false))
	assert.Equal(t, StepOutcome{
		Name:      "lint",
		Status:    StatusKindFailed,
		ExitCode:  1,
		Tolerated: true,
	}, r.Steps[1])
}

func TestConclusion_GuardedFailureBeforeUnguarded(t *testing.T) {
	r := &RunResult{Provisioned: true}
	r.RecordFailure("lint", 1, true)
	r.RecordFailure("build", 2, false)

	// an unguarded failure wins over any tolerated ones
	assert.Equal(t, ConclusionFailure, r.Conclusion(false))
}

func TestConclusion_JobContinueOnError(t *testing.T) {
	tests := []struct {
		name   string
		result func() *RunResult
		want   Conclusion
	}{
		{
			name: "failure maps to neutral",
			result: func() *RunResult {
				r := &RunResult{Provisioned: true}
				r.RecordFailure("build", 2, false)
				return r
			},
			want: ConclusionNeutral,
		},
		{
			name: "success stays success",
			result: func() *RunResult {
				r := &RunResult{Provisioned: true}
				r.RecordSuccess("build")
				return r
			},
			want: ConclusionSuccess,
		},
		{
			name: "neutral stays neutral",
			result: func() *RunResult {
				r := &RunResult{Provisioned: true}
				r.RecordFailure("lint", 1, true)
				return r
			},
			want: ConclusionNeutral,
		},
		{
			name: "provision failure maps to neutral",
			result: func() *RunResult {
				return &RunResult{}
			},
			want: ConclusionNeutral,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.result().Conclusion(true))
		})
	}
}

func TestConclusion_ProvisionFailure(t *testing.T) {
	r := &RunResult{}

	assert.Equal(t, ConclusionFailure, r.Conclusion(false))
	assert.Empty(t, r.Steps)
}

func TestConclusion_Timeout(t *testing.T) {
	r := &RunResult{Provisioned: true, TimedOut: true}
	r.RecordSuccess("lint")

	assert.Equal(t, ConclusionFailure, r.Conclusion(false))
}

func TestWorkflowIdNormalization(t *testing.T) {
	wid := WorkflowId{
		RunId: RunId{Repo: "acme/widgets", Rkey: "abc123"},
		Name:  ".treadle/workflows/lint.yml",
	}

	assert.Equal(t, "acme-widgets-abc123-.treadle-workflows-lint.yml", wid.String())
}
