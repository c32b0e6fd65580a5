package models

// StatusEvent is the published record of a workflow run's state, one
// event per transition. Terminal events carry the conclusion and the
// ordered step outcomes.
type StatusEvent struct {
	Repo     string     `json:"repo"`
	Rkey     string     `json:"rkey"`
	Workflow string     `json:"workflow"`
	Status   StatusKind `json:"status"`

	Conclusion *Conclusion   `json:"conclusion,omitempty"`
	Error      *string       `json:"error,omitempty"`
	ExitCode   *int64        `json:"exit_code,omitempty"`
	Steps      []StepOutcome `json:"steps,omitempty"`

	CreatedAt string `json:"created_at"`
}

func (s StatusEvent) WorkflowId() WorkflowId {
	return WorkflowId{
		RunId: RunId{Repo: s.Repo, Rkey: s.Rkey},
		Name:  s.Workflow,
	}
}
