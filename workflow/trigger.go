package workflow

import (
	"errors"
	"fmt"
)

const (
	TriggerKindPush        string = "push"
	TriggerKindPullRequest string = "pull_request"
	TriggerKindManual      string = "manual"
)

// Trigger is the event descriptor a forge delivers to treadle. It is
// created by the external platform and consumed once per run.
type Trigger struct {
	Kind string       `json:"kind"`
	Repo *TriggerRepo `json:"repo"`

	PullRequest *PullRequestTrigger `json:"pull_request,omitempty"`
	Push        *PushTrigger        `json:"push,omitempty"`
	Manual      *ManualTrigger      `json:"manual,omitempty"`
}

type TriggerRepo struct {
	Host          string `json:"host"`
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	DefaultBranch string `json:"default_branch"`
}

func (r TriggerRepo) Path() string {
	return r.Owner + "/" + r.Name
}

type PullRequestTrigger struct {
	Action       string `json:"action"`
	SourceBranch string `json:"source_branch"`
	TargetBranch string `json:"target_branch"`
	SourceSha    string `json:"source_sha"`
}

type PushTrigger struct {
	Ref    string `json:"ref"`
	OldSha string `json:"old_sha"`
	NewSha string `json:"new_sha"`
}

type ManualTrigger struct {
	Inputs map[string]string `json:"inputs,omitempty"`
}

var ErrMalformedTrigger = errors.New("malformed trigger")

// Validate rejects descriptors that cannot start a run: unknown event
// kinds, missing repo information, or kind-specific payloads absent.
func (t *Trigger) Validate() error {
	if t.Repo == nil || t.Repo.Owner == "" || t.Repo.Name == "" {
		return fmt.Errorf("%w: missing repo", ErrMalformedTrigger)
	}

	switch t.Kind {
	case TriggerKindPush:
		if t.Push == nil {
			return fmt.Errorf("%w: push trigger without push data", ErrMalformedTrigger)
		}
	case TriggerKindPullRequest:
		if t.PullRequest == nil {
			return fmt.Errorf("%w: pull_request trigger without pull request data", ErrMalformedTrigger)
		}
	case TriggerKindManual:
	default:
		return fmt.Errorf("%w: unknown event kind %q", ErrMalformedTrigger, t.Kind)
	}

	return nil
}
