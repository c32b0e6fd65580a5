package models

import (
	"fmt"
	"regexp"
	"time"
)

var re = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// RunId identifies one triggered pipeline run. Repo is the
// "owner/name" path, Rkey the record key minted at trigger time.
type RunId struct {
	Repo string
	Rkey string
}

func (r RunId) String() string {
	return fmt.Sprintf("%s-%s", normalize(r.Repo), r.Rkey)
}

type WorkflowId struct {
	RunId
	Name string
}

func (wid WorkflowId) String() string {
	return fmt.Sprintf("%s-%s-%s", normalize(wid.Repo), wid.Rkey, normalize(wid.Name))
}

func normalize(name string) string {
	return re.ReplaceAllString(name, "-")
}

type Step interface {
	Name() string
	Command() string
	Kind() StepKind
	ContinueOnError() bool
}

type StepKind int

const (
	// steps injected by the CI runner
	StepKindSystem StepKind = iota
	// steps defined by the user in the original workflow file
	StepKindUser
)

type StatusKind string

const (
	StatusKindPending StatusKind = "pending"
	StatusKindRunning StatusKind = "running"
	StatusKindSuccess StatusKind = "success"
	StatusKindFailed  StatusKind = "failed"
	StatusKindNeutral StatusKind = "neutral"
	StatusKindTimeout StatusKind = "timeout"
	// the sandbox could not be provisioned; no step ever ran
	StatusKindError StatusKind = "error"
)

// Conclusion is the status surfaced to the triggering platform.
type Conclusion string

const (
	ConclusionSuccess Conclusion = "success"
	ConclusionNeutral Conclusion = "neutral"
	ConclusionFailure Conclusion = "failure"
)

// Workflow is a workflow prepared by an engine: user steps prefixed
// with system setup steps, plus engine-private data.
type Workflow struct {
	Name            string
	Steps           []Step
	Timeout         time.Duration
	ContinueOnError bool
	Data            any
}
