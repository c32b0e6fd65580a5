package models

import (
	"context"

	"treadle.sh/core/treadle/secrets"
	"treadle.sh/core/workflow"
)

type Engine interface {
	InitWorkflow(cw workflow.CompiledWorkflow, t workflow.Trigger) (*Workflow, error)
	SetupWorkflow(ctx context.Context, wid WorkflowId, wf *Workflow) error
	RunStep(ctx context.Context, wid WorkflowId, wf *Workflow, idx int, secrets []secrets.UnlockedSecret, wfLogger *WorkflowLogger) error
	DestroyWorkflow(ctx context.Context, wid WorkflowId) error
}
