package treadle

import (
	"context"
	"errors"

	"treadle.sh/core/treadle/engine"
	"treadle.sh/core/treadle/models"
	"treadle.sh/core/treadle/secrets"
	"treadle.sh/core/workflow"
)

// runWorkflow drives one workflow run end to end: provision the
// sandbox, execute steps strictly in order, accumulate per-step
// outcomes, and publish the terminal status. Steps never run in
// parallel; a step only starts once the previous outcome is recorded.
func (t *Treadle) runWorkflow(ctx context.Context, wid models.WorkflowId, cw workflow.CompiledWorkflow, trigger workflow.Trigger) error {
	l := t.l.With("workflow", wid.String())

	wf, err := t.eng.InitWorkflow(cw, trigger)
	if err != nil {
		l.Error("failed to init workflow", "error", err)
		return t.publish(wid, &models.RunResult{}, cw.ContinueOnError, errPtr(err), nil)
	}

	if err := t.db.StatusRunning(wid, t.n); err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, wf.Timeout)
	defer cancel()

	// the sandbox is destroyed even when the run context is dead
	defer t.eng.DestroyWorkflow(context.WithoutCancel(ctx), wid)

	wfLogger, err := models.NewWorkflowLogger(t.cfg.Runs.LogDir, wid)
	if err != nil {
		l.Error("failed to create workflow logger", "error", err)
		wfLogger = nil
	} else {
		defer wfLogger.Close()
	}

	unlocked, err := t.vault.GetSecretsUnlocked(runCtx, secrets.RepoPath(wid.Repo))
	if err != nil {
		l.Error("failed to fetch secrets", "error", err)
		unlocked = nil
	}
	if wfLogger != nil {
		values := make([]string, 0, len(unlocked))
		for _, s := range unlocked {
			values = append(values, s.Value)
		}
		wfLogger.Redact(values)
	}

	result := &models.RunResult{}

	if err := t.eng.SetupWorkflow(runCtx, wid, wf); err != nil {
		l.Error("sandbox provisioning failed", "error", err)
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			result.Provisioned = true
			result.TimedOut = true
		}
		return t.publish(wid, result, wf.ContinueOnError, errPtr(err), nil)
	}
	result.Provisioned = true

	var runErr *string
	var exitCode *int64

	for idx, step := range wf.Steps {
		t.controlLine(wfLogger, idx, step, models.StatusKindRunning)

		err := t.eng.RunStep(runCtx, wid, wf, idx, unlocked, wfLogger)
		if err == nil {
			result.RecordSuccess(step.Name())
			t.controlLine(wfLogger, idx, step, models.StatusKindSuccess)
			continue
		}

		if errors.Is(err, engine.ErrTimedOut) || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			l.Warn("workflow timed out", "step", step.Name())
			result.TimedOut = true
			t.controlLine(wfLogger, idx, step, models.StatusKindTimeout)
			runErr = errPtr(engine.ErrTimedOut)
			break
		}

		code := int64(-1)
		var exitErr *engine.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.Code
		}

		tolerated := step.ContinueOnError()
		result.RecordFailure(step.Name(), code, tolerated)
		t.controlLine(wfLogger, idx, step, models.StatusKindFailed)

		if tolerated {
			// recorded but non-fatal; remaining steps still run
			l.Warn("step failed, continuing", "step", step.Name(), "exit_code", code)
			continue
		}

		l.Error("step failed", "step", step.Name(), "exit_code", code, "error", err)
		runErr = errPtr(err)
		exitCode = &code
		break
	}

	return t.publish(wid, result, wf.ContinueOnError, runErr, exitCode)
}

// publish maps the accumulated result to the terminal status event.
func (t *Treadle) publish(wid models.WorkflowId, result *models.RunResult, jobContinueOnError bool, runErr *string, exitCode *int64) error {
	conclusion := result.Conclusion(jobContinueOnError)

	// the lifecycle status reflects what actually happened; the
	// conclusion alone carries the job-level continue_on_error mapping
	var status models.StatusKind
	switch {
	case !result.Provisioned:
		status = models.StatusKindError
	case result.TimedOut:
		status = models.StatusKindTimeout
	default:
		switch result.Conclusion(false) {
		case models.ConclusionSuccess:
			status = models.StatusKindSuccess
		case models.ConclusionNeutral:
			status = models.StatusKindNeutral
		default:
			status = models.StatusKindFailed
		}
	}

	t.l.Info("workflow finished", "workflow", wid.String(), "status", status, "conclusion", conclusion)
	return t.db.StatusFinished(wid, status, conclusion, result, runErr, exitCode, t.n)
}

func (t *Treadle) controlLine(wfLogger *models.WorkflowLogger, idx int, step models.Step, status models.StatusKind) {
	if wfLogger == nil {
		return
	}
	if _, err := wfLogger.ControlWriter(idx, step, status).Write(nil); err != nil {
		t.l.Error("failed to write control line", "error", err)
	}
}

func errPtr(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}
