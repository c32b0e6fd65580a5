package treadle

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treadle.sh/core/notifier"
	"treadle.sh/core/treadle/config"
	"treadle.sh/core/treadle/db"
	"treadle.sh/core/treadle/engine"
	"treadle.sh/core/treadle/models"
	"treadle.sh/core/treadle/queue"
	"treadle.sh/core/treadle/secrets"
	"treadle.sh/core/workflow"
)

type fakeStep struct {
	name            string
	continueOnError bool
}

func (s fakeStep) Name() string          { return s.name }
func (s fakeStep) Command() string       { return "true" }
func (s fakeStep) Kind() models.StepKind { return models.StepKindUser }
func (s fakeStep) ContinueOnError() bool { return s.continueOnError }

// fakeEngine runs steps in memory. Steps named in failures exit with
// the mapped code; stepDelay simulates execution time.
type fakeEngine struct {
	failures  map[string]int64
	setupErr  error
	stepDelay time.Duration

	stepsRun []string
	timeouts []time.Duration
}

func (e *fakeEngine) InitWorkflow(cw workflow.CompiledWorkflow, t workflow.Trigger) (*models.Workflow, error) {
	e.timeouts = append(e.timeouts, cw.ResolvedTimeout)
	wf := &models.Workflow{
		Name:            cw.Name,
		Timeout:         cw.ResolvedTimeout,
		ContinueOnError: cw.ContinueOnError,
	}
	for _, s := range cw.Steps {
		wf.Steps = append(wf.Steps, fakeStep{
			name:            s.Name,
			continueOnError: s.ContinueOnError,
		})
	}
	return wf, nil
}

func (e *fakeEngine) SetupWorkflow(ctx context.Context, wid models.WorkflowId, wf *models.Workflow) error {
	return e.setupErr
}

func (e *fakeEngine) RunStep(ctx context.Context, wid models.WorkflowId, wf *models.Workflow, idx int, _ []secrets.UnlockedSecret, _ *models.WorkflowLogger) error {
	step := wf.Steps[idx]
	e.stepsRun = append(e.stepsRun, step.Name())

	if e.stepDelay > 0 {
		select {
		case <-ctx.Done():
			return engine.ErrTimedOut
		case <-time.After(e.stepDelay):
		}
	}

	if code, ok := e.failures[step.Name()]; ok {
		return &engine.ExitError{Code: code}
	}
	return nil
}

func (e *fakeEngine) DestroyWorkflow(ctx context.Context, wid models.WorkflowId) error {
	return nil
}

var _ models.Engine = (*fakeEngine)(nil)

func newTestTreadle(t *testing.T, eng models.Engine) *Treadle {
	t.Helper()

	d, err := db.Make(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	vault, err := secrets.NewSQLiteManager(":memory:")
	require.NoError(t, err)

	n := notifier.New()

	return &Treadle{
		db:    d,
		l:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		n:     &n,
		eng:   eng,
		jq:    queue.NewQueue(10, 1),
		vault: vault,
		cfg: &config.Config{
			Runs: config.Runs{LogDir: t.TempDir()},
		},
		runCtx: context.Background(),
	}
}

func testCompiled(steps []workflow.Step, jobContinueOnError bool) workflow.CompiledWorkflow {
	return workflow.CompiledWorkflow{
		Workflow: workflow.Workflow{
			Name:            "test.yml",
			Steps:           steps,
			ContinueOnError: jobContinueOnError,
		},
		ResolvedTimeout: time.Minute,
	}
}

func manualTrigger() workflow.Trigger {
	return workflow.Trigger{
		Kind: workflow.TriggerKindManual,
		Repo: &workflow.TriggerRepo{
			Host:          "example.com",
			Owner:         "acme",
			Name:          "widgets",
			DefaultBranch: "main",
		},
		Manual: &workflow.ManualTrigger{},
	}
}

func testWid() models.WorkflowId {
	return models.WorkflowId{
		RunId: models.RunId{Repo: "acme/widgets", Rkey: "rkey1"},
		Name:  "test.yml",
	}
}

func TestRunWorkflow_AllStepsSucceed(t *testing.T) {
	eng := &fakeEngine{}
	tr := newTestTreadle(t, eng)
	wid := testWid()

	cw := testCompiled([]workflow.Step{
		{Name: "a", Command: "true"},
		{Name: "b", Command: "true"},
	}, false)

	err := tr.runWorkflow(context.Background(), wid, cw, manualTrigger())
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, eng.stepsRun)

	status, err := tr.db.GetStatus(wid)
	require.NoError(t, err)
	assert.Equal(t, models.StatusKindSuccess, status.Status)
	require.NotNil(t, status.Conclusion)
	assert.Equal(t, models.ConclusionSuccess, *status.Conclusion)
}

func TestRunWorkflow_UnguardedFailureAborts(t *testing.T) {
	eng := &fakeEngine{failures: map[string]int64{"b": 2}}
	tr := newTestTreadle(t, eng)
	wid := testWid()

	cw := testCompiled([]workflow.Step{
		{Name: "a", Command: "true"},
		{Name: "b", Command: "false"},
		{Name: "c", Command: "true"},
	}, false)

	err := tr.runWorkflow(context.Background(), wid, cw, manualTrigger())
	require.NoError(t, err)

	// step c never starts
	assert.Equal(t, []string{"a", "b"}, eng.stepsRun)

	status, err := tr.db.GetStatus(wid)
	require.NoError(t, err)
	assert.Equal(t, models.StatusKindFailed, status.Status)
	require.NotNil(t, status.Conclusion)
	assert.Equal(t, models.ConclusionFailure, *status.Conclusion)
	require.NotNil(t, status.ExitCode)
	assert.Equal(t, int64(2), *status.ExitCode)

	require.Len(t, status.Steps, 2)
	assert.Equal(t, models.StatusKindSuccess, status.Steps[0].Status)
	assert.Equal(t, models.StatusKindFailed, status.Steps[1].Status)
	assert.False(t, status.Steps[1].Tolerated)
}

func TestRunWorkflow_GuardedFailureContinues(t *testing.T) {
	eng := &fakeEngine{failures: map[string]int64{"b": 1}}
	tr := newTestTreadle(t, eng)
	wid := testWid()

	cw := testCompiled([]workflow.Step{
		{Name: "a", Command: "true"},
		{Name: "b", Command: "false", ContinueOnError: true},
		{Name: "c", Command: "true"},
	}, false)

	err := tr.runWorkflow(context.Background(), wid, cw, manualTrigger())
	require.NoError(t, err)

	// the guarded failure does not abort the run
	assert.Equal(t, []string{"a", "b", "c"}, eng.stepsRun)

	status, err := tr.db.GetStatus(wid)
	require.NoError(t, err)
	assert.Equal(t, models.StatusKindNeutral, status.Status)
	require.NotNil(t, status.Conclusion)
	assert.Equal(t, models.ConclusionNeutral, *status.Conclusion)

	require.Len(t, status.Steps, 3)
	assert.True(t, status.Steps[1].Tolerated)
	assert.Equal(t, int64(1), status.Steps[1].ExitCode)
}

func TestRunWorkflow_JobContinueOnError(t *testing.T) {
	eng := &fakeEngine{failures: map[string]int64{"a": 3}}
	tr := newTestTreadle(t, eng)
	wid := testWid()

	cw := testCompiled([]workflow.Step{
		{Name: "a", Command: "false"},
	}, true)

	err := tr.runWorkflow(context.Background(), wid, cw, manualTrigger())
	require.NoError(t, err)

	status, err := tr.db.GetStatus(wid)
	require.NoError(t, err)

	// the lifecycle status still says failed; only the published
	// conclusion is softened to neutral
	assert.Equal(t, models.StatusKindFailed, status.Status)
	require.NotNil(t, status.Conclusion)
	assert.Equal(t, models.ConclusionNeutral, *status.Conclusion)
}

func TestRunWorkflow_Timeout(t *testing.T) {
	eng := &fakeEngine{stepDelay: 200 * time.Millisecond}
	tr := newTestTreadle(t, eng)
	wid := testWid()

	cw := testCompiled([]workflow.Step{
		{Name: "a", Command: "sleep 10"},
	}, false)
	cw.ResolvedTimeout = 20 * time.Millisecond

	err := tr.runWorkflow(context.Background(), wid, cw, manualTrigger())
	require.NoError(t, err)

	status, err := tr.db.GetStatus(wid)
	require.NoError(t, err)
	assert.Equal(t, models.StatusKindTimeout, status.Status)
	require.NotNil(t, status.Conclusion)
	assert.Equal(t, models.ConclusionFailure, *status.Conclusion)
}

func TestRunWorkflow_ProvisionFailure(t *testing.T) {
	eng := &fakeEngine{setupErr: engine.ErrProvisionFailed}
	tr := newTestTreadle(t, eng)
	wid := testWid()

	cw := testCompiled([]workflow.Step{
		{Name: "a", Command: "true"},
	}, false)

	err := tr.runWorkflow(context.Background(), wid, cw, manualTrigger())
	require.NoError(t, err)

	assert.Empty(t, eng.stepsRun)

	status, err := tr.db.GetStatus(wid)
	require.NoError(t, err)
	assert.Equal(t, models.StatusKindError, status.Status)
	require.NotNil(t, status.Conclusion)
	assert.Equal(t, models.ConclusionFailure, *status.Conclusion)
	assert.Empty(t, status.Steps)
	require.NotNil(t, status.Error)
}
