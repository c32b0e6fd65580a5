package treadle

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treadle.sh/core/treadle/models"
	"treadle.sh/core/treadle/queue"
	"treadle.sh/core/workflow"
)

const lintWorkflow = `
when:
  - event: pull_request

steps:
  - name: lint
    command: make lint
`

func postEvent(t *testing.T, tr *Treadle, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	tr.Ingest(rec, req)
	return rec
}

func prEvent(workflows ...WorkflowFile) TriggerEvent {
	return TriggerEvent{
		Trigger: workflow.Trigger{
			Kind: workflow.TriggerKindPullRequest,
			Repo: &workflow.TriggerRepo{
				Host:          "example.com",
				Owner:         "acme",
				Name:          "widgets",
				DefaultBranch: "main",
			},
			PullRequest: &workflow.PullRequestTrigger{
				Action:       "opened",
				SourceBranch: "feature",
				TargetBranch: "main",
				SourceSha:    "abc123",
			},
		},
		Workflows: workflows,
	}
}

func TestIngest_MalformedPayload(t *testing.T) {
	tr := newTestTreadle(t, &fakeEngine{})

	rec := postEvent(t, tr, []byte("{not json"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngest_MalformedTrigger(t *testing.T) {
	tr := newTestTreadle(t, &fakeEngine{})

	ev := prEvent()
	ev.Trigger.Kind = "mystery"
	body, _ := json.Marshal(ev)

	rec := postEvent(t, tr, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngest_MissingPayloadForKind(t *testing.T) {
	tr := newTestTreadle(t, &fakeEngine{})

	ev := prEvent()
	ev.Trigger.PullRequest = nil
	body, _ := json.Marshal(ev)

	rec := postEvent(t, tr, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngest_UnknownRepo(t *testing.T) {
	tr := newTestTreadle(t, &fakeEngine{})

	body, _ := json.Marshal(prEvent(WorkflowFile{Name: "lint.yml", Contents: lintWorkflow}))

	rec := postEvent(t, tr, body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIngest_EnqueuesMatchedWorkflows(t *testing.T) {
	tr := newTestTreadle(t, &fakeEngine{})
	require.NoError(t, tr.db.AddRepo("example.com", "acme", "widgets"))

	body, _ := json.Marshal(prEvent(WorkflowFile{Name: "lint.yml", Contents: lintWorkflow}))

	rec := postEvent(t, tr, body)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp IngestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Enqueued)
	require.NotEmpty(t, resp.Rkey)

	// the run is recorded as pending before a worker picks it up
	wid := models.WorkflowId{
		RunId: models.RunId{Repo: "acme/widgets", Rkey: resp.Rkey},
		Name:  "lint.yml",
	}
	status, err := tr.db.GetStatus(wid)
	require.NoError(t, err)
	assert.Equal(t, models.StatusKindPending, status.Status)
	assert.Nil(t, status.Conclusion)
}

func TestIngest_NoMatchingWorkflows(t *testing.T) {
	tr := newTestTreadle(t, &fakeEngine{})
	require.NoError(t, tr.db.AddRepo("example.com", "acme", "widgets"))

	pushOnly := `
when:
  - event: push

steps:
  - name: build
    command: make
`
	body, _ := json.Marshal(prEvent(WorkflowFile{Name: "build.yml", Contents: pushOnly}))

	rec := postEvent(t, tr, body)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp IngestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Enqueued)
	assert.Empty(t, resp.Rkey)
	assert.NotEmpty(t, resp.Diagnostics)
}

func TestIngest_MalformedWorkflowReportsDiagnostic(t *testing.T) {
	tr := newTestTreadle(t, &fakeEngine{})
	require.NoError(t, tr.db.AddRepo("example.com", "acme", "widgets"))

	body, _ := json.Marshal(prEvent(
		WorkflowFile{Name: "bad.yml", Contents: "steps: [\n"},
		WorkflowFile{Name: "lint.yml", Contents: lintWorkflow},
	))

	rec := postEvent(t, tr, body)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp IngestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Enqueued)
	assert.NotEmpty(t, resp.Diagnostics)
}

func TestIngest_AppliesConfiguredTimeout(t *testing.T) {
	eng := &fakeEngine{}
	tr := newTestTreadle(t, eng)
	tr.cfg.Runs.Timeout = 90 * time.Minute
	require.NoError(t, tr.db.AddRepo("example.com", "acme", "widgets"))

	// lintWorkflow declares no timeout of its own
	body, _ := json.Marshal(prEvent(WorkflowFile{Name: "lint.yml", Contents: lintWorkflow}))

	tr.jq.Start()
	rec := postEvent(t, tr, body)
	require.Equal(t, http.StatusAccepted, rec.Code)
	tr.jq.Stop()

	require.Len(t, eng.timeouts, 1)
	assert.Equal(t, 90*time.Minute, eng.timeouts[0])
}

func TestIngest_QueueFull(t *testing.T) {
	tr := newTestTreadle(t, &fakeEngine{})
	// an unbuffered queue with no workers rejects every job
	tr.jq = queue.NewQueue(0, 1)
	require.NoError(t, tr.db.AddRepo("example.com", "acme", "widgets"))

	body, _ := json.Marshal(prEvent(WorkflowFile{Name: "lint.yml", Contents: lintWorkflow}))

	rec := postEvent(t, tr, body)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
