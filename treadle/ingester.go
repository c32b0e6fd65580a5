package treadle

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"treadle.sh/core/treadle/models"
	"treadle.sh/core/treadle/queue"
	"treadle.sh/core/workflow"
)

// TriggerEvent is the payload a forge posts to /events: the trigger
// metadata plus the repository's workflow files at the triggering
// revision.
type TriggerEvent struct {
	Trigger   workflow.Trigger `json:"trigger"`
	Workflows []WorkflowFile   `json:"workflows"`
}

type WorkflowFile struct {
	Name     string `json:"name"`
	Contents string `json:"contents"`
}

type IngestResponse struct {
	Rkey        string   `json:"rkey,omitempty"`
	Enqueued    int      `json:"enqueued"`
	Diagnostics []string `json:"diagnostics,omitempty"`
}

// Ingest evaluates an incoming event: malformed descriptors are
// rejected with no run, matched workflows are compiled and enqueued.
func (t *Treadle) Ingest(w http.ResponseWriter, r *http.Request) {
	l := t.l.With("handler", "Ingest")

	var ev TriggerEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		l.Error("malformed event payload", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed event payload"})
		return
	}

	if err := ev.Trigger.Validate(); err != nil {
		l.Error("trigger rejected", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	// only registered repos may trigger runs
	if _, err := t.db.GetRepo(ev.Trigger.Repo.Owner, ev.Trigger.Repo.Name); err != nil {
		l.Warn("event for unknown repo", "repo", ev.Trigger.Repo.Path())
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown repo"})
		return
	}

	var raw workflow.RawPipeline
	for _, f := range ev.Workflows {
		raw = append(raw, workflow.RawWorkflow{Name: f.Name, Contents: []byte(f.Contents)})
	}

	compiler := workflow.Compiler{
		Trigger:        ev.Trigger,
		DefaultTimeout: t.cfg.Runs.Timeout,
	}
	compiled := compiler.Compile(compiler.Parse(raw))

	resp := IngestResponse{}
	for _, e := range compiler.Diagnostics.Errors {
		resp.Diagnostics = append(resp.Diagnostics, e.String())
	}
	for _, wn := range compiler.Diagnostics.Warnings {
		resp.Diagnostics = append(resp.Diagnostics, wn.String())
	}

	if len(compiled.Workflows) == 0 {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	rkey := uuid.NewString()
	runId := models.RunId{Repo: ev.Trigger.Repo.Path(), Rkey: rkey}
	resp.Rkey = rkey

	for _, cw := range compiled.Workflows {
		wid := models.WorkflowId{RunId: runId, Name: cw.Name}

		if err := t.db.StatusPending(wid, t.n); err != nil {
			l.Error("failed to record pending status", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to record run"})
			return
		}

		ok := t.jq.Enqueue(queue.Job{
			Run: func() error {
				return t.runWorkflow(t.runCtx, wid, cw, ev.Trigger)
			},
			OnFail: func(jobError error) {
				t.l.Error("workflow run failed", "workflow", wid.String(), "error", jobError)
			},
		})
		if !ok {
			l.Error("failed to enqueue workflow: queue is full", "workflow", wid.String())
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "queue is full"})
			return
		}

		l.Info("workflow enqueued", "workflow", wid.String())
		resp.Enqueued++
	}

	writeJSON(w, http.StatusAccepted, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
