package treadle

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hpcloud/tail"

	"treadle.sh/core/treadle/models"
)

// Logs streams a workflow run's JSONL log. Finished runs are served
// as-is; running ones are followed until the client disconnects or
// the run completes.
func (t *Treadle) Logs(w http.ResponseWriter, r *http.Request) {
	l := t.l.With("handler", "Logs")

	wid := models.WorkflowId{
		RunId: models.RunId{
			Repo: chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "name"),
			Rkey: chi.URLParam(r, "rkey"),
		},
		Name: chi.URLParam(r, "workflow"),
	}

	status, err := t.db.GetStatus(wid)
	if err != nil {
		http.Error(w, "unknown run", http.StatusNotFound)
		return
	}
	follow := status.Conclusion == nil

	path := models.LogFilePath(t.cfg.Runs.LogDir, wid)
	tl, err := tail.TailFile(path, tail.Config{
		Follow:    follow,
		MustExist: true,
		ReOpen:    false,
	})
	if err != nil {
		l.Error("failed to open log file", "path", path, "err", err)
		http.Error(w, "log not found", http.StatusNotFound)
		return
	}
	defer tl.Stop()

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")

	ch := t.n.Subscribe()
	defer t.n.Unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return

		case line, ok := <-tl.Lines:
			if !ok {
				return
			}
			if line.Err != nil {
				l.Error("tail error", "err", line.Err)
				return
			}
			if _, err := w.Write([]byte(line.Text + "\n")); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}

		case <-ch:
			// run state changed; stop following once it is terminal
			if !follow {
				continue
			}
			status, err := t.db.GetStatus(wid)
			if err == nil && status.Conclusion != nil {
				return
			}
		}
	}
}
