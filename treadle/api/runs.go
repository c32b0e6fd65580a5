package api

import (
	"net/http"
	"strconv"
)

// ListRuns pages over the event log. Pass the last seen `created`
// timestamp as ?cursor= to fetch the next page.
func (a *Api) ListRuns(w http.ResponseWriter, r *http.Request) {
	var cursor int64
	if c := r.URL.Query().Get("cursor"); c != "" {
		parsed, err := strconv.ParseInt(c, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		cursor = parsed
	}

	events, err := a.Db.GetEvents(cursor)
	if err != nil {
		a.Logger.Error("failed to list runs", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	writeJSON(w, events)
}
