package api

import (
	"encoding/json"
	"net/http"
)

type repoInput struct {
	Host  string `json:"host"`
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

func (a *Api) ListRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := a.Db.Repos()
	if err != nil {
		a.Logger.Error("failed to list repos", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list repos")
		return
	}
	writeJSON(w, repos)
}

func (a *Api) AddRepo(w http.ResponseWriter, r *http.Request) {
	var in repoInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}
	if in.Owner == "" || in.Name == "" {
		writeError(w, http.StatusBadRequest, "owner and name are required")
		return
	}

	if err := a.Db.AddRepo(in.Host, in.Owner, in.Name); err != nil {
		a.Logger.Error("failed to add repo", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to add repo")
		return
	}

	a.Logger.Info("repo registered", "repo", in.Owner+"/"+in.Name)
	w.WriteHeader(http.StatusOK)
}

func (a *Api) RemoveRepo(w http.ResponseWriter, r *http.Request) {
	var in repoInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	if err := a.Db.RemoveRepo(in.Owner, in.Name); err != nil {
		a.Logger.Error("failed to remove repo", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to remove repo")
		return
	}
	w.WriteHeader(http.StatusOK)
}
