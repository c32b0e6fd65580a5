package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"treadle.sh/core/treadle/secrets"
)

type secretInput struct {
	Repo  string `json:"repo"`
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

type secretView struct {
	Key       string    `json:"key"`
	Repo      string    `json:"repo"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
}

func (a *Api) ListSecrets(w http.ResponseWriter, r *http.Request) {
	repo := r.URL.Query().Get("repo")
	if repo == "" {
		writeError(w, http.StatusBadRequest, "repo query parameter is required")
		return
	}

	locked, err := a.Vault.GetSecretsLocked(r.Context(), secrets.RepoPath(repo))
	if err != nil {
		a.Logger.Error("failed to list secrets", "repo", repo, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list secrets")
		return
	}

	views := make([]secretView, 0, len(locked))
	for _, s := range locked {
		views = append(views, secretView{
			Key:       s.Key,
			Repo:      string(s.Repo),
			CreatedAt: s.CreatedAt,
			CreatedBy: s.CreatedBy,
		})
	}
	writeJSON(w, views)
}

func (a *Api) AddSecret(w http.ResponseWriter, r *http.Request) {
	var in secretInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}
	if in.Repo == "" || in.Value == "" {
		writeError(w, http.StatusBadRequest, "repo and value are required")
		return
	}
	if err := secrets.ValidateKey(in.Key); err != nil {
		writeError(w, http.StatusBadRequest, "key is not a valid identifier")
		return
	}

	err := a.Vault.AddSecret(r.Context(), secrets.UnlockedSecret{
		Key:       in.Key,
		Value:     in.Value,
		Repo:      secrets.RepoPath(in.Repo),
		CreatedAt: time.Now(),
		CreatedBy: "admin",
	})
	switch {
	case errors.Is(err, secrets.ErrKeyAlreadyPresent):
		writeError(w, http.StatusConflict, "key already present")
		return
	case err != nil:
		a.Logger.Error("failed to add secret", "repo", in.Repo, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to add secret")
		return
	}

	a.Logger.Info("secret added", "repo", in.Repo, "key", in.Key)
	w.WriteHeader(http.StatusOK)
}

func (a *Api) RemoveSecret(w http.ResponseWriter, r *http.Request) {
	var in secretInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	err := a.Vault.RemoveSecret(r.Context(), secrets.Secret[any]{
		Key:  in.Key,
		Repo: secrets.RepoPath(in.Repo),
	})
	switch {
	case errors.Is(err, secrets.ErrKeyNotFound):
		writeError(w, http.StatusNotFound, "key not found")
		return
	case err != nil:
		a.Logger.Error("failed to remove secret", "repo", in.Repo, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to remove secret")
		return
	}
	w.WriteHeader(http.StatusOK)
}
