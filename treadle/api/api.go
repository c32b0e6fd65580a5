// Package api is the authenticated admin surface: repo registration,
// secret management, and run inspection.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"treadle.sh/core/treadle/config"
	"treadle.sh/core/treadle/db"
	"treadle.sh/core/treadle/secrets"
)

type Api struct {
	Logger *slog.Logger
	Db     *db.DB
	Vault  secrets.Manager
	Config *config.Config
}

func (a *Api) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(a.VerifyAdminToken)

	r.Get("/repos", a.ListRepos)
	r.Put("/repos", a.AddRepo)
	r.Delete("/repos", a.RemoveRepo)

	r.Get("/secrets", a.ListSecrets)
	r.Post("/secrets", a.AddSecret)
	r.Delete("/secrets", a.RemoveSecret)

	r.Get("/runs", a.ListRuns)

	return r
}

// VerifyAdminToken guards the admin surface with the configured
// bearer token.
func (a *Api) VerifyAdminToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(a.Config.Server.AdminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
