// Package server exposes a small read-only ops API over the run history and
// marker store: enough for an operator or monitor to see what the job did
// without shelling into the workspace.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/luno/jettison/errors"

	"acornsend/internal/repo"
)

// New builds the ops API router.
func New(r repo.Repo) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := r.Healthcheck(req.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	router.Get("/runs", func(w http.ResponseWriter, req *http.Request) {
		runs, err := r.ListRuns(req.Context(), 50)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, runs)
	})

	router.Get("/runs/{runID}", func(w http.ResponseWriter, req *http.Request) {
		run, err := r.GetRun(req.Context(), chi.URLParam(req, "runID"))
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, run)
	})

	router.Get("/markers/{key}", func(w http.ResponseWriter, req *http.Request) {
		m, err := r.GetMarker(req.Context(), chi.URLParam(req, "key"))
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	})

	return router
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
