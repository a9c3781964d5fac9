package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ecatlab/ecatbench/pkg/resultstore"
	"github.com/go-chi/chi/v5"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListRuns lists runs, optionally filtered by a name prefix or an
// exact scenario label. The prefix filter wins when both are supplied.
func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	var (
		runs []resultstore.Run
		err  error
	)

	switch {
	case r.URL.Query().Get("prefix") != "":
		runs, err = s.store.FindRunsByNamePrefix(
			r.Context(), r.URL.Query().Get("prefix"),
		)
	case r.URL.Query().Get("scenario") != "":
		runs, err = s.store.ListRunsByScenario(
			r.Context(), r.URL.Query().Get("scenario"),
		)
	default:
		runs, err = s.store.ListRuns(r.Context())
	}

	if err != nil {
		s.log.WithError(err).Error("Failed to list runs")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"listing runs"})

		return
	}

	writeJSON(w, http.StatusOK, runs)
}

// handleGetRun returns a single run by name.
func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	run, err := s.store.GetRun(r.Context(), name)
	if err != nil {
		if errors.Is(err, resultstore.ErrRunNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"run not found"})

			return
		}

		s.log.WithError(err).Error("Failed to get run")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"getting run"})

		return
	}

	writeJSON(w, http.StatusOK, run)
}

// handleRunFrames returns all frame rows for a run in replay order.
func (s *server) handleRunFrames(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if !s.runExists(w, r, name) {
		return
	}

	cursor, err := s.store.QueryFrames(r.Context(), name)
	if err != nil {
		s.log.WithError(err).Error("Failed to query frames")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"querying frames"})

		return
	}
	defer func() { _ = cursor.Close() }()

	frames := make([]resultstore.Frame, 0, 256)

	for cursor.Next() {
		frames = append(frames, *cursor.Frame())
	}

	if err := cursor.Err(); err != nil {
		s.log.WithError(err).Error("Frame cursor failed")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"reading frames"})

		return
	}

	writeJSON(w, http.StatusOK, frames)
}

// handleRunCycles returns all cycle rows for a run in cycle order.
func (s *server) handleRunCycles(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if !s.runExists(w, r, name) {
		return
	}

	cursor, err := s.store.QueryCycles(r.Context(), name)
	if err != nil {
		s.log.WithError(err).Error("Failed to query cycles")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"querying cycles"})

		return
	}
	defer func() { _ = cursor.Close() }()

	cycles := make([]resultstore.Cycle, 0, 256)

	for cursor.Next() {
		cycles = append(cycles, *cursor.Cycle())
	}

	if err := cursor.Err(); err != nil {
		s.log.WithError(err).Error("Cycle cursor failed")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"reading cycles"})

		return
	}

	writeJSON(w, http.StatusOK, cycles)
}

// handleDeleteRun removes a run and all of its frame and cycle rows.
func (s *server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := s.store.DeleteRun(r.Context(), name); err != nil {
		if errors.Is(err, resultstore.ErrRunNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"run not found"})

			return
		}

		s.log.WithError(err).Error("Failed to delete run")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"deleting run"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"deleted": name})
}

// runExists writes a 404 and returns false when the run is unknown.
func (s *server) runExists(
	w http.ResponseWriter, r *http.Request, name string,
) bool {
	if _, err := s.store.GetRun(r.Context(), name); err != nil {
		if errors.Is(err, resultstore.ErrRunNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"run not found"})
		} else {
			s.log.WithError(err).Error("Failed to get run")
			writeJSON(w, http.StatusInternalServerError,
				errorResponse{"getting run"})
		}

		return false
	}

	return true
}
