package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"competitor/scraper/internal/service"

	log "github.com/sirupsen/logrus"
)

type submitRequest struct {
	Terms        []string `json:"terms"`
	MinPerOrigin int      `json:"min_per_origin"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("⚠️ Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// taskError maps registry errors onto status codes.
func taskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, service.ErrNoSearchTerms):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.Errorf("❌ Task request failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var input submitRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if input.MinPerOrigin < 0 {
		writeError(w, http.StatusBadRequest, "min_per_origin must not be negative")
		return
	}

	task, err := s.tasks.Submit(r.Context(), input.Terms, input.MinPerOrigin)
	if err != nil {
		taskError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		taskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.tasks.Results(r.Context(), r.PathValue("id"))
	if err != nil {
		taskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.tasks.Cancel(id); err != nil {
		taskError(w, err)
		return
	}
	task, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		taskError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, task)
}

func (s *Server) handleOrigins(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.origins.Snapshot())
}

func (s *Server) handleLatestProduct(w http.ResponseWriter, r *http.Request) {
	productURL := r.URL.Query().Get("url")
	if productURL == "" {
		writeError(w, http.StatusBadRequest, "url query parameter is required")
		return
	}

	record, err := s.products.Latest(r.Context(), productURL)
	if err != nil {
		log.Errorf("❌ Latest product lookup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "product not seen yet")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
