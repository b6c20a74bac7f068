package web

// handlers.go implements the job API endpoints. Errors follow one pattern:
// technical detail is logged server-side with the request id; the client
// gets a compact JSON body with a machine-readable code.

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cartloom/conveyor/internal/logging"
	"github.com/cartloom/conveyor/internal/pipeline"
)

// ErrorResponse is the JSON structure for API error responses.
type ErrorResponse struct {
	Error   string                     `json:"error"`
	Details []pipeline.ValidationError `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err,
	)

	resp := ErrorResponse{Error: err.Error()}
	var verrs pipeline.ValidationErrors
	if errors.As(err, &verrs) {
		resp.Error = "validation failed"
		resp.Details = verrs
	}
	respondJSON(w, status, resp)
}

func (s *Server) jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// handleListProfiles returns the registered profile names.
func (s *Server) handleListProfiles(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string][]string{"profiles": pipeline.Profiles()})
}

// handleCreateJob creates a job and enqueues its first stage message.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req pipeline.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	job, err := s.service.CreateJob(r.Context(), req)
	if err != nil {
		var verrs pipeline.ValidationErrors
		if errors.As(err, &verrs) {
			s.respondError(w, r, err, http.StatusUnprocessableEntity)
			return
		}
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusCreated, job)
}

// handleGetJob returns the job record.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}
	job, err := s.service.GetJob(r.Context(), id)
	if errors.Is(err, pipeline.ErrJobNotFound) {
		s.respondError(w, r, err, http.StatusNotFound)
		return
	}
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// handleJobLog returns the job's log entries.
func (s *Server) handleJobLog(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}
	entries, err := s.service.JobLog(r.Context(), id)
	if errors.Is(err, pipeline.ErrJobNotFound) {
		s.respondError(w, r, err, http.StatusNotFound)
		return
	}
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []pipeline.LogEntry{}
	}
	respondJSON(w, http.StatusOK, map[string][]pipeline.LogEntry{"entries": entries})
}

// handleDeleteJob deletes the job; in-flight messages become no-ops.
func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}
	err := s.service.DeleteJob(r.Context(), id)
	if errors.Is(err, pipeline.ErrJobNotFound) {
		s.respondError(w, r, err, http.StatusNotFound)
		return
	}
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
