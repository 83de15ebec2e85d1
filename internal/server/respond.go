package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/datacure/livejobs/internal/simulator"
	"github.com/datacure/livejobs/internal/store"
)

// errorBody matches what the REST client parses.
type errorBody struct {
	Detail string `json:"detail"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, errorBody{Detail: detail})
}

// writeStoreError maps store and submission errors to HTTP responses.
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, "Job not found")
	case errors.Is(err, store.ErrRecordNotFound):
		s.writeError(w, http.StatusNotFound, "Record not found")
	case errors.Is(err, simulator.ErrInvalidRequest):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
