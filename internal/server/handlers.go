package server

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/datacure/livejobs/internal/api"
	"github.com/datacure/livejobs/internal/model"
	"github.com/datacure/livejobs/internal/store"
	"github.com/datacure/livejobs/internal/version"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     version.AppName,
		"version": version.Version,
		"status":  "running",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	jobs, err := s.store.ListJobs(r.Context(), model.JobFilters{
		Status: q.Get("status"),
		Search: q.Get("search"),
	})
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req model.CreateJobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	job, err := s.jobs.Submit(r.Context(), req)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := intParam(q.Get("page"), 1)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if page > store.MaxPage {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("page must be at most %d", store.MaxPage))
		return
	}
	pageSize, err := intParam(q.Get("page_size"), api.DefaultPageSize)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	filters := model.RecordFilters{
		Recommendation: model.Recommendation(q.Get("recommendation")),
		Severity:       q.Get("severity"),
		Search:         q.Get("search"),
	}
	recs, err := s.store.ListRecords(r.Context(), chi.URLParam(r, "jobID"), page, pageSize, filters)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetRecord(r.Context(), chi.URLParam(r, "jobID"), chi.URLParam(r, "recordID"))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleJobMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.JobMetrics(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	format := api.ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = api.ExportCSV
	}
	if format != api.ExportCSV && format != api.ExportXLSX {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported export format %q", format))
		return
	}
	if _, err := s.store.GetJob(r.Context(), jobID); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, model.ExportResponse{
		Message: fmt.Sprintf("Export initiated for job %s in %s format", jobID, format),
		JobID:   jobID,
		Format:  string(format),
	})
}

func (s *Server) handleDashboardMetrics(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, model.DashboardMetrics{
		TotalProvidersValidated: st.TotalRecords,
		AverageConfidenceScore:  math.Round(st.AverageConfidence*1000) / 10,
		ActiveJobs:              st.ActiveJobs,
		RecordsRequiringReview:  st.ManualReview,
	})
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid positive integer %q", raw)
	}
	return n, nil
}
