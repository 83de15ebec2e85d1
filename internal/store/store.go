package store

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/datacure/livejobs/internal/model"
)

// Errors
var (
	ErrJobNotFound    = errors.New("job not found")
	ErrRecordNotFound = errors.New("record not found")
	ErrJobExists      = errors.New("job already exists")
)

// JobStore is the persistence contract of the jobfeed server.
type JobStore interface {
	CreateJob(ctx context.Context, job model.Job) error
	UpdateJob(ctx context.Context, job model.Job) error
	GetJob(ctx context.Context, jobID string) (model.Job, error)
	// ListJobs returns matching jobs, newest first.
	ListJobs(ctx context.Context, filters model.JobFilters) ([]model.Job, error)

	// SaveRecords stores records in processing order. Records already
	// stored under the same id are left untouched.
	SaveRecords(ctx context.Context, jobID string, records []model.Record) error
	ListRecords(ctx context.Context, jobID string, page, pageSize int, filters model.RecordFilters) (model.Page[model.Record], error)
	GetRecord(ctx context.Context, jobID, recordID string) (model.Record, error)

	// JobMetrics summarises the job's first CompletedRecords records.
	JobMetrics(ctx context.Context, jobID string) (model.JobMetrics, error)
	// Stats aggregates over every job and record.
	Stats(ctx context.Context) (Stats, error)

	Close()
}

// Stats are the raw aggregates behind the dashboard metrics.
type Stats struct {
	ActiveJobs        int
	TotalRecords      int
	AverageConfidence float64 // 0-1, zero without records
	ManualReview      int
}

// NewJobID returns a short random job id.
func NewJobID() string {
	return uuid.NewString()[:8]
}

// Paging bounds. (MaxPage-1)*MaxPageSize stays within an int32, so record
// offsets never overflow.
const (
	DefaultPageSize = 50
	MaxPageSize     = 100
	MaxPage         = math.MaxInt32 / MaxPageSize
)

// NormalizePage clamps paging arguments to usable values.
func NormalizePage(page, pageSize int) (int, int) {
	page = min(max(page, 1), MaxPage)
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	return page, min(pageSize, MaxPageSize)
}

// PageOffset returns the index of the first item on page.
func PageOffset(page, pageSize int) int {
	page, pageSize = NormalizePage(page, pageSize)
	return (page - 1) * pageSize
}

// MatchJob reports whether job passes filters.
func MatchJob(job model.Job, f model.JobFilters) bool {
	if f.Status != "" && string(job.Status) != f.Status {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(job.Name), q) &&
			!strings.Contains(strings.ToLower(job.Filename), q) &&
			!strings.Contains(strings.ToLower(job.ID), q) {
			return false
		}
	}
	return true
}

// MatchRecord reports whether rec passes filters.
func MatchRecord(rec model.Record, f model.RecordFilters) bool {
	if f.Recommendation != "" && rec.Recommendation != f.Recommendation {
		return false
	}
	if f.Severity != "" && rec.Severity != f.Severity {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(rec.Name), q) &&
			!strings.Contains(rec.NPI, q) &&
			!strings.Contains(strings.ToLower(rec.Specialty), q) {
			return false
		}
	}
	return true
}

// Summarize builds job metrics from processed records.
func Summarize(jobID string, processed []model.Record) model.JobMetrics {
	m := model.JobMetrics{JobID: jobID, ProcessedRecords: len(processed)}
	var sum float64
	for _, r := range processed {
		switch r.Recommendation {
		case model.RecommendAutoApprove:
			m.AutoApproved++
		case model.RecommendManualReview:
			m.ManualReview++
		case model.RecommendReject:
			m.Rejected++
		}
		sum += r.OverallConfidence
	}
	if len(processed) > 0 {
		m.AverageConfidence = sum / float64(len(processed))
	}
	return m
}
