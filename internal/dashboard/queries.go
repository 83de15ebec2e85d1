package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/datacure/livejobs/internal/api"
	"github.com/datacure/livejobs/internal/cache"
	"github.com/datacure/livejobs/internal/model"
)

// Stale times per query family.
const (
	JobsStaleTime    = 30 * time.Second
	MetricsStaleTime = 60 * time.Second
)

// Source is the job service. *api.Client satisfies it.
type Source interface {
	GetJobs(ctx context.Context, filters model.JobFilters) ([]model.Job, error)
	GetJob(ctx context.Context, jobID string) (model.Job, error)
	GetJobRecords(ctx context.Context, jobID string, page, pageSize int, filters model.RecordFilters) (model.Page[model.Record], error)
	GetJobRecord(ctx context.Context, jobID, recordID string) (model.Record, error)
	GetJobMetrics(ctx context.Context, jobID string) (model.JobMetrics, error)
	GetDashboardMetrics(ctx context.Context) (model.DashboardMetrics, error)
	CreateJob(ctx context.Context, req model.CreateJobRequest) (model.Job, error)
	ExportJob(ctx context.Context, jobID string, format api.ExportFormat) (model.ExportResponse, error)
}

// Result is query data labelled with its origin.
type Result[T any] struct {
	Data T
	// Sample is true when Data came from the Fallback.
	Sample bool
}

// Queries reads the job service through the shared cache.
type Queries struct {
	source   Source
	cache    *cache.QueryCache
	fallback Fallback
	logger   *slog.Logger
}

// New creates a Queries. A nil fallback means EmptyFallback.
func New(source Source, qc *cache.QueryCache, fallback Fallback, logger *slog.Logger) *Queries {
	if fallback == nil {
		fallback = EmptyFallback{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queries{source: source, cache: qc, fallback: fallback, logger: logger}
}

// Cache returns the underlying cache.
func (q *Queries) Cache() *cache.QueryCache {
	return q.cache
}

// Jobs lists jobs matching filters.
func (q *Queries) Jobs(ctx context.Context, filters model.JobFilters) Result[[]model.Job] {
	jobs, err := cache.FetchAs(ctx, q.cache, cache.JobList(filters), JobsStaleTime, func(ctx context.Context) ([]model.Job, error) {
		return q.source.GetJobs(ctx, filters)
	})
	if err != nil {
		q.logger.Warn("jobs query failed, using sample data", "error", err)
		return Result[[]model.Job]{Data: q.fallback.Jobs(filters), Sample: true}
	}
	return Result[[]model.Job]{Data: jobs}
}

// RecentJobs returns at most limit jobs.
func (q *Queries) RecentJobs(ctx context.Context, limit int) Result[[]model.Job] {
	res := q.Jobs(ctx, model.JobFilters{})
	if limit > 0 && len(res.Data) > limit {
		res.Data = res.Data[:limit]
	}
	return res
}

// Job fetches one job. A not-found error is returned; other failures fall
// back when the Fallback knows the job.
func (q *Queries) Job(ctx context.Context, jobID string) (Result[model.Job], error) {
	job, err := cache.FetchAs(ctx, q.cache, cache.JobDetail(jobID), JobsStaleTime, func(ctx context.Context) (model.Job, error) {
		return q.source.GetJob(ctx, jobID)
	})
	if err == nil {
		return Result[model.Job]{Data: job}, nil
	}
	if api.IsNotFound(err) {
		return Result[model.Job]{}, err
	}
	if sample, ok := q.fallback.Job(jobID); ok {
		q.logger.Warn("job query failed, using sample data", "job_id", jobID, "error", err)
		return Result[model.Job]{Data: sample, Sample: true}, nil
	}
	return Result[model.Job]{}, err
}

// JobRecords fetches one page of a job's records.
func (q *Queries) JobRecords(ctx context.Context, jobID string, page, pageSize int, filters model.RecordFilters) Result[model.Page[model.Record]] {
	key := cache.JobRecordPage(jobID, page, pageSize, filters)
	recs, err := cache.FetchAs(ctx, q.cache, key, JobsStaleTime, func(ctx context.Context) (model.Page[model.Record], error) {
		return q.source.GetJobRecords(ctx, jobID, page, pageSize, filters)
	})
	if err != nil {
		q.logger.Warn("records query failed, using sample data", "job_id", jobID, "error", err)
		return Result[model.Page[model.Record]]{Data: q.fallback.Records(jobID, page, pageSize, filters), Sample: true}
	}
	return Result[model.Page[model.Record]]{Data: recs}
}

// JobRecord fetches one record. It is always refetched.
func (q *Queries) JobRecord(ctx context.Context, jobID, recordID string) (Result[model.Record], error) {
	rec, err := cache.FetchAs(ctx, q.cache, cache.JobRecord(jobID, recordID), 0, func(ctx context.Context) (model.Record, error) {
		return q.source.GetJobRecord(ctx, jobID, recordID)
	})
	if err == nil {
		return Result[model.Record]{Data: rec}, nil
	}
	if api.IsNotFound(err) {
		return Result[model.Record]{}, err
	}
	if sample, ok := q.fallback.Record(jobID, recordID); ok {
		q.logger.Warn("record query failed, using sample data", "job_id", jobID, "record_id", recordID, "error", err)
		return Result[model.Record]{Data: sample, Sample: true}, nil
	}
	return Result[model.Record]{}, err
}

// JobMetrics fetches a job's recommendation summary.
func (q *Queries) JobMetrics(ctx context.Context, jobID string) Result[model.JobMetrics] {
	m, err := cache.FetchAs(ctx, q.cache, cache.JobMetrics(jobID), JobsStaleTime, func(ctx context.Context) (model.JobMetrics, error) {
		return q.source.GetJobMetrics(ctx, jobID)
	})
	if err != nil {
		q.logger.Warn("job metrics query failed, using sample data", "job_id", jobID, "error", err)
		return Result[model.JobMetrics]{Data: q.fallback.JobMetrics(jobID), Sample: true}
	}
	return Result[model.JobMetrics]{Data: m}
}

// DashboardMetrics fetches the aggregate metrics.
func (q *Queries) DashboardMetrics(ctx context.Context) Result[model.DashboardMetrics] {
	m, err := cache.FetchAs(ctx, q.cache, cache.DashboardMetrics(), MetricsStaleTime, func(ctx context.Context) (model.DashboardMetrics, error) {
		return q.source.GetDashboardMetrics(ctx)
	})
	if err != nil {
		q.logger.Warn("dashboard metrics query failed, using sample data", "error", err)
		return Result[model.DashboardMetrics]{Data: q.fallback.DashboardMetrics(), Sample: true}
	}
	return Result[model.DashboardMetrics]{Data: m}
}

// CreateJob submits a job, seeds its detail entry and invalidates listings.
func (q *Queries) CreateJob(ctx context.Context, req model.CreateJobRequest) (model.Job, error) {
	job, err := q.source.CreateJob(ctx, req)
	if err != nil {
		return model.Job{}, err
	}
	q.cache.Set(cache.JobDetail(job.ID), job)
	q.cache.Invalidate(cache.JobLists())
	return job, nil
}

// ExportJob requests an export. Nothing is cached.
func (q *Queries) ExportJob(ctx context.Context, jobID string, format api.ExportFormat) (model.ExportResponse, error) {
	resp, err := q.source.ExportJob(ctx, jobID, format)
	if err != nil {
		return model.ExportResponse{}, fmt.Errorf("export: %w", err)
	}
	return resp, nil
}
