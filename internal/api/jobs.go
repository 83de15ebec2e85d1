package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/datacure/livejobs/internal/model"
)

// GetJobs lists jobs, optionally filtered by status and search text.
func (c *Client) GetJobs(ctx context.Context, filters model.JobFilters) ([]model.Job, error) {
	query := url.Values{}
	if filters.Status != "" {
		query.Set("status", filters.Status)
	}
	if filters.Search != "" {
		query.Set("search", filters.Search)
	}

	var jobs []model.Job
	if err := c.get(ctx, PathJobs, query, &jobs); err != nil {
		return nil, fmt.Errorf("get jobs: %w", err)
	}
	return jobs, nil
}

// GetRecentJobs returns at most limit jobs in service order.
func (c *Client) GetRecentJobs(ctx context.Context, limit int) ([]model.Job, error) {
	jobs, err := c.GetJobs(ctx, model.JobFilters{})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// GetJob fetches one job.
func (c *Client) GetJob(ctx context.Context, jobID string) (model.Job, error) {
	var job model.Job
	if err := c.get(ctx, jobPath(jobID), nil, &job); err != nil {
		return model.Job{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

// GetJobRecords fetches one page of a job's records.
func (c *Client) GetJobRecords(ctx context.Context, jobID string, page, pageSize int, filters model.RecordFilters) (model.Page[model.Record], error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("page_size", strconv.Itoa(pageSize))
	if filters.Recommendation != "" {
		query.Set("recommendation", string(filters.Recommendation))
	}
	if filters.Severity != "" {
		query.Set("severity", filters.Severity)
	}
	if filters.Search != "" {
		query.Set("search", filters.Search)
	}

	var resp model.Page[model.Record]
	if err := c.get(ctx, jobPath(jobID)+"/records", query, &resp); err != nil {
		return model.Page[model.Record]{}, fmt.Errorf("get records for job %s: %w", jobID, err)
	}
	return resp, nil
}

// GetJobRecord fetches one record of a job.
func (c *Client) GetJobRecord(ctx context.Context, jobID, recordID string) (model.Record, error) {
	var rec model.Record
	path := jobPath(jobID) + "/records/" + url.PathEscape(recordID)
	if err := c.get(ctx, path, nil, &rec); err != nil {
		return model.Record{}, fmt.Errorf("get record %s of job %s: %w", recordID, jobID, err)
	}
	return rec, nil
}

// GetJobMetrics fetches the recommendation summary of a job.
func (c *Client) GetJobMetrics(ctx context.Context, jobID string) (model.JobMetrics, error) {
	var m model.JobMetrics
	if err := c.get(ctx, jobPath(jobID)+"/metrics", nil, &m); err != nil {
		return model.JobMetrics{}, fmt.Errorf("get metrics for job %s: %w", jobID, err)
	}
	return m, nil
}

// CreateJob submits a new validation job.
func (c *Client) CreateJob(ctx context.Context, req model.CreateJobRequest) (model.Job, error) {
	var job model.Job
	if err := c.post(ctx, PathJobs, nil, req, &job); err != nil {
		return model.Job{}, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// ExportJob requests an export of a job's results.
func (c *Client) ExportJob(ctx context.Context, jobID string, format ExportFormat) (model.ExportResponse, error) {
	if format == "" {
		format = ExportCSV
	}
	query := url.Values{}
	query.Set("format", string(format))

	var resp model.ExportResponse
	if err := c.post(ctx, jobPath(jobID)+"/export", query, nil, &resp); err != nil {
		return model.ExportResponse{}, fmt.Errorf("export job %s: %w", jobID, err)
	}
	return resp, nil
}
