package dashboard

import "github.com/datacure/livejobs/internal/model"

// Fallback supplies placeholder data when the job service is unavailable.
type Fallback interface {
	Jobs(filters model.JobFilters) []model.Job
	Job(jobID string) (model.Job, bool)
	Records(jobID string, page, pageSize int, filters model.RecordFilters) model.Page[model.Record]
	Record(jobID, recordID string) (model.Record, bool)
	JobMetrics(jobID string) model.JobMetrics
	DashboardMetrics() model.DashboardMetrics
}

// EmptyFallback returns empty placeholders.
type EmptyFallback struct{}

func (EmptyFallback) Jobs(model.JobFilters) []model.Job { return []model.Job{} }

func (EmptyFallback) Job(string) (model.Job, bool) { return model.Job{}, false }

func (EmptyFallback) Records(_ string, page, pageSize int, _ model.RecordFilters) model.Page[model.Record] {
	return model.Page[model.Record]{Items: []model.Record{}, Page: page, PageSize: pageSize}
}

func (EmptyFallback) Record(string, string) (model.Record, bool) { return model.Record{}, false }

func (EmptyFallback) JobMetrics(jobID string) model.JobMetrics { return model.JobMetrics{JobID: jobID} }

func (EmptyFallback) DashboardMetrics() model.DashboardMetrics { return model.DashboardMetrics{} }
