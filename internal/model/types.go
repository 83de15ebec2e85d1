package model

// -----------------------------------------------------------------------------
// Jobs
// -----------------------------------------------------------------------------

// Status is the lifecycle state of a validation job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further progress transitions are expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Job is one batch validation run over an uploaded provider-data file.
type Job struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	Filename            string   `json:"filename"`
	Status              Status   `json:"status"`
	Progress            int      `json:"progress"` // 0-100
	CompletedRecords    int      `json:"completedRecords"`
	TotalRecords        int      `json:"totalRecords"`
	CreatedAt           string   `json:"createdAt"`
	AutoApprovedPercent *float64 `json:"autoApprovedPercent,omitempty"`
	ManualReviewPercent *float64 `json:"manualReviewPercent,omitempty"`
	RejectedPercent     *float64 `json:"rejectedPercent,omitempty"`
	EtaRemaining        string   `json:"etaRemaining,omitempty"`
}

// JobView is the subset of a Job kept fresh by the live channel.
// TotalRecords is carried read-only so completedRecords can be bounded.
type JobView struct {
	Status           Status
	Progress         int
	CompletedRecords int
	TotalRecords     int
}

// View extracts the live subset of the job.
func (j Job) View() JobView {
	return JobView{
		Status:           j.Status,
		Progress:         j.Progress,
		CompletedRecords: j.CompletedRecords,
		TotalRecords:     j.TotalRecords,
	}
}

// WithView returns a copy of the job with the live fields taken from v.
func (j Job) WithView(v JobView) Job {
	j.Status = v.Status
	j.Progress = v.Progress
	j.CompletedRecords = v.CompletedRecords
	return j
}

// CreateJobRequest is the body of POST /jobs.
type CreateJobRequest struct {
	Filename     string `json:"filename"`
	TotalRecords int    `json:"totalRecords,omitempty"`
}

// JobFilters narrows a job listing.
type JobFilters struct {
	Status   string `json:"status,omitempty"`
	Search   string `json:"search,omitempty"`
	Page     int    `json:"page,omitempty"`
	PageSize int    `json:"pageSize,omitempty"`
}

// -----------------------------------------------------------------------------
// Records
// -----------------------------------------------------------------------------

// Recommendation is the validation outcome for a provider record.
type Recommendation string

const (
	RecommendAutoApprove  Recommendation = "auto-approve"
	RecommendManualReview Recommendation = "manual-review"
	RecommendReject       Recommendation = "reject"
)

// Record is a validated provider record.
type Record struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	NPI                string         `json:"npi"`
	Address            string         `json:"address"`
	Phone              string         `json:"phone"`
	Specialty          string         `json:"specialty"`
	LicenseStatus      string         `json:"licenseStatus"`
	OriginalConfidence *float64       `json:"originalConfidence,omitempty"`
	OverallConfidence  float64        `json:"overallConfidence"`
	NPIConfidence      float64        `json:"npiConfidence"`
	AddressConfidence  float64        `json:"addressConfidence"`
	LicenseConfidence  float64        `json:"licenseConfidence"`
	Recommendation     Recommendation `json:"recommendation"`
	Severity           string         `json:"severity"` // low, medium, high
	ValidatedAt        string         `json:"validatedAt"`
	AgentsInvolved     []string       `json:"agentsInvolved"`
	EnrichedData       *EnrichedData  `json:"enrichedData,omitempty"`
}

// EnrichedData holds corrected provider fields proposed by validation agents.
type EnrichedData struct {
	Name          string `json:"name"`
	Address       string `json:"address"`
	Phone         string `json:"phone"`
	Specialty     string `json:"specialty"`
	LicenseStatus string `json:"licenseStatus"`
}

// RecordFilters narrows a record listing. Zero fields are not sent.
type RecordFilters struct {
	Recommendation Recommendation `json:"recommendation,omitempty"`
	Severity       string         `json:"severity,omitempty"`
	Search         string         `json:"search,omitempty"`
}

// Page is one page of a paginated listing.
type Page[T any] struct {
	Items    []T  `json:"items"`
	Total    int  `json:"total"`
	Page     int  `json:"page"`
	PageSize int  `json:"pageSize"`
	HasMore  bool `json:"hasMore"`
}

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

// DashboardMetrics aggregates counts across all jobs.
type DashboardMetrics struct {
	TotalProvidersValidated int     `json:"totalProvidersValidated"`
	TotalProvidersChange    float64 `json:"totalProvidersChange"`
	AverageConfidenceScore  float64 `json:"averageConfidenceScore"`
	ConfidenceChange        float64 `json:"confidenceChange"`
	ActiveJobs              int     `json:"activeJobs"`
	ActiveJobsChange        float64 `json:"activeJobsChange"`
	RecordsRequiringReview  int     `json:"recordsRequiringReview"`
	ReviewChange            float64 `json:"reviewChange"`
}

// JobMetrics summarises the recommendations of one job's processed records.
type JobMetrics struct {
	JobID             string  `json:"jobId"`
	ProcessedRecords  int     `json:"processedRecords"`
	AutoApproved      int     `json:"autoApproved"`
	ManualReview      int     `json:"manualReview"`
	Rejected          int     `json:"rejected"`
	AverageConfidence float64 `json:"averageConfidence"`
}

// ExportResponse acknowledges an export request.
type ExportResponse struct {
	Message string `json:"message"`
	JobID   string `json:"jobId"`
	Format  string `json:"format"`
}
