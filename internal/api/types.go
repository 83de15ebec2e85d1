package api

import "net/url"

// Paths, relative to the client's base path.
const (
	PathJobs             = "/jobs"
	PathDashboardMetrics = "/metrics/dashboard"
)

func jobPath(jobID string) string {
	return PathJobs + "/" + url.PathEscape(jobID)
}

// ExportFormat selects the export file type.
type ExportFormat string

const (
	ExportCSV  ExportFormat = "csv"
	ExportXLSX ExportFormat = "xlsx"
)

// Default record page size.
const DefaultPageSize = 50
