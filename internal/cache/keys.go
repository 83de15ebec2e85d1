package cache

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/datacure/livejobs/internal/model"
)

// Key is a composite cache key. Keys form a tree by prefix.
type Key []string

// String joins the segments. It is used as the map key, so segments must not
// contain the separator.
func (k Key) String() string {
	return strings.Join(k, "/")
}

// HasPrefix reports whether every segment of prefix matches the head of k.
// The empty prefix matches every key.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Root returns the first segment, or "" for the empty key.
func (k Key) Root() string {
	if len(k) == 0 {
		return ""
	}
	return k[0]
}

// Equal reports whether the keys have identical segments.
func (k Key) Equal(other Key) bool {
	return len(k) == len(other) && k.HasPrefix(other)
}

func join(base Key, segs ...string) Key {
	out := make(Key, 0, len(base)+len(segs))
	out = append(out, base...)
	return append(out, segs...)
}

// Jobs is the root of every job key.
func Jobs() Key { return Key{"jobs"} }

// JobLists is the parent of every job listing.
func JobLists() Key { return join(Jobs(), "list") }

// JobList addresses one filtered job listing.
func JobList(f model.JobFilters) Key {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	return join(JobLists(), "?"+q.Encode())
}

// JobDetail addresses one job. Its children are records and metrics.
func JobDetail(id string) Key { return join(Jobs(), "detail", escape(id)) }

// JobRecords is the parent of every record page and record of a job.
func JobRecords(id string) Key { return join(JobDetail(id), "records") }

// JobRecordPage addresses one page of a job's records.
func JobRecordPage(id string, page, pageSize int, f model.RecordFilters) Key {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	if f.Recommendation != "" {
		q.Set("recommendation", string(f.Recommendation))
	}
	if f.Severity != "" {
		q.Set("severity", f.Severity)
	}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	return join(JobRecords(id), "?"+q.Encode())
}

// JobRecord addresses one record of a job.
func JobRecord(id, recordID string) Key {
	return join(JobRecords(id), escape(recordID))
}

// JobMetrics addresses the recommendation summary of a job.
func JobMetrics(id string) Key { return join(JobDetail(id), "metrics") }

// DashboardMetrics addresses the aggregate dashboard metrics.
func DashboardMetrics() Key { return Key{"dashboard", "metrics"} }

func escape(s string) string {
	return url.PathEscape(s)
}
