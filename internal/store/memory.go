package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/datacure/livejobs/internal/model"
)

// Memory is an in-process JobStore.
type Memory struct {
	mu      sync.RWMutex
	jobs    map[string]model.Job
	order   []string // creation order
	records map[string][]model.Record
}

var _ JobStore = (*Memory)(nil)

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:    make(map[string]model.Job),
		records: make(map[string][]model.Record),
	}
}

func (m *Memory) CreateJob(ctx context.Context, job model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("create job %s: %w", job.ID, ErrJobExists)
	}
	m.jobs[job.ID] = job
	m.order = append(m.order, job.ID)
	return nil
}

func (m *Memory) UpdateJob(ctx context.Context, job model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.ID]; !ok {
		return fmt.Errorf("update job %s: %w", job.ID, ErrJobNotFound)
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *Memory) GetJob(ctx context.Context, jobID string) (model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return model.Job{}, fmt.Errorf("get job %s: %w", jobID, ErrJobNotFound)
	}
	return job, nil
}

func (m *Memory) ListJobs(ctx context.Context, filters model.JobFilters) ([]model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Job, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		job := m.jobs[m.order[i]]
		if MatchJob(job, filters) {
			out = append(out, job)
		}
	}
	return out, nil
}

func (m *Memory) SaveRecords(ctx context.Context, jobID string, records []model.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[jobID]; !ok {
		return fmt.Errorf("save records for job %s: %w", jobID, ErrJobNotFound)
	}
	existing := m.records[jobID]
	seen := make(map[string]struct{}, len(existing))
	for _, r := range existing {
		seen[r.ID] = struct{}{}
	}
	for _, r := range records {
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		existing = append(existing, r)
	}
	m.records[jobID] = existing
	return nil
}

func (m *Memory) ListRecords(ctx context.Context, jobID string, page, pageSize int, filters model.RecordFilters) (model.Page[model.Record], error) {
	page, pageSize = NormalizePage(page, pageSize)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.jobs[jobID]; !ok {
		return model.Page[model.Record]{}, fmt.Errorf("list records for job %s: %w", jobID, ErrJobNotFound)
	}

	var matched []model.Record
	for _, r := range m.records[jobID] {
		if MatchRecord(r, filters) {
			matched = append(matched, r)
		}
	}

	start := min(PageOffset(page, pageSize), len(matched))
	end := min(start+pageSize, len(matched))
	items := make([]model.Record, end-start)
	copy(items, matched[start:end])

	return model.Page[model.Record]{
		Items:    items,
		Total:    len(matched),
		Page:     page,
		PageSize: pageSize,
		HasMore:  end < len(matched),
	}, nil
}

func (m *Memory) GetRecord(ctx context.Context, jobID, recordID string) (model.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.records[jobID] {
		if r.ID == recordID {
			return r, nil
		}
	}
	return model.Record{}, fmt.Errorf("get record %s: %w", recordID, ErrRecordNotFound)
}

func (m *Memory) JobMetrics(ctx context.Context, jobID string) (model.JobMetrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return model.JobMetrics{}, fmt.Errorf("job metrics %s: %w", jobID, ErrJobNotFound)
	}
	recs := m.records[jobID]
	n := min(job.CompletedRecords, len(recs))
	return Summarize(jobID, recs[:n]), nil
}

func (m *Memory) Stats(ctx context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s Stats
	for _, job := range m.jobs {
		if !job.Status.Terminal() {
			s.ActiveJobs++
		}
	}
	var sum float64
	for _, recs := range m.records {
		for _, r := range recs {
			s.TotalRecords++
			sum += r.OverallConfidence
			if r.Recommendation == model.RecommendManualReview {
				s.ManualReview++
			}
		}
	}
	if s.TotalRecords > 0 {
		s.AverageConfidence = sum / float64(s.TotalRecords)
	}
	return s, nil
}

// Close is a no-op.
func (m *Memory) Close() {}
