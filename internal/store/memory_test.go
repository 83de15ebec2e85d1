package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/datacure/livejobs/internal/model"
)

func testRecords(jobID string, recs ...model.Recommendation) []model.Record {
	out := make([]model.Record, len(recs))
	for i, rec := range recs {
		out[i] = model.Record{
			ID:                fmt.Sprintf("%s-rec-%04d", jobID, i),
			Name:              fmt.Sprintf("Dr. Provider %d", i),
			Specialty:         "Cardiology",
			Recommendation:    rec,
			Severity:          "low",
			OverallConfidence: 0.9,
		}
	}
	return out
}

func TestMemory_JobLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	job := model.Job{ID: "j1", Name: "Validation Job j1", Filename: "providers.csv", Status: model.StatusQueued, TotalRecords: 10}
	if err := m.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := m.CreateJob(ctx, job); !errors.Is(err, ErrJobExists) {
		t.Errorf("duplicate CreateJob err = %v, want ErrJobExists", err)
	}

	job.Status = model.StatusProcessing
	job.Progress = 30
	if err := m.UpdateJob(ctx, job); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	got, err := m.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != model.StatusProcessing || got.Progress != 30 {
		t.Errorf("job = %+v", got)
	}

	if _, err := m.GetJob(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("GetJob(missing) err = %v", err)
	}
	if err := m.UpdateJob(ctx, model.Job{ID: "missing"}); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("UpdateJob(missing) err = %v", err)
	}
}

func TestMemory_ListJobs(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.CreateJob(ctx, model.Job{ID: "a", Name: "Cardiology batch", Filename: "cardio.csv", Status: model.StatusCompleted})
	m.CreateJob(ctx, model.Job{ID: "b", Name: "Derm batch", Filename: "derm.csv", Status: model.StatusProcessing})
	m.CreateJob(ctx, model.Job{ID: "c", Name: "Ortho batch", Filename: "ortho.csv", Status: model.StatusProcessing})

	tests := []struct {
		name    string
		filters model.JobFilters
		want    []string
	}{
		{"all newest first", model.JobFilters{}, []string{"c", "b", "a"}},
		{"status", model.JobFilters{Status: "processing"}, []string{"c", "b"}},
		{"search name", model.JobFilters{Search: "CARDIO"}, []string{"a"}},
		{"search filename", model.JobFilters{Search: "derm.csv"}, []string{"b"}},
		{"no match", model.JobFilters{Status: "failed"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs, err := m.ListJobs(ctx, tt.filters)
			if err != nil {
				t.Fatalf("ListJobs: %v", err)
			}
			if len(jobs) != len(tt.want) {
				t.Fatalf("got %d jobs, want %d", len(jobs), len(tt.want))
			}
			for i, id := range tt.want {
				if jobs[i].ID != id {
					t.Errorf("jobs[%d] = %s, want %s", i, jobs[i].ID, id)
				}
			}
		})
	}
}

func TestMemory_Records(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.CreateJob(ctx, model.Job{ID: "j1"})

	recs := testRecords("j1",
		model.RecommendAutoApprove, model.RecommendManualReview, model.RecommendReject,
		model.RecommendAutoApprove, model.RecommendAutoApprove,
	)
	if err := m.SaveRecords(ctx, "j1", recs[:3]); err != nil {
		t.Fatalf("SaveRecords: %v", err)
	}
	// Overlapping batch: duplicates are skipped.
	if err := m.SaveRecords(ctx, "j1", recs[2:]); err != nil {
		t.Fatalf("SaveRecords: %v", err)
	}

	page, err := m.ListRecords(ctx, "j1", 1, 2, model.RecordFilters{})
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if page.Total != 5 || len(page.Items) != 2 || !page.HasMore {
		t.Errorf("page 1 = %+v", page)
	}
	if page.Items[0].ID != "j1-rec-0000" {
		t.Errorf("first item = %s", page.Items[0].ID)
	}

	last, _ := m.ListRecords(ctx, "j1", 3, 2, model.RecordFilters{})
	if len(last.Items) != 1 || last.HasMore {
		t.Errorf("page 3 = %+v", last)
	}

	beyond, _ := m.ListRecords(ctx, "j1", 9, 2, model.RecordFilters{})
	if len(beyond.Items) != 0 || beyond.Total != 5 {
		t.Errorf("page 9 = %+v", beyond)
	}

	approved, _ := m.ListRecords(ctx, "j1", 0, 0, model.RecordFilters{Recommendation: model.RecommendAutoApprove})
	if approved.Total != 3 || approved.Page != 1 || approved.PageSize != 50 {
		t.Errorf("filtered = %+v", approved)
	}

	rec, err := m.GetRecord(ctx, "j1", "j1-rec-0002")
	if err != nil || rec.Recommendation != model.RecommendReject {
		t.Errorf("GetRecord = %+v, %v", rec, err)
	}
	if _, err := m.GetRecord(ctx, "j1", "nope"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("GetRecord(nope) err = %v", err)
	}
	if _, err := m.ListRecords(ctx, "missing", 1, 10, model.RecordFilters{}); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("ListRecords(missing) err = %v", err)
	}
	if err := m.SaveRecords(ctx, "missing", recs); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("SaveRecords(missing) err = %v", err)
	}
}

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		name             string
		page, pageSize   int
		wantPage, wantSz int
	}{
		{"defaults", 0, 0, 1, DefaultPageSize},
		{"negative", -3, -1, 1, DefaultPageSize},
		{"in range", 4, 20, 4, 20},
		{"page size capped", 1, 1000, 1, MaxPageSize},
		{"page capped", 1 << 62, 4, MaxPage, 4},
		{"max int page", math.MaxInt, math.MaxInt, MaxPage, MaxPageSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, size := NormalizePage(tt.page, tt.pageSize)
			if page != tt.wantPage || size != tt.wantSz {
				t.Errorf("NormalizePage(%d, %d) = %d, %d, want %d, %d", tt.page, tt.pageSize, page, size, tt.wantPage, tt.wantSz)
			}
			if off := PageOffset(tt.page, tt.pageSize); off < 0 {
				t.Errorf("PageOffset(%d, %d) = %d, want >= 0", tt.page, tt.pageSize, off)
			}
		})
	}
}

func TestMemory_ListRecordsHugePage(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.CreateJob(ctx, model.Job{ID: "j1"})
	m.SaveRecords(ctx, "j1", testRecords("j1", model.RecommendAutoApprove, model.RecommendReject))

	tests := []struct {
		name           string
		page, pageSize int
		wantItems      int
	}{
		{"page 1<<62", 1 << 62, 4, 0},
		{"max int page and size", math.MaxInt, math.MaxInt, 0},
		{"oversized page size", 1, 1 << 40, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := m.ListRecords(ctx, "j1", tt.page, tt.pageSize, model.RecordFilters{})
			if err != nil {
				t.Fatalf("ListRecords: %v", err)
			}
			if len(page.Items) != tt.wantItems || page.Total != 2 || page.HasMore {
				t.Errorf("page = %+v", page)
			}
			if page.PageSize > MaxPageSize {
				t.Errorf("PageSize = %d, want <= %d", page.PageSize, MaxPageSize)
			}
		})
	}
}

func TestMemory_MetricsAndStats(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.CreateJob(ctx, model.Job{ID: "j1", Status: model.StatusProcessing, CompletedRecords: 3})
	m.CreateJob(ctx, model.Job{ID: "j2", Status: model.StatusCompleted})
	m.SaveRecords(ctx, "j1", testRecords("j1",
		model.RecommendAutoApprove, model.RecommendManualReview, model.RecommendReject, model.RecommendManualReview,
	))

	jm, err := m.JobMetrics(ctx, "j1")
	if err != nil {
		t.Fatalf("JobMetrics: %v", err)
	}
	if jm.ProcessedRecords != 3 || jm.AutoApproved != 1 || jm.ManualReview != 1 || jm.Rejected != 1 {
		t.Errorf("job metrics = %+v", jm)
	}
	if _, err := m.JobMetrics(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("JobMetrics(missing) err = %v", err)
	}

	s, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if s.ActiveJobs != 1 || s.TotalRecords != 4 || s.ManualReview != 2 {
		t.Errorf("stats = %+v", s)
	}
	if s.AverageConfidence < 0.899 || s.AverageConfidence > 0.901 {
		t.Errorf("AverageConfidence = %v, want 0.9", s.AverageConfidence)
	}
}

func TestSummarize_Empty(t *testing.T) {
	m := Summarize("j1", nil)
	if m.ProcessedRecords != 0 || m.AverageConfidence != 0 || m.JobID != "j1" {
		t.Errorf("metrics = %+v", m)
	}
}

func TestNewJobID(t *testing.T) {
	a, b := NewJobID(), NewJobID()
	if len(a) != 8 {
		t.Errorf("len = %d, want 8", len(a))
	}
	if a == b {
		t.Error("ids should differ")
	}
}
