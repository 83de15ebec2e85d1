package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/datacure/livejobs/internal/model"
	"github.com/datacure/livejobs/internal/store"
)

// JobStore is a store.JobStore backed by Postgres.
type JobStore struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

var _ store.JobStore = (*JobStore)(nil)

// NewJobStore wraps an open pool. The caller runs Migrate first.
func NewJobStore(db *pgxpool.Pool, logger *slog.Logger) *JobStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobStore{db: db, logger: logger}
}

const jobColumns = `id, name, filename, status, progress, completed_records, total_records,
	created_at, auto_approved_percent, manual_review_percent, rejected_percent, eta_remaining`

const recordColumns = `id, name, npi, address, phone, specialty, license_status, original_confidence,
	overall_confidence, npi_confidence, address_confidence, license_confidence,
	recommendation, severity, validated_at, agents_involved, enriched_data`

func (s *JobStore) CreateJob(ctx context.Context, job model.Job) error {
	ct, err := s.db.Exec(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`, job.ID, job.Name, job.Filename, string(job.Status), job.Progress, job.CompletedRecords, job.TotalRecords,
		job.CreatedAt, job.AutoApprovedPercent, job.ManualReviewPercent, job.RejectedPercent, job.EtaRemaining)
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("create job %s: %w", job.ID, store.ErrJobExists)
	}
	return nil
}

func (s *JobStore) UpdateJob(ctx context.Context, job model.Job) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE jobs SET name = $2, filename = $3, status = $4, progress = $5,
			completed_records = $6, total_records = $7, auto_approved_percent = $8,
			manual_review_percent = $9, rejected_percent = $10, eta_remaining = $11
		WHERE id = $1
	`, job.ID, job.Name, job.Filename, string(job.Status), job.Progress, job.CompletedRecords, job.TotalRecords,
		job.AutoApprovedPercent, job.ManualReviewPercent, job.RejectedPercent, job.EtaRemaining)
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("update job %s: %w", job.ID, store.ErrJobNotFound)
	}
	return nil
}

func (s *JobStore) GetJob(ctx context.Context, jobID string) (model.Job, error) {
	row := s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Job{}, fmt.Errorf("get job %s: %w", jobID, store.ErrJobNotFound)
	}
	if err != nil {
		return model.Job{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

func (s *JobStore) ListJobs(ctx context.Context, filters model.JobFilters) ([]model.Job, error) {
	where, args := jobWhere(filters)
	rows, err := s.db.Query(ctx, `SELECT `+jobColumns+` FROM jobs`+where+` ORDER BY seq DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []model.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// SaveRecords inserts records using pgx.Batch with ON CONFLICT DO NOTHING.
func (s *JobStore) SaveRecords(ctx context.Context, jobID string, records []model.Record) error {
	if len(records) == 0 {
		return nil
	}
	start := time.Now()

	var next int
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(MAX(seq) + 1, 0) FROM provider_records WHERE job_id = $1
	`, jobID).Scan(&next)
	if err != nil {
		return fmt.Errorf("save records for job %s: %w", jobID, err)
	}

	batch := &pgx.Batch{}
	for i, r := range records {
		batch.Queue(`
			INSERT INTO provider_records (job_id, seq, `+recordColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
			ON CONFLICT (job_id, id) DO NOTHING
		`, jobID, next+i, r.ID, r.Name, r.NPI, r.Address, r.Phone, r.Specialty, r.LicenseStatus,
			r.OriginalConfidence, r.OverallConfidence, r.NPIConfidence, r.AddressConfidence, r.LicenseConfidence,
			string(r.Recommendation), r.Severity, r.ValidatedAt, agents(r.AgentsInvolved), r.EnrichedData)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	conflicts := 0
	for range records {
		ct, err := results.Exec()
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23503" {
				return fmt.Errorf("save records for job %s: %w", jobID, store.ErrJobNotFound)
			}
			return fmt.Errorf("save records for job %s: %w", jobID, err)
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	s.logger.Debug("saved records",
		"job_id", jobID,
		"count", len(records),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
	return nil
}

func (s *JobStore) ListRecords(ctx context.Context, jobID string, page, pageSize int, filters model.RecordFilters) (model.Page[model.Record], error) {
	page, pageSize = store.NormalizePage(page, pageSize)

	if err := s.jobExists(ctx, jobID); err != nil {
		return model.Page[model.Record]{}, fmt.Errorf("list records: %w", err)
	}

	where, args := recordWhere(jobID, filters)

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM provider_records`+where, args...).Scan(&total); err != nil {
		return model.Page[model.Record]{}, fmt.Errorf("count records for job %s: %w", jobID, err)
	}

	n := len(args)
	offset := store.PageOffset(page, pageSize)
	args = append(args, pageSize, offset)
	rows, err := s.db.Query(ctx,
		`SELECT `+recordColumns+` FROM provider_records`+where+
			` ORDER BY seq LIMIT $`+strconv.Itoa(n+1)+` OFFSET $`+strconv.Itoa(n+2),
		args...)
	if err != nil {
		return model.Page[model.Record]{}, fmt.Errorf("list records for job %s: %w", jobID, err)
	}
	defer rows.Close()

	items := []model.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return model.Page[model.Record]{}, fmt.Errorf("scan record: %w", err)
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return model.Page[model.Record]{}, fmt.Errorf("list records for job %s: %w", jobID, err)
	}

	return model.Page[model.Record]{
		Items:    items,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		HasMore:  offset+len(items) < total,
	}, nil
}

func (s *JobStore) GetRecord(ctx context.Context, jobID, recordID string) (model.Record, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+recordColumns+` FROM provider_records WHERE job_id = $1 AND id = $2
	`, jobID, recordID)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Record{}, fmt.Errorf("get record %s: %w", recordID, store.ErrRecordNotFound)
	}
	if err != nil {
		return model.Record{}, fmt.Errorf("get record %s: %w", recordID, err)
	}
	return rec, nil
}

func (s *JobStore) JobMetrics(ctx context.Context, jobID string) (model.JobMetrics, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return model.JobMetrics{}, err
	}

	m := model.JobMetrics{JobID: jobID}
	err = s.db.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE recommendation = $3),
			COUNT(*) FILTER (WHERE recommendation = $4),
			COUNT(*) FILTER (WHERE recommendation = $5),
			COALESCE(AVG(overall_confidence), 0)
		FROM (
			SELECT recommendation, overall_confidence FROM provider_records
			WHERE job_id = $1 ORDER BY seq LIMIT $2
		) processed
	`, jobID, job.CompletedRecords,
		string(model.RecommendAutoApprove), string(model.RecommendManualReview), string(model.RecommendReject),
	).Scan(&m.ProcessedRecords, &m.AutoApproved, &m.ManualReview, &m.Rejected, &m.AverageConfidence)
	if err != nil {
		return model.JobMetrics{}, fmt.Errorf("job metrics %s: %w", jobID, err)
	}
	return m, nil
}

func (s *JobStore) Stats(ctx context.Context) (store.Stats, error) {
	var st store.Stats
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM jobs WHERE status NOT IN ($1, $2)
	`, string(model.StatusCompleted), string(model.StatusFailed)).Scan(&st.ActiveJobs)
	if err != nil {
		return store.Stats{}, fmt.Errorf("count active jobs: %w", err)
	}

	err = s.db.QueryRow(ctx, `
		SELECT COUNT(*),
			COALESCE(AVG(overall_confidence), 0),
			COUNT(*) FILTER (WHERE recommendation = $1)
		FROM provider_records
	`, string(model.RecommendManualReview)).Scan(&st.TotalRecords, &st.AverageConfidence, &st.ManualReview)
	if err != nil {
		return store.Stats{}, fmt.Errorf("record stats: %w", err)
	}
	return st, nil
}

// Close closes the pool.
func (s *JobStore) Close() {
	s.db.Close()
}

func (s *JobStore) jobExists(ctx context.Context, jobID string) error {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, jobID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("job %s: %w", jobID, store.ErrJobNotFound)
	}
	return nil
}

func scanJob(row pgx.Row) (model.Job, error) {
	var job model.Job
	var status string
	err := row.Scan(&job.ID, &job.Name, &job.Filename, &status, &job.Progress, &job.CompletedRecords,
		&job.TotalRecords, &job.CreatedAt, &job.AutoApprovedPercent, &job.ManualReviewPercent,
		&job.RejectedPercent, &job.EtaRemaining)
	job.Status = model.Status(status)
	return job, err
}

func scanRecord(row pgx.Row) (model.Record, error) {
	var rec model.Record
	var recommendation string
	err := row.Scan(&rec.ID, &rec.Name, &rec.NPI, &rec.Address, &rec.Phone, &rec.Specialty,
		&rec.LicenseStatus, &rec.OriginalConfidence, &rec.OverallConfidence, &rec.NPIConfidence,
		&rec.AddressConfidence, &rec.LicenseConfidence, &recommendation, &rec.Severity,
		&rec.ValidatedAt, &rec.AgentsInvolved, &rec.EnrichedData)
	rec.Recommendation = model.Recommendation(recommendation)
	return rec, err
}

// agents keeps NOT NULL satisfied for records without agents.
func agents(a []string) []string {
	if a == nil {
		return []string{}
	}
	return a
}

// jobWhere builds the WHERE clause for a job listing.
func jobWhere(f model.JobFilters) (string, []any) {
	var conds []string
	var args []any
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, "status = $"+strconv.Itoa(len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+likeEscape(f.Search)+"%")
		p := "$" + strconv.Itoa(len(args))
		conds = append(conds, "(name ILIKE "+p+" OR filename ILIKE "+p+" OR id ILIKE "+p+")")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// recordWhere builds the WHERE clause for a record listing. $1 is the job id.
func recordWhere(jobID string, f model.RecordFilters) (string, []any) {
	conds := []string{"job_id = $1"}
	args := []any{jobID}
	if f.Recommendation != "" {
		args = append(args, string(f.Recommendation))
		conds = append(conds, "recommendation = $"+strconv.Itoa(len(args)))
	}
	if f.Severity != "" {
		args = append(args, f.Severity)
		conds = append(conds, "severity = $"+strconv.Itoa(len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+likeEscape(f.Search)+"%")
		p := "$" + strconv.Itoa(len(args))
		conds = append(conds, "(name ILIKE "+p+" OR npi LIKE "+p+" OR specialty ILIKE "+p+")")
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

var likeReplacer = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likeEscape(s string) string {
	return likeReplacer.Replace(s)
}
