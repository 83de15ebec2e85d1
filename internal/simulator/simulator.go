package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/datacure/livejobs/internal/envelope"
	"github.com/datacure/livejobs/internal/metrics"
	"github.com/datacure/livejobs/internal/model"
	"github.com/datacure/livejobs/internal/store"
)

// ErrInvalidRequest is returned for unusable job submissions.
var ErrInvalidRequest = errors.New("invalid job request")

// Publisher receives encoded job events. broker.Broker satisfies it.
type Publisher interface {
	Publish(ctx context.Context, jobID string, msg []byte) error
}

// Config holds simulator configuration.
type Config struct {
	RecordInterval time.Duration // Delay per record (default: 200ms)
	StageInterval  time.Duration // Queued delay before processing (default: 1s)
	DefaultRecords int           // Records when the request names none (default: 100)
	RecordEvery    int           // record_completed cadence (default: 5)
	Seed           uint64        // RNG seed; 0 picks a random one
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RecordInterval: 200 * time.Millisecond,
		StageInterval:  time.Second,
		DefaultRecords: 100,
		RecordEvery:    5,
	}
}

// Simulator processes submitted jobs in the background.
type Simulator struct {
	cfg    Config
	store  store.JobStore
	pub    Publisher
	logger *slog.Logger
	now    func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Simulator. Zero config fields take their defaults.
func New(cfg Config, st store.JobStore, pub Publisher, logger *slog.Logger) *Simulator {
	def := DefaultConfig()
	if cfg.RecordInterval <= 0 {
		cfg.RecordInterval = def.RecordInterval
	}
	if cfg.StageInterval < 0 {
		cfg.StageInterval = 0
	}
	if cfg.DefaultRecords <= 0 {
		cfg.DefaultRecords = def.DefaultRecords
	}
	if cfg.RecordEvery <= 0 {
		cfg.RecordEvery = def.RecordEvery
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Simulator{
		cfg:    cfg,
		store:  st,
		pub:    pub,
		logger: logger,
		now:    time.Now,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit persists a queued job with its records and starts processing it.
func (s *Simulator) Submit(ctx context.Context, req model.CreateJobRequest) (model.Job, error) {
	filename := strings.TrimSpace(req.Filename)
	if filename == "" {
		return model.Job{}, fmt.Errorf("%w: filename is required", ErrInvalidRequest)
	}
	if req.TotalRecords < 0 {
		return model.Job{}, fmt.Errorf("%w: totalRecords must be >= 0", ErrInvalidRequest)
	}
	total := req.TotalRecords
	if total == 0 {
		total = s.cfg.DefaultRecords
	}

	id := store.NewJobID()
	now := s.now()
	job := model.Job{
		ID:           id,
		Name:         "Validation Job " + id,
		Filename:     filename,
		Status:       model.StatusQueued,
		TotalRecords: total,
		CreatedAt:    now.Format(time.RFC3339),
	}

	s.rngMu.Lock()
	records := generateRecords(s.rng, id, total, now)
	s.rngMu.Unlock()

	if err := s.store.CreateJob(ctx, job); err != nil {
		return model.Job{}, err
	}
	if err := s.store.SaveRecords(ctx, id, records); err != nil {
		return model.Job{}, err
	}
	metrics.JobTransition(string(model.StatusQueued))

	s.wg.Add(1)
	go s.process(job, records)

	s.logger.Info("job submitted", "job_id", id, "filename", filename, "records", total)
	return job, nil
}

// Stop cancels processing and waits for running jobs to record their state.
func (s *Simulator) Stop(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("job simulator stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// process walks the job through every record.
func (s *Simulator) process(job model.Job, records []model.Record) {
	defer s.wg.Done()

	log := s.logger.With("job_id", job.ID)
	total := len(records)

	if !s.sleep(s.cfg.StageInterval) {
		s.fail(job, "processing interrupted", log)
		return
	}

	job.Status = model.StatusProcessing
	metrics.JobTransition(string(model.StatusProcessing))

	var approved, review, rejected int
	stage := -1
	for i, rec := range records {
		if st := i * len(Agents) / total; st != stage {
			stage = st
			s.publish(job.ID, envelope.Log(Agents[stage]+" pass started", "info"), log)
		}

		if !s.sleep(s.cfg.RecordInterval) {
			s.fail(job, "processing interrupted", log)
			return
		}

		switch rec.Recommendation {
		case model.RecommendAutoApprove:
			approved++
		case model.RecommendManualReview:
			review++
		case model.RecommendReject:
			rejected++
		}

		completed := i + 1
		job.CompletedRecords = completed
		job.Progress = completed * 100 / total
		job.AutoApprovedPercent = percent(approved, completed)
		job.ManualReviewPercent = percent(review, completed)
		job.RejectedPercent = percent(rejected, completed)
		job.EtaRemaining = (time.Duration(total-completed) * s.cfg.RecordInterval).Round(time.Second).String()

		if err := s.store.UpdateJob(s.ctx, job); err != nil {
			log.Error("failed to update job", "err", err)
			s.fail(job, "store update failed", log)
			return
		}

		s.publish(job.ID, envelope.Progress(job.Progress, completed), log)
		if completed%s.cfg.RecordEvery == 0 {
			s.publish(job.ID, envelope.RecordDone(rec.ID), log)
		}
	}

	job.Status = model.StatusCompleted
	job.Progress = 100
	job.EtaRemaining = ""
	if err := s.store.UpdateJob(context.WithoutCancel(s.ctx), job); err != nil {
		log.Error("failed to complete job", "err", err)
		s.fail(job, "store update failed", log)
		return
	}
	metrics.JobTransition(string(model.StatusCompleted))
	s.publish(job.ID, envelope.Completed(job.ID), log)

	log.Info("job completed", "records", total)
}

// fail marks the job failed and announces it. It runs even after Stop.
func (s *Simulator) fail(job model.Job, reason string, log *slog.Logger) {
	job.Status = model.StatusFailed
	job.EtaRemaining = ""

	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), 5*time.Second)
	defer cancel()

	if err := s.store.UpdateJob(ctx, job); err != nil {
		log.Error("failed to mark job failed", "err", err)
	}
	metrics.JobTransition(string(model.StatusFailed))
	s.publishCtx(ctx, job.ID, envelope.Failed(job.ID, reason), log)

	log.Warn("job failed", "reason", reason, "completed", job.CompletedRecords)
}

func (s *Simulator) publish(jobID string, env envelope.Envelope, log *slog.Logger) {
	s.publishCtx(s.ctx, jobID, env, log)
}

func (s *Simulator) publishCtx(ctx context.Context, jobID string, env envelope.Envelope, log *slog.Logger) {
	msg, err := envelope.Encode(env)
	if err != nil {
		log.Error("failed to encode event", "type", env.Type, "err", err)
		return
	}
	if err := s.pub.Publish(ctx, jobID, msg); err != nil {
		log.Warn("failed to publish event", "type", env.Type, "err", err)
		return
	}
	metrics.EventPublished(string(env.Type))
}

// sleep waits d, returning false if the simulator is stopping.
func (s *Simulator) sleep(d time.Duration) bool {
	if d <= 0 {
		return s.ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func percent(n, of int) *float64 {
	p := round1(float64(n) * 100 / float64(of))
	return &p
}
