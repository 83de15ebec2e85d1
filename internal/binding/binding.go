package binding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/datacure/livejobs/internal/cache"
	"github.com/datacure/livejobs/internal/connection"
	"github.com/datacure/livejobs/internal/envelope"
	"github.com/datacure/livejobs/internal/model"
	"github.com/datacure/livejobs/internal/reconcile"
)

// Channel is the subset of *connection.Manager a Binding drives.
type Channel interface {
	Connect(ctx context.Context)
	On(l connection.Listener) func()
	Disconnect()
}

// ChannelFactory creates an unconnected channel for a job.
type ChannelFactory func(jobID string) (Channel, error)

// ManagerFactory returns a factory producing connection Managers.
func ManagerFactory(cfg connection.Config, dialer connection.Dialer, logger *slog.Logger) ChannelFactory {
	return func(jobID string) (Channel, error) {
		m, err := connection.NewManager(jobID, cfg, dialer, logger)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}

// LogSink receives agent_log events.
type LogSink func(jobID string, log envelope.AgentLog)

// StatusSink receives the connection_lost event of a channel that gave up.
type StatusSink func(jobID string, lost envelope.ConnectionLost)

// Option configures a Binding.
type Option func(*Binding)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Binding) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithLogSink forwards agent logs to fn.
func WithLogSink(fn LogSink) Option {
	return func(b *Binding) { b.logSink = fn }
}

// WithStatusSink forwards connection loss to fn.
func WithStatusSink(fn StatusSink) Option {
	return func(b *Binding) { b.statusSink = fn }
}

// session is one bound channel. live is only read or written under mu, and
// every cache write happens while mu is held. Watcher notifications for those
// writes are delivered after mu is released, so watchers may call back into
// the Binding.
type session struct {
	jobID       string
	ch          Channel
	unsubscribe func()

	mu   sync.Mutex
	live bool
}

// Binding keeps the cache in sync with one job's channel.
type Binding struct {
	store      cache.Store
	factory    ChannelFactory
	logger     *slog.Logger
	logSink    LogSink
	statusSink StatusSink

	mu  sync.Mutex
	cur *session
}

// New creates an unbound Binding.
func New(store cache.Store, factory ChannelFactory, opts ...Option) *Binding {
	b := &Binding{
		store:   store,
		factory: factory,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Bind subscribes to jobID. Binding the current job again is a no-op; a
// different job tears the current channel down first; an empty id only
// tears down.
func (b *Binding) Bind(ctx context.Context, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cur != nil && b.cur.jobID == jobID {
		return nil
	}
	if b.cur != nil {
		b.teardown(b.cur)
		b.cur = nil
	}
	if jobID == "" {
		return nil
	}

	ch, err := b.factory(jobID)
	if err != nil {
		return fmt.Errorf("create channel for job %s: %w", jobID, err)
	}

	s := &session{jobID: jobID, ch: ch, live: true}
	s.unsubscribe = ch.On(func(env envelope.Envelope) {
		b.handle(s, env)
	})
	b.cur = s

	ch.Connect(ctx)
	b.logger.Debug("job channel bound", "job_id", jobID)
	return nil
}

// JobID returns the bound job, or "" when unbound.
func (b *Binding) JobID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cur == nil {
		return ""
	}
	return b.cur.jobID
}

// Close tears down the current channel. It is idempotent.
func (b *Binding) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cur != nil {
		b.teardown(b.cur)
		b.cur = nil
	}
}

// teardown must be called with b.mu held.
func (b *Binding) teardown(s *session) {
	// Waits for an in-flight handler to finish its writes.
	s.mu.Lock()
	s.live = false
	s.mu.Unlock()

	s.unsubscribe()
	s.ch.Disconnect()
	b.logger.Debug("job channel unbound", "job_id", s.jobID)
}

func (b *Binding) handle(s *session, env envelope.Envelope) {
	w, flush := b.store.Deferred()

	s.mu.Lock()
	if !s.live {
		s.mu.Unlock()
		b.logger.Debug("dropping event from closed channel", "job_id", s.jobID, "type", env.Type)
		return
	}
	b.apply(w, s.jobID, env)
	s.mu.Unlock()

	flush()

	switch p := env.Payload.(type) {
	case envelope.AgentLog:
		if b.logSink != nil {
			b.logSink(s.jobID, p)
		}
	case envelope.ConnectionLost:
		b.logger.Warn("job channel lost", "job_id", s.jobID, "attempts", p.Attempts, "error", p.Error)
		if b.statusSink != nil {
			b.statusSink(s.jobID, p)
		}
	}
}

// apply reconciles env against the cached job and writes the result to w.
func (b *Binding) apply(w cache.Writer, jobID string, env envelope.Envelope) {
	key := cache.JobDetail(jobID)

	var current *model.JobView
	job, ok := cache.GetAs[model.Job](b.store, key)
	if ok {
		v := job.View()
		current = &v
	}

	res := reconcile.Reconcile(current, env, jobID)
	if res.Changed(current) {
		w.Set(key, job.WithView(*res.Next))
	}
	for _, k := range res.Invalidations {
		w.Invalidate(k)
	}
}
