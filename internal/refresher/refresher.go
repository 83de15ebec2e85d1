package refresher

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/datacure/livejobs/internal/cache"
)

// RefetchFunc reloads one query into the cache.
type RefetchFunc func(ctx context.Context) error

// Config holds refresher configuration.
type Config struct {
	Interval    time.Duration // Backstop refresh interval (default: 30s)
	Concurrency int           // Max concurrent refetches (default: 4)
	Timeout     time.Duration // Per-refetch timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    30 * time.Second,
		Concurrency: 4,
		Timeout:     10 * time.Second,
	}
}

type tracked struct {
	key cache.Key
	fn  RefetchFunc
}

// Refresher refetches tracked queries when the cache invalidates them.
type Refresher struct {
	cfg    Config
	cache  *cache.QueryCache
	logger *slog.Logger

	mu      sync.Mutex
	tracked map[string]tracked
	dirty   map[string]struct{}
	wake    chan struct{}
	unwatch func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Refresher.
func New(cfg Config, qc *cache.QueryCache, logger *slog.Logger) *Refresher {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		cfg:     cfg,
		cache:   qc,
		logger:  logger,
		tracked: make(map[string]tracked),
		dirty:   make(map[string]struct{}),
		wake:    make(chan struct{}, 1),
	}
}

// Track registers fn to reload the query at key. An invalidation of any entry
// under key schedules fn. The returned func stops tracking.
func (r *Refresher) Track(key cache.Key, fn RefetchFunc) func() {
	id := key.String()

	r.mu.Lock()
	r.tracked[id] = tracked{key: append(cache.Key(nil), key...), fn: fn}
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.tracked, id)
		delete(r.dirty, id)
		r.mu.Unlock()
	}
}

// Tracked returns the number of tracked queries.
func (r *Refresher) Tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tracked)
}

// Start begins watching the cache and the refresh loop.
func (r *Refresher) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.unwatch = r.cache.Watch(cache.Key{}, r.onEvent)

	r.wg.Add(1)
	go r.run()

	r.logger.Info("query refresher started",
		"interval", r.cfg.Interval,
		"concurrency", r.cfg.Concurrency,
	)

	return nil
}

// Stop gracefully shuts down the refresher.
func (r *Refresher) Stop(ctx context.Context) error {
	if r.unwatch != nil {
		r.unwatch()
	}
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("query refresher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// onEvent runs on the goroutine that changed the cache, so it only marks
// work and never blocks.
func (r *Refresher) onEvent(ev cache.Event) {
	if ev.Kind != cache.EventInvalidated {
		return
	}

	r.mu.Lock()
	marked := false
	for id, t := range r.tracked {
		if ev.Key.HasPrefix(t.key) {
			r.dirty[id] = struct{}{}
			marked = true
		}
	}
	r.mu.Unlock()

	if marked {
		select {
		case r.wake <- struct{}{}:
		default:
		}
	}
}

func (r *Refresher) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.wake:
			r.refreshDirty()
		case <-ticker.C:
			r.refreshAll()
		}
	}
}

// refreshDirty refetches queries invalidated since the last pass.
func (r *Refresher) refreshDirty() {
	r.mu.Lock()
	batch := make([]tracked, 0, len(r.dirty))
	for id := range r.dirty {
		if t, ok := r.tracked[id]; ok {
			batch = append(batch, t)
		}
	}
	clear(r.dirty)
	r.mu.Unlock()

	r.refresh(batch, "invalidated")
}

// refreshAll refetches every tracked query.
func (r *Refresher) refreshAll() {
	r.mu.Lock()
	batch := make([]tracked, 0, len(r.tracked))
	for _, t := range r.tracked {
		batch = append(batch, t)
	}
	r.mu.Unlock()

	r.refresh(batch, "interval")
}

// refresh runs the batch concurrently.
func (r *Refresher) refresh(batch []tracked, reason string) {
	if len(batch) == 0 {
		return
	}
	start := time.Now()

	// Semaphore for bounded concurrency.
	sem := make(chan struct{}, r.cfg.Concurrency)
	var wg sync.WaitGroup
	var refreshed, failed atomic.Int64

	for _, t := range batch {
		wg.Add(1)
		go func(t tracked) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-r.ctx.Done():
				return
			}

			ctx, cancel := context.WithTimeout(r.ctx, r.cfg.Timeout)
			defer cancel()

			if err := t.fn(ctx); err != nil {
				r.logger.Warn("failed to refresh query",
					"key", t.key.String(),
					"err", err,
				)
				failed.Add(1)
				return
			}
			refreshed.Add(1)
		}(t)
	}

	wg.Wait()

	r.logger.Debug("refresh cycle complete",
		"reason", reason,
		"queries", len(batch),
		"refreshed", refreshed.Load(),
		"errors", failed.Load(),
		"duration", time.Since(start),
	)
}
