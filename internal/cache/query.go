package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/datacure/livejobs/internal/metrics"
)

// EventKind describes a cache change.
type EventKind int

const (
	EventUpdated EventKind = iota
	EventInvalidated
)

func (k EventKind) String() string {
	switch k {
	case EventUpdated:
		return "updated"
	case EventInvalidated:
		return "invalidated"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is delivered to watchers after a change is applied.
type Event struct {
	Kind  EventKind
	Key   Key
	Value any // nil for EventInvalidated
}

// Fetcher loads the value for one key.
type Fetcher func(ctx context.Context) (any, error)

type entry struct {
	key       Key
	value     any
	updatedAt time.Time
	stale     bool
}

type pendingFetch struct {
	key         Key
	invalidated bool
}

type watcher struct {
	prefix Key
	fn     func(Event)
}

// QueryCache is a concurrency-safe keyed cache with read-through fetches.
type QueryCache struct {
	mu       sync.Mutex
	entries  map[string]*entry
	pending  map[string]*pendingFetch
	watchers map[int]watcher
	nextID   int

	group  singleflight.Group
	now    func() time.Time
	logger *slog.Logger
}

var _ Store = (*QueryCache)(nil)

// New creates an empty QueryCache.
func New(logger *slog.Logger) *QueryCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryCache{
		entries:  make(map[string]*entry),
		pending:  make(map[string]*pendingFetch),
		watchers: make(map[int]watcher),
		now:      time.Now,
		logger:   logger,
	}
}

// Get returns the last known value at key.
func (c *QueryCache) Get(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key.String()]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// IsStale reports whether key is absent or marked stale.
func (c *QueryCache) IsStale(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key.String()]
	return !ok || e.stale
}

// Set stores a fresh value and notifies watchers.
func (c *QueryCache) Set(key Key, value any) {
	pn := c.set(key, value)
	notify(pn.ws, pn.ev)
}

func (c *QueryCache) set(key Key, value any) pendingNotify {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(key, value, false)
	return pendingNotify{ws: c.matching(key), ev: Event{Kind: EventUpdated, Key: key, Value: value}}
}

// Update applies fn to the current value under the cache lock. fn must not
// call back into the cache. When fn returns false nothing is written.
func (c *QueryCache) Update(key Key, fn func(current any, ok bool) (any, bool)) bool {
	c.mu.Lock()
	var (
		current any
		found   bool
	)
	if e, ok := c.entries[key.String()]; ok {
		current, found = e.value, true
	}
	next, write := fn(current, found)
	if !write {
		c.mu.Unlock()
		return false
	}
	c.store(key, next, false)
	ws := c.matching(key)
	c.mu.Unlock()

	notify(ws, Event{Kind: EventUpdated, Key: key, Value: next})
	return true
}

// Invalidate marks every entry under prefix stale. Fetches in flight under
// prefix store their result as stale when they finish.
func (c *QueryCache) Invalidate(prefix Key) int {
	n, events := c.invalidate(prefix)
	for _, pn := range events {
		notify(pn.ws, pn.ev)
	}
	return n
}

func (c *QueryCache) invalidate(prefix Key) (int, []pendingNotify) {
	c.mu.Lock()
	var marked []Key
	for _, e := range c.entries {
		if e.key.HasPrefix(prefix) {
			e.stale = true
			marked = append(marked, e.key)
		}
	}
	for _, p := range c.pending {
		if p.key.HasPrefix(prefix) {
			p.invalidated = true
		}
	}
	events := make([]pendingNotify, 0, len(marked))
	for _, k := range marked {
		events = append(events, pendingNotify{ws: c.matching(k), ev: Event{Kind: EventInvalidated, Key: k}})
	}
	c.mu.Unlock()

	metrics.CacheInvalidated(prefix.Root())
	c.logger.Debug("cache invalidated", "prefix", prefix.String(), "entries", len(marked))
	return len(marked), events
}

// Deferred returns a Writer whose writes apply at once but whose watcher
// notifications are queued until flush is called. flush delivers them on the
// calling goroutine, in write order.
func (c *QueryCache) Deferred() (Writer, func()) {
	w := &deferredWriter{c: c}
	return w, w.flush
}

type deferredWriter struct {
	c *QueryCache

	mu     sync.Mutex
	queued []pendingNotify
}

func (w *deferredWriter) Set(key Key, value any) {
	pn := w.c.set(key, value)
	w.mu.Lock()
	w.queued = append(w.queued, pn)
	w.mu.Unlock()
}

func (w *deferredWriter) Invalidate(prefix Key) int {
	n, events := w.c.invalidate(prefix)
	w.mu.Lock()
	w.queued = append(w.queued, events...)
	w.mu.Unlock()
	return n
}

func (w *deferredWriter) flush() {
	w.mu.Lock()
	q := w.queued
	w.queued = nil
	w.mu.Unlock()

	for _, pn := range q {
		notify(pn.ws, pn.ev)
	}
}

// Remove drops every entry under prefix without notifying watchers.
func (c *QueryCache) Remove(prefix Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for s, e := range c.entries {
		if e.key.HasPrefix(prefix) {
			delete(c.entries, s)
		}
	}
}

// Keys returns the keys currently cached under prefix.
func (c *QueryCache) Keys(prefix Key) []Key {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Key
	for _, e := range c.entries {
		if e.key.HasPrefix(prefix) {
			out = append(out, e.key)
		}
	}
	return out
}

// Fetch returns the cached value when it is fresh, younger than staleTime.
// Otherwise it loads the value with fn. Concurrent fetches of one key share a
// single call to fn, which runs detached from the caller's cancellation.
// On error the previous value is kept.
func (c *QueryCache) Fetch(ctx context.Context, key Key, staleTime time.Duration, fn Fetcher) (any, error) {
	id := key.String()

	c.mu.Lock()
	if e, ok := c.entries[id]; ok && !e.stale && c.now().Sub(e.updatedAt) < staleTime {
		v := e.value
		c.mu.Unlock()
		metrics.CacheFetch(metrics.FetchHit)
		return v, nil
	}
	c.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(id, func() (any, error) {
		return c.load(detached, key, fn)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			metrics.CacheFetch(metrics.FetchError)
			return nil, res.Err
		}
		if res.Shared {
			metrics.CacheFetch(metrics.FetchHit)
		} else {
			metrics.CacheFetch(metrics.FetchMiss)
		}
		return res.Val, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *QueryCache) load(ctx context.Context, key Key, fn Fetcher) (any, error) {
	id := key.String()
	p := &pendingFetch{key: key}

	c.mu.Lock()
	c.pending[id] = p
	c.mu.Unlock()

	v, err := fn(ctx)

	c.mu.Lock()
	delete(c.pending, id)
	if err != nil {
		c.mu.Unlock()
		c.logger.Debug("cache fetch failed", "key", id, "err", err)
		return nil, err
	}
	c.store(key, v, p.invalidated)
	ws := c.matching(key)
	c.mu.Unlock()

	if p.invalidated {
		metrics.CacheFetch(metrics.FetchStale)
	}
	notify(ws, Event{Kind: EventUpdated, Key: key, Value: v})
	return v, nil
}

// Watch registers fn for changes under prefix. fn runs on the goroutine that
// made the change, or the one flushing a Deferred writer, after the cache
// lock is released.
func (c *QueryCache) Watch(prefix Key, fn func(Event)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.watchers[id] = watcher{prefix: prefix, fn: fn}
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
	}
}

// Len returns the number of entries.
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// store must be called with c.mu held.
func (c *QueryCache) store(key Key, value any, stale bool) {
	c.entries[key.String()] = &entry{
		key:       append(Key(nil), key...),
		value:     value,
		updatedAt: c.now(),
		stale:     stale,
	}
}

// matching must be called with c.mu held.
func (c *QueryCache) matching(key Key) []func(Event) {
	var out []func(Event)
	for _, w := range c.watchers {
		if key.HasPrefix(w.prefix) {
			out = append(out, w.fn)
		}
	}
	return out
}

type pendingNotify struct {
	ws []func(Event)
	ev Event
}

func notify(ws []func(Event), ev Event) {
	for _, fn := range ws {
		fn(ev)
	}
}

// FetchAs is Fetch with a typed loader.
func FetchAs[T any](ctx context.Context, c *QueryCache, key Key, staleTime time.Duration, fn func(context.Context) (T, error)) (T, error) {
	v, err := c.Fetch(ctx, key, staleTime, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("cache: value at %s is %T", key, v)
	}
	return t, nil
}
