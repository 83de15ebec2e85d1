package binding

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/datacure/livejobs/internal/cache"
	"github.com/datacure/livejobs/internal/connection"
	"github.com/datacure/livejobs/internal/envelope"
	"github.com/datacure/livejobs/internal/model"
)

// fakeChannel records calls and lets the test deliver events, including
// after the binding has let go of it.
type fakeChannel struct {
	jobID string

	mu           sync.Mutex
	listeners    []connection.Listener
	connects     int
	disconnects  int
	unsubscribes int
}

func (c *fakeChannel) Connect(ctx context.Context) {
	c.mu.Lock()
	c.connects++
	c.mu.Unlock()
}

func (c *fakeChannel) On(l connection.Listener) func() {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		c.unsubscribes++
		c.mu.Unlock()
	}
}

func (c *fakeChannel) Disconnect() {
	c.mu.Lock()
	c.disconnects++
	c.mu.Unlock()
}

// deliver calls every listener ever registered, as a late message racing
// teardown would.
func (c *fakeChannel) deliver(env envelope.Envelope) {
	c.mu.Lock()
	ls := append([]connection.Listener(nil), c.listeners...)
	c.mu.Unlock()
	for _, l := range ls {
		l(env)
	}
}

type fakeFactory struct {
	mu       sync.Mutex
	channels map[string][]*fakeChannel
	err      error
}

func (f *fakeFactory) New(jobID string) (Channel, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.channels == nil {
		f.channels = make(map[string][]*fakeChannel)
	}
	ch := &fakeChannel{jobID: jobID}
	f.channels[jobID] = append(f.channels[jobID], ch)
	return ch, nil
}

func (f *fakeFactory) last(t *testing.T, jobID string) *fakeChannel {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	chs := f.channels[jobID]
	if len(chs) == 0 {
		t.Fatalf("no channel created for %s", jobID)
	}
	return chs[len(chs)-1]
}

func (f *fakeFactory) count(jobID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.channels[jobID])
}

// countingStore wraps a QueryCache and counts writes.
type countingStore struct {
	*cache.QueryCache

	mu          sync.Mutex
	sets        int
	invalidates int
}

func (s *countingStore) Set(key cache.Key, value any) {
	s.mu.Lock()
	s.sets++
	s.mu.Unlock()
	s.QueryCache.Set(key, value)
}

func (s *countingStore) Invalidate(prefix cache.Key) int {
	s.mu.Lock()
	s.invalidates++
	s.mu.Unlock()
	return s.QueryCache.Invalidate(prefix)
}

func (s *countingStore) Deferred() (cache.Writer, func()) {
	w, flush := s.QueryCache.Deferred()
	return &countingWriter{Writer: w, s: s}, flush
}

// countingWriter counts writes made through a deferred writer.
type countingWriter struct {
	cache.Writer
	s *countingStore
}

func (w *countingWriter) Set(key cache.Key, value any) {
	w.s.mu.Lock()
	w.s.sets++
	w.s.mu.Unlock()
	w.Writer.Set(key, value)
}

func (w *countingWriter) Invalidate(prefix cache.Key) int {
	w.s.mu.Lock()
	w.s.invalidates++
	w.s.mu.Unlock()
	return w.Writer.Invalidate(prefix)
}

func (s *countingStore) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets + s.invalidates
}

func processingJob(id string) model.Job {
	return model.Job{
		ID:               id,
		Name:             "providers.csv",
		Status:           model.StatusProcessing,
		Progress:         40,
		CompletedRecords: 400,
		TotalRecords:     1000,
	}
}

func setup(t *testing.T, opts ...Option) (*Binding, *fakeFactory, *countingStore) {
	t.Helper()
	store := &countingStore{QueryCache: cache.New(nil)}
	f := &fakeFactory{}
	b := New(store, f.New, opts...)
	t.Cleanup(b.Close)
	return b, f, store
}

func cachedJob(t *testing.T, s cache.Store, id string) model.Job {
	t.Helper()
	job, ok := cache.GetAs[model.Job](s, cache.JobDetail(id))
	if !ok {
		t.Fatalf("job %s not cached", id)
	}
	return job
}

func TestBinding_ProgressPatchesCachedJob(t *testing.T) {
	b, f, store := setup(t)
	store.Set(cache.JobDetail("A"), processingJob("A"))

	if err := b.Bind(context.Background(), "A"); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	ch := f.last(t, "A")
	if ch.connects != 1 {
		t.Errorf("connects = %d, want 1", ch.connects)
	}

	ch.deliver(envelope.Progress(55, 550))

	job := cachedJob(t, store, "A")
	if job.Progress != 55 || job.CompletedRecords != 550 || job.Status != model.StatusProcessing {
		t.Errorf("job = %+v", job)
	}
	if job.Name != "providers.csv" {
		t.Error("fields outside the live view should be kept")
	}
}

func TestBinding_CompletionInvalidates(t *testing.T) {
	b, f, store := setup(t)
	store.Set(cache.JobDetail("A"), processingJob("A"))
	store.Set(cache.JobRecordPage("A", 1, 50, model.RecordFilters{}), "page")
	store.Set(cache.DashboardMetrics(), "metrics")
	store.Set(cache.JobDetail("B"), processingJob("B"))

	b.Bind(context.Background(), "A")
	f.last(t, "A").deliver(envelope.Completed("A"))

	if got := cachedJob(t, store, "A").Status; got != model.StatusCompleted {
		t.Errorf("status = %s, want completed", got)
	}
	for _, k := range []cache.Key{cache.JobDetail("A"), cache.JobRecordPage("A", 1, 50, model.RecordFilters{}), cache.DashboardMetrics()} {
		if !store.IsStale(k) {
			t.Errorf("%s should be stale", k)
		}
	}
	if store.IsStale(cache.JobDetail("B")) {
		t.Error("other job should not be invalidated")
	}
}

func TestBinding_CacheMissOnlyInvalidates(t *testing.T) {
	b, f, store := setup(t)
	store.Set(cache.JobRecord("A", "R1"), "record")

	b.Bind(context.Background(), "A")
	f.last(t, "A").deliver(envelope.RecordDone("R1"))
	f.last(t, "A").deliver(envelope.Progress(10, 10))

	if _, ok := store.Get(cache.JobDetail("A")); ok {
		t.Error("cache miss should not create a job entry")
	}
	if !store.IsStale(cache.JobRecord("A", "R1")) {
		t.Error("record should be stale")
	}
}

func TestBinding_Sinks(t *testing.T) {
	var (
		mu    sync.Mutex
		logs  []string
		lost  []envelope.ConnectionLost
		jobID string
	)
	b, f, store := setup(t,
		WithLogSink(func(id string, l envelope.AgentLog) {
			mu.Lock()
			logs = append(logs, l.Message)
			jobID = id
			mu.Unlock()
		}),
		WithStatusSink(func(id string, l envelope.ConnectionLost) {
			mu.Lock()
			lost = append(lost, l)
			mu.Unlock()
		}),
	)
	store.Set(cache.JobDetail("A"), processingJob("A"))
	b.Bind(context.Background(), "A")
	before := store.writes()

	ch := f.last(t, "A")
	ch.deliver(envelope.Log("NPI registry checked", "info"))
	ch.deliver(envelope.Lost(5, errors.New("refused")))

	mu.Lock()
	defer mu.Unlock()
	if len(logs) != 1 || logs[0] != "NPI registry checked" || jobID != "A" {
		t.Errorf("logs = %v (job %q)", logs, jobID)
	}
	if len(lost) != 1 || lost[0].Attempts != 5 {
		t.Errorf("lost = %+v", lost)
	}
	if store.writes() != before {
		t.Error("agent_log and connection_lost must not write to the cache")
	}
	if got := cachedJob(t, store, "A"); got.Progress != 40 {
		t.Error("last known data should be kept after connection loss")
	}
}

func TestBinding_SameJobIsNoop(t *testing.T) {
	b, f, _ := setup(t)

	b.Bind(context.Background(), "A")
	b.Bind(context.Background(), "A")

	if got := f.count("A"); got != 1 {
		t.Errorf("channels created = %d, want 1", got)
	}
	if ch := f.last(t, "A"); ch.disconnects != 0 {
		t.Error("rebinding the same job should not disconnect")
	}
}

func TestBinding_RebindIgnoresLateEvents(t *testing.T) {
	b, f, store := setup(t)
	store.Set(cache.JobDetail("A"), processingJob("A"))
	store.Set(cache.JobDetail("B"), processingJob("B"))

	b.Bind(context.Background(), "A")
	chA := f.last(t, "A")

	b.Bind(context.Background(), "B")
	if b.JobID() != "B" {
		t.Errorf("JobID = %q, want B", b.JobID())
	}
	if chA.disconnects != 1 || chA.unsubscribes != 1 {
		t.Errorf("A disconnects=%d unsubscribes=%d, want 1 and 1", chA.disconnects, chA.unsubscribes)
	}

	before := store.writes()
	chA.deliver(envelope.Progress(90, 900))
	chA.deliver(envelope.Completed("A"))
	chA.deliver(envelope.RecordDone("R1"))

	if store.writes() != before {
		t.Errorf("late events from A wrote to the cache")
	}
	for _, id := range []string{"A", "B"} {
		job := cachedJob(t, store, id)
		if job.Progress != 40 || job.Status != model.StatusProcessing {
			t.Errorf("job %s = %+v, want untouched", id, job)
		}
		if store.IsStale(cache.JobDetail(id)) {
			t.Errorf("job %s invalidated by a late event", id)
		}
	}
}

func TestBinding_EmptyIDTearsDown(t *testing.T) {
	b, f, _ := setup(t)

	b.Bind(context.Background(), "A")
	b.Bind(context.Background(), "")

	if b.JobID() != "" {
		t.Errorf("JobID = %q, want empty", b.JobID())
	}
	if ch := f.last(t, "A"); ch.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", ch.disconnects)
	}
}

func TestBinding_CloseIdempotent(t *testing.T) {
	b, f, store := setup(t)
	store.Set(cache.JobDetail("A"), processingJob("A"))

	b.Bind(context.Background(), "A")
	b.Close()
	b.Close()

	ch := f.last(t, "A")
	if ch.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", ch.disconnects)
	}

	before := store.writes()
	ch.deliver(envelope.Failed("A", "late"))
	if store.writes() != before {
		t.Error("event after Close wrote to the cache")
	}
}

func TestBinding_FactoryError(t *testing.T) {
	store := cache.New(nil)
	f := &fakeFactory{err: connection.ErrInvalidJobID}
	b := New(store, f.New)

	err := b.Bind(context.Background(), "A")
	if !errors.Is(err, connection.ErrInvalidJobID) {
		t.Fatalf("err = %v, want ErrInvalidJobID", err)
	}
	if b.JobID() != "" {
		t.Error("failed bind should leave the binding unbound")
	}
}

func TestBinding_ConcurrentEventsAndClose(t *testing.T) {
	b, f, store := setup(t)
	store.Set(cache.JobDetail("A"), processingJob("A"))
	b.Bind(context.Background(), "A")
	ch := f.last(t, "A")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for p := 0; p < 50; p++ {
				ch.deliver(envelope.Progress(p, p))
			}
		}(i)
	}

	time.Sleep(time.Millisecond)
	b.Close()
	after := store.writes()
	wg.Wait()

	if store.writes() != after {
		t.Error("writes observed after Close returned")
	}
}

func TestBinding_WithWebSocketManager(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/api/v1/ws/jobs/A") {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, env := range []envelope.Envelope{envelope.Progress(70, 700), envelope.Completed("A")} {
			data, _ := envelope.Encode(env)
			conn.WriteMessage(websocket.TextMessage, data)
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	cfg := connection.DefaultConfig()
	cfg.BaseURL = "ws" + strings.TrimPrefix(server.URL, "http")
	cfg.PingInterval = 0

	store := cache.New(nil)
	store.Set(cache.JobDetail("A"), processingJob("A"))
	store.Set(cache.DashboardMetrics(), "metrics")

	b := New(store, ManagerFactory(cfg, nil, nil))
	defer b.Close()

	if err := b.Bind(context.Background(), "A"); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, _ := cache.GetAs[model.Job](store, cache.JobDetail("A"))
		if job.Status == model.StatusCompleted {
			if job.Progress != 70 || job.CompletedRecords != 700 {
				t.Errorf("job = %+v, want progress 70", job)
			}
			if !store.IsStale(cache.DashboardMetrics()) {
				t.Error("dashboard metrics should be stale after completion")
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job never reached completed")
}

// deliverWithin fails the test if delivering env does not return in time.
func deliverWithin(t *testing.T, ch *fakeChannel, env envelope.Envelope) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		ch.deliver(env)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("delivering %s did not return", env.Type)
	}
}

func TestBinding_CloseFromWatcher(t *testing.T) {
	b, f, store := setup(t)
	store.Set(cache.JobDetail("A"), processingJob("A"))

	var closed int
	unwatch := store.Watch(cache.JobDetail("A"), func(ev cache.Event) {
		job, ok := ev.Value.(model.Job)
		if ev.Kind == cache.EventUpdated && ok && job.Status.Terminal() {
			closed++
			b.Close()
		}
	})
	defer unwatch()

	b.Bind(context.Background(), "A")
	ch := f.last(t, "A")
	deliverWithin(t, ch, envelope.Completed("A"))

	if closed != 1 {
		t.Errorf("watcher closed the binding %d times, want 1", closed)
	}
	if got := b.JobID(); got != "" {
		t.Errorf("JobID = %q after Close, want empty", got)
	}
	if ch.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", ch.disconnects)
	}
	if got := cachedJob(t, store, "A").Status; got != model.StatusCompleted {
		t.Errorf("status = %s, want completed", got)
	}

	// The binding is still usable.
	if err := b.Bind(context.Background(), "B"); err != nil {
		t.Fatalf("Bind after Close: %v", err)
	}
	if got := b.JobID(); got != "B" {
		t.Errorf("JobID = %q, want B", got)
	}
}

func TestBinding_RebindFromWatcher(t *testing.T) {
	b, f, store := setup(t)
	store.Set(cache.JobDetail("A"), processingJob("A"))
	store.Set(cache.JobRecordPage("A", 1, 50, model.RecordFilters{}), "page")

	unwatch := store.Watch(cache.JobRecords("A"), func(ev cache.Event) {
		if ev.Kind == cache.EventInvalidated {
			b.Bind(context.Background(), "B")
		}
	})
	defer unwatch()

	b.Bind(context.Background(), "A")
	deliverWithin(t, f.last(t, "A"), envelope.RecordDone("r-5"))

	if got := b.JobID(); got != "B" {
		t.Errorf("JobID = %q, want B", got)
	}
	if f.count("B") != 1 {
		t.Errorf("channels for B = %d, want 1", f.count("B"))
	}
}

func TestBinding_WatcherReadsWhileClosing(t *testing.T) {
	b, f, store := setup(t)
	store.Set(cache.JobDetail("A"), processingJob("A"))

	entered := make(chan struct{})
	release := make(chan struct{})
	var seen string
	unwatch := store.Watch(cache.JobDetail("A"), func(ev cache.Event) {
		if ev.Kind != cache.EventUpdated {
			return
		}
		close(entered)
		<-release
		seen = b.JobID()
	})
	defer unwatch()

	b.Bind(context.Background(), "A")
	ch := f.last(t, "A")

	delivered := make(chan struct{})
	go func() {
		defer close(delivered)
		ch.deliver(envelope.Progress(60, 600))
	}()
	<-entered

	// Close runs while the watcher is still in flight.
	closeDone := make(chan struct{})
	go func() {
		defer close(closeDone)
		b.Close()
	}()
	select {
	case <-closeDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on an in-flight watcher")
	}
	close(release)

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery did not return")
	}
	if seen != "" {
		t.Errorf("watcher saw JobID %q after Close, want empty", seen)
	}
}
