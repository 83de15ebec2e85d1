package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/datacure/livejobs/internal/envelope"
	"github.com/datacure/livejobs/internal/metrics"
)

// JobPath is the channel path relative to the WebSocket base URL.
const JobPath = "/api/v1/ws/jobs/"

// JobURL builds the channel URL for jobID.
func JobURL(base, jobID string) (string, error) {
	if jobID == "" {
		return "", ErrInvalidJobID
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return strings.TrimRight(base, "/") + JobPath + url.PathEscape(jobID), nil
}

type listenerEntry struct {
	id int
	fn Listener
}

type stateEntry struct {
	id int
	fn func(State)
}

// Manager maintains one auto-recovering subscription to a job's events.
//
// Each Connect starts a session goroutine that dials, reads, decodes and
// dispatches in receipt order. Sessions are numbered; a session that has been
// superseded by Disconnect or a later Connect stops touching state and
// listeners.
type Manager struct {
	jobID  string
	url    string
	cfg    Config
	dialer Dialer
	logger *slog.Logger

	mu             sync.Mutex
	state          State
	gen            uint64
	cancel         context.CancelFunc
	conn           Conn
	listeners      []listenerEntry
	stateListeners []stateEntry
	nextID         int

	// delay computes the wait before reconnect attempt n.
	delay func(attempt int) time.Duration
}

// NewManager creates a Manager for jobID. It does not connect.
func NewManager(jobID string, cfg Config, dialer Dialer, logger *slog.Logger) (*Manager, error) {
	u, err := JobURL(cfg.BaseURL, jobID)
	if err != nil {
		return nil, err
	}
	if dialer == nil {
		dialer = NewWebSocketDialer(cfg, logger)
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		jobID:  jobID,
		url:    u,
		cfg:    cfg,
		dialer: dialer,
		logger: logger.With("job_id", jobID),
	}
	m.delay = func(attempt int) time.Duration {
		return jitter(backoffDelay(m.cfg.ReconnectBaseWait, m.cfg.ReconnectMaxWait, attempt))
	}
	return m, nil
}

// JobID returns the job this manager subscribes to.
func (m *Manager) JobID() string { return m.jobID }

// URL returns the channel URL.
func (m *Manager) URL() string { return m.url }

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// On registers l for every envelope dispatched from now on. The returned
// function removes it.
func (m *Manager) On(l Listener) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners = append(m.listeners, listenerEntry{id: id, fn: l})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, e := range m.listeners {
			if e.id == id {
				m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// OnStateChange registers fn for state transitions. fn may be called from
// the session goroutine or from the goroutine calling Connect or Disconnect.
func (m *Manager) OnStateChange(fn func(State)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.stateListeners = append(m.stateListeners, stateEntry{id: id, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, e := range m.stateListeners {
			if e.id == id {
				m.stateListeners = append(m.stateListeners[:i:i], m.stateListeners[i+1:]...)
				return
			}
		}
	}
}

// Connect starts a session unless one is already running. It returns
// immediately; progress is visible through State and OnStateChange.
// Cancelling ctx ends the session as Disconnect would, but keeps listeners.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	if m.state != StateIdle && m.state != StateFailed {
		m.mu.Unlock()
		return
	}

	m.gen++
	gen := m.gen
	sctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	notify := m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	notify()

	session := uuid.NewString()
	m.logger.Debug("channel connecting", "session", session, "url", m.url)

	go m.run(sctx, gen, m.logger.With("session", session))
}

// Disconnect closes the transport, cancels any pending reconnect and
// discards all listeners. It is idempotent and does not wait for the session
// goroutine; a superseded session never dispatches again.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	cancel, conn := m.cancel, m.conn
	m.cancel, m.conn = nil, nil

	var notify []func()
	if m.state != StateIdle {
		if m.state != StateFailed {
			notify = append(notify, m.setStateLocked(StateClosing))
		}
		notify = append(notify, m.setStateLocked(StateIdle))
	}
	m.listeners = nil
	m.stateListeners = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
		metrics.ConnectionClosed()
	}
	for _, fn := range notify {
		fn()
	}
}

// Send writes a raw message on the open connection.
func (m *Manager) Send(data []byte) error {
	m.mu.Lock()
	conn := m.conn
	open := m.state == StateOpen
	m.mu.Unlock()

	if !open || conn == nil {
		return ErrNotConnected
	}
	return conn.WriteMessage(data)
}

// run is the session loop.
func (m *Manager) run(ctx context.Context, gen uint64, logger *slog.Logger) {
	var (
		attempt int
		lastErr error
	)

	for {
		terminal, opened, err := m.session(ctx, gen, logger)
		switch {
		case terminal:
			m.finish(gen, StateClosing, StateIdle)
			logger.Info("channel closed after terminal event")
			return
		case ctx.Err() != nil:
			m.finish(gen, StateIdle)
			return
		case !m.current(gen):
			return
		}

		if opened {
			attempt = 0
		}
		lastErr = err
		attempt++

		if m.cfg.MaxReconnectAttempts > 0 && attempt > m.cfg.MaxReconnectAttempts {
			m.exhausted(gen, attempt-1, lastErr, logger)
			return
		}

		wait := m.delay(attempt)
		metrics.ReconnectScheduled()
		logger.Warn("channel lost, reconnecting",
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)

		if !m.transition(gen, StateReconnectWait) {
			return
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.finish(gen, StateIdle)
			return
		case <-timer.C:
		}

		if !m.transition(gen, StateConnecting) {
			return
		}
	}
}

// session dials once and reads until the connection ends. It reports whether
// a terminal event was dispatched and whether the connection opened.
func (m *Manager) session(ctx context.Context, gen uint64, logger *slog.Logger) (terminal, opened bool, err error) {
	conn, err := m.dialer.Dial(ctx, m.url)
	if err != nil {
		return false, false, err
	}

	if !m.attach(gen, conn) {
		conn.Close()
		return false, false, errors.New("session superseded")
	}
	logger.Info("channel open")

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer m.detach(gen, conn)

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return false, true, err
		}

		env, err := envelope.Decode(data)
		if err != nil {
			if errors.Is(err, envelope.ErrUnknownType) {
				metrics.MessageDropped(metrics.DropUnknown)
				logger.Debug("dropping unknown event", "error", err)
			} else {
				metrics.MessageDropped(metrics.DropMalformed)
				logger.Warn("dropping malformed event", "error", err)
			}
			continue
		}
		env.ReceivedAt = time.Now()
		metrics.EventReceived(string(env.Type))

		if !m.dispatch(gen, env) {
			return false, true, errors.New("session superseded")
		}
		if env.Terminal() {
			return true, true, nil
		}
	}
}

// dispatch delivers env to a snapshot of the listeners, rechecking the
// session before each call. It reports whether the session is still current.
func (m *Manager) dispatch(gen uint64, env envelope.Envelope) bool {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return false
	}
	ls := make([]listenerEntry, len(m.listeners))
	copy(ls, m.listeners)
	m.mu.Unlock()

	for _, l := range ls {
		if !m.current(gen) {
			return false
		}
		l.fn(env)
	}
	return true
}

func (m *Manager) attach(gen uint64, conn Conn) bool {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return false
	}
	m.conn = conn
	notify := m.setStateLocked(StateOpen)
	m.mu.Unlock()

	metrics.ConnectionOpened()
	notify()
	return true
}

// detach closes conn unless Disconnect already took it.
func (m *Manager) detach(gen uint64, conn Conn) {
	m.mu.Lock()
	owned := m.gen == gen && m.conn == conn
	if owned {
		m.conn = nil
	}
	m.mu.Unlock()

	if owned {
		conn.Close()
		metrics.ConnectionClosed()
	}
}

// exhausted moves to failed and emits connection_lost before state
// listeners hear about the failure.
func (m *Manager) exhausted(gen uint64, attempts int, err error, logger *slog.Logger) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.cancel = nil
	notify := m.setStateLocked(StateFailed)
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	metrics.RetriesExhausted()
	logger.Error("channel gave up reconnecting", "attempts", attempts, "error", err)

	m.dispatch(gen, envelope.Lost(attempts, err))
	notify()
}

// finish walks the session through the given states if it is still current.
func (m *Manager) finish(gen uint64, states ...State) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.cancel = nil
	notify := make([]func(), 0, len(states))
	for _, s := range states {
		notify = append(notify, m.setStateLocked(s))
	}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, fn := range notify {
		fn()
	}
}

func (m *Manager) transition(gen uint64, s State) bool {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return false
	}
	notify := m.setStateLocked(s)
	m.mu.Unlock()

	notify()
	return true
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen == gen
}

// setStateLocked must be called with m.mu held. The returned function
// notifies state listeners and must be called after unlocking.
func (m *Manager) setStateLocked(s State) func() {
	if m.state == s {
		return func() {}
	}
	m.state = s
	ls := make([]stateEntry, len(m.stateListeners))
	copy(ls, m.stateListeners)
	return func() {
		for _, l := range ls {
			l.fn(s)
		}
	}
}
