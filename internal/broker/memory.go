package broker

import (
	"context"
	"log/slog"
	"sync"
)

// Memory is an in-process Broker.
type Memory struct {
	bufferSize int
	logger     *slog.Logger

	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	closed bool
}

var _ Broker = (*Memory)(nil)

// NewMemory creates a Memory broker. bufferSize is the initial per
// subscriber queue capacity.
func NewMemory(bufferSize int, logger *slog.Logger) *Memory {
	if bufferSize < 1 {
		bufferSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{
		bufferSize: bufferSize,
		logger:     logger,
		subs:       make(map[string]map[*Subscription]struct{}),
	}
}

// Publish queues msg for every current subscriber of jobID.
func (m *Memory) Publish(ctx context.Context, jobID string, msg []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	targets := make([]*Subscription, 0, len(m.subs[jobID]))
	for s := range m.subs[jobID] {
		targets = append(targets, s)
	}
	m.mu.Unlock()

	for _, s := range targets {
		if err := s.deliver(msg); err != nil {
			m.logger.Warn("dropping slow subscriber", "job_id", jobID, "pending", s.Pending())
		}
	}
	return nil
}

// Subscribe registers a subscriber for jobID.
func (m *Memory) Subscribe(ctx context.Context, jobID string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	var sub *Subscription
	sub = newSubscription(jobID, m.bufferSize, func() { m.remove(jobID, sub) })

	set, ok := m.subs[jobID]
	if !ok {
		set = make(map[*Subscription]struct{})
		m.subs[jobID] = set
	}
	set[sub] = struct{}{}
	return sub, nil
}

// Subscribers returns the number of live subscriptions for jobID.
func (m *Memory) Subscribers(jobID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[jobID])
}

// Close ends every subscription.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var all []*Subscription
	for _, set := range m.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	m.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
	return nil
}

func (m *Memory) remove(jobID string, sub *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.subs[jobID]
	delete(set, sub)
	if len(set) == 0 {
		delete(m.subs, jobID)
	}
}
