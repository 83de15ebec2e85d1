package broker

import (
	"context"
	"errors"
	"sync"
)

// Errors
var (
	ErrClosed         = errors.New("broker closed")
	ErrSlowSubscriber = errors.New("subscriber buffer full")
)

// Broker routes encoded job events to subscribers of the same job.
type Broker interface {
	Publish(ctx context.Context, jobID string, msg []byte) error
	Subscribe(ctx context.Context, jobID string) (*Subscription, error)
	Close() error
}

// Subscription receives the events published for one job.
type Subscription struct {
	jobID string
	buf   *GrowableBuffer[[]byte]

	once    sync.Once
	onClose func()
}

func newSubscription(jobID string, bufferSize int, onClose func()) *Subscription {
	return &Subscription{
		jobID:   jobID,
		buf:     NewGrowableBuffer[[]byte](bufferSize, bufferSize*16),
		onClose: onClose,
	}
}

// JobID returns the subscribed job id.
func (s *Subscription) JobID() string {
	return s.jobID
}

// Receive blocks for the next message. It returns false after Close once the
// queued messages are drained.
func (s *Subscription) Receive() ([]byte, bool) {
	return s.buf.Receive()
}

// Pending returns the number of queued messages.
func (s *Subscription) Pending() int {
	return s.buf.Len()
}

// Close detaches the subscription. It is idempotent.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.buf.Close()
		if s.onClose != nil {
			s.onClose()
		}
	})
}

// deliver queues msg, closing the subscription when its consumer has fallen
// too far behind.
func (s *Subscription) deliver(msg []byte) error {
	if s.buf.Send(msg) {
		return nil
	}
	s.Close()
	return ErrSlowSubscriber
}
