package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Redis is a Broker on Redis pub/sub, one channel per job.
type Redis struct {
	client     redis.UniversalClient
	prefix     string
	bufferSize int
	logger     *slog.Logger

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

var _ Broker = (*Redis)(nil)

// NewRedis creates a Redis broker. Channels are named prefix+jobID.
func NewRedis(client redis.UniversalClient, prefix string, bufferSize int, logger *slog.Logger) *Redis {
	if bufferSize < 1 {
		bufferSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{
		client:     client,
		prefix:     prefix,
		bufferSize: bufferSize,
		logger:     logger,
		subs:       make(map[*Subscription]struct{}),
	}
}

// Channel returns the pub/sub channel name for jobID.
func (r *Redis) Channel(jobID string) string {
	return r.prefix + jobID
}

// Publish sends msg to the job's channel.
func (r *Redis) Publish(ctx context.Context, jobID string, msg []byte) error {
	if err := r.client.Publish(ctx, r.Channel(jobID), msg).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.Channel(jobID), err)
	}
	return nil
}

// Subscribe subscribes to the job's channel. It returns once Redis has
// confirmed the subscription.
func (r *Redis) Subscribe(ctx context.Context, jobID string) (*Subscription, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.mu.Unlock()

	channel := r.Channel(jobID)
	ps := r.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	var sub *Subscription
	sub = newSubscription(jobID, r.bufferSize, func() {
		ps.Close()
		r.mu.Lock()
		delete(r.subs, sub)
		r.mu.Unlock()
	})

	r.mu.Lock()
	r.subs[sub] = struct{}{}
	r.mu.Unlock()

	log := r.logger.With("channel", channel)
	log.Debug("subscribed to redis channel")

	go func() {
		defer sub.Close()
		for msg := range ps.Channel() {
			if err := sub.deliver([]byte(msg.Payload)); err != nil {
				log.Warn("dropping slow subscriber", "pending", sub.Pending())
				return
			}
		}
	}()

	return sub, nil
}

// Close ends every subscription. The Redis client is owned by the caller.
func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	all := make([]*Subscription, 0, len(r.subs))
	for s := range r.subs {
		all = append(all, s)
	}
	r.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
	return nil
}
