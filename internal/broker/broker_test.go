package broker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestMemory_FanOut(t *testing.T) {
	ctx := context.Background()
	b := NewMemory(4, nil)
	defer b.Close()

	s1, _ := b.Subscribe(ctx, "j1")
	s2, _ := b.Subscribe(ctx, "j1")
	other, _ := b.Subscribe(ctx, "j2")

	for i := 0; i < 3; i++ {
		if err := b.Publish(ctx, "j1", []byte(fmt.Sprintf("m%d", i))); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	for _, s := range []*Subscription{s1, s2} {
		for i := 0; i < 3; i++ {
			msg, ok := s.Receive()
			if !ok || string(msg) != fmt.Sprintf("m%d", i) {
				t.Errorf("msg %d = %q, %v", i, msg, ok)
			}
		}
	}
	if other.Pending() != 0 {
		t.Errorf("other job received %d messages", other.Pending())
	}
	if s1.JobID() != "j1" {
		t.Errorf("JobID = %q", s1.JobID())
	}
}

func TestMemory_SubscriptionClose(t *testing.T) {
	ctx := context.Background()
	b := NewMemory(4, nil)

	s, _ := b.Subscribe(ctx, "j1")
	if b.Subscribers("j1") != 1 {
		t.Fatalf("Subscribers = %d, want 1", b.Subscribers("j1"))
	}
	s.Close()
	s.Close()
	if b.Subscribers("j1") != 0 {
		t.Errorf("Subscribers after close = %d, want 0", b.Subscribers("j1"))
	}
	if _, ok := s.Receive(); ok {
		t.Error("Receive after Close returned true")
	}

	// Publishing with no subscribers is fine.
	if err := b.Publish(ctx, "j1", []byte("x")); err != nil {
		t.Errorf("Publish: %v", err)
	}
}

func TestMemory_SlowSubscriberDropped(t *testing.T) {
	ctx := context.Background()
	b := NewMemory(1, nil)

	s, _ := b.Subscribe(ctx, "j1")
	// Limit is 16x the initial size.
	for i := 0; i < 20; i++ {
		b.Publish(ctx, "j1", []byte("x"))
	}
	if b.Subscribers("j1") != 0 {
		t.Error("slow subscriber should have been removed")
	}
	n := 0
	for {
		if _, ok := s.Receive(); !ok {
			break
		}
		n++
	}
	if n != 16 {
		t.Errorf("drained %d messages, want 16", n)
	}
}

func TestMemory_Close(t *testing.T) {
	ctx := context.Background()
	b := NewMemory(4, nil)
	s, _ := b.Subscribe(ctx, "j1")

	b.Close()

	if _, ok := s.Receive(); ok {
		t.Error("subscription should be closed")
	}
	if _, err := b.Subscribe(ctx, "j1"); !errors.Is(err, ErrClosed) {
		t.Errorf("Subscribe after Close err = %v", err)
	}
	if err := b.Publish(ctx, "j1", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Publish after Close err = %v", err)
	}
}

func TestRedis_Channel(t *testing.T) {
	r := NewRedis(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "datacure:jobs:", 4, nil)
	if got := r.Channel("abc"); got != "datacure:jobs:abc" {
		t.Errorf("Channel = %q", got)
	}
}

func TestRedis_SubscribeUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	r := NewRedis(client, "t:", 4, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := r.Subscribe(ctx, "j1"); err == nil {
		t.Error("expected error subscribing to unreachable redis")
	}
	if err := r.Publish(ctx, "j1", []byte("x")); err == nil {
		t.Error("expected error publishing to unreachable redis")
	}
}

// TestRedis_RoundTrip runs against a real server when LIVEJOBS_TEST_REDIS_ADDR
// is set.
func TestRedis_RoundTrip(t *testing.T) {
	addr := os.Getenv("LIVEJOBS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LIVEJOBS_TEST_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	r := NewRedis(client, fmt.Sprintf("livejobs-test:%d:", time.Now().UnixNano()), 4, nil)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := r.Subscribe(ctx, "j1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	for _, m := range []string{"one", "two"} {
		if err := r.Publish(ctx, "j1", []byte(m)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	for _, want := range []string{"one", "two"} {
		msg, ok := sub.Receive()
		if !ok || string(msg) != want {
			t.Errorf("msg = %q, %v; want %q", msg, ok, want)
		}
	}
}
