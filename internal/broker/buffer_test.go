package broker

import (
	"sync"
	"testing"
	"time"
)

func TestGrowableBuffer_BasicSendReceive(t *testing.T) {
	buf := NewGrowableBuffer[int](10, 0)

	for i := 0; i < 5; i++ {
		if !buf.Send(i) {
			t.Fatalf("Send(%d) returned false", i)
		}
	}

	if buf.Len() != 5 {
		t.Errorf("Len() = %d, want 5", buf.Len())
	}

	for i := 0; i < 5; i++ {
		val, ok := buf.TryReceive()
		if !ok {
			t.Fatalf("TryReceive() returned false for item %d", i)
		}
		if val != i {
			t.Errorf("received %d, want %d", val, i)
		}
	}

	if _, ok := buf.TryReceive(); ok {
		t.Error("TryReceive() on empty buffer returned true")
	}
}

func TestGrowableBuffer_GrowAt70Percent(t *testing.T) {
	buf := NewGrowableBuffer[int](10, 0)

	for i := 0; i < 7; i++ {
		buf.Send(i)
	}

	stats := buf.Stats()
	if stats.Capacity <= 10 {
		t.Errorf("Capacity = %d, expected growth after 70%% fill", stats.Capacity)
	}
	if stats.ResizeCount != 1 {
		t.Errorf("ResizeCount = %d, want 1", stats.ResizeCount)
	}

	for i := 0; i < 7; i++ {
		val, _ := buf.TryReceive()
		if val != i {
			t.Errorf("received %d, want %d", val, i)
		}
	}
}

func TestGrowableBuffer_WrappedGrow(t *testing.T) {
	buf := NewGrowableBuffer[int](4, 0)

	// Move head forward so the next grow copies a wrapped region.
	buf.Send(0)
	buf.Send(1)
	buf.TryReceive()
	buf.TryReceive()

	for i := 0; i < 20; i++ {
		buf.Send(i)
	}
	for i := 0; i < 20; i++ {
		val, ok := buf.TryReceive()
		if !ok || val != i {
			t.Fatalf("item %d = %d, %v", i, val, ok)
		}
	}
}

func TestGrowableBuffer_Limit(t *testing.T) {
	buf := NewGrowableBuffer[int](2, 3)

	for i := 0; i < 3; i++ {
		if !buf.Send(i) {
			t.Fatalf("Send(%d) returned false below limit", i)
		}
	}
	if buf.Send(3) {
		t.Error("Send beyond limit returned true")
	}

	buf.TryReceive()
	if !buf.Send(3) {
		t.Error("Send after draining returned false")
	}
}

func TestGrowableBuffer_CloseDrains(t *testing.T) {
	buf := NewGrowableBuffer[string](4, 0)
	buf.Send("a")
	buf.Close()

	if buf.Send("b") {
		t.Error("Send after Close returned true")
	}
	if v, ok := buf.Receive(); !ok || v != "a" {
		t.Errorf("Receive = %q, %v; want queued item", v, ok)
	}
	if _, ok := buf.Receive(); ok {
		t.Error("Receive on closed empty buffer returned true")
	}
}

func TestGrowableBuffer_BlockingReceive(t *testing.T) {
	buf := NewGrowableBuffer[int](4, 0)

	var wg sync.WaitGroup
	var got int
	wg.Add(1)
	go func() {
		defer wg.Done()
		got, _ = buf.Receive()
	}()

	time.Sleep(10 * time.Millisecond)
	buf.Send(42)
	wg.Wait()

	if got != 42 {
		t.Errorf("got %d, want 42", got)
	}
	if s := buf.Stats(); s.TotalReceived != 1 || s.TotalSent != 1 {
		t.Errorf("stats = %+v", s)
	}
}
