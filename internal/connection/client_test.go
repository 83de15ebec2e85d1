package connection

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
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testDialerConfig() Config {
	cfg := DefaultConfig()
	cfg.PingInterval = 0
	cfg.PongTimeout = 5 * time.Second
	return cfg
}

func TestWebSocketDialer_ReadMessages(t *testing.T) {
	testMessages := []string{
		`{"type":"progress_update","data":{"progress":1,"completedRecords":1}}`,
		`{"type":"progress_update","data":{"progress":2,"completedRecords":2}}`,
		`{"type":"progress_update","data":{"progress":3,"completedRecords":3}}`,
	}

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for _, msg := range testMessages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		// Keep connection open
		time.Sleep(time.Second)
	})
	defer server.Close()

	d := NewWebSocketDialer(testDialerConfig(), nil)
	conn, err := d.Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	for i, want := range testMessages {
		got, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage %d: %v", i, err)
		}
		if string(got) != want {
			t.Errorf("message %d: got %q, want %q", i, got, want)
		}
	}
}

func TestWebSocketDialer_WriteMessage(t *testing.T) {
	var received []byte
	var mu sync.Mutex
	got := make(chan struct{})

	server := mockWSServer(t, func(conn *websocket.Conn) {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		mu.Lock()
		received = msg
		mu.Unlock()
		close(got)
		conn.ReadMessage()
	})
	defer server.Close()

	d := NewWebSocketDialer(testDialerConfig(), nil)
	conn, err := d.Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	testMsg := []byte(`{"test": "message"}`)
	if err := conn.WriteMessage(testMsg); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("server did not receive message")
	}

	mu.Lock()
	defer mu.Unlock()
	if string(received) != string(testMsg) {
		t.Errorf("received %q, want %q", received, testMsg)
	}
}

func TestWebSocketDialer_StaleConnection(t *testing.T) {
	// The server never reads, so client pings are never answered.
	server := mockWSServer(t, func(conn *websocket.Conn) {
		time.Sleep(time.Second)
	})
	defer server.Close()

	cfg := testDialerConfig()
	cfg.PingInterval = 20 * time.Millisecond
	cfg.PongTimeout = 100 * time.Millisecond

	d := NewWebSocketDialer(cfg, nil)
	conn, err := d.Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	_, err = conn.ReadMessage()
	if !errors.Is(err, ErrStaleConnection) {
		t.Errorf("err = %v, want ErrStaleConnection", err)
	}
}

func TestWebSocketDialer_DialError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer server.Close()

	d := NewWebSocketDialer(testDialerConfig(), nil)
	if _, err := d.Dial(context.Background(), wsURL(server)); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestWebSocketDialer_DoubleClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	d := NewWebSocketDialer(testDialerConfig(), nil)
	conn, err := d.Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}
