package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one physical connection to the job event stream.
type Conn interface {
	// ReadMessage blocks until the next message or a transport error.
	ReadMessage() ([]byte, error)

	// WriteMessage sends one text message.
	WriteMessage(data []byte) error

	// Close releases the connection. It is safe to call more than once.
	Close() error
}

// Dialer opens connections. Tests substitute a fake transport.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebSocketDialer dials gorilla/websocket connections with a ping/pong
// heartbeat.
type WebSocketDialer struct {
	cfg    Config
	header http.Header
	logger *slog.Logger
}

// NewWebSocketDialer creates a dialer using the timeouts in cfg.
func NewWebSocketDialer(cfg Config, logger *slog.Logger) *WebSocketDialer {
	if logger == nil {
		logger = slog.Default()
	}

	header := http.Header{}
	header.Set("Accept", "application/json")

	return &WebSocketDialer{cfg: cfg, header: header, logger: logger}
}

// Dial connects to url and starts the heartbeat.
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.cfg.HandshakeTimeout,
	}

	ws, resp, err := dialer.DialContext(ctx, url, d.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &wsConn{
		conn:   ws,
		cfg:    d.cfg,
		logger: d.logger,
		done:   make(chan struct{}),
	}

	c.extendDeadline()
	ws.SetPongHandler(func(string) error {
		c.extendDeadline()
		return nil
	})
	ws.SetPingHandler(func(data string) error {
		c.extendDeadline()
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	if d.cfg.PingInterval > 0 {
		go c.heartbeatLoop()
	}

	d.logger.Debug("websocket connected", "url", url)
	return c, nil
}

// wsConn implements Conn over gorilla/websocket.
type wsConn struct {
	conn   *websocket.Conn
	cfg    Config
	logger *slog.Logger

	// Write serialization
	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

// ReadMessage returns the next text or binary message. A read deadline
// expiry is reported as ErrStaleConnection.
func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: %v", ErrStaleConnection, err)
		}
		return nil, err
	}
	c.extendDeadline()
	return data, nil
}

// WriteMessage sends one text message.
func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(c.writeDeadline())
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and closes the socket.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) writeDeadline() time.Time {
	if c.cfg.WriteTimeout > 0 {
		return time.Now().Add(c.cfg.WriteTimeout)
	}
	return time.Now().Add(5 * time.Second)
}

func (c *wsConn) extendDeadline() {
	if c.cfg.PongTimeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	}
}

// heartbeatLoop pings the server. Missing pongs surface as a read deadline
// expiry in ReadMessage.
func (c *wsConn) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), c.writeDeadline())
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}
		}
	}
}
