package connection

import (
	"errors"
	"fmt"
	"time"

	"github.com/datacure/livejobs/internal/envelope"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no pong)")
	ErrInvalidJobID    = errors.New("invalid job id")
	ErrInvalidURL      = errors.New("invalid websocket base url")
)

// State is the lifecycle state of a Manager.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnectWait
	StateClosing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnectWait:
		return "reconnect-wait"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Listener receives every dispatched envelope.
type Listener func(envelope.Envelope)

// Config configures a Manager and its WebSocket dialer.
type Config struct {
	BaseURL              string        // WebSocket base URL (e.g., ws://localhost:8000)
	ReconnectBaseWait    time.Duration // Delay before the first reconnect
	ReconnectMaxWait     time.Duration // Cap on the reconnect delay
	MaxReconnectAttempts int           // Consecutive failed attempts before giving up (0 = unbounded)
	HandshakeTimeout     time.Duration // WebSocket handshake timeout
	PingInterval         time.Duration // Interval between client pings
	PongTimeout          time.Duration // Max silence before the connection is considered stale
	WriteTimeout         time.Duration // Write deadline for sends and control frames
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:              "ws://localhost:8000",
		ReconnectBaseWait:    1 * time.Second,
		ReconnectMaxWait:     30 * time.Second,
		MaxReconnectAttempts: 5,
		HandshakeTimeout:     10 * time.Second,
		PingInterval:         30 * time.Second,
		PongTimeout:          60 * time.Second,
		WriteTimeout:         5 * time.Second,
	}
}
