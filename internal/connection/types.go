package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no frames)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrRestart         = errors.New("restart requested")
	ErrBackpressure    = errors.New("frame buffer full")
)

// Inbound is one frame read by a Client.
type Inbound struct {
	Data       []byte
	ReceivedAt time.Time // Local time ReadMessage returned
}

// RawMessage is a frame forwarded from the Session to the router.
type RawMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	Gen        uint64    // Connection generation the frame arrived on
	ReceivedAt time.Time // Local timestamp when WS Client received message
}

// SubscribeRequest subscribes one public channel for one pair.
type SubscribeRequest struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	Pair    string `json:"pair"`
}

// State is the Session lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribing:
		return "subscribing"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL          string        // WebSocket URL (e.g., wss://api.bitfinex.com/ws)
	PingInterval time.Duration // Interval between keepalive pings
	ReadTimeout  time.Duration // Max time without any inbound frame before the connection is stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval: 15 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   10000,
	}
}

// SessionConfig configures the stream Session.
type SessionConfig struct {
	Client            ClientConfig
	ReconnectBaseWait time.Duration // Initial backoff after a failed connection
	ReconnectMaxWait  time.Duration // Backoff ceiling
	MessageBufferSize int           // Buffer size for the output message channel
}

// DefaultSessionConfig returns sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Client:            DefaultClientConfig(),
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  60 * time.Second,
		MessageBufferSize: 100000,
	}
}
