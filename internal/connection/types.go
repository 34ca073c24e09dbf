package connection

import (
	"errors"
	"net/http"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no frames received)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// TimestampedMessage wraps one received frame.
type TimestampedMessage struct {
	Type       string    // frame "type" field, "" if unparseable
	Data       []byte    // Raw frame bytes
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a hub client.
type ClientConfig struct {
	URL               string        // WebSocket URL (e.g., ws://localhost:8080/ws)
	Header            http.Header   // extra handshake headers, e.g. Origin
	HeartbeatInterval time.Duration // heartbeat frame cadence (0 disables)
	PingTimeout       time.Duration // Max time without any received frame before considering connection stale
	WriteTimeout      time.Duration // Write deadline for sends
	BufferSize        int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults. The heartbeat interval sits
// well inside the hub's 30s liveness timeout.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HeartbeatInterval: 10 * time.Second,
		PingTimeout:       60 * time.Second,
		WriteTimeout:      5 * time.Second,
		BufferSize:        1000,
	}
}
