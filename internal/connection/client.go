package connection

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/coherence-hub/internal/policy"
	"github.com/rickgao/coherence-hub/internal/protocol"
)

// Client is a single WebSocket connection to the hub.
type Client interface {
	// Connect establishes the WebSocket connection.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection.
	Close() error

	// Send encodes and writes one frame.
	Send(msg protocol.Inbound) error

	// SendRaw writes raw bytes to the connection.
	SendRaw(data []byte) error

	// Heartbeat sends a heartbeat, optionally carrying a new score.
	Heartbeat(coherence *float64) error

	// Subscribe adds channel subscriptions.
	Subscribe(channels ...string) error

	// Unsubscribe removes channel subscriptions.
	Unsubscribe(channels ...string) error

	// UpdateCoherence reports a new coherence score.
	UpdateCoherence(score float64) error

	// SyncBreathing reports the client's breathing phase in radians.
	SyncBreathing(phase float64) error

	// RequestOracle asks the hub to route task.
	RequestOracle(requestID string, task policy.Request) error

	// Messages returns a channel of all received frames.
	Messages() <-chan TimestampedMessage

	// Errors returns a channel of connection errors.
	Errors() <-chan error

	// IsConnected returns current connection state.
	IsConnected() bool
}

// client implements the Client interface.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn *websocket.Conn

	// Output channels
	messages chan TimestampedMessage
	errors   chan error
	done     chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu         sync.RWMutex
	connected  bool
	lastReadAt time.Time
	closed     bool
}

// NewClient creates a new hub client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &client{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan TimestampedMessage, cfg.BufferSize),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	header := http.Header{}
	for k, v := range c.cfg.Header {
		header[k] = v
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.lastReadAt = time.Now()
	c.mu.Unlock()

	conn.SetPingHandler(func(data string) error {
		c.touch()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	go c.readLoop()
	go c.heartbeatLoop()

	c.logger.Debug("websocket connected", "url", c.cfg.URL)

	return nil
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	c.mu.Unlock()

	close(c.done)

	if c.conn != nil {
		c.writeMu.Lock()
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		return c.conn.Close()
	}

	return nil
}

// Send encodes and writes one frame.
func (c *client) Send(msg protocol.Inbound) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return c.SendRaw(data)
}

// SendRaw writes raw bytes to the connection.
func (c *client) SendRaw(data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) Heartbeat(coherence *float64) error {
	return c.Send(protocol.Heartbeat{Coherence: coherence})
}

func (c *client) Subscribe(channels ...string) error {
	return c.Send(protocol.Subscription{Channels: channels})
}

func (c *client) Unsubscribe(channels ...string) error {
	return c.Send(protocol.Subscription{Unsubscribe: true, Channels: channels})
}

func (c *client) UpdateCoherence(score float64) error {
	return c.Send(protocol.CoherenceUpdate{Coherence: score})
}

func (c *client) SyncBreathing(phase float64) error {
	return c.Send(protocol.BreathingSync{Phase: phase})
}

func (c *client) RequestOracle(requestID string, task policy.Request) error {
	return c.Send(protocol.OracleRequest{RequestID: requestID, Task: task})
}

// Messages returns the messages channel.
func (c *client) Messages() <-chan TimestampedMessage {
	return c.messages
}

// Errors returns the errors channel.
func (c *client) Errors() <-chan error {
	return c.errors
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *client) touch() {
	c.mu.Lock()
	c.lastReadAt = time.Now()
	c.mu.Unlock()
}

// readLoop reads frames and sends them to the messages channel.
func (c *client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now() // Capture timestamp immediately

		if err != nil {
			// Ignore errors after Close() is called
			select {
			case <-c.done:
				return
			default:
				c.report(err)
				return
			}
		}
		c.touch()

		msg := TimestampedMessage{
			Type:       protocol.PeekType(data),
			Data:       data,
			ReceivedAt: receivedAt,
		}

		select {
		case c.messages <- msg:
		case <-c.done:
			return
		default:
			c.logger.Warn("message buffer full, dropping frame", "type", msg.Type)
		}
	}
}

func (c *client) report(err error) {
	select {
	case c.errors <- err:
	default:
	}
}

// heartbeatLoop keeps the hub's liveness entry fresh and watches for a
// silent connection.
func (c *client) heartbeatLoop() {
	interval := c.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = c.cfg.PingTimeout / 2
	}
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if c.cfg.HeartbeatInterval > 0 {
				if err := c.Heartbeat(nil); err != nil {
					c.logger.Debug("failed to send heartbeat", "error", err)
				}
			}

			c.mu.RLock()
			lastRead := c.lastReadAt
			c.mu.RUnlock()

			if c.cfg.PingTimeout > 0 && time.Since(lastRead) > c.cfg.PingTimeout {
				c.logger.Warn("no frames received, connection stale",
					"last_read", lastRead,
					"timeout", c.cfg.PingTimeout,
				)
				c.report(ErrStaleConnection)
				return
			}
		}
	}
}
