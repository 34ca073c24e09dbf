package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/coherence-hub/internal/buffer"
)

// session is one WebSocket connection. The hub's HTTP handler goroutine runs
// the read side; writeLoop drains the outbound queue.
type session struct {
	id        string
	conn      *websocket.Conn
	queue     *buffer.Queue[[]byte]
	writeWait time.Duration
	logger    *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func newSession(id string, conn *websocket.Conn, cfg Config, logger *slog.Logger) *session {
	return &session{
		id:        id,
		conn:      conn,
		queue:     buffer.NewQueue[[]byte](cfg.SendBufferSize, cfg.MaxPendingFrames),
		writeWait: cfg.WriteWait,
		logger:    logger.With("client_id", id),
		done:      make(chan struct{}),
	}
}

// Enqueue implements Sink.
func (s *session) Enqueue(frame []byte) error {
	return s.queue.Send(frame)
}

// Close implements Sink. Frames still queued are discarded.
func (s *session) Close() {
	s.closeOnce.Do(func() {
		s.queue.Close()
		s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.conn.Close()
	})
}

// writeLoop writes queued frames in FIFO order until the queue is closed or
// a write fails.
func (s *session) writeLoop() {
	defer close(s.done)

	for {
		frame, ok := s.queue.Receive()
		if !ok {
			return
		}
		s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			s.logger.Debug("websocket write failed", "error", err)
			s.Close() // unblocks the reader, which removes the client
			return
		}
	}
}
