package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/coherence-hub/internal/clock"
	"github.com/rickgao/coherence-hub/internal/field"
	"github.com/rickgao/coherence-hub/internal/metrics"
	"github.com/rickgao/coherence-hub/internal/model"
	"github.com/rickgao/coherence-hub/internal/policy"
	"github.com/rickgao/coherence-hub/internal/protocol"
	"github.com/rickgao/coherence-hub/internal/registry"
)

// Router decides oracle requests. *policy.Engine satisfies it.
type Router interface {
	Decide(req policy.Request) (policy.Decision, error)
}

// Hub is the coherence synchronization hub.
type Hub struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	registry    *registry.Registry
	aggregator  *field.Aggregator
	broadcaster *Broadcaster
	router      Router
	upgrader    websocket.Upgrader

	// mu serializes mutation, recompute and broadcast.
	mu sync.Mutex
}

// New creates a hub. router may be nil, in which case oracle requests are
// answered with an error frame.
func New(cfg Config, reg *registry.Registry, router Router, clk clock.Clock, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.System{}
	}
	logger = logger.With("component", "hub")

	h := &Hub{
		cfg:         cfg,
		clock:       clk,
		logger:      logger,
		registry:    reg,
		broadcaster: NewBroadcaster(reg, logger),
		router:      router,
	}
	h.aggregator = field.NewAggregator(reg, clk,
		field.WithPeriod(cfg.PhasePeriod),
		field.WithLogger(logger),
		field.WithStabilityHook(func(from, to model.Stability) {
			metrics.StabilityTransitions.WithLabelValues(string(from), string(to)).Inc()
			metrics.SetStability(string(to))
		}),
	)
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	h.aggregator.Recompute()
	return h
}

// FieldState returns the most recently computed field state.
func (h *Hub) FieldState() model.FieldState {
	return h.aggregator.Latest()
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	return h.registry.Len()
}

// Broadcaster returns the hub's broadcaster.
func (h *Hub) Broadcaster() *Broadcaster {
	return h.broadcaster
}

// Join registers a new client and sends the welcome frame. The field state
// in the welcome frame already counts the new client. The sink is attached
// only after the welcome frame is queued, so no broadcast can precede it.
func (h *Hub) Join(newSink func(clientID string) Sink) registry.ClientEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry := h.registry.Register(h.clock.Now())
	sink := newSink(entry.ID)
	fs := h.recomputeLocked()

	welcome, err := json.Marshal(protocol.NewConnectionEstablished(entry.ID, fs))
	if err == nil {
		err = sink.Enqueue(welcome)
	}
	if err != nil {
		h.logger.Warn("failed to send welcome frame", "client_id", entry.ID, "error", err)
	}
	h.broadcaster.Attach(entry.ID, sink)

	h.logger.Info("client connected", "client_id", entry.ID, "clients", fs.ActiveClientCount)
	return entry
}

// Leave removes a client and closes its sink. It is a no-op for clients
// already removed, such as evicted ones.
func (h *Hub) Leave(id string) bool {
	h.mu.Lock()
	if !h.registry.Unregister(id) {
		h.mu.Unlock()
		return false
	}
	sink := h.broadcaster.Detach(id)
	fs := h.recomputeLocked()
	h.mu.Unlock()

	closeSinks(sink)
	h.logger.Info("client disconnected", "client_id", id, "clients", fs.ActiveClientCount)
	return true
}

// HandleMessage applies one inbound frame from client id. Malformed and
// unknown frames are answered with an error frame and the decode error is
// returned; the connection stays open.
func (h *Hub) HandleMessage(id string, data []byte) error {
	msgType := protocol.PeekType(data)
	msg, err := protocol.Decode(data)
	if err != nil {
		metrics.MessagesReceived.WithLabelValues("invalid").Inc()
		h.logger.Warn("dropping inbound frame", "client_id", id, "type", msgType, "error", err)
		h.sendError(id, protocol.ErrorFor(err))
		return err
	}
	metrics.MessagesReceived.WithLabelValues(msg.MessageType()).Inc()

	switch m := msg.(type) {
	case protocol.Heartbeat:
		return h.heartbeat(id, m)
	case protocol.Subscription:
		return h.subscription(id, m)
	case protocol.CoherenceUpdate:
		return h.setScore(id, m.Coherence)
	case protocol.BreathingSync:
		return h.registry.SetBreathPhase(id, m.Phase, h.clock.Now())
	case protocol.OracleRequest:
		return h.oracle(id, m)
	}
	return fmt.Errorf("%w: %s", protocol.ErrUnknownMessageType, msg.MessageType())
}

func (h *Hub) heartbeat(id string, m protocol.Heartbeat) error {
	if m.Coherence != nil {
		return h.setScore(id, *m.Coherence)
	}
	return h.registry.Touch(id, h.clock.Now())
}

func (h *Hub) setScore(id string, score float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.registry.SetScore(id, score, h.clock.Now()); err != nil {
		return err
	}
	h.recomputeLocked()
	return nil
}

func (h *Hub) subscription(id string, m protocol.Subscription) error {
	var errs []error
	for _, ch := range m.Channels {
		if !protocol.KnownChannel(ch) {
			h.sendError(id, protocol.NewError(protocol.CodeUnknownChannel, fmt.Sprintf("unknown channel %q", ch)))
			errs = append(errs, fmt.Errorf("unknown channel %q", ch))
			continue
		}
		var err error
		if m.Unsubscribe {
			err = h.broadcaster.Unsubscribe(id, ch)
		} else {
			err = h.broadcaster.Subscribe(id, ch)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// oracle routes a task on behalf of a client. A missing coherence score is
// taken from the client's entry, and breath adherence compares the client's
// last reported phase with the hub phase at the moment it was reported.
func (h *Hub) oracle(id string, m protocol.OracleRequest) error {
	entry, ok := h.registry.Get(id)
	if !ok {
		return registry.ErrUnknownClient
	}
	if h.router == nil {
		h.sendError(id, protocol.NewError(protocol.CodeInternal, "routing is not available"))
		return errors.New("no router configured")
	}

	req := m.Task
	if req.RequestID == "" {
		req.RequestID = m.RequestID
	}
	if req.CoherenceScore == nil {
		score := entry.CoherenceScore
		req.CoherenceScore = &score
	}

	var adherence *float64
	if entry.HasBreath && (req.Telemetry == nil || req.Telemetry.Breath == nil || req.Telemetry.Breath.Adherence == nil) {
		hubPhase := field.Phase(entry.BreathSyncedAt, h.cfg.PhasePeriod)
		a := field.Adherence(entry.BreathPhase, hubPhase)
		adherence = &a
		phase := entry.BreathPhase
		req.Telemetry = &policy.Telemetry{Breath: &policy.Breath{Phase: &phase, Adherence: &a}}
	} else if req.Telemetry != nil && req.Telemetry.Breath != nil {
		adherence = req.Telemetry.Breath.Adherence
	}

	d, err := h.router.Decide(req)
	if err != nil {
		h.sendError(id, protocol.NewError(protocol.CodeInvalidRequest, err.Error()))
		return err
	}

	fs := h.aggregator.Latest()
	resp := protocol.NewOracleResponse(m.RequestID, oracleFor(d), protocol.CoherenceContext{
		Status:          d.Status,
		Reasoning:       d.Reasoning,
		Lane:            d.SelectedLane,
		ClientCoherence: d.CoherenceScore,
		FieldCoherence:  fs.AggregateCoherence,
		Stability:       fs.Stability,
		BreathAdherence: adherence,
		Checkpoint:      d.Checkpoint,
	})
	return h.broadcaster.SendTo(id, resp)
}

// oracleFor is the provider a decision selected; blocked requests select none.
func oracleFor(d policy.Decision) string {
	if d.Status == model.StatusBlocked {
		return ""
	}
	return d.Provider
}

func (h *Hub) sendError(id string, frame protocol.ErrorFrame) {
	if err := h.broadcaster.SendTo(id, frame); err != nil {
		h.logger.Debug("failed to send error frame", "client_id", id, "error", err)
	}
}

// recomputeLocked recomputes the field state and updates the gauges. Must be
// called with h.mu held.
func (h *Hub) recomputeLocked() model.FieldState {
	fs := h.aggregator.Recompute()
	metrics.ConnectedClients.Set(float64(fs.ActiveClientCount))
	metrics.AggregateCoherence.Set(fs.AggregateCoherence)
	return fs
}

// ServeHTTP upgrades the request to a WebSocket and runs the connection
// until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}
	// The server's read timeout survives the hijack; liveness is the sweep's job.
	conn.SetReadDeadline(time.Time{})

	var sess *session
	entry := h.Join(func(id string) Sink {
		sess = newSession(id, conn, h.cfg, h.logger)
		return sess
	})
	go sess.writeLoop()

	h.readLoop(entry.ID, conn)

	h.Leave(entry.ID)
	sess.Close()
	<-sess.done
}

// readLoop reads frames until the connection fails or is closed.
func (h *Hub) readLoop(id string, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read failed", "client_id", id, "error", err)
			}
			return
		}
		h.HandleMessage(id, data)
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(h.cfg.AllowedOrigins, origin)
}
