package hub

import (
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/coherence-hub/internal/buffer"
	"github.com/rickgao/coherence-hub/internal/clock"
	"github.com/rickgao/coherence-hub/internal/field"
	"github.com/rickgao/coherence-hub/internal/model"
	"github.com/rickgao/coherence-hub/internal/policy"
	"github.com/rickgao/coherence-hub/internal/protocol"
	"github.com/rickgao/coherence-hub/internal/registry"
)

var t0 = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

// fakeSink collects frames in memory.
type fakeSink struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	err    error
}

func (s *fakeSink) Enqueue(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return buffer.ErrClosed
	}
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *fakeSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.frames))
	for i, f := range s.frames {
		out[i] = protocol.PeekType(f)
	}
	return out
}

func (s *fakeSink) last(t *testing.T, v any) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		t.Fatal("no frames received")
	}
	if err := json.Unmarshal(s.frames[len(s.frames)-1], v); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
}

func (s *fakeSink) count(frameType string) int {
	n := 0
	for _, ft := range s.types() {
		if ft == frameType {
			n++
		}
	}
	return n
}

func (s *fakeSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type testHub struct {
	*Hub
	clock *clock.Fake
}

func newTestHub(t *testing.T, router Router) *testHub {
	t.Helper()
	clk := clock.NewFake(t0)
	reg := registry.New(registry.DefaultConfig())
	return &testHub{Hub: New(DefaultConfig(), reg, router, clk, nil), clock: clk}
}

func (h *testHub) join() (string, *fakeSink) {
	s := &fakeSink{}
	e := h.Join(func(string) Sink { return s })
	return e.ID, s
}

func TestJoin_WelcomeCountsNewClient(t *testing.T) {
	h := newTestHub(t, nil)

	_, first := h.join()
	id, second := h.join()

	var welcome protocol.ConnectionEstablished
	second.last(t, &welcome)

	if welcome.Type != protocol.TypeConnectionEstablished {
		t.Fatalf("first frame = %s, want connection_established", welcome.Type)
	}
	if welcome.ClientID != id {
		t.Errorf("ClientID = %s, want %s", welcome.ClientID, id)
	}
	if welcome.FieldState.ActiveClientCount != 2 {
		t.Errorf("ActiveClientCount = %d, want 2", welcome.FieldState.ActiveClientCount)
	}
	if got := first.count(protocol.TypeConnectionEstablished); got != 1 {
		t.Errorf("first client got %d welcome frames, want 1", got)
	}
}

func TestAggregate_Mean(t *testing.T) {
	h := newTestHub(t, nil)

	scores := []float64{0.8, 0.6, 0.9}
	var sinks []*fakeSink
	for _, score := range scores {
		id, s := h.join()
		sinks = append(sinks, s)
		if err := h.HandleMessage(id, []byte(`{"type":"coherence_update","coherence":`+jsonFloat(score)+`}`)); err != nil {
			t.Fatalf("coherence_update: %v", err)
		}
	}

	h.AggregateTick()

	var update protocol.FieldStateUpdate
	sinks[0].last(t, &update)
	if math.Abs(update.FieldState.AggregateCoherence-0.7666666666666667) > 1e-9 {
		t.Errorf("AggregateCoherence = %v, want 0.7667", update.FieldState.AggregateCoherence)
	}
	if got := update.FieldState.CoherenceSamples; len(got) != 3 || got[0] != 0.8 || got[2] != 0.9 {
		t.Errorf("CoherenceSamples = %v, want connect order %v", got, scores)
	}
}

func TestIdleBaseline(t *testing.T) {
	h := newTestHub(t, nil)

	id, _ := h.join()
	h.Leave(id)

	fs := h.FieldState()
	want := 0.75 + 0.05*math.Sin(float64(t0.UnixMilli())/10000)
	if math.Abs(fs.AggregateCoherence-want) > 1e-9 {
		t.Errorf("idle AggregateCoherence = %v, want %v", fs.AggregateCoherence, want)
	}
	if !fs.Idle || fs.ActiveClientCount != 0 {
		t.Errorf("idle state = %+v", fs)
	}
}

func TestSweep_EvictsSilentClients(t *testing.T) {
	h := newTestHub(t, nil)

	quiet, quietSink := h.join()
	chatty, chattySink := h.join()

	// chatty heartbeats 29s before the sweep; quiet has been silent 31s.
	h.clock.Set(t0.Add(2 * time.Second))
	if err := h.HandleMessage(chatty, []byte(`{"type":"heartbeat"}`)); err != nil {
		t.Fatal(err)
	}
	h.clock.Set(t0.Add(31 * time.Second))

	evicted := h.Sweep()

	if len(evicted) != 1 || evicted[0] != quiet {
		t.Fatalf("evicted = %v, want [%s]", evicted, quiet)
	}
	if !quietSink.isClosed() {
		t.Error("evicted client's connection should be closed")
	}
	if chattySink.isClosed() {
		t.Error("client heard from 29s ago should survive")
	}
	if h.ClientCount() != 1 {
		t.Errorf("ClientCount = %d, want 1", h.ClientCount())
	}
	if got := h.FieldState().ActiveClientCount; got != 1 {
		t.Errorf("field ActiveClientCount = %d, want 1 after recompute", got)
	}

	// Eviction is final: a late frame from the evicted client is rejected.
	if err := h.HandleMessage(quiet, []byte(`{"type":"heartbeat"}`)); !errors.Is(err, registry.ErrUnknownClient) {
		t.Errorf("late heartbeat error = %v, want ErrUnknownClient", err)
	}
	if h.Leave(quiet) {
		t.Error("Leave() of an evicted client should be a no-op")
	}
}

func TestSweep_NothingStale(t *testing.T) {
	h := newTestHub(t, nil)
	h.join()

	h.clock.Set(t0.Add(30 * time.Second))
	if evicted := h.Sweep(); len(evicted) != 0 {
		t.Errorf("evicted = %v at exactly the timeout, want none", evicted)
	}
}

// stuckSink models a peer that stopped reading: Close blocks until released.
type stuckSink struct {
	fakeSink
	closing chan struct{}
	release chan struct{}
}

func (s *stuckSink) Close() {
	close(s.closing)
	<-s.release
	s.fakeSink.Close()
}

func TestSweep_StuckCloseDoesNotBlockHub(t *testing.T) {
	h := newTestHub(t, nil)

	stuck := &stuckSink{closing: make(chan struct{}), release: make(chan struct{})}
	h.Join(func(string) Sink { return stuck })

	h.clock.Set(t0.Add(31 * time.Second))
	healthy, _ := h.join()

	swept := make(chan []string, 1)
	go func() { swept <- h.Sweep() }()
	<-stuck.closing

	updated := make(chan error, 1)
	go func() {
		updated <- h.HandleMessage(healthy, []byte(`{"type":"coherence_update","coherence":0.9}`))
	}()

	var err error
	select {
	case err = <-updated:
	case <-time.After(2 * time.Second):
		close(stuck.release)
		<-swept
		t.Fatal("coherence_update waited on a connection being closed by Sweep")
	}
	if err != nil {
		t.Errorf("coherence_update error = %v", err)
	}
	if got := h.FieldState().ActiveClientCount; got != 1 {
		t.Errorf("ActiveClientCount = %d, want 1 while the close is pending", got)
	}

	close(stuck.release)
	if evicted := <-swept; len(evicted) != 1 {
		t.Errorf("evicted = %v, want one client", evicted)
	}
}

func TestJoin_WelcomePrecedesPhaseTicks(t *testing.T) {
	h := newTestHub(t, nil)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				h.PhaseTick()
			}
		}
	}()

	for i := 0; i < 500; i++ {
		id, s := h.join()
		types := s.types()
		if len(types) == 0 || types[0] != protocol.TypeConnectionEstablished {
			close(stop)
			wg.Wait()
			t.Fatalf("client %d first frames = %v, want connection_established first", i, types)
		}
		h.Leave(id)
	}
	close(stop)
	wg.Wait()
}

func TestSubscribeUnsubscribeRoundTrip(t *testing.T) {
	h := newTestHub(t, nil)
	id, s := h.join()

	h.PhaseTick()
	if got := s.count(protocol.TypeBreathingUpdate); got != 1 {
		t.Fatalf("breathing updates = %d, want 1 with default subscriptions", got)
	}

	if err := h.HandleMessage(id, []byte(`{"type":"unsubscribe","channels":["periodic_signal"]}`)); err != nil {
		t.Fatal(err)
	}
	h.PhaseTick()
	if got := s.count(protocol.TypeBreathingUpdate); got != 1 {
		t.Errorf("breathing updates after unsubscribe = %d, want 1", got)
	}

	// Subscribing twice is the same as once.
	for i := 0; i < 2; i++ {
		if err := h.HandleMessage(id, []byte(`{"type":"subscribe","channels":["periodic_signal"]}`)); err != nil {
			t.Fatal(err)
		}
	}
	h.PhaseTick()
	if got := s.count(protocol.TypeBreathingUpdate); got != 2 {
		t.Errorf("breathing updates after resubscribe = %d, want 2", got)
	}
}

func TestFieldCoherenceChannel(t *testing.T) {
	h := newTestHub(t, nil)
	id, s := h.join()

	h.AggregateTick()
	if got := s.count(protocol.TypeFieldCoherenceUpdate); got != 0 {
		t.Fatalf("field_coherence_update without subscription = %d, want 0", got)
	}

	h.HandleMessage(id, []byte(`{"type":"subscribe","channels":["field_coherence"]}`))
	h.AggregateTick()

	var update protocol.FieldCoherenceUpdate
	s.last(t, &update)
	if update.Type != protocol.TypeFieldCoherenceUpdate || update.ZLambda != 0.75 {
		t.Errorf("update = %+v, want zLambda 0.75", update)
	}
}

func TestHandleMessage_ErrorFrames(t *testing.T) {
	h := newTestHub(t, nil)
	id, s := h.join()

	tests := []struct {
		data string
		code string
		want error
	}{
		{`{"type":"teleport"}`, protocol.CodeUnknownType, protocol.ErrUnknownMessageType},
		{`not json`, protocol.CodeMalformedFrame, protocol.ErrMalformedFrame},
		{`{"type":"coherence_update","coherence":7}`, protocol.CodeInvalidField, protocol.ErrInvalidField},
	}

	for _, tt := range tests {
		err := h.HandleMessage(id, []byte(tt.data))
		if !errors.Is(err, tt.want) {
			t.Errorf("HandleMessage(%s) error = %v, want %v", tt.data, err, tt.want)
		}
		var frame protocol.ErrorFrame
		s.last(t, &frame)
		if frame.Type != protocol.TypeError || frame.Code != tt.code {
			t.Errorf("HandleMessage(%s) frame = %+v, want code %s", tt.data, frame, tt.code)
		}
	}

	if s.isClosed() {
		t.Error("bad frames must not close the connection")
	}

	h.HandleMessage(id, []byte(`{"type":"subscribe","channels":["gossip"]}`))
	var frame protocol.ErrorFrame
	s.last(t, &frame)
	if frame.Code != protocol.CodeUnknownChannel {
		t.Errorf("unknown channel frame code = %s, want %s", frame.Code, protocol.CodeUnknownChannel)
	}
}

func TestBroadcast_IsolatesFailedSink(t *testing.T) {
	h := newTestHub(t, nil)
	_, broken := h.join()
	_, healthy := h.join()
	broken.mu.Lock()
	broken.err = buffer.ErrFull
	broken.mu.Unlock()

	delivered, err := h.Broadcaster().Broadcast(protocol.ChannelFieldState, protocol.NewFieldStateUpdate(h.FieldState()))
	if err != nil {
		t.Fatal(err)
	}
	if delivered != 1 {
		t.Errorf("delivered = %d, want 1", delivered)
	}
	if got := healthy.count(protocol.TypeFieldStateUpdate); got != 1 {
		t.Errorf("healthy sink got %d updates, want 1", got)
	}
}

type stubRouter struct {
	last policy.Request
}

func (r *stubRouter) Decide(req policy.Request) (policy.Decision, error) {
	r.last = req
	if _, err := policy.Validate(req); err != nil {
		return policy.Decision{}, err
	}
	return policy.Decision{
		Status:         model.StatusRouted,
		Provider:       "local-mirror",
		SelectedLane:   "local-mirror",
		Reasoning:      policy.ReasonThresholdMet,
		CoherenceScore: *req.CoherenceScore,
	}, nil
}

func TestOracleRequest(t *testing.T) {
	router := &stubRouter{}
	h := newTestHub(t, router)
	id, s := h.join()

	// Report a phase exactly half a cycle away from the hub phase.
	hubPhase := field.Phase(t0, DefaultConfig().PhasePeriod)
	opposite := math.Mod(hubPhase+math.Pi, 2*math.Pi)
	if err := h.HandleMessage(id, []byte(`{"type":"breathing_sync","phase":`+jsonFloat(opposite)+`}`)); err != nil {
		t.Fatal(err)
	}

	err := h.HandleMessage(id, []byte(`{"type":"oracle_request","requestId":"q1","task":{"categoryTag":"mirror"}}`))
	if err != nil {
		t.Fatalf("oracle_request: %v", err)
	}

	if router.last.CoherenceScore == nil || *router.last.CoherenceScore != 0.75 {
		t.Errorf("task score = %v, want client default 0.75", router.last.CoherenceScore)
	}
	if router.last.RequestID != "q1" {
		t.Errorf("task RequestID = %q, want q1", router.last.RequestID)
	}

	var resp protocol.OracleResponse
	s.last(t, &resp)
	if resp.RequestID != "q1" || resp.SelectedOracle != "local-mirror" {
		t.Errorf("response = %+v", resp)
	}
	if resp.CoherenceContext.BreathAdherence == nil || *resp.CoherenceContext.BreathAdherence > 1e-9 {
		t.Errorf("BreathAdherence = %v, want 0", resp.CoherenceContext.BreathAdherence)
	}
}

func TestOracleRequest_InvalidTask(t *testing.T) {
	h := newTestHub(t, &stubRouter{})
	id, s := h.join()

	err := h.HandleMessage(id, []byte(`{"type":"oracle_request","requestId":"q2","task":{"categoryTag":"teleport"}}`))
	var verr *policy.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want *policy.ValidationError", err)
	}

	var frame protocol.ErrorFrame
	s.last(t, &frame)
	if frame.Code != protocol.CodeInvalidRequest {
		t.Errorf("frame code = %s, want %s", frame.Code, protocol.CodeInvalidRequest)
	}
}

func jsonFloat(v float64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
