package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/rickgao/coherence-hub/internal/policy"
)

var (
	// ErrMalformedFrame is returned for frames that are not JSON objects or
	// do not match their declared type.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrUnknownMessageType is returned for frames with an unrecognized type.
	ErrUnknownMessageType = errors.New("unknown message type")

	// ErrInvalidField is returned when a field is missing or out of range.
	ErrInvalidField = errors.New("invalid field")
)

// Inbound message types.
const (
	TypeHeartbeat       = "heartbeat"
	TypeSubscribe       = "subscribe"
	TypeUnsubscribe     = "unsubscribe"
	TypeCoherenceUpdate = "coherence_update"
	TypeBreathingSync   = "breathing_sync"
	TypeOracleRequest   = "oracle_request"
)

// Inbound is one decoded client frame.
type Inbound interface {
	MessageType() string
}

// Heartbeat refreshes liveness and optionally reports a new score.
type Heartbeat struct {
	Coherence *float64 `json:"coherence,omitempty"`
}

// Subscription adds or removes channel subscriptions.
type Subscription struct {
	Unsubscribe bool     `json:"-"`
	Channels    []string `json:"channels"`
}

// CoherenceUpdate reports a new coherence score.
type CoherenceUpdate struct {
	Coherence float64 `json:"coherence"`
}

// BreathingSync reports the client's breathing phase in radians.
type BreathingSync struct {
	Phase float64 `json:"phase"`
}

// OracleRequest asks the hub to route a task on the client's behalf.
type OracleRequest struct {
	RequestID string         `json:"requestId"`
	Task      policy.Request `json:"task"`
}

func (Heartbeat) MessageType() string       { return TypeHeartbeat }
func (CoherenceUpdate) MessageType() string { return TypeCoherenceUpdate }
func (BreathingSync) MessageType() string   { return TypeBreathingSync }
func (OracleRequest) MessageType() string   { return TypeOracleRequest }

func (s Subscription) MessageType() string {
	if s.Unsubscribe {
		return TypeUnsubscribe
	}
	return TypeSubscribe
}

type envelope struct {
	Type string `json:"type"`
}

// wire forms keep required numbers as pointers so absence is detectable.
type coherenceWire struct {
	Coherence *float64 `json:"coherence"`
}

type breathingWire struct {
	Phase *float64 `json:"phase"`
}

// PeekType extracts the frame type without a full parse. It returns "" when
// the frame is not a JSON object.
func PeekType(data []byte) string {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ""
	}
	return env.Type
}

// Decode parses one inbound frame.
func Decode(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch env.Type {
	case TypeHeartbeat:
		var w coherenceWire
		if err := unmarshal(data, &w); err != nil {
			return nil, err
		}
		if w.Coherence != nil && !unitInterval(*w.Coherence) {
			return nil, fmt.Errorf("%w: coherence %v outside [0, 1]", ErrInvalidField, *w.Coherence)
		}
		return Heartbeat{Coherence: w.Coherence}, nil

	case TypeSubscribe, TypeUnsubscribe:
		var s Subscription
		if err := unmarshal(data, &s); err != nil {
			return nil, err
		}
		if len(s.Channels) == 0 {
			return nil, fmt.Errorf("%w: channels is required", ErrInvalidField)
		}
		s.Unsubscribe = env.Type == TypeUnsubscribe
		return s, nil

	case TypeCoherenceUpdate:
		var w coherenceWire
		if err := unmarshal(data, &w); err != nil {
			return nil, err
		}
		if w.Coherence == nil {
			return nil, fmt.Errorf("%w: coherence is required", ErrInvalidField)
		}
		if !unitInterval(*w.Coherence) {
			return nil, fmt.Errorf("%w: coherence %v outside [0, 1]", ErrInvalidField, *w.Coherence)
		}
		return CoherenceUpdate{Coherence: *w.Coherence}, nil

	case TypeBreathingSync:
		var w breathingWire
		if err := unmarshal(data, &w); err != nil {
			return nil, err
		}
		if w.Phase == nil || math.IsNaN(*w.Phase) || math.IsInf(*w.Phase, 0) {
			return nil, fmt.Errorf("%w: phase must be a finite number", ErrInvalidField)
		}
		return BreathingSync{Phase: normalizePhase(*w.Phase)}, nil

	case TypeOracleRequest:
		var o OracleRequest
		if err := unmarshal(data, &o); err != nil {
			return nil, err
		}
		if o.RequestID == "" {
			return nil, fmt.Errorf("%w: requestId is required", ErrInvalidField)
		}
		return o, nil

	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
}

func unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return nil
}

func unitInterval(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

func normalizePhase(p float64) float64 {
	p = math.Mod(p, 2*math.Pi)
	if p < 0 {
		p += 2 * math.Pi
	}
	return p
}

// Encode serializes an inbound message with its type field, as a client
// would send it.
func Encode(msg Inbound) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msg.MessageType(), err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msg.MessageType(), err)
	}
	fields["type"], _ = json.Marshal(msg.MessageType())
	return json.Marshal(fields)
}
