package protocol

import (
	"errors"
	"time"

	"github.com/rickgao/coherence-hub/internal/field"
	"github.com/rickgao/coherence-hub/internal/model"
)

// Outbound frame types.
const (
	TypeConnectionEstablished = "connection_established"
	TypeFieldStateUpdate      = "field_state_update"
	TypeFieldCoherenceUpdate  = "field_coherence_update"
	TypeBreathingUpdate       = "breathing_update"
	TypeOracleResponse        = "oracle_response"
	TypeError                 = "error"
)

// Subscription channels.
const (
	ChannelFieldState     = "field_state"
	ChannelPeriodicSignal = "periodic_signal"
	ChannelFieldCoherence = "field_coherence"
)

// KnownChannel reports whether ch is a channel the hub publishes on.
func KnownChannel(ch string) bool {
	switch ch {
	case ChannelFieldState, ChannelPeriodicSignal, ChannelFieldCoherence:
		return true
	}
	return false
}

// Error frame codes.
const (
	CodeMalformedFrame = "malformed_frame"
	CodeUnknownType    = "unknown_message_type"
	CodeInvalidField   = "invalid_field"
	CodeUnknownChannel = "unknown_channel"
	CodeInvalidRequest = "invalid_request"
	CodeInternal       = "internal_error"
)

type ConnectionEstablished struct {
	Type       string           `json:"type"`
	ClientID   string           `json:"clientId"`
	FieldState model.FieldState `json:"fieldState"`
}

type FieldStateUpdate struct {
	Type       string           `json:"type"`
	FieldState model.FieldState `json:"fieldState"`
	Timestamp  time.Time        `json:"timestamp"`
}

// FieldCoherenceUpdate carries the bare aggregate coherence (zλ).
type FieldCoherenceUpdate struct {
	Type      string    `json:"type"`
	ZLambda   float64   `json:"zLambda"`
	Timestamp time.Time `json:"timestamp"`
}

type BreathingUpdate struct {
	Type      string          `json:"type"`
	Breathing field.Breathing `json:"breathing"`
}

type OracleResponse struct {
	Type             string           `json:"type"`
	RequestID        string           `json:"requestId"`
	SelectedOracle   string           `json:"selectedOracle"`
	CoherenceContext CoherenceContext `json:"coherenceContext"`
}

// CoherenceContext explains an oracle selection.
type CoherenceContext struct {
	Status          model.Status    `json:"status"`
	Reasoning       string          `json:"reasoning"`
	Lane            string          `json:"lane"`
	ClientCoherence float64         `json:"clientCoherence"`
	FieldCoherence  float64         `json:"fieldCoherence"`
	Stability       model.Stability `json:"stability"`
	BreathAdherence *float64        `json:"breathAdherence,omitempty"`
	Checkpoint      bool            `json:"checkpoint,omitempty"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewConnectionEstablished(clientID string, fs model.FieldState) ConnectionEstablished {
	return ConnectionEstablished{Type: TypeConnectionEstablished, ClientID: clientID, FieldState: fs}
}

func NewFieldStateUpdate(fs model.FieldState) FieldStateUpdate {
	return FieldStateUpdate{Type: TypeFieldStateUpdate, FieldState: fs, Timestamp: fs.Timestamp}
}

func NewFieldCoherenceUpdate(fs model.FieldState) FieldCoherenceUpdate {
	return FieldCoherenceUpdate{Type: TypeFieldCoherenceUpdate, ZLambda: fs.AggregateCoherence, Timestamp: fs.Timestamp}
}

func NewBreathingUpdate(b field.Breathing) BreathingUpdate {
	return BreathingUpdate{Type: TypeBreathingUpdate, Breathing: b}
}

func NewOracleResponse(requestID, oracle string, cc CoherenceContext) OracleResponse {
	return OracleResponse{Type: TypeOracleResponse, RequestID: requestID, SelectedOracle: oracle, CoherenceContext: cc}
}

func NewError(code, message string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Code: code, Message: message}
}

// ErrorFor maps a Decode error to an error frame.
func ErrorFor(err error) ErrorFrame {
	switch {
	case errors.Is(err, ErrUnknownMessageType):
		return NewError(CodeUnknownType, err.Error())
	case errors.Is(err, ErrInvalidField):
		return NewError(CodeInvalidField, err.Error())
	case errors.Is(err, ErrMalformedFrame):
		return NewError(CodeMalformedFrame, err.Error())
	}
	return NewError(CodeInternal, err.Error())
}
