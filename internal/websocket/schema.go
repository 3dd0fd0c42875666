package websocket

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-guard/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionHeartbeat Action = "heartbeat"
	ActionAutosave  Action = "autosave"
	ActionFinalize  Action = "finalize"
	ActionSubmit    Action = "submit"
	ActionEvent     Action = "event"
	ActionPing      Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
	Ref    string `json:"ref,omitempty"` // echoed back so clients can match replies
}

// AnswerRequest carries autosave and finalize actions.
type AnswerRequest struct {
	Action     Action    `json:"action"`
	Ref        string    `json:"ref,omitempty"`
	QuestionID uuid.UUID `json:"q_id"`
	Answer     string    `json:"ans"`
}

// EventRequest reports client-side proctoring telemetry.
type EventRequest struct {
	Action    Action          `json:"action"`
	Ref       string          `json:"ref,omitempty"`
	EventType model.EventType `json:"event_type"`
	Severity  int             `json:"severity"`
	Evidence  json.RawMessage `json:"evidence,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventSaved     Event = "saved"
	EventState     Event = "state"
	EventSubmitted Event = "submitted"
	EventRecorded  Event = "recorded"
	EventPong      Event = "pong"
)

// Message is the server → client envelope.
type Message struct {
	Event Event       `json:"event"`
	Ref   string      `json:"ref,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

// ErrorResponse carries the same code table as the REST envelope.
type ErrorResponse struct {
	Event Event  `json:"event"`
	Ref   string `json:"ref,omitempty"`
	Code  string `json:"code"`
	Error string `json:"error"`
}
