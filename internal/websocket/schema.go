package websocket

import (
	"github.com/stemsi/examflow/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer   Action = "answer"
	ActionNavigate Action = "navigate"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// NavOp names a navigation operation within an ActionNavigate request.
type NavOp string

const (
	NavOpNext     NavOp = "next"
	NavOpPrevious NavOp = "previous"
	NavOpGoTo     NavOp = "goto"
)

// RequestPayload is the single client request shape; fields are used
// depending on Action.
type RequestPayload struct {
	Action Action             `json:"action"`
	QID    string             `json:"q_id,omitempty"`
	Value  *model.AnswerValue `json:"value,omitempty"`
	Op     NavOp              `json:"op,omitempty"`
	Index  int                `json:"index,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventTick      Event = "tick"
	EventSaveState Event = "save_state"
	EventNavigated Event = "navigated"
	EventSubmitted Event = "submitted"
	EventPending   Event = "pending"
	EventPong      Event = "pong"
)

// TickEvent streams the drift-corrected countdown once per second.
type TickEvent struct {
	Event            Event `json:"event"`
	RemainingSeconds int   `json:"remaining_seconds"`
}

// SaveStateEvent acknowledges an answer capture with its assigned sequence.
type SaveStateEvent struct {
	Event     Event           `json:"event"`
	QID       string          `json:"q_id"`
	Sequence  uint64          `json:"sequence"`
	SaveState model.SaveState `json:"save_state"`
}

// NavigatedEvent reports the cursor position after a navigation op.
type NavigatedEvent struct {
	Event         Event   `json:"event"`
	CurrentIndex  int     `json:"current_index"`
	AnsweredCount int     `json:"answered_count"`
	Progress      float64 `json:"progress"`
}

// SubmittedEvent carries the confirmed result of a finished session.
type SubmittedEvent struct {
	Event  Event               `json:"event"`
	Status model.SessionStatus `json:"status"`
	Result *model.ExamResult   `json:"result"`
}

// PendingEvent tells the client its submission is not confirmed yet and the
// page must not be closed.
type PendingEvent struct {
	Event   Event  `json:"event"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
