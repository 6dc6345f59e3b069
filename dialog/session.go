package dialog

import (
	"time"

	"github.com/hrygo/opsintent/core"
)

// SessionStatus is the lifecycle state of a dialog session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusCancelled SessionStatus = "cancelled"
	StatusExpired   SessionStatus = "expired"

	// StatusPaused suspends a session without closing it, for callers that
	// park a dialog while waiting on an external step. The engine never
	// pauses on its own; a paused session resumes on the next turn.
	StatusPaused SessionStatus = "paused"
)

// Terminal reports whether the session can no longer accept turns.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusExpired
}

// Turn is one exchange in a session. User turns carry the fields extracted
// from their text; assistant turns carry the questions that were asked.
type Turn struct {
	Role      string         `json:"role"` // "user" or "assistant"
	Text      string         `json:"text"`
	Fields    map[string]any `json:"fields,omitempty"`
	Questions []string       `json:"questions,omitempty"`
	At        time.Time      `json:"at"`
}

// Session is the durable state of one guided dialog. The category is fixed
// at creation; only the sub-intent may be refined by rules afterwards.
type Session struct {
	ID              string                `json:"id"`
	Status          SessionStatus         `json:"status"`
	InitialDecision *core.RoutingDecision `json:"initial_decision"`
	CurrentDecision *core.RoutingDecision `json:"current_decision"`
	Turns           []Turn                `json:"turns"`
	Fields          map[string]any        `json:"fields"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// userTurns counts turns contributed by the user.
func (s *Session) userTurns() int {
	n := 0
	for _, t := range s.Turns {
		if t.Role == "user" {
			n++
		}
	}
	return n
}
