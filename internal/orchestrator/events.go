package orchestrator

import "github.com/AliZeynalov/LangDock-LLM-relay/internal/models"

// EventKind names an observable step of a turn
type EventKind string

const (
	EventAttemptStarted   EventKind = "attempt_started"
	EventFirstByte        EventKind = "first_byte"
	EventAttemptTimedOut  EventKind = "attempt_timed_out"
	EventAttemptFailed    EventKind = "attempt_failed"
	EventAttemptCancelled EventKind = "attempt_cancelled"
	EventTurnSucceeded    EventKind = "turn_succeeded"
	EventTurnExhausted    EventKind = "turn_exhausted"
)

// Event is emitted to the Observer as a turn progresses. Text is a short
// notice suitable for a toast, when the event warrants one.
type Event struct {
	Kind      EventKind
	TurnID    string
	MessageID string
	Attempt   int
	Route     models.Route
	Model     string
	Text      string
}

// Observer receives turn events. It is called synchronously from the
// turn's goroutine and must not block.
type Observer func(Event)
