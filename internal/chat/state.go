// Package chat holds the conversation log and its attempt histories.
//
// State is a value. Every transition is a pure function returning a new
// State; existing Message values and slices are never modified, so a
// snapshot handed out earlier stays valid forever.
package chat

import (
	"time"

	"github.com/google/uuid"

	"github.com/AliZeynalov/LangDock-LLM-relay/internal/models"
)

// State is the full chat log plus the user's preferences
type State struct {
	Messages    []models.Message
	TimeoutFast time.Duration
	TimeoutSlow time.Duration
	Sending     bool
	SendError   string
}

// NewState returns an empty log with the given attempt timeouts
func NewState(timeoutFast, timeoutSlow time.Duration) State {
	return State{TimeoutFast: timeoutFast, TimeoutSlow: timeoutSlow}
}

// TimeoutFor returns the configured timeout for a concrete route
func (s State) TimeoutFor(route models.Route) time.Duration {
	if route == models.RouteSlow {
		return s.TimeoutSlow
	}
	return s.TimeoutFast
}

// Find locates a message by ID
func (s State) Find(id string) (models.Message, int, bool) {
	if id == "" {
		return models.Message{}, -1, false
	}
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].ID == id {
			return s.Messages[i], i, true
		}
	}
	return models.Message{}, -1, false
}

// Target addresses a message. ID is authoritative; Index is only a fallback
// for callers that have no ID, and -1 means "no index".
type Target struct {
	ID    string
	Index int
}

// ByID targets a message by identifier only
func ByID(id string) Target {
	return Target{ID: id, Index: -1}
}

// NewMessageID generates a stable message identifier
func NewMessageID(role models.Role) string {
	return string(role) + "-" + uuid.NewString()
}

// AppendUserAndPlaceholder adds the user's prompt and an empty assistant
// message for the reply, returning the placeholder's ID.
func AppendUserAndPlaceholder(s State, prompt string, route models.Route, model string) (State, string) {
	user := models.Message{
		ID:   NewMessageID(models.RoleUser),
		Role: models.RoleUser,
		Text: prompt,
	}
	placeholder := models.Message{
		ID:        NewMessageID(models.RoleAssistant),
		Role:      models.RoleAssistant,
		Attempts:  []models.AttemptRecord{},
		Streaming: true,
		Route:     route,
		Model:     model,
	}
	s.Messages = appendMessages(s.Messages, user, placeholder)
	return s, placeholder.ID
}

// AddMessage appends a message as is
func AddMessage(s State, m models.Message) State {
	if m.ID == "" {
		m.ID = NewMessageID(m.Role)
	}
	s.Messages = appendMessages(s.Messages, m.Clone())
	return s
}

// AppendChunk appends a fragment to the target message. Resolution order is
// ID, then index, then the most recent assistant message still streaming.
// Empty fragments and unresolvable targets leave s unchanged.
func AppendChunk(s State, t Target, fragment string) State {
	if fragment == "" {
		return s
	}
	i := resolve(s, t)
	if i < 0 {
		return s
	}
	return replaceAt(s, i, func(m models.Message) models.Message {
		m.Text += fragment
		m.Streaming = true
		return m
	})
}

// UpdateMessage replaces the message with the given ID by fn(old)
func UpdateMessage(s State, id string, fn func(models.Message) models.Message) State {
	_, i, ok := s.Find(id)
	if !ok {
		return s
	}
	return replaceAt(s, i, fn)
}

// AttemptMutation derives a new attempt record from the current one. The
// current record is the zero value when the slot did not exist yet.
type AttemptMutation func(models.AttemptRecord) models.AttemptRecord

// UpdateAttempt rewrites attempt slot index of message id, creating it if
// needed. The attempt list only ever grows.
func UpdateAttempt(s State, id string, index int, mut AttemptMutation) State {
	if index < 0 {
		return s
	}
	return UpdateMessage(s, id, func(m models.Message) models.Message {
		attempts := make([]models.AttemptRecord, max(len(m.Attempts), index+1))
		copy(attempts, m.Attempts)
		attempts[index] = mut(attempts[index])
		m.Attempts = attempts
		return m
	})
}

// SetSending records whether a turn is in flight
func SetSending(s State, sending bool) State {
	s.Sending = sending
	return s
}

// SetSendError records the single user-visible error of a turn
func SetSendError(s State, msg string) State {
	s.SendError = msg
	return s
}

// SetTimeouts updates the per-backend timeout preferences
func SetTimeouts(s State, fast, slow time.Duration) State {
	if fast > 0 {
		s.TimeoutFast = fast
	}
	if slow > 0 {
		s.TimeoutSlow = slow
	}
	return s
}

// ClearAll empties the log. Timeout preferences are kept.
func ClearAll(s State) State {
	return State{TimeoutFast: s.TimeoutFast, TimeoutSlow: s.TimeoutSlow}
}

func resolve(s State, t Target) int {
	if _, i, ok := s.Find(t.ID); ok {
		return i
	}
	if t.Index >= 0 && t.Index < len(s.Messages) {
		return t.Index
	}
	for i := len(s.Messages) - 1; i >= 0; i-- {
		m := s.Messages[i]
		if m.Role == models.RoleAssistant && m.Streaming {
			return i
		}
	}
	return -1
}

// replaceAt returns s with message i replaced by fn(copy of message i).
// The messages slice is copied so earlier snapshots are untouched.
func replaceAt(s State, i int, fn func(models.Message) models.Message) State {
	msgs := make([]models.Message, len(s.Messages))
	copy(msgs, s.Messages)
	msgs[i] = fn(msgs[i].Clone())
	s.Messages = msgs
	return s
}

func appendMessages(msgs []models.Message, add ...models.Message) []models.Message {
	out := make([]models.Message, 0, len(msgs)+len(add))
	out = append(out, msgs...)
	return append(out, add...)
}
