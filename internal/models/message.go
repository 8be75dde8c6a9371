package models

// Role identifies the author of a chat message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single chat message. Messages are values: every
// change produces a new Message bound to the same ID.
type Message struct {
	ID        string          `json:"id"`
	Role      Role            `json:"role"`
	Text      string          `json:"text"`
	HTML      string          `json:"html,omitempty"`
	Attempts  []AttemptRecord `json:"attempts,omitempty"` // assistant only
	Streaming bool            `json:"streaming,omitempty"`
	Route     Route           `json:"route,omitempty"`
	Model     string          `json:"model,omitempty"`
	LatencyMS int64           `json:"latency_ms,omitempty"`
	TimedOut  bool            `json:"timed_out,omitempty"`
	Cancelled bool            `json:"cancelled,omitempty"`
}

// Clone returns a copy that shares no slice storage with m
func (m Message) Clone() Message {
	if m.Attempts != nil {
		attempts := make([]AttemptRecord, len(m.Attempts))
		copy(attempts, m.Attempts)
		m.Attempts = attempts
	}
	return m
}

// RunningAttempts counts attempts still in the running state
func (m Message) RunningAttempts() int {
	n := 0
	for _, a := range m.Attempts {
		if a.Status == AttemptRunning {
			n++
		}
	}
	return n
}
