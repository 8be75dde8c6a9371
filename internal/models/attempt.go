package models

import "time"

// AttemptStatus is the lifecycle state of one backend attempt
type AttemptStatus string

const (
	AttemptRunning   AttemptStatus = "running"
	AttemptSuccess   AttemptStatus = "success"
	AttemptTimedOut  AttemptStatus = "timed_out"
	AttemptCancelled AttemptStatus = "cancelled"
	AttemptFailed    AttemptStatus = "failed" // transport error, not a timeout
)

// Terminal reports whether the status can no longer change
func (s AttemptStatus) Terminal() bool {
	return s != "" && s != AttemptRunning
}

// AttemptRecord is one entry of an assistant message's attempt history.
// Its index in Message.Attempts equals its position in the route plan.
type AttemptRecord struct {
	Model            string        `json:"model"`
	Route            Route         `json:"route,omitempty"`
	Start            time.Time     `json:"start"`
	Elapsed          int           `json:"elapsed"`                      // seconds
	FirstByteElapsed *int          `json:"first_byte_elapsed,omitempty"` // seconds
	Status           AttemptStatus `json:"status"`
	Error            string        `json:"error,omitempty"`
}

// NewRunningAttempt creates the record for an attempt that is about to start
func NewRunningAttempt(route Route, model string, start time.Time) AttemptRecord {
	return AttemptRecord{
		Model:  model,
		Route:  route,
		Start:  start,
		Status: AttemptRunning,
	}
}

// Finalize returns a copy moved to a terminal status. A record that already
// left running is returned unchanged.
func (a AttemptRecord) Finalize(status AttemptStatus, elapsed int) AttemptRecord {
	if a.Status.Terminal() {
		return a
	}
	a.Status = status
	a.Elapsed = elapsed
	return a
}

// ElapsedSeconds converts a duration into the whole seconds shown to users
func ElapsedSeconds(d time.Duration) int {
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}
