package orchestrator

import "errors"

var (
	// ErrAttemptTimeout is the cancellation cause of an attempt whose timer fired
	ErrAttemptTimeout = errors.New("attempt timed out")
	// ErrUserStopped is the cancellation cause of an explicit stop
	ErrUserStopped = errors.New("stopped by user")

	ErrAllTimedOut        = errors.New("all attempts timed out")
	ErrNoBackendResponded = errors.New("no backend responded")
)

// User-facing texts for a turn that ended without success
const (
	AllTimedOutMessage        = "Timeout: models did not respond within the allotted time. Request cancelled automatically."
	NoBackendRespondedMessage = "No models responded."
)

// PlanExhaustedError is returned when every plan entry ended without success
type PlanExhaustedError struct {
	TimedOut bool
	Attempts int
	Last     error
}

func (e *PlanExhaustedError) Error() string {
	msg := ErrNoBackendResponded.Error()
	if e.TimedOut {
		msg = ErrAllTimedOut.Error()
	}
	if e.Last != nil {
		return msg + ": " + e.Last.Error()
	}
	return msg
}

func (e *PlanExhaustedError) Unwrap() error {
	if e.TimedOut {
		return ErrAllTimedOut
	}
	return ErrNoBackendResponded
}

// UserMessage is the single error shown to the user for this turn
func (e *PlanExhaustedError) UserMessage() string {
	if e.TimedOut {
		return AllTimedOutMessage
	}
	return NoBackendRespondedMessage
}
