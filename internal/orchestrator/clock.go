package orchestrator

import "time"

// Timer is a pending callback that can be stopped
type Timer interface {
	Stop() bool
}

// Clock supplies time and timers to the orchestrator
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
