package workflow

import "time"

// Clock abstracts wall-clock acquisition so workflow timers can be
// driven deterministically in tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}
