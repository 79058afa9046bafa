package workflow

import "github.com/pkg/errors"

// ErrWorkflow indicates at least one sync action failed during a tick.
// The originating cause is recorded and surfaced through the error hook;
// the tick loop itself never halts on it.
var ErrWorkflow = errors.New("sync workflow error")
