package rpc

import "github.com/pkg/errors"

// ErrMissingHook indicates a required handler was not configured at
// workflow construction.
var ErrMissingHook = errors.New("missing hook")

// ErrArenaExhausted indicates every record slot is active.
var ErrArenaExhausted = errors.New("arena exhausted")

// ErrWorkflow indicates a non-OK outcome was surfaced through a workflow
// pass; the originating cause is reported through the error hook.
var ErrWorkflow = errors.New("rpc workflow error")
