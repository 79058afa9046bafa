// Package workflow implements the periodic device sync loop.
//
// The loop is cooperative and single-threaded: an external caller drives
// discrete ticks, and each tick evaluates a fixed set of competing sync
// actions in priority order:
//
//	1. resynchronize the sync value (pre-empts everything once flagged)
//	2. push pending RPC status changes
//	3. push local state, when it has changed
//	4. poll remote state, when the poll timer has elapsed
//	5. push sensor readings, when flagged or on the sense timer
//
// By default at most one action executes per tick. A value mismatch on
// any action arms the resync flag instead of failing the tick; every
// other failure is recorded, surfaced through the error hook, and the
// loop carries on at the next tick.
package workflow
