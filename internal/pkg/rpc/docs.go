// Package rpc tracks server-issued remote procedure calls through an
// explicit status state machine.
//
// Records live in a fixed-capacity arena allocated once at workflow
// construction; free and active lists are threaded through the same
// storage by integer index, so no record is ever allocated or freed by
// the general allocator after startup.
//
// The workflow runs two passes:
//
//   - PollEvent reconciles the active set against the server's pending
//     RPC listing using a mark-and-sweep generation bit. Previously
//     unseen offers are admitted through the acceptance hooks, server
//     cancellations through the cancellation hook, and records the
//     server stopped mentioning are swept.
//   - PeriodicUpdate pushes every locally decided status transition to
//     the server, freeing records that reach a terminal outcome.
//
// Success, failure and rejection are terminal. Cancellation is
// transitional: the device answers with acknowledged (record freed) or
// rejected, in which case the server is expected to re-offer the RPC as
// pending and the local record is pre-emptively realigned.
package rpc
