// Package ingest implements an in-memory polip ingest server.
//
// It exists for development and testing: the server command serves it so
// a device can run against localhost, and the integration tests pair it
// with a real client to exercise full authenticated exchanges.
//
// The server keeps one registration per device serial: the shared key,
// the authoritative sync value, the last pushed state and sensor
// documents, and the list of offered RPCs. Requests are verified the
// same way a production ingest service would: the tag is recomputed over
// the canonical document and the reported sync value must match exactly,
// answering "value invalid" otherwise.
package ingest
