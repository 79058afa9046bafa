// Package device implements the authenticated request/response side of the
// polip device protocol.
//
// Every endpoint follows the same exchange template:
//  1. The identity fields (serial, firmware, hardware, timestamp) are packed
//     into the outbound document alongside any caller-supplied payload.
//  2. Unless skipped, the current sync value is included and the document is
//     tagged with an HMAC over its canonical serialization.
//  3. The document is POSTed to the endpoint and the response decoded.
//  4. A non-success response carrying a "value invalid" indicator maps to
//     ErrValueMismatch; any other non-success maps to ErrServerError.
//  5. Unless skipped, the response tag is verified, and only then is the
//     identity's sync value advanced by exactly one.
//
// The value therefore never advances past a detected fault: a value or tag
// mismatch leaves the counter untouched so that device and server cannot
// silently diverge.
package device
