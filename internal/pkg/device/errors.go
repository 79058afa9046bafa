package device

import "github.com/pkg/errors"

// ErrTagMismatch indicates the response tag did not verify; the response
// content must not be trusted.
var ErrTagMismatch = errors.New("tag mismatch")

// ErrValueMismatch indicates the server rejected the request because the
// reported sync value is stale or incorrect.
var ErrValueMismatch = errors.New("value mismatch")

// ErrResponseDeserialization indicates the response body could not be
// decoded; the effect of the request on the server is unknown.
var ErrResponseDeserialization = errors.New("response deserialization failed")

// ErrServerError indicates a non-success response that is not a value
// mismatch.
var ErrServerError = errors.New("server error")

// ErrMalformedRequest indicates the caller-supplied payload is missing a
// required field. The request is rejected before any network call.
var ErrMalformedRequest = errors.New("malformed request")
