package rpc

// Status is the lifecycle state of a tracked RPC.
type Status int

const (
	// StatusPending is a server-offered RPC awaiting acceptance.
	StatusPending Status = iota
	// StatusSuccess is a terminal successful outcome.
	StatusSuccess
	// StatusFailure is a terminal failed outcome.
	StatusFailure
	// StatusRejected indicates the device refused the RPC or its
	// cancellation.
	StatusRejected
	// StatusAcknowledged indicates the device accepted the RPC (or its
	// cancellation) and is working on it.
	StatusAcknowledged
	// StatusCanceled is a server-initiated request to abandon the RPC.
	StatusCanceled
	// StatusUnknown is the sentinel for unrecognized wire values.
	StatusUnknown
)

// Wire values are exact and case-sensitive.
const (
	statusPendingStr      = "pending"
	statusSuccessStr      = "success"
	statusFailureStr      = "failure"
	statusRejectedStr     = "rejected"
	statusAcknowledgedStr = "acknowledged"
	statusCanceledStr     = "canceled"
	statusUnknownStr      = "unknown"
)

// String returns the wire representation of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return statusPendingStr
	case StatusSuccess:
		return statusSuccessStr
	case StatusFailure:
		return statusFailureStr
	case StatusRejected:
		return statusRejectedStr
	case StatusAcknowledged:
		return statusAcknowledgedStr
	case StatusCanceled:
		return statusCanceledStr
	default:
		return statusUnknownStr
	}
}

// ParseStatus decodes a wire value. Unrecognized input yields
// StatusUnknown rather than an error, preserving the defensive-rejection
// behavior downstream.
func ParseStatus(s string) Status {
	switch s {
	case statusPendingStr:
		return StatusPending
	case statusSuccessStr:
		return StatusSuccess
	case statusFailureStr:
		return StatusFailure
	case statusRejectedStr:
		return StatusRejected
	case statusAcknowledgedStr:
		return StatusAcknowledged
	case statusCanceledStr:
		return StatusCanceled
	default:
		return StatusUnknown
	}
}

// Terminal reports whether the status ends the RPC lifecycle.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure || s == StatusRejected
}
