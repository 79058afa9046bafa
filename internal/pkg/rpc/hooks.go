package rpc

import "polip/internal/pkg/device"

// Handler supplies the decisions the workflow cannot make on its own: it
// is required at construction.
type Handler interface {
	// AcceptRPC decides whether a newly offered RPC is taken on.
	// Returning true acknowledges the RPC; false rejects it.
	AcceptRPC(dev *device.Identity, rec *Record, params device.Document) bool
	// CancelRPC decides whether a server cancellation is honored.
	// Returning true acknowledges the cancellation (and the record is
	// freed once pushed); false rejects it.
	CancelRPC(dev *device.Identity, rec *Record) bool
}

// The remaining hooks are optional capabilities discovered by type
// assertion on the Handler.

// Reacceptor handles an already-tracked RPC unexpectedly reported as
// pending again, typically a server-side resubmission. Handlers that do
// not implement it fall back to AcceptRPC.
type Reacceptor interface {
	ReacceptRPC(dev *device.Identity, rec *Record, params device.Document) bool
}

// DeletionPolicy decides the fate of an active record the server stopped
// mentioning. Returning false keeps the record for another poll cycle.
// Without a policy the record is freed and a workflow error raised.
type DeletionPolicy interface {
	ShouldDeleteExtraRPC(dev *device.Identity, rec *Record) bool
}

// Lifecycle observes record creation and release.
type Lifecycle interface {
	NewRPC(dev *device.Identity, rec *Record, params device.Document)
	FreeRPC(dev *device.Identity, rec *Record)
}

// PushObserver customizes and observes status push exchanges.
type PushObserver interface {
	// PushRPCSetup may amend the outbound document, e.g. to attach a
	// result payload.
	PushRPCSetup(dev *device.Identity, rec *Record, doc device.Document)
	PushRPCResponse(dev *device.Identity, rec *Record, resp device.Document)
}

// Notifier supplies the additional notification pushed after a status
// update when the workflow is configured to do so.
type Notifier interface {
	// NotificationSetup returns the notification payload; it must carry
	// code and message fields.
	NotificationSetup(dev *device.Identity, rec *Record) device.Document
	NotificationResponse(dev *device.Identity, rec *Record, resp device.Document)
}

// ErrorHandler receives every non-OK outcome the workflow encounters.
type ErrorHandler interface {
	RPCWorkflowError(dev *device.Identity, rec *Record, err error)
}
