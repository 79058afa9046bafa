package rpc

import (
	"context"

	"polip/internal/pkg/device"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// DefaultCapacity is the arena capacity used when none is configured.
const DefaultCapacity = 1

// Params configure the workflow algorithm.
type Params struct {
	// Capacity fixes the number of concurrently tracked RPCs.
	Capacity int
	// PushAdditionalNotification also sends a notification on the error
	// route after every status push. Requires the handler to implement
	// Notifier.
	PushAdditionalNotification bool
}

// Workflow tracks server-issued RPCs through their lifecycle: offers are
// reconciled against the server's pending list with a mark-and-sweep pass
// on every poll, and locally decided status transitions are pushed back
// on periodic updates.
type Workflow struct {
	client  *device.Client
	arena   *Arena
	handler Handler
	params  Params

	shouldUpdate  bool
	allowingNew   bool
	masterChecked bool
}

// Cfg configures a Workflow.
type Cfg func(*Workflow) error

// WithClient sets the protocol client used for status pushes.
func WithClient(c *device.Client) Cfg {
	return func(w *Workflow) error {
		w.client = c
		return nil
	}
}

// WithHandler sets the required decision handler.
func WithHandler(h Handler) Cfg {
	return func(w *Workflow) error {
		w.handler = h
		return nil
	}
}

// WithParams sets the workflow parameters.
func WithParams(p Params) Cfg {
	return func(w *Workflow) error {
		w.params = p
		return nil
	}
}

// NewWorkflow creates a new Workflow with the given configuration. The
// arena is allocated here, once, at its fixed capacity.
func NewWorkflow(cfgs ...Cfg) (*Workflow, error) {
	w := &Workflow{
		params:      Params{Capacity: DefaultCapacity},
		allowingNew: true,
	}
	for _, cfg := range cfgs {
		if err := cfg(w); err != nil {
			return nil, errors.Wrap(err, "apply Workflow cfg failed")
		}
	}
	if w.handler == nil {
		return nil, errors.Wrap(ErrMissingHook, "handler is required")
	}
	if w.client == nil {
		return nil, errors.New("client is required")
	}
	arena, err := NewArena(w.params.Capacity)
	if err != nil {
		return nil, errors.Wrap(err, "new arena failed")
	}
	w.arena = arena
	return w, nil
}

// MarkChanged flags the workflow for a periodic update pass.
func (w *Workflow) MarkChanged() {
	w.shouldUpdate = true
}

// ShouldUpdate reports whether a periodic update pass is wanted.
func (w *Workflow) ShouldUpdate() bool {
	return w.shouldUpdate
}

// AllowNewRPCs opens or closes admission of previously-unseen RPCs.
func (w *Workflow) AllowNewRPCs(allow bool) {
	w.allowingNew = allow
}

// ActiveRPCs returns the number of tracked RPCs.
func (w *Workflow) ActiveRPCs() int {
	return w.arena.Len()
}

// ForEachActive iterates the tracked RPCs.
func (w *Workflow) ForEachActive(f func(*Record) bool) {
	w.arena.ForEachActive(f)
}

// FindByUUID returns the tracked RPC with the given id, or nil.
func (w *Workflow) FindByUUID(uuid string) *Record {
	return w.arena.FindByUUID(uuid)
}

// UpdateStatus schedules a status transition for push to the server.
func (w *Workflow) UpdateStatus(rec *Record, status Status) {
	rec.NextStatus = status
	w.shouldUpdate = true
}

// Acknowledge schedules the acknowledged status.
func (w *Workflow) Acknowledge(rec *Record) { w.UpdateStatus(rec, StatusAcknowledged) }

// Reject schedules the rejected status.
func (w *Workflow) Reject(rec *Record) { w.UpdateStatus(rec, StatusRejected) }

// Succeed schedules the terminal success status.
func (w *Workflow) Succeed(rec *Record) { w.UpdateStatus(rec, StatusSuccess) }

// Fail schedules the terminal failure status.
func (w *Workflow) Fail(rec *Record) { w.UpdateStatus(rec, StatusFailure) }

// PollEvent reconciles the tracked set against the server's RPC listing,
// typically the rpc section of a poll response. A fresh generation of the
// master checked bit marks every mentioned record; unmentioned records
// are swept afterwards.
func (w *Workflow) PollEvent(_ context.Context, dev *device.Identity, doc device.Document) error {
	w.masterChecked = !w.masterChecked

	for _, entry := range doc.Array("rpc") {
		uuid := entry.String("uuid")
		status := ParseStatus(entry.String("status"))
		params, _ := entry.Object("parameters")

		if rec := w.arena.FindByUUID(uuid); rec != nil {
			w.reconcileKnown(dev, rec, status, params)
			continue
		}
		if !w.allowingNew || w.arena.Len() >= w.arena.Cap() {
			// Not admitted; the server re-offers on a later poll.
			continue
		}
		w.admit(dev, entry, status, params)
	}

	return w.sweepUnchecked(dev)
}

// reconcileKnown applies a server-reported status to an already-tracked
// record. The report is the server's confirmed view, so it becomes the
// record's current status; only NextStatus tracks the local decision.
func (w *Workflow) reconcileKnown(dev *device.Identity, rec *Record, status Status, params device.Document) {
	rec.checked = w.masterChecked
	rec.Status = status

	switch status {
	case StatusCanceled:
		if w.handler.CancelRPC(dev, rec) {
			w.Acknowledge(rec)
		} else {
			w.Reject(rec)
		}
	case StatusPending:
		// Server reset the RPC to pending, typically a resubmission.
		accepted := false
		if r, ok := w.handler.(Reacceptor); ok {
			accepted = r.ReacceptRPC(dev, rec, params)
		} else {
			accepted = w.handler.AcceptRPC(dev, rec, params)
		}
		if accepted {
			w.Acknowledge(rec)
		} else {
			w.Reject(rec)
		}
	case StatusAcknowledged:
		// Both sides agree; nothing to do.
	default:
		// Any other report is a server-side anomaly; reject defensively.
		w.Reject(rec)
	}
}

// admit takes on a previously-unseen RPC and drives it through the
// first-sighting hooks.
func (w *Workflow) admit(dev *device.Identity, entry device.Document, status Status, params device.Document) {
	uuid := entry.String("uuid")
	typ := entry.String("type")
	if len(uuid) > MaxUUIDLen || len(typ) > MaxTypeLen {
		// Oversized identifiers are almost certainly malformed.
		logger.WithFields(logrus.Fields{
			"serial": dev.Serial,
			"uuid":   uuid,
		}).Warn("rejecting rpc entry with oversized identifiers")
		return
	}
	rec, err := w.arena.Acquire()
	if err != nil {
		return
	}
	rec.UUID = uuid
	rec.Type = typ
	rec.Status = status
	rec.NextStatus = status
	rec.UserContext = nil
	rec.checked = w.masterChecked

	if l, ok := w.handler.(Lifecycle); ok {
		l.NewRPC(dev, rec, params)
	}

	switch status {
	case StatusPending:
		if w.handler.AcceptRPC(dev, rec, params) {
			w.Acknowledge(rec)
		} else {
			w.Reject(rec)
		}
	case StatusCanceled:
		if w.handler.CancelRPC(dev, rec) {
			w.Acknowledge(rec)
		} else {
			w.Reject(rec)
		}
	default:
		// First sighting in an unexpected state; reject defensively.
		w.Reject(rec)
	}
}

// sweepUnchecked frees, or retains on request, every record the server
// failed to mention this generation.
func (w *Workflow) sweepUnchecked(dev *device.Identity) error {
	var swept error
	w.arena.ForEachActive(func(rec *Record) bool {
		if rec.checked == w.masterChecked {
			return true
		}
		if policy, ok := w.handler.(DeletionPolicy); ok {
			if policy.ShouldDeleteExtraRPC(dev, rec) {
				w.freeRPC(dev, rec)
			} else {
				rec.checked = w.masterChecked
			}
			return true
		}
		// Default: a disappearance the application did not sanction is a
		// workflow error.
		err := errors.Wrapf(ErrWorkflow, "rpc %s disappeared from server listing", rec.UUID)
		if eh, ok := w.handler.(ErrorHandler); ok {
			eh.RPCWorkflowError(dev, rec, err)
		}
		w.freeRPC(dev, rec)
		swept = err
		return true
	})
	return swept
}

// PeriodicUpdate pushes every locally decided status transition to the
// server and applies the post-push transition table. With singleEvent set,
// processing stops after the first state-changing push.
//
// A value mismatch is returned untouched so the sync workflow can trigger
// a resync; any other push failure leaves the record dirty for retry,
// reports through the error hook, and surfaces as ErrWorkflow.
func (w *Workflow) PeriodicUpdate(ctx context.Context, dev *device.Identity, timestamp string, singleEvent bool) error {
	w.shouldUpdate = false
	var retErr error

	w.arena.ForEachActive(func(rec *Record) bool {
		if rec.Status == rec.NextStatus {
			return true
		}
		if err := w.pushStatus(ctx, dev, rec, timestamp); err != nil {
			if errors.Is(err, device.ErrValueMismatch) {
				retErr = err
				return false
			}
			if eh, ok := w.handler.(ErrorHandler); ok {
				eh.RPCWorkflowError(dev, rec, err)
			}
			w.shouldUpdate = true // retry next pass
			retErr = errors.Wrap(ErrWorkflow, err.Error())
			return !singleEvent
		}

		prev := rec.Status
		rec.Status = rec.NextStatus
		switch {
		case prev == StatusCanceled && rec.Status == StatusRejected:
			// The server re-offers a refused cancellation as pending;
			// realign locally without waiting for the poll round-trip.
			rec.Status = StatusPending
			rec.NextStatus = StatusPending
		case prev == StatusCanceled && rec.Status == StatusAcknowledged:
			w.freeRPC(dev, rec)
		case rec.Status.Terminal():
			w.freeRPC(dev, rec)
		case rec.Status == StatusUnknown:
			err := errors.Wrapf(ErrWorkflow, "rpc %s pushed into unknown status", rec.UUID)
			if eh, ok := w.handler.(ErrorHandler); ok {
				eh.RPCWorkflowError(dev, rec, err)
			}
			w.freeRPC(dev, rec)
			retErr = err
		}

		return !singleEvent
	})

	// Records left dirty, by the single-event bound or by a push failure,
	// still need a pass.
	w.arena.ForEachActive(func(rec *Record) bool {
		if rec.Status != rec.NextStatus {
			w.shouldUpdate = true
			return false
		}
		return true
	})
	return retErr
}

// pushStatus performs one status push exchange for rec, plus the optional
// trailing notification.
func (w *Workflow) pushStatus(ctx context.Context, dev *device.Identity, rec *Record, timestamp string) error {
	doc := device.Document{
		"rpc": device.Document{
			"uuid":   rec.UUID,
			"result": nil,
			"status": rec.NextStatus.String(),
		},
	}
	if po, ok := w.handler.(PushObserver); ok {
		po.PushRPCSetup(dev, rec, doc)
	}

	resp, err := w.client.PushRPC(ctx, dev, doc, timestamp)
	if err != nil {
		return err
	}
	if po, ok := w.handler.(PushObserver); ok {
		po.PushRPCResponse(dev, rec, resp)
	}

	if w.params.PushAdditionalNotification {
		n, ok := w.handler.(Notifier)
		if !ok {
			return errors.Wrap(ErrMissingHook, "notification push requires a Notifier handler")
		}
		resp, err := w.client.PushNotification(ctx, dev, n.NotificationSetup(dev, rec), timestamp)
		if err != nil {
			return err
		}
		n.NotificationResponse(dev, rec, resp)
	}
	return nil
}

// freeRPC releases rec back to the arena after notifying the lifecycle
// hook.
func (w *Workflow) freeRPC(dev *device.Identity, rec *Record) {
	if l, ok := w.handler.(Lifecycle); ok {
		l.FreeRPC(dev, rec)
	}
	w.arena.Release(rec)
}
