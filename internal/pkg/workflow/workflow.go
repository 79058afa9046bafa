package workflow

import (
	"context"
	"time"

	"polip/internal/pkg/device"
	"polip/internal/pkg/rpc"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// Default periodic thresholds.
const (
	DefaultPollInterval  = time.Second
	DefaultSenseInterval = time.Second
)

// Params configure the sync loop.
type Params struct {
	// OnlyOneEvent caps execution at one sync action per tick, for
	// strict single-request-per-loop-iteration budgets.
	OnlyOneEvent bool
	// PushSensePeriodic pushes sensors on the sense timer in addition to
	// the sense-changed flag.
	PushSensePeriodic bool
	// Poll query flags forwarded to the poll endpoint.
	PollState        bool
	PollManufacturer bool
	PollRPC          bool
	// Timer thresholds.
	PollInterval  time.Duration
	SenseInterval time.Duration
}

// Workflow owns the periodic sync loop: once per tick it selects and
// executes the due sync actions against the server, in fixed priority
// order, with a pending resync strictly pre-empting everything else.
type Workflow struct {
	dev    *device.Identity
	client *device.Client
	rpc    *rpc.Workflow
	hooks  Hooks
	params Params
	clock  Clock

	stateChanged bool
	senseChanged bool
	needsResync  bool
	lastErr      error

	pollTimer  time.Time
	senseTimer time.Time
}

// Cfg configures a Workflow.
type Cfg func(*Workflow) error

// WithIdentity sets the device identity the workflow syncs for.
func WithIdentity(dev *device.Identity) Cfg {
	return func(w *Workflow) error {
		w.dev = dev
		return nil
	}
}

// WithClient sets the protocol client.
func WithClient(c *device.Client) Cfg {
	return func(w *Workflow) error {
		w.client = c
		return nil
	}
}

// WithRPCWorkflow attaches an RPC workflow. Poll responses are forwarded
// into its reconciliation step and its pending pushes run on this loop.
func WithRPCWorkflow(r *rpc.Workflow) Cfg {
	return func(w *Workflow) error {
		w.rpc = r
		return nil
	}
}

// WithHooks sets the application hooks.
func WithHooks(h Hooks) Cfg {
	return func(w *Workflow) error {
		w.hooks = h
		return nil
	}
}

// WithParams sets the loop parameters.
func WithParams(p Params) Cfg {
	return func(w *Workflow) error {
		w.params = p
		return nil
	}
}

// WithClock sets the time source.
func WithClock(c Clock) Cfg {
	return func(w *Workflow) error {
		w.clock = c
		return nil
	}
}

// NewWorkflow creates a new Workflow with the given configuration and
// seeds both timers with the current time.
func NewWorkflow(cfgs ...Cfg) (*Workflow, error) {
	w := &Workflow{
		hooks: NoopHooks{},
		clock: realClock{},
		params: Params{
			OnlyOneEvent:  true,
			PollState:     true,
			PollInterval:  DefaultPollInterval,
			SenseInterval: DefaultSenseInterval,
		},
	}
	for _, cfg := range cfgs {
		if err := cfg(w); err != nil {
			return nil, errors.Wrap(err, "apply Workflow cfg failed")
		}
	}
	if w.dev == nil {
		return nil, errors.New("identity is required")
	}
	if w.client == nil {
		return nil, errors.New("client is required")
	}
	if w.params.PollInterval <= 0 {
		w.params.PollInterval = DefaultPollInterval
	}
	if w.params.SenseInterval <= 0 {
		w.params.SenseInterval = DefaultSenseInterval
	}
	now := w.clock.Now()
	w.pollTimer = now
	w.senseTimer = now
	return w, nil
}

// StateChanged flags the device state as dirty; the next tick pushes it.
func (w *Workflow) StateChanged() {
	w.stateChanged = true
}

// SenseChanged flags the sensor readings as dirty; the next tick pushes
// them.
func (w *Workflow) SenseChanged() {
	w.senseChanged = true
}

// InError reports whether an error has been recorded since the last
// acknowledgment.
func (w *Workflow) InError() bool {
	return w.lastErr != nil
}

// LastError returns the last recorded error.
func (w *Workflow) LastError() error {
	return w.lastErr
}

// AckError clears the recorded error.
func (w *Workflow) AckError() {
	w.lastErr = nil
}

// PeriodicUpdate runs one tick of the sync loop. Returns ErrWorkflow if
// any executed action failed; the loop is always safe to tick again.
func (w *Workflow) PeriodicUpdate(ctx context.Context) error {
	now := w.clock.Now()
	timestamp := now.UTC().Format(time.RFC3339)
	events := 0
	var retErr error

	budgetSpent := func() bool {
		return w.params.OnlyOneEvent && events >= 1
	}
	record := func(source Source, err error) {
		w.lastErr = err
		retErr = errors.Wrap(ErrWorkflow, err.Error())
		w.hooks.WorkflowError(w.dev, source, err)
	}

	// Resync strictly pre-empts every ordinary action. The flag clears
	// up front: a failed fetch leaves the value stale, and the next
	// mismatched exchange re-arms it.
	if w.needsResync {
		w.needsResync = false
		resp, err := w.client.GetValue(ctx, w.dev, timestamp)
		if err != nil {
			record(SourceGetValue, err)
		} else {
			logger.WithFields(logrus.Fields{
				"serial": w.dev.Serial,
				"value":  w.dev.Value,
			}).Info("sync value restored from server")
			w.hooks.ValueResponse(w.dev, resp)
		}
		events++
	}

	// Push pending RPC status changes.
	if w.rpc != nil && w.rpc.ShouldUpdate() && !budgetSpent() {
		err := w.rpc.PeriodicUpdate(ctx, w.dev, timestamp, w.params.OnlyOneEvent)
		switch {
		case errors.Is(err, device.ErrValueMismatch):
			w.needsResync = true
		case err != nil:
			record(SourcePushRPC, err)
		}
		events++
	}

	// Push state.
	if w.stateChanged && !budgetSpent() {
		doc := device.Document{}
		w.hooks.PushStateSetup(w.dev, doc)
		resp, err := w.client.PushState(ctx, w.dev, doc, timestamp)
		switch {
		case errors.Is(err, device.ErrValueMismatch):
			w.needsResync = true
		case err != nil:
			record(SourcePushState, err)
		default:
			w.stateChanged = false
			// Current state was just pushed; no need to poll right away.
			w.pollTimer = now
			w.hooks.PushStateResponse(w.dev, resp)
		}
		events++
	}

	// Poll state.
	if !w.stateChanged && now.Sub(w.pollTimer) >= w.params.PollInterval && !budgetSpent() {
		resp, err := w.client.GetState(ctx, w.dev, timestamp,
			w.params.PollState, w.params.PollManufacturer, w.params.PollRPC)
		switch {
		case errors.Is(err, device.ErrValueMismatch):
			w.needsResync = true
		case err != nil:
			record(SourcePollState, err)
		default:
			w.pollTimer = now
			w.hooks.PollStateResponse(w.dev, resp)
			if w.rpc != nil {
				if err := w.rpc.PollEvent(ctx, w.dev, resp); err != nil {
					record(SourcePollState, err)
				}
			}
		}
		events++
	}

	// Push sensors.
	senseDue := w.senseChanged ||
		(w.params.PushSensePeriodic && now.Sub(w.senseTimer) >= w.params.SenseInterval)
	if senseDue && !budgetSpent() {
		doc := device.Document{}
		w.hooks.PushSenseSetup(w.dev, doc)
		resp, err := w.client.PushSensors(ctx, w.dev, doc, timestamp)
		switch {
		case errors.Is(err, device.ErrValueMismatch):
			w.needsResync = true
		case err != nil:
			record(SourcePushSense, err)
		default:
			w.senseChanged = false
			w.senseTimer = now
			w.hooks.PushSenseResponse(w.dev, resp)
		}
		events++
	}

	return retErr
}
