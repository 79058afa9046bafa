package apps

import (
	"context"
	"time"

	"polip/internal/pkg/device"
	"polip/internal/pkg/log"
	"polip/internal/pkg/rpc"
	"polip/internal/pkg/validate"
	"polip/internal/pkg/workflow"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// DeviceAppCfg configures a DeviceApp.
type DeviceAppCfg interface {
	ApplyDeviceApp(*DeviceApp) error
}

// DeviceApp runs a simulated device against an ingest server: it keeps a
// small state document in sync, reports an uptime sensor, and completes
// every RPC the server offers.
type DeviceApp struct {
	ServerURL   string `validate:"required"`
	DeviceFile  string `validate:"required"`
	TickMS      int    `validate:"required,gt=0"`
	RPCCapacity int    `validate:"required,gt=0"`

	runID   uuid.UUID
	started time.Time
	state   device.Document
}

// NewDeviceApp creates a new DeviceApp.
func NewDeviceApp(cfgs ...DeviceAppCfg) (*DeviceApp, error) {
	app := &DeviceApp{}
	for _, cfg := range cfgs {
		if err := cfg.ApplyDeviceApp(app); err != nil {
			return nil, errors.Wrap(err, "apply DeviceApp cfg failed")
		}
	}
	if err := validate.Validate().Struct(app); err != nil {
		return nil, errors.Wrap(err, "validate DeviceApp failed")
	}
	app.runID = uuid.New()
	app.state = device.Document{"power": "off"}
	return app, nil
}

// Run runs the device sync loop until the context is canceled.
func (app *DeviceApp) Run(ctx context.Context, _ []string) error {
	profile, err := LoadProfile(app.DeviceFile)
	if err != nil {
		return errors.Wrap(err, "load device profile failed")
	}
	dev := profile.Identity()

	client, err := device.NewClient(device.WithServerURL(app.ServerURL))
	if err != nil {
		return errors.Wrap(err, "new client failed")
	}
	if err := client.CheckServerStatus(ctx); err != nil {
		return errors.Wrap(err, "ingest server unreachable")
	}

	rpcWf, err := rpc.NewWorkflow(
		rpc.WithClient(client),
		rpc.WithHandler(&deviceHandler{}),
		rpc.WithParams(rpc.Params{Capacity: app.RPCCapacity}),
	)
	if err != nil {
		return errors.Wrap(err, "new rpc workflow failed")
	}
	wf, err := workflow.NewWorkflow(
		workflow.WithIdentity(dev),
		workflow.WithClient(client),
		workflow.WithRPCWorkflow(rpcWf),
		workflow.WithHooks(&deviceHooks{app: app}),
		workflow.WithParams(workflow.Params{
			OnlyOneEvent:      true,
			PollState:         true,
			PollRPC:           true,
			PushSensePeriodic: true,
			PollInterval:      time.Duration(app.TickMS) * time.Millisecond,
			SenseInterval:     10 * time.Duration(app.TickMS) * time.Millisecond,
		}),
	)
	if err != nil {
		return errors.Wrap(err, "new sync workflow failed")
	}

	app.started = time.Now()
	logger.WithFields(logrus.Fields{
		"run_id": app.runID.String(),
		"serial": dev.Serial,
		"server": app.ServerURL,
	}).Info("device started")

	// Announce the current state once at boot.
	wf.StateChanged()

	ticker := time.NewTicker(time.Duration(app.TickMS) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.WithField("run_id", app.runID.String()).Info("device stopped")
			return nil
		case <-ticker.C:
			if err := wf.PeriodicUpdate(ctx); err != nil {
				logger.WithError(err).Warn("sync tick failed")
				wf.AckError()
			}
			app.completeAcknowledged(rpcWf)
		}
	}
}

// completeAcknowledged marks every acknowledged RPC as succeeded. A real
// firmware would do its work first; the simulator finishes immediately.
func (app *DeviceApp) completeAcknowledged(rpcWf *rpc.Workflow) {
	rpcWf.ForEachActive(func(rec *rpc.Record) bool {
		if rec.Status == rpc.StatusAcknowledged && rec.NextStatus == rpc.StatusAcknowledged {
			logger.WithFields(log.RecordToFields(rec)).Info("completing rpc")
			rpcWf.Succeed(rec)
		}
		return true
	})
}

// deviceHooks adapts the sync loop to the simulated device.
type deviceHooks struct {
	workflow.NoopHooks
	app *DeviceApp
}

func (h *deviceHooks) PushStateSetup(_ *device.Identity, doc device.Document) {
	doc["state"] = h.app.state
}

func (h *deviceHooks) PollStateResponse(_ *device.Identity, resp device.Document) {
	if state, ok := resp.Object("state"); ok && len(state) > 0 {
		h.app.state = state
	}
}

func (h *deviceHooks) PushSenseSetup(_ *device.Identity, doc device.Document) {
	doc["sense"] = device.Document{
		"uptime_s": int64(time.Since(h.app.started).Seconds()),
	}
}

func (h *deviceHooks) WorkflowError(dev *device.Identity, source workflow.Source, err error) {
	logger.WithFields(logrus.Fields{
		"serial": dev.Serial,
		"source": source.String(),
	}).WithError(err).Warn("sync action failed")
}

// deviceHandler accepts every offered RPC and honors cancellations.
type deviceHandler struct{}

func (*deviceHandler) AcceptRPC(dev *device.Identity, rec *rpc.Record, _ device.Document) bool {
	logger.WithField("serial", dev.Serial).WithFields(log.RecordToFields(rec)).Info("accepting rpc")
	return true
}

func (*deviceHandler) CancelRPC(dev *device.Identity, rec *rpc.Record) bool {
	logger.WithField("serial", dev.Serial).WithFields(log.RecordToFields(rec)).Info("canceling rpc")
	return true
}

func (*deviceHandler) RPCWorkflowError(dev *device.Identity, rec *rpc.Record, err error) {
	entry := logger.WithField("serial", dev.Serial)
	if rec != nil {
		entry = entry.WithFields(log.RecordToFields(rec))
	}
	entry.WithError(err).Warn("rpc workflow error")
}
