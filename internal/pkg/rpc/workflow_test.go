package rpc

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"polip/internal/pkg/device"
	"polip/internal/pkg/transport"

	"github.com/stretchr/testify/require"
)

// scriptedTransport records every decoded push and answers with a fixed
// status and body.
type scriptedTransport struct {
	status int
	body   string
	posts  []device.Document
	urls   []string
}

var _ transport.Transport = (*scriptedTransport)(nil)

func (t *scriptedTransport) Post(_ context.Context, url string, body []byte) (int, []byte, error) {
	var doc device.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return 0, nil, err
	}
	t.posts = append(t.posts, doc)
	t.urls = append(t.urls, url)
	status, resp := t.status, t.body
	if status == 0 {
		status = 200
	}
	if resp == "" {
		resp = "{}"
	}
	return status, []byte(resp), nil
}

func (t *scriptedTransport) Get(context.Context, string) (int, []byte, error) {
	return 200, []byte("{}"), nil
}

// scriptedHandler scripts the accept and cancel decisions and records
// every workflow error.
type scriptedHandler struct {
	accept  bool
	cancel  bool
	accepts int
	cancels int
	errs    []error
}

func (h *scriptedHandler) AcceptRPC(*device.Identity, *Record, device.Document) bool {
	h.accepts++
	return h.accept
}

func (h *scriptedHandler) CancelRPC(*device.Identity, *Record) bool {
	h.cancels++
	return h.cancel
}

func (h *scriptedHandler) RPCWorkflowError(_ *device.Identity, _ *Record, err error) {
	h.errs = append(h.errs, err)
}

type retainingHandler struct {
	scriptedHandler
	delete bool
	sweeps int
}

func (h *retainingHandler) ShouldDeleteExtraRPC(*device.Identity, *Record) bool {
	h.sweeps++
	return h.delete
}

type reacceptingHandler struct {
	scriptedHandler
	reaccept  bool
	reaccepts int
}

func (h *reacceptingHandler) ReacceptRPC(*device.Identity, *Record, device.Document) bool {
	h.reaccepts++
	return h.reaccept
}

type lifecycleHandler struct {
	scriptedHandler
	created int
	freed   int
}

func (h *lifecycleHandler) NewRPC(*device.Identity, *Record, device.Document) { h.created++ }

func (h *lifecycleHandler) FreeRPC(*device.Identity, *Record) { h.freed++ }

type notifyingHandler struct {
	scriptedHandler
	notified int
}

func (h *notifyingHandler) NotificationSetup(*device.Identity, *Record) device.Document {
	return device.Document{"code": 0, "message": "rpc status pushed"}
}

func (h *notifyingHandler) NotificationResponse(*device.Identity, *Record, device.Document) {
	h.notified++
}

func newWorkflowIdentity() *device.Identity {
	return &device.Identity{
		Serial:       "dev-001",
		Hardware:     "hw-rev-a",
		Firmware:     "fw-1.0.0",
		Value:        5,
		SkipTagCheck: true,
	}
}

func newTestWorkflow(t *testing.T, h Handler, capacity int) (*Workflow, *scriptedTransport, *device.Identity) {
	t.Helper()
	tr := &scriptedTransport{}
	client, err := device.NewClient(
		device.WithServerURL("http://ingest.test"),
		device.WithTransport(tr),
	)
	require.NoError(t, err)
	w, err := NewWorkflow(
		WithClient(client),
		WithHandler(h),
		WithParams(Params{Capacity: capacity}),
	)
	require.NoError(t, err)
	return w, tr, newWorkflowIdentity()
}

func pollDoc(entries ...device.Document) device.Document {
	raw := make([]interface{}, len(entries))
	for i, e := range entries {
		raw[i] = e
	}
	return device.Document{"rpc": raw}
}

func offerEntry(uuid, status string) device.Document {
	return device.Document{
		"uuid":       uuid,
		"type":       "set-power",
		"status":     status,
		"parameters": map[string]interface{}{"power": float64(1)},
	}
}

func TestNewWorkflowRequiresHandler(t *testing.T) {
	client, err := device.NewClient(device.WithTransport(&scriptedTransport{}))
	require.NoError(t, err)
	_, err = NewWorkflow(WithClient(client))
	require.ErrorIs(t, err, ErrMissingHook)
}

func TestPollEventAdmitsAndAcknowledges(t *testing.T) {
	h := &scriptedHandler{accept: true}
	w, tr, dev := newTestWorkflow(t, h, 2)
	ctx := context.Background()

	require.NoError(t, w.PollEvent(ctx, dev, pollDoc(offerEntry("rpc-1", "pending"))))
	require.Equal(t, 1, w.ActiveRPCs())
	require.Equal(t, 1, h.accepts)
	require.True(t, w.ShouldUpdate())

	rec := w.FindByUUID("rpc-1")
	require.NotNil(t, rec)
	require.Equal(t, StatusPending, rec.Status)
	require.Equal(t, StatusAcknowledged, rec.NextStatus)

	require.NoError(t, w.PeriodicUpdate(ctx, dev, "2026-08-26T00:00:00Z", false))
	require.Len(t, tr.posts, 1)
	require.Equal(t, "http://ingest.test/api/device/v1/rpc", tr.urls[0])

	pushed, ok := tr.posts[0].Object("rpc")
	require.True(t, ok)
	require.Equal(t, "rpc-1", pushed.String("uuid"))
	require.Equal(t, "acknowledged", pushed.String("status"))
	require.True(t, pushed.Has("result"))
	require.Equal(t, "2026-08-26T00:00:00Z", pushed.String("timestamp"))
	value, ok := tr.posts[0].Uint32("value")
	require.True(t, ok)
	require.Equal(t, uint32(5), value)

	// the pushed status is now confirmed and the record stays tracked
	require.Equal(t, StatusAcknowledged, rec.Status)
	require.Equal(t, 1, w.ActiveRPCs())
	require.False(t, w.ShouldUpdate())
	require.Equal(t, uint32(6), dev.Value)
}

func TestPollEventRefusedOfferIsRejectedAndFreed(t *testing.T) {
	h := &scriptedHandler{accept: false}
	w, tr, dev := newTestWorkflow(t, h, 2)
	ctx := context.Background()

	require.NoError(t, w.PollEvent(ctx, dev, pollDoc(offerEntry("rpc-1", "pending"))))
	rec := w.FindByUUID("rpc-1")
	require.Equal(t, StatusRejected, rec.NextStatus)

	require.NoError(t, w.PeriodicUpdate(ctx, dev, "ts", false))
	pushed, _ := tr.posts[0].Object("rpc")
	require.Equal(t, "rejected", pushed.String("status"))
	require.Equal(t, 0, w.ActiveRPCs())
}

func TestPollEventRepeatedOfferStaysSingle(t *testing.T) {
	h := &scriptedHandler{accept: true}
	w, _, dev := newTestWorkflow(t, h, 2)
	ctx := context.Background()

	require.NoError(t, w.PollEvent(ctx, dev, pollDoc(offerEntry("rpc-1", "pending"))))
	require.NoError(t, w.PollEvent(ctx, dev, pollDoc(offerEntry("rpc-1", "pending"))))
	require.Equal(t, 1, w.ActiveRPCs())
}

func TestReacceptorHandlesResubmission(t *testing.T) {
	h := &reacceptingHandler{scriptedHandler: scriptedHandler{accept: true}, reaccept: true}
	w, _, dev := newTestWorkflow(t, h, 2)
	ctx := context.Background()

	require.NoError(t, w.PollEvent(ctx, dev, pollDoc(offerEntry("rpc-1", "pending"))))
	require.Equal(t, 1, h.accepts)
	require.Equal(t, 0, h.reaccepts)

	// known record reported pending again goes through the reacceptor
	require.NoError(t, w.PollEvent(ctx, dev, pollDoc(offerEntry("rpc-1", "pending"))))
	require.Equal(t, 1, h.accepts)
	require.Equal(t, 1, h.reaccepts)
}

func TestCancellationAcceptedFreesAfterPush(t *testing.T) {
	h := &scriptedHandler{accept: true, cancel: true}
	w, tr, dev := newTestWorkflow(t, h, 2)
	ctx := context.Background()

	require.NoError(t, w.PollEvent(ctx, dev, pollDoc(offerEntry("rpc-1", "pending"))))
	require.NoError(t, w.PeriodicUpdate(ctx, dev, "ts", false))

	require.NoError(t, w.PollEvent(ctx, dev, pollDoc(offerEntry("rpc-1", "canceled"))))
	require.Equal(t, 1, h.cancels)
	rec := w.FindByUUID("rpc-1")
	require.Equal(t, StatusCanceled, rec.Status)
	require.Equal(t, StatusAcknowledged, rec.NextStatus)

	require.NoError(t, w.PeriodicUpdate(ctx, dev, "ts", false))
	pushed, _ := tr.posts[1].Object("rpc")
	require.Equal(t, "acknowledged", pushed.String("status"))
	require.Equal(t, 0, w.ActiveRPCs())
}

func TestCancellationRefusedRealignsToPending(t *testing.T) {
	h := &scriptedHandler{accept: true, cancel: false}
	w, tr, dev := newTestWorkflow(t, h, 2)
	ctx := context.Background()

	require.NoError(t, w.PollEvent(ctx, dev, pollDoc(offerEntry("rpc-1", "pending"))))
	require.NoError(t, w.PeriodicUpdate(ctx, dev, "ts", false))

	require.NoError(t, w.PollEvent(ctx, dev, pollDoc(offerEntry("rpc-1", "canceled"))))
	require.NoError(t, w.PeriodicUpdate(ctx, dev, "ts", false))

	pushed, _ := tr.posts[1].Object("rpc")
	require.Equal(t, "rejected", pushed.String("status"))

	// the server re-offers a refused cancellation as pending, so the
	// record realigns locally and stays tracked
	rec := w.FindByUUID("rpc-1")
	require.NotNil(t, rec)
	require.Equal(t, StatusPending, rec.Status)
	require.Equal(t, StatusPending, rec.NextStatus)
}

func TestTerminalStatusFreesAfterPush(t *testing.T) {
	h := &lifecycleHandler{scriptedHandler: scriptedHandler{accept: true}}
	w, tr, dev := newTestWorkflow(t, h, 2)
	ctx := context.Background()

	require.NoError(t, w.PollEvent(ctx, dev, pollDoc(offerEntry("rpc-1", "pending"))))
	require.Equal(t, 1, h.created)
	require.NoError(t, w.PeriodicUpdate(ctx, dev, "ts", false))

	w.Succeed(w.FindByUUID("rpc-1"))
	require.True(t, w.ShouldUpdate())
	require.NoError(t, w.PeriodicUpdate(ctx, dev, "ts", false))

	pushed, _ := tr.posts[1].Object("rpc")
	require.Equal(t, "success", pushed.String("status"))
	require.Equal(t, 0, w.ActiveRPCs())
	require.Equal(t, 1, h.freed)
}

func TestSweepFreesUnlistedRecords(t *testing.T) {
	h := &scriptedHandler{accept: true}
	w, _, dev := newTestWorkflow(t, h, 2)
	ctx := context.Background()

	require.NoError(t, w.PollEvent(ctx, dev, pollDoc(offerEntry("rpc-1", "pending"))))
	require.NoError(t, w.PeriodicUpdate(ctx, dev, "ts", false))

	// the server stopped listing rpc-1 without the device resolving it
	err := w.PollEvent(ctx, dev, pollDoc())
	require.ErrorIs(t, err, ErrWorkflow)
	require.Len(t, h.errs, 1)
	require.Equal(t, 0, w.ActiveRPCs())
}

func TestSweepDeletionPolicyRetains(t *testing.T) {
	h := &retainingHandler{scriptedHandler: scriptedHandler{accept: true}, delete: false}
	w, _, dev := newTestWorkflow(t, h, 2)
	ctx := context.Background()

	require.NoError(t, w.PollEvent(ctx, dev, pollDoc(offerEntry("rpc-1", "pending"))))
	require.NoError(t, w.PeriodicUpdate(ctx, dev, "ts", false))

	require.NoError(t, w.PollEvent(ctx, dev, pollDoc()))
	require.Equal(t, 1, h.sweeps)
	require.Equal(t, 1, w.ActiveRPCs())

	// retention survives repeated absent listings
	require.NoError(t, w.PollEvent(ctx, dev, pollDoc()))
	require.Equal(t, 2, h.sweeps)
	require.Equal(t, 1, w.ActiveRPCs())
}

func TestAdmissionStopsAtCapacity(t *testing.T) {
	h := &scriptedHandler{accept: true}
	w, _, dev := newTestWorkflow(t, h, 1)
	ctx := context.Background()

	err := w.PollEvent(ctx, dev, pollDoc(
		offerEntry("rpc-1", "pending"),
		offerEntry("rpc-2", "pending"),
	))
	require.NoError(t, err)
	require.Equal(t, 1, w.ActiveRPCs())
	require.NotNil(t, w.FindByUUID("rpc-1"))
	require.Nil(t, w.FindByUUID("rpc-2"))
}

func TestAdmissionRespectsAllowNewRPCs(t *testing.T) {
	h := &scriptedHandler{accept: true}
	w, _, dev := newTestWorkflow(t, h, 2)
	ctx := context.Background()

	w.AllowNewRPCs(false)
	require.NoError(t, w.PollEvent(ctx, dev, pollDoc(offerEntry("rpc-1", "pending"))))
	require.Equal(t, 0, w.ActiveRPCs())

	w.AllowNewRPCs(true)
	require.NoError(t, w.PollEvent(ctx, dev, pollDoc(offerEntry("rpc-1", "pending"))))
	require.Equal(t, 1, w.ActiveRPCs())
}

func TestAdmissionRejectsOversizedIdentifiers(t *testing.T) {
	h := &scriptedHandler{accept: true}
	w, _, dev := newTestWorkflow(t, h, 2)
	ctx := context.Background()

	entry := offerEntry(strings.Repeat("a", MaxUUIDLen+1), "pending")
	require.NoError(t, w.PollEvent(ctx, dev, pollDoc(entry)))
	require.Equal(t, 0, w.ActiveRPCs())
	require.Equal(t, 0, h.accepts)
}

func TestPeriodicUpdateSingleEventPushesOne(t *testing.T) {
	h := &scriptedHandler{accept: true}
	w, tr, dev := newTestWorkflow(t, h, 2)
	ctx := context.Background()

	require.NoError(t, w.PollEvent(ctx, dev, pollDoc(
		offerEntry("rpc-1", "pending"),
		offerEntry("rpc-2", "pending"),
	)))

	require.NoError(t, w.PeriodicUpdate(ctx, dev, "ts", true))
	require.Len(t, tr.posts, 1)
	require.True(t, w.ShouldUpdate())

	require.NoError(t, w.PeriodicUpdate(ctx, dev, "ts", true))
	require.Len(t, tr.posts, 2)
	require.False(t, w.ShouldUpdate())
}

func TestPeriodicUpdateValueMismatchSurfaces(t *testing.T) {
	h := &scriptedHandler{accept: true}
	w, tr, dev := newTestWorkflow(t, h, 2)
	ctx := context.Background()

	require.NoError(t, w.PollEvent(ctx, dev, pollDoc(offerEntry("rpc-1", "pending"))))

	tr.status = 400
	tr.body = "value invalid"
	err := w.PeriodicUpdate(ctx, dev, "ts", false)
	require.ErrorIs(t, err, device.ErrValueMismatch)

	// the record stays dirty for a retry after resync
	rec := w.FindByUUID("rpc-1")
	require.Equal(t, StatusPending, rec.Status)
	require.Equal(t, StatusAcknowledged, rec.NextStatus)
	require.True(t, w.ShouldUpdate())
	require.Equal(t, uint32(5), dev.Value)
}

func TestPeriodicUpdatePushFailureRetries(t *testing.T) {
	h := &scriptedHandler{accept: true}
	w, tr, dev := newTestWorkflow(t, h, 2)
	ctx := context.Background()

	require.NoError(t, w.PollEvent(ctx, dev, pollDoc(offerEntry("rpc-1", "pending"))))

	tr.status = 500
	err := w.PeriodicUpdate(ctx, dev, "ts", false)
	require.ErrorIs(t, err, ErrWorkflow)
	require.Len(t, h.errs, 1)
	require.ErrorIs(t, h.errs[0], device.ErrServerError)
	require.True(t, w.ShouldUpdate())

	tr.status = 0
	require.NoError(t, w.PeriodicUpdate(ctx, dev, "ts", false))
	require.Equal(t, StatusAcknowledged, w.FindByUUID("rpc-1").Status)
}

func TestAdditionalNotificationRequiresNotifier(t *testing.T) {
	h := &scriptedHandler{accept: true}
	tr := &scriptedTransport{}
	client, err := device.NewClient(
		device.WithServerURL("http://ingest.test"),
		device.WithTransport(tr),
	)
	require.NoError(t, err)
	w, err := NewWorkflow(
		WithClient(client),
		WithHandler(h),
		WithParams(Params{Capacity: 1, PushAdditionalNotification: true}),
	)
	require.NoError(t, err)

	ctx := context.Background()
	dev := newWorkflowIdentity()
	require.NoError(t, w.PollEvent(ctx, dev, pollDoc(offerEntry("rpc-1", "pending"))))

	err = w.PeriodicUpdate(ctx, dev, "ts", false)
	require.ErrorIs(t, err, ErrWorkflow)
	require.Len(t, h.errs, 1)
	require.ErrorIs(t, h.errs[0], ErrMissingHook)
}

func TestAdditionalNotificationPushed(t *testing.T) {
	h := &notifyingHandler{scriptedHandler: scriptedHandler{accept: true}}
	tr := &scriptedTransport{}
	client, err := device.NewClient(
		device.WithServerURL("http://ingest.test"),
		device.WithTransport(tr),
	)
	require.NoError(t, err)
	w, err := NewWorkflow(
		WithClient(client),
		WithHandler(h),
		WithParams(Params{Capacity: 1, PushAdditionalNotification: true}),
	)
	require.NoError(t, err)

	ctx := context.Background()
	dev := newWorkflowIdentity()
	require.NoError(t, w.PollEvent(ctx, dev, pollDoc(offerEntry("rpc-1", "pending"))))
	require.NoError(t, w.PeriodicUpdate(ctx, dev, "ts", false))

	require.Len(t, tr.posts, 2)
	require.Equal(t, "http://ingest.test/api/device/v1/rpc", tr.urls[0])
	require.Equal(t, "http://ingest.test/api/device/v1/error", tr.urls[1])
	require.Equal(t, 1, h.notified)
}
