package workflow

import "polip/internal/pkg/device"

// Source identifies the sync action that produced an event or error.
type Source int

const (
	SourcePushState Source = iota
	SourcePollState
	SourceGetValue
	SourcePushSense
	SourcePushRPC
)

// String returns a stable name for logging.
func (s Source) String() string {
	switch s {
	case SourcePushState:
		return "push-state"
	case SourcePollState:
		return "poll-state"
	case SourceGetValue:
		return "get-value"
	case SourcePushSense:
		return "push-sense"
	case SourcePushRPC:
		return "push-rpc"
	default:
		return "unknown"
	}
}

// Hooks are the application's extension points into the sync loop. Embed
// NoopHooks to implement only the methods of interest.
type Hooks interface {
	// PushStateSetup populates the outbound state payload; it must set
	// the state field.
	PushStateSetup(dev *device.Identity, doc device.Document)
	PushStateResponse(dev *device.Identity, resp device.Document)
	PollStateResponse(dev *device.Identity, resp device.Document)
	ValueResponse(dev *device.Identity, resp device.Document)
	// PushSenseSetup populates the outbound sensor payload; it must set
	// the sense field.
	PushSenseSetup(dev *device.Identity, doc device.Document)
	PushSenseResponse(dev *device.Identity, resp device.Document)
	// WorkflowError receives every recorded per-action failure.
	WorkflowError(dev *device.Identity, source Source, err error)
}

// NoopHooks implements Hooks with no behavior.
type NoopHooks struct{}

func (NoopHooks) PushStateSetup(*device.Identity, device.Document)    {}
func (NoopHooks) PushStateResponse(*device.Identity, device.Document) {}
func (NoopHooks) PollStateResponse(*device.Identity, device.Document) {}
func (NoopHooks) ValueResponse(*device.Identity, device.Document)     {}
func (NoopHooks) PushSenseSetup(*device.Identity, device.Document)    {}
func (NoopHooks) PushSenseResponse(*device.Identity, device.Document) {}
func (NoopHooks) WorkflowError(*device.Identity, Source, error)       {}
