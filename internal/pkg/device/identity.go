package device

// Identity holds the credentials and sync counter for a single device.
// It is created once at startup and borrowed, never owned, by the
// workflow components. Value is mutated only by the Client (incremented
// after a fully successful value-bearing exchange) and by the resync
// flow (hard overwrite from the server's authoritative value).
type Identity struct {
	// Serial uniquely identifies the device to the server.
	Serial string
	// Key is the revocable secret used for tag generation.
	Key []byte
	// Hardware and Firmware are the version strings reported on every
	// request.
	Hardware string
	Firmware string
	// Value is the monotonic counter identifying the next transmission.
	Value uint32
	// SkipTagCheck disables tag generation and verification. Diagnostic
	// and test use only.
	SkipTagCheck bool
}
