package emu

// Config carries settings that affect emulation behavior without being part
// of the emulated hardware's own state.
type Config struct {
	Trace bool // log CPU instructions (wired by cmd/gbemu's -trace flag)

	// LockLY90 forces LY to always read 0x90, matching a test-harness quirk
	// some reference implementations hard-code (Open Question decision D.1).
	// Off by default: production playback wants the real scanline counter.
	LockLY90 bool

	// APUClickSuppression enables per-channel amplitude smoothing to reduce
	// audible pops at channel trigger/disable boundaries (Open Question
	// decision D.2). On by default; the DC-blocking high-pass filter is
	// always applied regardless of this flag.
	APUClickSuppression bool
}

// Defaults returns the production-path configuration.
func Defaults() Config {
	return Config{APUClickSuppression: true}
}
