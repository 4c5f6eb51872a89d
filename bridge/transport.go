// Package bridge defines the byte-channel transport the SWD stack requires
// from the USB bridge chip, and the static programmer table that maps a
// human-readable bridge name to its wiring. The physical byte transport
// itself, beyond selecting a device by VID/PID and interface index, is out
// of scope for the core protocol stack (spec.md §1) — this package only
// fixes the shape external glue must provide.
package bridge

import "periph.io/x/conn/v3/physic"

// Transport is the opaque byte channel the SWD line driver requires from the
// bridge chip (spec.md §6).
type Transport interface {
	// WriteBytes sends data to the bridge.
	WriteBytes(data []byte) error
	// ReadBytes synchronously reads exactly n bytes from the bridge.
	ReadBytes(n int) ([]byte, error)
	// AssertReset drives the target system reset pin low.
	AssertReset() error
	// ReleaseReset releases the target system reset pin.
	ReleaseReset() error
	// Configure places the bridge into bit-banging serial mode at the
	// given clock frequency.
	Configure(cfg Config) error
	// Close releases the underlying device.
	Close() error
}

// Config carries the concrete parameters of configure(mode_bits) from
// spec.md §6: clock frequency, device selector, and interface index.
type Config struct {
	// VID is the USB vendor ID of the bridge device.
	VID uint16
	// PID is the USB product ID of the bridge device.
	PID uint16
	// Interface selects the bridge's multi-interface channel (0-3).
	Interface int
	// SWCLK is the target SWD clock frequency.
	SWCLK physic.Frequency
}

// Programmer describes one entry of the static programmer table
// (spec.md §9): a named bridge wiring with its default Config and the
// MPSSE pin assignment for SWDIO/SWCLK/nRESET.
type Programmer struct {
	Name string
	Config
	// SWCLKPin, SWDIOPin, ResetPin are bit positions within the bridge's
	// GPIO byte (ADBUS/ACBUS for FTDI MPSSE parts).
	SWCLKPin, SWDIOPin, ResetPin uint
}
