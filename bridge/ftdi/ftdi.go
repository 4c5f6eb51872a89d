// Package ftdi implements bridge.Transport against an FTDI MPSSE-capable USB
// bridge (FT232H/FT2232H/FT4232H family) by bit-banging SWDIO/SWCLK/nRESET as
// GPIO pins exposed by periph.io/x/host/v3/ftdi.
//
// The open/configure/close lifecycle is adapted from the teacher pack's own
// FTDI MPSSE drivers (periph's ftdi/mpsse.go and hostextra/d2xx/mpsse.go).
// Unlike those drivers, this package issues no MPSSE commands: every SWD
// clock is driven through periph's GPIO pin interface, sleeping half the
// SWD clock period on each SWCLK level.
package ftdi

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3/ftdi"

	"github.com/usbarmory/swddbg/bridge"
)

// Programmers is the static programmer table of spec.md §9: common FTDI
// MPSSE parts and their default wiring. Bridge configuration is a compiled
// lookup, not a runtime-extensible registry.
var Programmers = map[string]bridge.Programmer{
	"um232h": {
		Name:     "um232h",
		Config:   bridge.Config{VID: 0x0403, PID: 0x6014, Interface: 0, SWCLK: 4 * physic.MegaHertz},
		SWCLKPin: 0, SWDIOPin: 1, ResetPin: 2,
	},
	"ft232h": {
		Name:     "ft232h",
		Config:   bridge.Config{VID: 0x0403, PID: 0x6014, Interface: 0, SWCLK: 4 * physic.MegaHertz},
		SWCLKPin: 0, SWDIOPin: 1, ResetPin: 3,
	},
	"c232hm": {
		Name:     "c232hm",
		Config:   bridge.Config{VID: 0x0403, PID: 0x6014, Interface: 0, SWCLK: 1 * physic.MegaHertz},
		SWCLKPin: 0, SWDIOPin: 1, ResetPin: 4,
	},
}

// Bridge is a bridge.Transport backed by a real FTDI MPSSE device.
type Bridge struct {
	dev *ftdi.Dev

	clk, dio, rst gpio.PinIO

	clkPin, dioPin, rstPin uint
	halfPeriod             time.Duration
}

// Open returns a Bridge wired per pinout for the first device, among those
// periph's ftdi host driver has enumerated, whose VID and PID match
// pinout's. pinout.Interface is not used to choose a device or channel.
func Open(pinout bridge.Programmer) (*Bridge, error) {
	devs := ftdi.All()

	var dev *ftdi.Dev
	for _, d := range devs {
		info := d.Info()
		if info.VenID == pinout.VID && info.DevID == pinout.PID {
			dev = d
			break
		}
	}
	if dev == nil {
		return nil, fmt.Errorf("ftdi: no device matching %#04x:%#04x", pinout.VID, pinout.PID)
	}

	b := &Bridge{
		dev:    dev,
		clkPin: pinout.SWCLKPin,
		dioPin: pinout.SWDIOPin,
		rstPin: pinout.ResetPin,
	}

	if err := b.Configure(pinout.Config); err != nil {
		return nil, err
	}

	return b, nil
}

func pinByOffset(dev *ftdi.Dev, off uint) gpio.PinIO {
	pins := dev.Pins()
	if int(off) >= len(pins) {
		return nil
	}
	return pins[off]
}

// Configure places the bridge pins into bit-bang mode at the requested SWD
// clock frequency, per spec.md §6's configure(mode_bits).
func (b *Bridge) Configure(cfg bridge.Config) error {
	b.clk = pinByOffset(b.dev, b.clkPin)
	b.dio = pinByOffset(b.dev, b.dioPin)
	b.rst = pinByOffset(b.dev, b.rstPin)

	if b.clk == nil || b.dio == nil || b.rst == nil {
		return errors.New("ftdi: pinout out of range for device")
	}

	if err := b.clk.Out(gpio.Low); err != nil {
		return errors.Wrap(err, "ftdi: configure SWCLK")
	}
	if err := b.dio.Out(gpio.High); err != nil {
		return errors.Wrap(err, "ftdi: configure SWDIO")
	}
	if err := b.rst.Out(gpio.High); err != nil {
		return errors.Wrap(err, "ftdi: configure nRESET")
	}

	if cfg.SWCLK <= 0 {
		cfg.SWCLK = 4 * physic.MegaHertz
	}
	// Two GPIO toggles (drive edge, sample edge) per SWD clock period.
	b.halfPeriod = time.Duration(int64(physic.Hertz) * int64(time.Second) / int64(cfg.SWCLK) / 2)

	return nil
}

// WriteBytes clocks out data one SWD bit per slice element (each element is
// 0x00 or 0x01), the way MPSSE's short bit-stream mode clocks [1,8] bits at a
// time rather than requiring whole-byte alignment — the swd package never
// needs to pad a transaction (header/ack/data/parity/turnaround) out to a
// byte boundary.
func (b *Bridge) WriteBytes(data []byte) error {
	for _, bit := range data {
		if err := b.dio.Out(gpio.Level(bit != 0)); err != nil {
			return errors.Wrap(err, "ftdi: write bit")
		}
		if err := b.clockPulse(); err != nil {
			return err
		}
	}
	return nil
}

// ReadBytes releases SWDIO and clocks in n bits, returning one slice element
// (0x00/0x01) per bit.
func (b *Bridge) ReadBytes(n int) ([]byte, error) {
	if err := b.dio.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return nil, errors.Wrap(err, "ftdi: turn bus to input")
	}

	out := make([]byte, n)
	for i := range out {
		if err := b.clockPulse(); err != nil {
			return nil, err
		}
		if b.dio.Read() {
			out[i] = 1
		}
	}
	return out, nil
}

func (b *Bridge) clockPulse() error {
	if err := b.clk.Out(gpio.High); err != nil {
		return err
	}
	time.Sleep(b.halfPeriod)
	if err := b.clk.Out(gpio.Low); err != nil {
		return err
	}
	time.Sleep(b.halfPeriod)
	return nil
}

// AssertReset drives nRESET low.
func (b *Bridge) AssertReset() error {
	return errors.Wrap(b.rst.Out(gpio.Low), "ftdi: assert reset")
}

// ReleaseReset releases nRESET (open-drain high via external pull-up).
func (b *Bridge) ReleaseReset() error {
	return errors.Wrap(b.rst.Out(gpio.High), "ftdi: release reset")
}

// Close releases the underlying FTDI device.
func (b *Bridge) Close() error {
	return b.dev.Close()
}

var _ bridge.Transport = (*Bridge)(nil)
