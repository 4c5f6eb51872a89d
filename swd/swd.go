// Package swd implements the SWD line protocol (L1): framing one
// (APnDP, RnW, A[3:2], data?) transaction into bridge clock bits, parsing
// the ACK/data/parity reply, and driving the JTAG-to-SWD line-reset
// sequence. It is the only package that talks directly to bridge.Transport;
// every layer above it works in terms of DP/AP register numbers, never raw
// bits.
package swd

import (
	"go.uber.org/zap"

	"github.com/usbarmory/swddbg/bridge"
	"github.com/usbarmory/swddbg/internal/dbgerror"
)

// ACK is the 3-bit SWD acknowledge code, LSB-first on the wire.
type ACK uint8

const (
	ACKOK    ACK = 0b001
	ACKWait  ACK = 0b010
	ACKFault ACK = 0b100
)

// A[3:2] register selectors, shared between DP and AP space (spec.md §3).
const (
	RegIDCODEorABORT     uint8 = 0b00
	RegCTRLorSTAT        uint8 = 0b01
	RegSELECTorRESEND    uint8 = 0b10
	RegRDBUFForTARGETSEL uint8 = 0b11
)

// switchSequence is the 16-bit JTAG-to-SWD pattern 0x79E7, LSB-first on the
// wire (spec.md §6).
const switchSequence uint16 = 0x79e7

// waitRetries bounds the WAIT-ACK retry loop (spec.md §4.1: "the reference
// uses an outer retry loop with 100 attempts").
const waitRetries = 100

// idleCycles is the minimum number of low idle clocks emitted after a write
// transaction so the DP can latch it (spec.md §4.1).
const idleCycles = 8

// Driver is the L1 SWD line driver: one per physical connection.
type Driver struct {
	t   bridge.Transport
	log *zap.SugaredLogger
}

// New constructs a Driver over the given transport.
func New(t bridge.Transport, log *zap.SugaredLogger) *Driver {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Driver{t: t, log: log}
}

// Initialize drives the line-reset sequence (≥50 high clocks, the 0x79E7
// JTAG-to-SWD switch pattern, ≥50 high clocks, ≥2 idle low clocks) and then
// reads DP.IDCODE, as spec.md §4.1 requires of the first transaction after
// reset.
func (d *Driver) Initialize() (idcode uint32, err error) {
	if err = d.lineReset(); err != nil {
		return 0, dbgerror.Wrap(err, dbgerror.Transport, "swd.Initialize: line reset")
	}

	idcode, err = d.Transaction(false, true, RegIDCODEorABORT, 0)
	if err != nil {
		return 0, dbgerror.Wrap(err, dbgerror.NoTarget, "swd.Initialize: read IDCODE")
	}

	if idcode == 0 || idcode == 0xFFFFFFFF {
		return 0, dbgerror.New(dbgerror.NoTarget, "swd.Initialize", "IDCODE read returned no target")
	}

	d.log.Debugw("swd initialized", "idcode", idcode)
	return idcode, nil
}

func (d *Driver) lineReset() error {
	high := onesOf(56) // > 50 required high clocks

	if err := d.t.WriteBytes(high); err != nil {
		return err
	}
	if err := d.t.WriteBytes(lsbBits(uint32(switchSequence), 16)); err != nil {
		return err
	}
	if err := d.t.WriteBytes(high); err != nil {
		return err
	}
	if err := d.t.WriteBytes(make([]byte, 4)); err != nil { // ≥2 idle low cycles
		return err
	}

	return nil
}

// EnterReset asserts the target system reset line via the transport.
func (d *Driver) EnterReset() error {
	return dbgerror.Wrap(d.t.AssertReset(), dbgerror.Transport, "swd.EnterReset")
}

// LeaveReset releases the target system reset line.
func (d *Driver) LeaveReset() error {
	return dbgerror.Wrap(d.t.ReleaseReset(), dbgerror.Transport, "swd.LeaveReset")
}

// Transaction issues a single SWD transaction (spec.md §4.1), retrying on a
// WAIT ack up to waitRetries times. a selects the A[3:2] register within the
// current DP/AP bank; data is only consulted when !rnw.
func (d *Driver) Transaction(apndp, rnw bool, a uint8, data uint32) (uint32, error) {
	for attempt := 0; attempt < waitRetries; attempt++ {
		result, ack, err := d.transactionOnce(apndp, rnw, a, data)
		if err != nil {
			return 0, err
		}

		switch ack {
		case ACKOK:
			return result, nil
		case ACKWait:
			d.log.Debugw("swd: WAIT ack, retrying", "attempt", attempt)
			continue
		case ACKFault:
			return 0, dbgerror.New(dbgerror.ProtocolFault, "swd.Transaction", "FAULT ack")
		default:
			return 0, dbgerror.New(dbgerror.NoTarget, "swd.Transaction", "unrecognized ack bits")
		}
	}

	return 0, dbgerror.New(dbgerror.ProtocolAckWait, "swd.Transaction", "WAIT retry budget exhausted")
}

// transactionOnce clocks exactly one header/ack/data(/parity) cycle and
// reports the ack the target returned, leaving retry policy to the caller.
func (d *Driver) transactionOnce(apndp, rnw bool, a uint8, data uint32) (uint32, ACK, error) {
	header := buildHeader(apndp, rnw, a)

	if err := d.t.WriteBytes(lsbBits(uint32(header), 8)); err != nil {
		return 0, 0, dbgerror.Wrap(err, dbgerror.Transport, "swd.transactionOnce: header")
	}

	turnAck, err := d.t.ReadBytes(4) // 1 turnaround + 3 ack bits
	if err != nil {
		return 0, 0, dbgerror.Wrap(err, dbgerror.Transport, "swd.transactionOnce: turn+ack")
	}

	ack := ACK(turnAck[1]) | ACK(turnAck[2])<<1 | ACK(turnAck[3])<<2

	if ack != ACKOK {
		// WAIT/FAULT: one more turnaround bit and no data phase.
		if _, err := d.t.ReadBytes(1); err != nil {
			return 0, 0, dbgerror.Wrap(err, dbgerror.Transport, "swd.transactionOnce: fault/wait turn")
		}
		return 0, ack, nil
	}

	if rnw {
		phase, err := d.t.ReadBytes(34) // 32 data + 1 parity + 1 turnaround
		if err != nil {
			return 0, 0, dbgerror.Wrap(err, dbgerror.Transport, "swd.transactionOnce: read data")
		}

		value := bitsToWord(phase[:32])
		wantParity := evenParity(value)
		if phase[32]&1 != wantParity {
			return 0, 0, dbgerror.New(dbgerror.ProtocolParity, "swd.transactionOnce", "data parity mismatch")
		}

		return value, ACKOK, nil
	}

	if _, err := d.t.ReadBytes(1); err != nil { // turnaround: host reclaims the line
		return 0, 0, dbgerror.Wrap(err, dbgerror.Transport, "swd.transactionOnce: write turn")
	}

	payload := append(lsbBits(data, 32), evenParity(data))
	if err := d.t.WriteBytes(payload); err != nil {
		return 0, 0, dbgerror.Wrap(err, dbgerror.Transport, "swd.transactionOnce: write data")
	}

	if err := d.t.WriteBytes(make([]byte, idleCycles)); err != nil {
		return 0, 0, dbgerror.Wrap(err, dbgerror.Transport, "swd.transactionOnce: idle")
	}

	return 0, ACKOK, nil
}

// buildHeader packs the 8-bit SWD request header, LSB-first:
// Start(1) APnDP RnW A2 A3 Parity Stop(0) Park(1).
func buildHeader(apndp, rnw bool, a uint8) byte {
	bit := func(v bool) byte {
		if v {
			return 1
		}
		return 0
	}

	a2 := bit(a&0b01 != 0)
	a3 := bit(a&0b10 != 0)
	parity := bit(apndp) ^ bit(rnw) ^ a2 ^ a3

	var h byte
	h |= 1 << 0 // Start
	h |= bit(apndp) << 1
	h |= bit(rnw) << 2
	h |= a2 << 3
	h |= a3 << 4
	h |= parity << 5
	h |= 0 << 6 // Stop
	h |= 1 << 7 // Park

	return h
}

func evenParity(v uint32) byte {
	var p uint32
	for i := 0; i < 32; i++ {
		p ^= (v >> uint(i)) & 1
	}
	return byte(p)
}

func lsbBits(v uint32, n int) []byte {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = byte((v >> uint(i)) & 1)
	}
	return out
}

func bitsToWord(bits []byte) uint32 {
	var v uint32
	for i, b := range bits {
		if b&1 != 0 {
			v |= 1 << uint(i)
		}
	}
	return v
}

func onesOf(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = 1
	}
	return out
}
