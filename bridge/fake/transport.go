package fake

import "github.com/usbarmory/swddbg/bridge"

// transport adapts a Target to bridge.Transport's bit-per-element wire
// convention (one byte per SWD clock, value 0 or 1 — see bridge/ftdi for
// why), tracking just enough phase state to know whether an incoming
// WriteBytes call is a header, a write data phase, or idle/line-reset
// filler, and whether an outgoing ReadBytes call is a turn+ack phase or a
// read data phase.
type transport struct {
	tg *Target

	haveHeader bool
	apndp      bool
	rnw        bool
	a          uint8
	ack        ACK
	readResult uint32
}

// WriteBytes receives either: line-reset filler (all-high or all-low runs),
// an 8-bit header (Start bit, i.e. bits[0], is always 1), or a 33-bit write
// data+parity phase.
func (tr *transport) WriteBytes(data []byte) error {
	switch {
	case len(data) == 8 && data[0] == 1:
		tr.decodeHeader(data)
	case len(data) == 33:
		value := bitsToWord(data[:32])
		tr.tg.commitWrite(value)
	default:
		// JTAG-to-SWD switch sequence, ≥50-clock high/low framing, and
		// post-write idle cycles: the fake target does not need to
		// validate these, only consume them.
	}
	return nil
}

func (tr *transport) decodeHeader(bits []byte) {
	apndp := bits[1] == 1
	rnw := bits[2] == 1
	a2 := bits[3]
	a3 := bits[4]
	a := a2 | (a3 << 1)

	result, ack := tr.tg.decide(apndp, rnw, a)

	tr.haveHeader = true
	tr.apndp, tr.rnw, tr.a, tr.ack, tr.readResult = apndp, rnw, a, ack, result
}

// ReadBytes serves either the turn+ack phase (n==4), the fault/wait closing
// turnaround (n==1, while no write is pending), the write turnaround
// (n==1, with a write pending), or the read data+parity+turn phase (n==34).
func (tr *transport) ReadBytes(n int) ([]byte, error) {
	switch n {
	case 4:
		return tr.turnAndAck(), nil
	case 34:
		return tr.readDataPhase(), nil
	case 1:
		return make([]byte, 1), nil
	default:
		return make([]byte, n), nil
	}
}

func (tr *transport) turnAndAck() []byte {
	out := make([]byte, 4)
	out[1] = byte(tr.ack) & 1
	out[2] = (byte(tr.ack) >> 1) & 1
	out[3] = (byte(tr.ack) >> 2) & 1
	return out
}

func (tr *transport) readDataPhase() []byte {
	out := make([]byte, 34)
	bits := lsbBits(tr.readResult, 32)
	copy(out[:32], bits)
	out[32] = evenParity(tr.readResult)
	return out
}

func (tr *transport) AssertReset() error             { return nil }
func (tr *transport) ReleaseReset() error            { return nil }
func (tr *transport) Configure(cfg bridge.Config) error { return nil }
func (tr *transport) Close() error                   { return nil }

var _ bridge.Transport = (*transport)(nil)

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

func evenParity(v uint32) byte {
	var p uint32
	for i := 0; i < 32; i++ {
		p ^= (v >> uint(i)) & 1
	}
	return byte(p)
}
