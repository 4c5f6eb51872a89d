// Package fake provides an in-memory bridge.Transport that plays the part of
// a real Cortex-M target answering SWD transactions bit-for-bit: it decodes
// the header, drives ACK/WAIT/FAULT, implements the DP SELECT shadow, the
// AP posted-read pipeline, CSW/TAR/DRW with 1 KiB auto-increment wraparound,
// and a flat word-addressed memory space that doubles as the Cortex-M debug
// control block. It backs the unit tests in swd/, dap/, memap/, target/ and
// semihosting/, and the end-to-end scenarios of spec.md §8.
package fake

import "github.com/usbarmory/swddbg/bridge"

// ACK mirrors swd.ACK without importing it, to keep this package leaf-level.
type ACK uint8

const (
	ackOK    ACK = 0b001
	ackWait  ACK = 0b010
	ackFault ACK = 0b100
)

const windowSize = 1024 // MEM-AP auto-increment window, spec.md §4.3

// Target is the simulated debug target.
type Target struct {
	IDCODE uint32

	// Memory is the flat word-addressed target memory space, including
	// the Cortex-M debug control block at its real absolute addresses.
	Memory map[uint32]uint32

	// Force, if non-empty, pops one forced ACK per transaction that would
	// otherwise be ACKOK, letting tests script WAIT storms and one-shot
	// FAULT injection (spec.md §8 scenarios 4-5).
	Force []ACK

	selectReg uint32
	sticky    bool
	powerUp   bool
	ap        [256]uint32 // byte-offset indexed AP register bank
	posted    uint32

	// Counters for the shadowing properties of spec.md §8.
	Transactions int
	SelectWrites int
	CSWWrites    int
	TARWrites    int
	lastCSW      uint32
	lastCSWValid bool

	pendingWrite bool
	pendingAPnDP bool
	pendingA     uint8

	// halted simulates DHCSR.S_HALT for the Cortex-M register file this
	// target's Memory also models: the debug control block lives at its
	// real absolute addresses (0xE000Exxx) inside Memory, but S_HALT/
	// S_REGRDY aren't plain storage bits, so DHCSR reads/writes are
	// special-cased in readMem/writeMem below.
	halted bool

	// HaltPollDelay, if >0, makes that many DHCSR reads report S_HALT=0
	// after a halt request before reporting the real (halted) state, so
	// tests can exercise the poll loop (spec.md §8 halt-then-resume
	// scenario: "returns S_HALT=1 after 3 polls").
	HaltPollDelay int

	// regs is the core register file, addressed by DCRSR's REGSEL and
	// transferred through the DCRDR staging cell exactly as a real
	// Cortex-M debug control block does (spec.md §4.4): a DCRSR write
	// with REGWnR=1 copies dcrdrStage into regs[REGSEL]; REGWnR=0 copies
	// regs[REGSEL] into Memory[DCRDR] for the following DCRDR read.
	regs       [32]uint32
	dcrdrStage uint32
}

// Cortex-M debug control block addresses this target special-cases.
const (
	addrDHCSR = 0xE000EDF0
	addrDCRSR = 0xE000EDF4
	addrDCRDR = 0xE000EDF8
	addrDEMCR = 0xE000EDFC
	addrAIRCR = 0xE000ED0C
)

const (
	dhcsrCHalt       = 1
	dhcsrSRegRdy     = 16
	dhcsrSHalt       = 17
	demcrVCCoreReset = 0
	aircrSysResetReq = 2
	dcrsrREGWnR      = 16
)

// SetReg sets a core register's simulated value directly (test setup, e.g.
// priming PC/R0/R1 before a scripted breakpoint halt).
func (tg *Target) SetReg(regsel uint8, val uint32) {
	tg.regs[regsel&0x1F] = val
}

// Reg reads a core register's simulated value directly (test assertions).
func (tg *Target) Reg(regsel uint8) uint32 {
	return tg.regs[regsel&0x1F]
}

// SetHalted forces the simulated DHCSR.S_HALT bit, the way a real core
// reports having stopped on a breakpoint without the test having to drive
// the halt request itself.
func (tg *Target) SetHalted(halted bool) {
	tg.halted = halted
}

// NewTarget constructs a Target with an empty memory map.
func NewTarget(idcode uint32) *Target {
	return &Target{IDCODE: idcode, Memory: make(map[uint32]uint32)}
}

// Transport returns a bridge.Transport view of this target, suitable for
// swd.New.
func (tg *Target) Transport() bridge.Transport {
	return &transport{tg: tg}
}

func (tg *Target) popForced() (ACK, bool) {
	if len(tg.Force) == 0 {
		return 0, false
	}
	a := tg.Force[0]
	tg.Force = tg.Force[1:]
	return a, true
}

func (tg *Target) csw() uint32 { return tg.ap[0x00] }
func (tg *Target) tar() uint32 { return tg.ap[0x04] }

func (tg *Target) readMem(addr uint32) uint32 {
	addr &^= 3
	if addr == addrDHCSR {
		v := tg.Memory[addr] | (1 << dhcsrSRegRdy)
		reportHalted := tg.halted
		if reportHalted && tg.HaltPollDelay > 0 {
			tg.HaltPollDelay--
			reportHalted = false
		}
		if reportHalted {
			v |= 1 << dhcsrSHalt
		} else {
			v &^= 1 << dhcsrSHalt
		}
		return v
	}
	return tg.Memory[addr]
}

func (tg *Target) writeMem(addr, val uint32) {
	addr &^= 3
	tg.Memory[addr] = val

	switch addr {
	case addrDHCSR:
		tg.halted = val&(1<<dhcsrCHalt) != 0
	case addrAIRCR:
		if val&(1<<aircrSysResetReq) != 0 && tg.Memory[addrDEMCR]&(1<<demcrVCCoreReset) != 0 {
			tg.halted = true
		}
	case addrDCRDR:
		tg.dcrdrStage = val
	case addrDCRSR:
		regsel := uint8(val & 0x1F)
		if val&(1<<dcrsrREGWnR) != 0 {
			tg.regs[regsel] = tg.dcrdrStage
		} else {
			tg.Memory[addrDCRDR] = tg.regs[regsel]
		}
	}
}

// autoIncrement advances TAR by size bytes, wrapping within the current
// 1 KiB window exactly as real MEM-AP hardware does (spec.md §4.3) — it is
// memap's job, not this target, to notice the wrap and reissue TAR.
func (tg *Target) autoIncrement(size uint32) {
	tar := tg.tar()
	base := tar &^ uint32(windowSize-1)
	offset := (tar + size) & uint32(windowSize-1)
	tg.ap[0x04] = base + offset
}

func sizeOf(csw uint32) uint32 {
	switch csw & 0x3 {
	case 0:
		return 1
	case 1:
		return 2
	default:
		return 4
	}
}

// decide handles the header phase of a transaction: it commits reads
// immediately (their result is fully determined by apndp/a) and classifies
// the ack. Writes are only staged; commitWrite applies them once the data
// phase arrives, matching real hardware where ACK never depends on the
// write payload.
func (tg *Target) decide(apndp, rnw bool, a uint8) (result uint32, ack ACK) {
	if forced, ok := tg.popForced(); ok {
		tg.Transactions++
		if forced == ackFault {
			tg.sticky = true
		}
		return 0, forced
	}

	tg.Transactions++

	// While a sticky error is latched, only the DP accesses needed to
	// recover (IDCODE and CTRL/STAT reads, ABORT writes) are accepted.
	recoveryAccess := !apndp && ((rnw && a <= 0b01) || (!rnw && a == 0b00))
	if tg.sticky && !recoveryAccess {
		return 0, ackFault
	}

	if !rnw {
		tg.pendingWrite, tg.pendingAPnDP, tg.pendingA = true, apndp, a
		return 0, ackOK
	}

	if !apndp {
		return tg.readDP(a), ackOK
	}

	return tg.readAP(tg.apOffset(a)), ackOK
}

// commitWrite applies the write staged by decide, once the 32-bit data
// phase has been clocked in.
func (tg *Target) commitWrite(data uint32) {
	apndp, a := tg.pendingAPnDP, tg.pendingA
	tg.pendingWrite = false

	if !apndp {
		tg.writeDP(a, data)
		return
	}
	tg.writeAP(tg.apOffset(a), data)
}

func (tg *Target) apOffset(a uint8) uint8 {
	bank := (tg.selectReg >> 4) & 0xF
	return uint8(bank<<4) | (a << 2)
}

func (tg *Target) readDP(a uint8) uint32 {
	switch a {
	case 0b00: // IDCODE
		return tg.IDCODE
	case 0b01: // CTRL/STAT
		status := uint32(0)
		if tg.powerUp {
			status |= (1 << 31) | (1 << 30) // CDBGPWRUPACK | CSYSPWRUPACK
		}
		if tg.sticky {
			status |= 1 << 5 // STICKYERR
		}
		return status
	case 0b10: // RESEND: not modeled distinctly, return last posted value
		return tg.posted
	default: // RDBUFF
		result := tg.posted
		tg.posted = 0
		return result
	}
}

func (tg *Target) writeDP(a uint8, data uint32) {
	switch a {
	case 0b00: // ABORT
		if data&0x4 != 0 { // STKERRCLR
			tg.sticky = false
		}
	case 0b01: // CTRL/STAT
		if data&(1<<28) != 0 && data&(1<<30) != 0 { // CDBGPWRUPREQ & CSYSPWRUPREQ
			tg.powerUp = true
		}
	case 0b10: // SELECT
		tg.SelectWrites++
		tg.selectReg = data
	case 0b11: // TARGETSEL: single-target, ignored
	}
}

func (tg *Target) readAP(offset uint8) uint32 {
	result := tg.posted

	switch offset {
	case 0x00:
		tg.posted = tg.ap[0x00]
	case 0x04:
		tg.posted = tg.ap[0x04]
	case 0x0c:
		tg.posted = tg.readMem(tg.tar())
		tg.autoIncrement(sizeOf(tg.csw()))
	default:
		tg.posted = tg.ap[offset]
	}

	return result
}

func (tg *Target) writeAP(offset uint8, val uint32) {
	switch offset {
	case 0x00:
		tg.CSWWrites++
		tg.lastCSW, tg.lastCSWValid = val, true
		tg.ap[0x00] = val
	case 0x04:
		tg.TARWrites++
		tg.ap[0x04] = val
	case 0x0c:
		// For narrow transfers the host has already placed the data in
		// the byte lane addressed by TAR[1:0] (ADIv5 DRW semantics); the
		// target only needs to mask the untouched lanes, not re-shift.
		size := sizeOf(tg.csw())
		lane := tg.tar() & 0x3
		switch size {
		case 4:
			tg.writeMem(tg.tar(), val)
		case 2:
			cur := tg.readMem(tg.tar())
			mask := uint32(0xFFFF) << ((lane & 0x2) * 8)
			tg.writeMem(tg.tar(), (cur&^mask)|(val&mask))
		case 1:
			cur := tg.readMem(tg.tar())
			mask := uint32(0xFF) << (lane * 8)
			tg.writeMem(tg.tar(), (cur&^mask)|(val&mask))
		}
		tg.autoIncrement(size)
	default:
		tg.ap[offset] = val
	}
}

var _ = ackWait
