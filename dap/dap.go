// Package dap implements the Debug/Access Port engine (L2): typed DP and AP
// register access on top of the L1 line protocol, hiding SELECT bank
// selection and AP posted-read timing from callers.
package dap

import (
	"time"

	"go.uber.org/zap"

	"github.com/usbarmory/swddbg/internal/dbgerror"
	"github.com/usbarmory/swddbg/internal/regfield"
	"github.com/usbarmory/swddbg/internal/retry"
	"github.com/usbarmory/swddbg/swd"
)

// Register names one of the four DP registers selectable at A[3:2], and the
// DPBANKSEL value (always 0 for the classic register set this package
// implements; spec.md §3 only names these).
type Register struct {
	A    uint8
	Bank uint8
}

var (
	RegIDCODE   = Register{A: swd.RegIDCODEorABORT}
	RegABORT    = Register{A: swd.RegIDCODEorABORT}
	RegCTRLSTAT = Register{A: swd.RegCTRLorSTAT}
	RegSELECT   = Register{A: swd.RegSELECTorRESEND}
	RegRDBUFF   = Register{A: swd.RegRDBUFForTARGETSEL}
)

// ABORT clear bits (spec.md §4.2).
const (
	abortDAPABORT    = 1 << 0
	abortSTKCMPCLR   = 1 << 1
	abortSTKERRCLR   = 1 << 2
	abortWDERRCLR    = 1 << 3
	abortORUNERRCLR  = 1 << 4
)

// CTRL/STAT bits used by ResetState's power-up handshake.
const (
	ctrlCDBGPWRUPREQ = 28
	ctrlCSYSPWRUPREQ = 30
	ctrlCDBGPWRUPACK = 31
	ctrlCSYSPWRUPACK = 30
	ctrlSTICKYERR    = 5
)

const powerUpRetries = 100

// DAP is a Debug Access Port session over a single swd.Driver.
type DAP struct {
	swd *swd.Driver
	log *zap.SugaredLogger

	selectValid bool
	selectShadow uint32
}

// New constructs a DAP over an already line-reset swd.Driver.
func New(d *swd.Driver, log *zap.SugaredLogger) *DAP {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &DAP{swd: d, log: log}
}

// ReadDP reads a DP register, writing SELECT first only if reg lives in a
// different DPBANKSEL than the current shadow.
func (p *DAP) ReadDP(reg Register) (uint32, error) {
	if err := p.ensureDPBank(reg.Bank); err != nil {
		return 0, dbgerror.Wrap(err, dbgerror.Transport, "dap.ReadDP")
	}

	val, err := p.swd.Transaction(false, true, reg.A, 0)
	if err != nil {
		return 0, p.recover(err, "dap.ReadDP")
	}
	return val, nil
}

// WriteDP writes a DP register, writing SELECT first only if reg lives in a
// different DPBANKSEL than the current shadow.
func (p *DAP) WriteDP(reg Register, val uint32) error {
	if err := p.ensureDPBank(reg.Bank); err != nil {
		return dbgerror.Wrap(err, dbgerror.Transport, "dap.WriteDP")
	}

	_, err := p.swd.Transaction(false, false, reg.A, val)
	if err != nil {
		return p.recover(err, "dap.WriteDP")
	}
	return nil
}

// ReadAP reads an AP register by byte offset, splitting it into
// APBANKSEL (bits 7:4) and A[3:2] (bits 3:2), writing SELECT first only if
// the active (AP,bank) shadow is stale. The posted-read pipeline is hidden
// here via auto-drain: the transaction is followed by a read of RDBUFF so
// callers always see the value of the register they asked for.
func (p *DAP) ReadAP(apIndex uint8, regOffset uint8) (uint32, error) {
	bank := (regOffset >> 4) & 0xF
	a := (regOffset >> 2) & 0x3

	if err := p.ensureAP(apIndex, bank); err != nil {
		return 0, dbgerror.Wrap(err, dbgerror.Transport, "dap.ReadAP")
	}

	if _, err := p.swd.Transaction(true, true, a, 0); err != nil {
		return 0, p.recover(err, "dap.ReadAP: posted issue")
	}

	val, err := p.swd.Transaction(false, true, swd.RegRDBUFForTARGETSEL, 0)
	if err != nil {
		return 0, p.recover(err, "dap.ReadAP: drain RDBUFF")
	}
	return val, nil
}

// WriteAP writes an AP register by byte offset.
func (p *DAP) WriteAP(apIndex uint8, regOffset uint8, val uint32) error {
	bank := (regOffset >> 4) & 0xF
	a := (regOffset >> 2) & 0x3

	if err := p.ensureAP(apIndex, bank); err != nil {
		return dbgerror.Wrap(err, dbgerror.Transport, "dap.WriteAP")
	}

	if _, err := p.swd.Transaction(true, false, a, val); err != nil {
		return p.recover(err, "dap.WriteAP")
	}
	return nil
}

// ResetState zeroes the SELECT shadow, discards an IDCODE read, clears any
// sticky error via ABORT, then powers up the debug and system domains and
// spins until the corresponding CTRL/STAT ACK bits are set (spec.md §4.2).
func (p *DAP) ResetState() error {
	p.selectValid = false

	if _, err := p.swd.Transaction(false, true, swd.RegIDCODEorABORT, 0); err != nil {
		return dbgerror.Wrap(err, dbgerror.Transport, "dap.ResetState: read IDCODE")
	}

	clear := uint32(abortSTKERRCLR | abortSTKCMPCLR | abortWDERRCLR | abortORUNERRCLR)
	if err := p.WriteDP(RegABORT, clear); err != nil {
		return dbgerror.Wrap(err, dbgerror.Transport, "dap.ResetState: clear sticky")
	}

	powerUp := regfield.Set(regfield.Set(0, ctrlCDBGPWRUPREQ), ctrlCSYSPWRUPREQ)
	if err := p.WriteDP(RegCTRLSTAT, powerUp); err != nil {
		return dbgerror.Wrap(err, dbgerror.Transport, "dap.ResetState: power up")
	}

	_, err := retry.Poll(powerUpRetries, time.Millisecond, func() (uint32, error) {
		return p.ReadDP(RegCTRLSTAT)
	}, func(status uint32) bool {
		return regfield.Test(status, ctrlCDBGPWRUPACK) && regfield.Test(status, ctrlCSYSPWRUPACK)
	})
	if err != nil {
		return dbgerror.Wrap(err, dbgerror.TargetTimeout, "dap.ResetState: power-up ack")
	}

	p.log.Debug("dap: reset_state complete, power domains up")
	return nil
}

func (p *DAP) ensureDPBank(bank uint8) error {
	want := (p.selectShadow &^ 0xF) | uint32(bank)
	return p.writeSelectIfStale(want)
}

func (p *DAP) ensureAP(apIndex, bank uint8) error {
	want := (p.selectShadow &^ 0xFFFFFFF0) | uint32(apIndex)<<24 | uint32(bank)<<4
	return p.writeSelectIfStale(want)
}

func (p *DAP) writeSelectIfStale(want uint32) error {
	if p.selectValid && p.selectShadow == want {
		return nil
	}

	if _, err := p.swd.Transaction(false, false, swd.RegSELECTorRESEND, want); err != nil {
		return p.recover(err, "dap.writeSelectIfStale")
	}

	p.selectShadow, p.selectValid = want, true
	return nil
}

// recover implements the FAULT recovery contract of spec.md §4.2: on
// FAULT, read CTRL/STAT to classify, write ABORT with the clear bits, and
// propagate the original error. The SELECT shadow survives a recoverable
// fault.
func (p *DAP) recover(cause error, site string) error {
	if !dbgerror.Is(cause, dbgerror.ProtocolFault) {
		return dbgerror.Wrap(cause, dbgerror.Transport, site)
	}

	if _, err := p.swd.Transaction(false, true, swd.RegCTRLorSTAT, 0); err != nil {
		p.log.Warnw("dap: failed to classify fault", "error", err)
	}

	clear := uint32(abortSTKERRCLR | abortSTKCMPCLR | abortWDERRCLR | abortORUNERRCLR)
	if _, err := p.swd.Transaction(false, false, swd.RegIDCODEorABORT, clear); err != nil {
		p.log.Warnw("dap: failed to clear sticky error", "error", err)
	}

	return dbgerror.Wrap(cause, dbgerror.ProtocolFault, site)
}
