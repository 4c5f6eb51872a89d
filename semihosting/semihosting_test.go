package semihosting_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/usbarmory/swddbg/bridge/fake"
	"github.com/usbarmory/swddbg/dap"
	"github.com/usbarmory/swddbg/internal/dbgerror"
	"github.com/usbarmory/swddbg/memap"
	"github.com/usbarmory/swddbg/semihosting"
	"github.com/usbarmory/swddbg/swd"
	"github.com/usbarmory/swddbg/target"
)

const addrDFSR = 0xE000ED30

func newSupervisor(t *testing.T, tg *fake.Target, out *bytes.Buffer) (*semihosting.Supervisor, *target.Target) {
	t.Helper()
	d := swd.New(tg.Transport(), nil)
	if _, err := d.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	p := dap.New(d, nil)
	if err := p.ResetState(); err != nil {
		t.Fatalf("ResetState: %v", err)
	}
	m := memap.New(p, 0)
	tgt := target.New(m, nil)
	if err := tgt.Initialize(); err != nil {
		t.Fatalf("target.Initialize: %v", err)
	}
	return semihosting.New(tgt, out, nil), tgt
}

// setBreakpointHalt arranges the fake target's register file so the next
// WaitHalted/onHalt round sees: halted with DFSR.BKPT, PC -> pc, the
// halfword 0xBEAB at pc, R0/R1 set to op/param.
func setBreakpointHalt(tg *fake.Target, pc uint32, instrWord uint32, op, param uint32) {
	tg.SetHalted(true)
	tg.Memory[addrDFSR] = 1 << 1 // BKPT
	tg.Memory[pc&^0x3] = instrWord
	tg.SetReg(uint8(target.RegPC), pc)
	tg.SetReg(uint8(target.RegR0), op)
	tg.SetReg(uint8(target.RegR1), param)
}

func TestSemihostingRoundTripWritesByteAndResumes(t *testing.T) {
	tg := fake.NewTarget(0x0BC11477)
	var out bytes.Buffer
	s, _ := newSupervisor(t, tg, &out)

	const pc = 0x1000
	setBreakpointHalt(tg, pc, 0x0000BEAB, 0x03, 'X')

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	if err == nil {
		t.Fatalf("Run: want context deadline after one iteration, got nil")
	}

	if out.String() != "X" {
		t.Fatalf("console output = %q, want %q", out.String(), "X")
	}
	if got := tg.Reg(uint8(target.RegPC)); got != pc+2 {
		t.Fatalf("PC = %#x, want %#x", got, pc+2)
	}
}

func TestSemihostingSysExitReturnsExitError(t *testing.T) {
	tg := fake.NewTarget(0x0BC11477)
	var out bytes.Buffer
	s, _ := newSupervisor(t, tg, &out)

	const pc = 0x1000
	setBreakpointHalt(tg, pc, 0x0000BEAB, 0x18, 0x20026)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	exitErr, ok := err.(*semihosting.ExitError)
	if !ok {
		t.Fatalf("Run err = %v (%T), want *semihosting.ExitError", err, err)
	}
	if !exitErr.Clean() {
		t.Fatalf("ExitError.Clean() = false, want true for reason %#x", exitErr.Reason)
	}
}

// TestSemihostingSysExitPointerFormIsClean exercises SPEC_FULL.md §4.5.1: an
// R1 value that isn't one of the ADP_Stopped_* codes is the pointer-to-
// {reason,subcode} block form and must still be treated as a clean exit.
func TestSemihostingSysExitPointerFormIsClean(t *testing.T) {
	tg := fake.NewTarget(0x0BC11477)
	var out bytes.Buffer
	s, _ := newSupervisor(t, tg, &out)

	const pc = 0x1000
	const exitBlockAddr = 0x20001000 // SRAM address, not an ADP_Stopped_* code
	setBreakpointHalt(tg, pc, 0x0000BEAB, 0x18, exitBlockAddr)

	err := s.Run(context.Background())
	exitErr, ok := err.(*semihosting.ExitError)
	if !ok {
		t.Fatalf("Run err = %v (%T), want *semihosting.ExitError", err, err)
	}
	if !exitErr.Clean() {
		t.Fatalf("ExitError.Clean() = false, want true for pointer-shaped reason %#x", exitErr.Reason)
	}
}

func TestSemihostingUnsupportedOperation(t *testing.T) {
	tg := fake.NewTarget(0x0BC11477)
	var out bytes.Buffer
	s, _ := newSupervisor(t, tg, &out)

	const pc = 0x1000
	setBreakpointHalt(tg, pc, 0x0000BEAB, 0x04, 0) // SYS_WRITE0, unsupported

	err := s.Run(context.Background())
	if !dbgerror.Is(err, dbgerror.SemihostingUnsupported) {
		t.Fatalf("Run err = %v, want semihosting-unsupported", err)
	}
	if got := tg.Reg(uint8(target.RegPC)); got != pc {
		t.Fatalf("PC = %#x, want unchanged %#x", got, pc)
	}
}

func TestSemihostingUnexpectedBreakpointInstruction(t *testing.T) {
	tg := fake.NewTarget(0x0BC11477)
	var out bytes.Buffer
	s, _ := newSupervisor(t, tg, &out)

	const pc = 0x1000
	setBreakpointHalt(tg, pc, 0xDEADBEEF, 0x03, 'X') // not BKPT 0xAB

	err := s.Run(context.Background())
	if !dbgerror.Is(err, dbgerror.SemihostingUnsupported) {
		t.Fatalf("Run err = %v, want semihosting-unsupported", err)
	}
}
