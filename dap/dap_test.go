package dap_test

import (
	"testing"

	"github.com/usbarmory/swddbg/bridge/fake"
	"github.com/usbarmory/swddbg/dap"
	"github.com/usbarmory/swddbg/swd"
)

func newDAP(t *testing.T, tg *fake.Target) *dap.DAP {
	t.Helper()
	d := swd.New(tg.Transport(), nil)
	if _, err := d.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return dap.New(d, nil)
}

func TestResetStatePowersUpDomains(t *testing.T) {
	tg := fake.NewTarget(0x0BC11477)
	p := newDAP(t, tg)

	if err := p.ResetState(); err != nil {
		t.Fatalf("ResetState: %v", err)
	}

	status, err := p.ReadDP(dap.RegCTRLSTAT)
	if err != nil {
		t.Fatalf("ReadDP CTRL/STAT: %v", err)
	}
	if status&(1<<31) == 0 || status&(1<<30) == 0 {
		t.Fatalf("status = %#x, want both power-up acks set", status)
	}
}

func TestSelectShadowElidesRedundantWrite(t *testing.T) {
	tg := fake.NewTarget(0x0BC11477)
	p := newDAP(t, tg)

	if err := p.ResetState(); err != nil {
		t.Fatalf("ResetState: %v", err)
	}

	before := tg.SelectWrites

	if _, err := p.ReadAP(0, 0x00); err != nil { // CSW
		t.Fatalf("ReadAP CSW: %v", err)
	}
	if _, err := p.ReadAP(0, 0x00); err != nil { // same AP/bank again
		t.Fatalf("ReadAP CSW again: %v", err)
	}

	if got := tg.SelectWrites - before; got > 1 {
		t.Fatalf("SelectWrites = %d, want at most 1 for two reads of the same AP register", got)
	}
}

func TestReadAPDrainsPostedResult(t *testing.T) {
	tg := fake.NewTarget(0x0BC11477)
	p := newDAP(t, tg)

	if err := p.ResetState(); err != nil {
		t.Fatalf("ResetState: %v", err)
	}

	tg.Memory[0x2000] = 0xCAFEF00D

	if err := p.WriteAP(0, 0x00, 0x23000032); err != nil { // CSW: word size
		t.Fatalf("WriteAP CSW: %v", err)
	}
	if err := p.WriteAP(0, 0x04, 0x2000); err != nil { // TAR
		t.Fatalf("WriteAP TAR: %v", err)
	}

	got, err := p.ReadAP(0, 0x0c) // DRW, auto-drained
	if err != nil {
		t.Fatalf("ReadAP DRW: %v", err)
	}
	if got != 0xCAFEF00D {
		t.Fatalf("DRW = %#x, want 0xcafef00d", got)
	}
}

func TestFaultRecoveryClearsStickyAndPropagatesError(t *testing.T) {
	tg := fake.NewTarget(0x0BC11477)
	p := newDAP(t, tg)

	if err := p.ResetState(); err != nil {
		t.Fatalf("ResetState: %v", err)
	}

	tg.Force = []fake.ACK{0b100} // FAULT
	if _, err := p.ReadDP(dap.RegCTRLSTAT); err == nil {
		t.Fatalf("ReadDP: want error on forced FAULT")
	}

	// A subsequent transaction should succeed: recover() cleared the
	// sticky flag via ABORT.STKERRCLR.
	if _, err := p.ReadDP(dap.RegCTRLSTAT); err != nil {
		t.Fatalf("ReadDP after recovery: %v", err)
	}
}
