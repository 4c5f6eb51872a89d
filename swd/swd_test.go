package swd_test

import (
	"testing"

	"github.com/usbarmory/swddbg/bridge/fake"
	"github.com/usbarmory/swddbg/internal/dbgerror"
	"github.com/usbarmory/swddbg/swd"
)

func TestInitializeReadsIDCODE(t *testing.T) {
	tg := fake.NewTarget(0x0BC11477)
	d := swd.New(tg.Transport(), nil)

	idcode, err := d.Initialize()
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if idcode != 0x0BC11477 {
		t.Fatalf("idcode = %#x, want 0x0bc11477", idcode)
	}
}

func TestInitializeNoTarget(t *testing.T) {
	tg := fake.NewTarget(0)
	d := swd.New(tg.Transport(), nil)

	if _, err := d.Initialize(); !dbgerror.Is(err, dbgerror.NoTarget) {
		t.Fatalf("Initialize err = %v, want no-target", err)
	}
}

func TestWriteThenReadWord(t *testing.T) {
	tg := fake.NewTarget(0x0BC11477)
	d := swd.New(tg.Transport(), nil)

	if _, err := d.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	tg.Memory[0x1000] = 0xDEADBEEF

	// Select AP0 bank 0 and point TAR at 0x1000, CSW word transfers.
	if err := write(d, false, false, swd.RegSELECTorRESEND, 0); err != nil {
		t.Fatalf("write SELECT: %v", err)
	}
	if _, err := d.Transaction(true, false, 0, 0x23000032); err != nil {
		t.Fatalf("write CSW: %v", err)
	}
	if _, err := d.Transaction(true, false, 1, 0x1000); err != nil {
		t.Fatalf("write TAR: %v", err)
	}

	// AP reads are posted: the first read of DRW is discarded/garbage,
	// RDBUFF returns the real value.
	if _, err := d.Transaction(true, true, 3, 0); err != nil {
		t.Fatalf("posted read: %v", err)
	}
	got, err := d.Transaction(false, true, swd.RegRDBUFForTARGETSEL, 0)
	if err != nil {
		t.Fatalf("read RDBUFF: %v", err)
	}
	if got != 0xDEADBEEF {
		t.Fatalf("RDBUFF = %#x, want 0xdeadbeef", got)
	}
}

func TestWaitStormRetries(t *testing.T) {
	tg := fake.NewTarget(0x0BC11477)
	d := swd.New(tg.Transport(), nil)
	if _, err := d.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	tg.Force = make([]fake.ACK, 7)
	for i := range tg.Force {
		tg.Force[i] = 0b010 // WAIT
	}

	before := tg.Transactions
	if _, err := d.Transaction(false, true, swd.RegCTRLorSTAT, 0); err != nil {
		t.Fatalf("Transaction: %v", err)
	}
	if got := tg.Transactions - before; got != 8 {
		t.Fatalf("transactions = %d, want 8", got)
	}
}

func TestFaultSurfacesProtocolFault(t *testing.T) {
	tg := fake.NewTarget(0x0BC11477)
	d := swd.New(tg.Transport(), nil)
	if _, err := d.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	tg.Force = []fake.ACK{0b100} // FAULT
	_, err := d.Transaction(false, true, swd.RegCTRLorSTAT, 0)
	if !dbgerror.Is(err, dbgerror.ProtocolFault) {
		t.Fatalf("err = %v, want protocol-fault", err)
	}
}

func write(d *swd.Driver, apndp, rnw bool, a uint8, data uint32) error {
	_, err := d.Transaction(apndp, rnw, a, data)
	return err
}
