package session_test

import (
	"testing"

	"github.com/usbarmory/swddbg/bridge/fake"
	"github.com/usbarmory/swddbg/session"
	"github.com/usbarmory/swddbg/target"
)

func TestOpenBringsUpDAPAndTarget(t *testing.T) {
	tg := fake.NewTarget(0x0BC11477)
	sess, err := session.Open(tg.Transport(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	if sess.IDCODE != 0x0BC11477 {
		t.Fatalf("IDCODE = %#x, want 0x0bc11477", sess.IDCODE)
	}
	if sess.Target.State() != target.StateRunning {
		t.Fatalf("Target.State() = %v, want running", sess.Target.State())
	}
}

func TestOpenPropagatesNoTargetError(t *testing.T) {
	tg := fake.NewTarget(0)
	_, err := session.Open(tg.Transport(), nil)
	if err == nil {
		t.Fatalf("Open: want error for IDCODE=0")
	}
}

func TestHaltDelegatesToTarget(t *testing.T) {
	tg := fake.NewTarget(0x0BC11477)
	sess, err := session.Open(tg.Transport(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	if err := sess.Halt(); err != nil {
		t.Fatalf("Halt: %v", err)
	}
	if sess.Target.State() != target.StateHalted {
		t.Fatalf("Target.State() = %v, want halted", sess.Target.State())
	}
}
