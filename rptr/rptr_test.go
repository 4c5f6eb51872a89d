package rptr_test

import (
	"testing"

	"github.com/usbarmory/swddbg/rptr"
)

func TestAddAdvancesByElementSize(t *testing.T) {
	p := rptr.New[rptr.Word](0x1000)
	if got := p.Add(4).Addr(); got != 0x1010 {
		t.Fatalf("Add(4).Addr() = %#x, want 0x1010", got)
	}

	h := rptr.New[rptr.Halfword](0x2000)
	if got := h.Add(3).Addr(); got != 0x2006 {
		t.Fatalf("Add(3).Addr() = %#x, want 0x2006", got)
	}
}

func TestAligned(t *testing.T) {
	if !rptr.New[rptr.Word](0x2000).Aligned() {
		t.Fatalf("0x2000 should be word-aligned")
	}
	if rptr.New[rptr.Word](0x2001).Aligned() {
		t.Fatalf("0x2001 should not be word-aligned")
	}
	if !rptr.New[rptr.Byte](0x2001).Aligned() {
		t.Fatalf("byte pointer should always be aligned")
	}
}
