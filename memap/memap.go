// Package memap implements the Memory Access Port (L3): target memory
// reads/writes driven through AP CSW/TAR/DRW, including 1 KiB
// auto-increment window crossing and the CSW write-elision shadow.
package memap

import (
	"github.com/pkg/errors"

	"github.com/usbarmory/swddbg/dap"
	"github.com/usbarmory/swddbg/internal/dbgerror"
	"github.com/usbarmory/swddbg/rptr"
)

// MEM-AP register offsets (spec.md §4.3).
const (
	regCSW = 0x00
	regTAR = 0x04
	regDRW = 0x0c
)

// CSW field values (ADIv5 MEM-AP CSW: Size[2:0], AddrInc[5:4], DbgSwEnable[6]).
const (
	cswSizeByte     = 0b000
	cswSizeHalfword = 0b001
	cswSizeWord     = 0b010

	cswAddrIncSingle = 1 << 4
	cswDbgSwEnable   = 1 << 6
)

const windowSize = 1024 // spec.md §4.3

// MemAP is a MEM-AP session bound to a single AP index on a DAP.
type MemAP struct {
	dap     *dap.DAP
	apIndex uint8

	cswValid bool
	csw      uint32
}

// New constructs a MemAP over apIndex, the AP index exposing target memory
// (conventionally AP 0 on a Cortex-M target).
func New(d *dap.DAP, apIndex uint8) *MemAP {
	return &MemAP{dap: d, apIndex: apIndex}
}

// ResetState invalidates the CSW shadow alongside the DAP's own
// reset_state(), since both shadows are invalidated together (spec.md §4.3).
func (m *MemAP) ResetState() error {
	if err := m.dap.ResetState(); err != nil {
		return err
	}
	m.cswValid = false
	return nil
}

// ReadWord reads one word-aligned 32-bit value.
func (m *MemAP) ReadWord(addr uint32) (uint32, error) {
	if addr%4 != 0 {
		return 0, errors.Errorf("memap.ReadWord: addr %#x not word-aligned", addr)
	}
	return m.readOne(addr, cswSizeWord)
}

// WriteWord writes one word-aligned 32-bit value.
func (m *MemAP) WriteWord(addr uint32, val uint32) error {
	if addr%4 != 0 {
		return errors.Errorf("memap.WriteWord: addr %#x not word-aligned", addr)
	}
	return m.writeOne(addr, cswSizeWord, val)
}

// ReadHalfword reads one 2-aligned 16-bit value.
func (m *MemAP) ReadHalfword(addr uint32) (uint16, error) {
	if addr%2 != 0 {
		return 0, errors.Errorf("memap.ReadHalfword: addr %#x not halfword-aligned", addr)
	}
	lane := (addr >> 1) & 1
	v, err := m.readOne(addr, cswSizeHalfword)
	if err != nil {
		return 0, err
	}
	return uint16(v >> (lane * 16)), nil
}

// WriteHalfword writes one 2-aligned 16-bit value.
func (m *MemAP) WriteHalfword(addr uint32, val uint16) error {
	if addr%2 != 0 {
		return errors.Errorf("memap.WriteHalfword: addr %#x not halfword-aligned", addr)
	}
	lane := (addr >> 1) & 1
	return m.writeOne(addr, cswSizeHalfword, uint32(val)<<(lane*16))
}

// ReadByte reads one 8-bit value.
func (m *MemAP) ReadByte(addr uint32) (uint8, error) {
	lane := addr & 0x3
	v, err := m.readOne(addr, cswSizeByte)
	if err != nil {
		return 0, err
	}
	return uint8(v >> (lane * 8)), nil
}

// WriteByte writes one 8-bit value.
func (m *MemAP) WriteByte(addr uint32, val uint8) error {
	lane := addr & 0x3
	return m.writeOne(addr, cswSizeByte, uint32(val)<<(lane*8))
}

func (m *MemAP) readOne(addr uint32, size uint32) (uint32, error) {
	if err := m.ensureCSW(size); err != nil {
		return 0, err
	}
	if err := m.writeTAR(addr); err != nil {
		return 0, err
	}
	v, err := m.dap.ReadAP(m.apIndex, regDRW)
	if err != nil {
		return 0, dbgerror.Wrap(err, dbgerror.Transport, "memap.readOne")
	}
	return v, nil
}

func (m *MemAP) writeOne(addr uint32, size uint32, val uint32) error {
	if err := m.ensureCSW(size); err != nil {
		return err
	}
	if err := m.writeTAR(addr); err != nil {
		return err
	}
	if err := m.dap.WriteAP(m.apIndex, regDRW, val); err != nil {
		return dbgerror.Wrap(err, dbgerror.Transport, "memap.writeOne")
	}
	return nil
}

// ReadBlock reads len(buf) consecutive words starting at addr, issuing one
// CSW write and one TAR write up front, then streaming DRW reads and
// reissuing TAR each time the 1 KiB auto-increment window wraps (spec.md
// §4.3, §8 auto-increment window property).
func (m *MemAP) ReadBlock(addr uint32, buf []uint32) error {
	if len(buf) == 0 {
		return nil
	}
	if addr%4 != 0 {
		return errors.Errorf("memap.ReadBlock: addr %#x not word-aligned", addr)
	}

	if err := m.ensureCSW(cswSizeWord); err != nil {
		return err
	}
	if err := m.writeTAR(addr); err != nil {
		return err
	}

	windowEnd := (addr &^ uint32(windowSize-1)) + windowSize
	for i := range buf {
		cur := addr + uint32(i*4)
		if cur >= windowEnd {
			if err := m.writeTAR(cur); err != nil {
				return err
			}
			windowEnd = (cur &^ uint32(windowSize-1)) + windowSize
		}

		v, err := m.dap.ReadAP(m.apIndex, regDRW)
		if err != nil {
			return dbgerror.Wrap(err, dbgerror.Transport, "memap.ReadBlock")
		}
		buf[i] = v
	}
	return nil
}

// WriteBlock writes buf as consecutive words starting at addr, with the
// same CSW/TAR elision and window-crossing reissue as ReadBlock.
func (m *MemAP) WriteBlock(addr uint32, buf []uint32) error {
	if len(buf) == 0 {
		return nil
	}
	if addr%4 != 0 {
		return errors.Errorf("memap.WriteBlock: addr %#x not word-aligned", addr)
	}

	if err := m.ensureCSW(cswSizeWord); err != nil {
		return err
	}
	if err := m.writeTAR(addr); err != nil {
		return err
	}

	windowEnd := (addr &^ uint32(windowSize-1)) + windowSize
	for i, val := range buf {
		cur := addr + uint32(i*4)
		if cur >= windowEnd {
			if err := m.writeTAR(cur); err != nil {
				return err
			}
			windowEnd = (cur &^ uint32(windowSize-1)) + windowSize
		}

		if err := m.dap.WriteAP(m.apIndex, regDRW, val); err != nil {
			return dbgerror.Wrap(err, dbgerror.Transport, "memap.WriteBlock")
		}
	}
	return nil
}

// ReadWordAt reads through a typed target pointer, per the Design Notes'
// host/target pointer distinction (spec.md §9): callers never hold a raw
// uint32 address past construction, only a Pointer that this method (and
// this method alone) resolves into a transaction.
func (m *MemAP) ReadWordAt(p rptr.Pointer[rptr.Word]) (uint32, error) {
	return m.ReadWord(p.Addr())
}

// WriteWordAt writes through a typed target pointer.
func (m *MemAP) WriteWordAt(p rptr.Pointer[rptr.Word], val uint32) error {
	return m.WriteWord(p.Addr(), val)
}

// ReadHalfwordAt reads through a typed target pointer.
func (m *MemAP) ReadHalfwordAt(p rptr.Pointer[rptr.Halfword]) (uint16, error) {
	return m.ReadHalfword(p.Addr())
}

// WriteHalfwordAt writes through a typed target pointer.
func (m *MemAP) WriteHalfwordAt(p rptr.Pointer[rptr.Halfword], val uint16) error {
	return m.WriteHalfword(p.Addr(), val)
}

// ReadByteAt reads through a typed target pointer.
func (m *MemAP) ReadByteAt(p rptr.Pointer[rptr.Byte]) (uint8, error) {
	return m.ReadByte(p.Addr())
}

// WriteByteAt writes through a typed target pointer.
func (m *MemAP) WriteByteAt(p rptr.Pointer[rptr.Byte], val uint8) error {
	return m.WriteByte(p.Addr(), val)
}

// ReadBlockAt reads len(buf) consecutive words starting at a typed target
// pointer.
func (m *MemAP) ReadBlockAt(p rptr.Pointer[rptr.Word], buf []uint32) error {
	return m.ReadBlock(p.Addr(), buf)
}

// ensureCSW writes CSW only when the transfer size differs from the last
// value this session wrote (spec.md §4.3's CSW shadow).
func (m *MemAP) ensureCSW(size uint32) error {
	want := size | cswAddrIncSingle | cswDbgSwEnable
	if m.cswValid && m.csw == want {
		return nil
	}
	if err := m.dap.WriteAP(m.apIndex, regCSW, want); err != nil {
		return dbgerror.Wrap(err, dbgerror.Transport, "memap.ensureCSW")
	}
	m.csw, m.cswValid = want, true
	return nil
}

func (m *MemAP) writeTAR(addr uint32) error {
	if err := m.dap.WriteAP(m.apIndex, regTAR, addr); err != nil {
		return dbgerror.Wrap(err, dbgerror.Transport, "memap.writeTAR")
	}
	return nil
}
