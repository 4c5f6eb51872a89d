// Package regfield provides bitfield get/set primitives for the register
// words exchanged over SWD (DHCSR, DFSR, CSW, SELECT, ABORT, ...).
//
// It is adapted from the teacher's internal/bits package, which performs the
// same pos/mask arithmetic against memory-mapped registers reached through
// unsafe.Pointer; here there is no mapped memory to dereference, so the
// helpers operate on plain uint32 values that the caller reads and writes
// over the wire via swd.Driver.
package regfield

// Get extracts the mask-wide field at bit position pos from word.
func Get(word uint32, pos int, mask uint32) uint32 {
	return (word >> pos) & mask
}

// Set returns word with the single bit at pos set.
func Set(word uint32, pos int) uint32 {
	return word | (1 << uint(pos))
}

// Clear returns word with the single bit at pos cleared.
func Clear(word uint32, pos int) uint32 {
	return word &^ (1 << uint(pos))
}

// SetN returns word with the mask-wide field at pos replaced by val.
func SetN(word uint32, pos int, mask uint32, val uint32) uint32 {
	return (word &^ (mask << uint(pos))) | ((val & mask) << uint(pos))
}

// Test reports whether the bit at pos is set in word.
func Test(word uint32, pos int) bool {
	return Get(word, pos, 1) == 1
}
