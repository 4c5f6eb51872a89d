// Command swddbg is the host-side SWD debug agent of spec.md §1: it brings
// a Cortex-M target into a halted debug state, streams its semihosting
// console, and dumps target memory, over an FTDI MPSSE bridge.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}
