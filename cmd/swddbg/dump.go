package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/usbarmory/swddbg/rptr"
	"github.com/usbarmory/swddbg/session"
)

// sysMemRemapAddr is SYSCON.SYSMEMREMAP on the LPC-family Cortex-M0 target
// this tool was developed against: 0 maps the boot ROM at address 0, 2 maps
// user flash (spec.md §8 scenario 3, "Dump-flash").
const sysMemRemapAddr = 0x40048000

const sysMemRemapUserFlash = 2

func newDumpCmd(flags *globalFlags) *cobra.Command {
	var words int
	var address uint32

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Unmap the boot-ROM overlay and dump target memory words",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(flags, address, words)
		},
	}

	cmd.Flags().IntVar(&words, "words", 32, "number of 32-bit words to read")
	cmd.Flags().Uint32Var(&address, "address", 0, "target address to start reading from")

	return cmd
}

func runDump(flags *globalFlags, address uint32, words int) error {
	if words <= 0 {
		return errors.Errorf("--words must be positive, got %d", words)
	}

	log := newLogger(flags.verbosity)
	defer log.Sync()

	t, err := openBridge(flags)
	if err != nil {
		return err
	}
	defer t.Close()

	sess, err := session.Open(t, log)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Target.WriteWord(sysMemRemapAddr, sysMemRemapUserFlash); err != nil {
		return errors.Wrap(err, "unmap boot ROM overlay")
	}

	start := rptr.New[rptr.Word](address)
	buf := make([]uint32, words)
	if err := sess.Target.ReadBlockAt(start, buf); err != nil {
		return errors.Wrap(err, "read memory block")
	}

	for i, v := range buf {
		fmt.Printf("%#010x: %#010x\n", start.Add(i).Addr(), v)
	}
	return nil
}
