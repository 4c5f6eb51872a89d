package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/usbarmory/swddbg/semihosting"
	"github.com/usbarmory/swddbg/session"
)

func newConsoleCmd(flags *globalFlags) *cobra.Command {
	var resetFirst bool

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Halt, reset, and stream the target's semihosting console to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(flags, resetFirst)
		},
	}

	cmd.Flags().BoolVar(&resetFirst, "reset", true, "reset-halt the target and resume before streaming")

	return cmd
}

func runConsole(flags *globalFlags, resetFirst bool) error {
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

	if resetFirst {
		if err := sess.Target.ResetHalt(); err != nil {
			return errors.Wrap(err, "reset-halt target")
		}
		if err := sess.Target.Resume(); err != nil {
			return errors.Wrap(err, "resume target")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		cancel()
	}()

	sup := semihosting.New(sess.Target, os.Stdout, log)

	err = sup.Run(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		// operator signal: clean termination (spec.md §4.5 "operator
		// signal is delivered to the surrounding program").
		return nil
	case isExitError(err):
		exitErr := err.(*semihosting.ExitError)
		if exitErr.Clean() {
			return nil
		}
		return errors.Errorf("target exited with reason %#x", exitErr.Reason)
	default:
		return err
	}
}

func isExitError(err error) bool {
	_, ok := err.(*semihosting.ExitError)
	return ok
}
