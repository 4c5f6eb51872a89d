package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/usbarmory/swddbg/bridge"
	"github.com/usbarmory/swddbg/bridge/ftdi"
)

// globalFlags mirrors spec.md §6's CLI surface: debug-verbosity level,
// programmer selector, VID, PID, interface index.
type globalFlags struct {
	verbosity int
	programmer string
	vid, pid  uint16
	iface     int
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "swddbg",
		Short:         "SWD debug agent for Cortex-M targets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().CountVarP(&flags.verbosity, "verbose", "v", "increase log verbosity (repeatable)")
	root.PersistentFlags().StringVar(&flags.programmer, "programmer", "um232h", "bridge programmer name (see bridge/ftdi.Programmers)")
	root.PersistentFlags().Uint16Var(&flags.vid, "vid", 0, "override bridge USB vendor ID")
	root.PersistentFlags().Uint16Var(&flags.pid, "pid", 0, "override bridge USB product ID")
	root.PersistentFlags().IntVar(&flags.iface, "interface", -1, "override bridge interface index (0-3)")

	root.AddCommand(newConsoleCmd(flags))
	root.AddCommand(newDumpCmd(flags))

	return root
}

// newLogger maps the repeatable -v flag onto a zap level: 0=info, 1=debug,
// 2+=debug with caller (spec.md §1.1 [EXPANSION]).
func newLogger(verbosity int) *zap.SugaredLogger {
	cfg := zap.NewDevelopmentConfig()
	switch {
	case verbosity <= 0:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.DisableCaller = verbosity < 2

	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return log.Sugar()
}

// openBridge resolves flags.programmer against the static programmer table,
// applies any VID/PID/interface overrides, and opens and configures the
// FTDI transport (spec.md §9 "programmer table" / §6 CLI surface).
func openBridge(flags *globalFlags) (bridge.Transport, error) {
	p, ok := ftdi.Programmers[flags.programmer]
	if !ok {
		return nil, errors.Errorf("unknown programmer %q", flags.programmer)
	}

	if flags.vid != 0 {
		p.VID = flags.vid
	}
	if flags.pid != 0 {
		p.PID = flags.pid
	}
	if flags.iface >= 0 {
		p.Interface = flags.iface
	}

	b, err := ftdi.Open(p)
	if err != nil {
		return nil, errors.Wrap(err, "open bridge")
	}
	return b, nil
}
