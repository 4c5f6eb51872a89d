// Package semihosting implements the L5 supervisor: it waits for the
// target to halt on a BKPT #0xAB semihosting request, decodes the
// operation and parameter from the register file, services the ones this
// agent supports, and resumes the target.
package semihosting

import (
	"bufio"
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/usbarmory/swddbg/internal/dbgerror"
	"github.com/usbarmory/swddbg/target"
)

// ARM semihosting operation numbers this supervisor recognizes.
const (
	opSysWriteC = 0x03
	opSysExit   = 0x18
)

// bkptInstr is the 16-bit Thumb encoding of BKPT #0xAB (spec.md §4.5).
const bkptInstr = 0xBEAB

const pollInterval = 2 * time.Millisecond

// ADP_Stopped_* reason codes occupy a contiguous range in the ARM
// semihosting specification, from ADP_Stopped_BranchThroughZero (0x20000)
// to ADP_Stopped_ApplicationExit (0x20026): a SYS_EXIT R1 value in this
// range is the plain-code form. Anything outside it is the pointer-to-
// {reason,subcode} block form (SPEC_FULL.md §4.5.1); this implementation
// does not dereference that pointer and instead treats it as
// ADP_Stopped_ApplicationExit with an unknown subcode, per SPEC_FULL.md.
const (
	adpStoppedMin             = 0x20000
	adpStoppedApplicationExit = 0x20026
	adpStoppedMax             = adpStoppedApplicationExit
)

// ExitError is returned by Run when the target issues SYS_EXIT, letting
// cmd/swddbg distinguish a clean target-requested exit from a failure.
type ExitError struct {
	Reason uint32
}

func (e *ExitError) Error() string {
	return "target requested SYS_EXIT"
}

// Clean reports whether Reason names the normal application-exit code, or
// is pointer-shaped and so treated as one (SPEC_FULL.md §4.5.1).
func (e *ExitError) Clean() bool {
	if e.Reason < adpStoppedMin || e.Reason > adpStoppedMax {
		return true
	}
	return e.Reason == adpStoppedApplicationExit
}

// Supervisor runs the semihosting poll/dispatch loop over a halted-capable
// Target, forwarding SYS_WRITEC bytes to Console.
type Supervisor struct {
	target  *target.Target
	console *bufio.Writer
	log     *zap.SugaredLogger
}

// New constructs a Supervisor. console is flushed after every SYS_WRITEC
// (spec.md §5, "line-buffered by flushing after each SYS_WRITEC").
func New(t *target.Target, console io.Writer, log *zap.SugaredLogger) *Supervisor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Supervisor{target: t, console: bufio.NewWriter(console), log: log}
}

// Run polls for halts and services semihosting requests until ctx is
// canceled, the target halts for a reason other than BKPT, an unexpected
// breakpoint or unsupported operation is seen, or the target issues
// SYS_EXIT (returned as *ExitError, not necessarily a failure — callers
// should check Clean()).
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := s.target.WaitHalted(ctx, pollInterval); err != nil {
			return dbgerror.Wrap(err, dbgerror.TargetTimeout, "semihosting.Run: wait halt")
		}

		if err := s.onHalt(); err != nil {
			return err
		}
	}
}

func (s *Supervisor) onHalt() error {
	cause, err := s.target.HaltCause()
	if err != nil {
		return err
	}
	if !cause.BKPT {
		s.log.Warnw("unexpected halt reason", "dfsr", cause.Raw)
		return dbgerror.New(dbgerror.TargetState, "semihosting.onHalt", "halt reason is not BKPT")
	}

	pc, err := s.target.ReadRegister(target.RegPC)
	if err != nil {
		return err
	}

	instr, err := s.fetchInstruction(pc)
	if err != nil {
		return err
	}

	if instr != bkptInstr {
		s.log.Warnw("unexpected breakpoint", "pc", pc, "instr", instr)
		return dbgerror.New(dbgerror.SemihostingUnsupported, "semihosting.onHalt", "breakpoint is not BKPT #0xAB")
	}

	r0, err := s.target.ReadRegister(target.RegR0)
	if err != nil {
		return err
	}
	r1, err := s.target.ReadRegister(target.RegR1)
	if err != nil {
		return err
	}

	if err := s.dispatch(r0, r1); err != nil {
		return err
	}

	if err := s.target.WriteRegister(target.RegPC, pc+2); err != nil {
		return err
	}

	return s.target.Resume()
}

// fetchInstruction reads the word containing pc and extracts the 16-bit
// Thumb instruction from the high or low halfword, since some targets only
// permit 32-bit accesses to this region (spec.md §4.5 step 2).
func (s *Supervisor) fetchInstruction(pc uint32) (uint16, error) {
	word, err := s.target.ReadWord(pc &^ 0x3)
	if err != nil {
		return 0, err
	}
	if pc&0x2 != 0 {
		return uint16(word >> 16), nil
	}
	return uint16(word), nil
}

func (s *Supervisor) dispatch(op, param uint32) error {
	switch op {
	case opSysWriteC:
		if err := s.console.WriteByte(byte(param)); err != nil {
			return dbgerror.Wrap(err, dbgerror.Transport, "semihosting.dispatch: SYS_WRITEC")
		}
		return dbgerror.Wrap(s.console.Flush(), dbgerror.Transport, "semihosting.dispatch: flush")
	case opSysExit:
		s.log.Infow("target requested SYS_EXIT", "reason", param)
		return &ExitError{Reason: param}
	default:
		s.log.Warnw("unsupported semihosting operation", "op", op, "param", param)
		return dbgerror.New(dbgerror.SemihostingUnsupported, "semihosting.dispatch", "unrecognized operation")
	}
}
