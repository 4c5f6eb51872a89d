// Package session wires the layer stack bottom-up into a single debug
// session: open transport, construct the L1 SWD driver, initialize it, build
// the DAP and reset its state, build the MEM-AP and target, and optionally
// halt (spec.md §3 Lifecycle). Session.Close releases the transport; when
// Open fails, the transport is left open for the caller to close.
package session

import (
	"go.uber.org/zap"

	"github.com/usbarmory/swddbg/bridge"
	"github.com/usbarmory/swddbg/dap"
	"github.com/usbarmory/swddbg/internal/dbgerror"
	"github.com/usbarmory/swddbg/memap"
	"github.com/usbarmory/swddbg/swd"
	"github.com/usbarmory/swddbg/target"
)

// memAPIndex is the AP index exposing target memory on the Cortex-M targets
// this agent supports (spec.md §1 Non-goals: AP 0 only).
const memAPIndex = 0

// Session is the single per-process SWD session of spec.md §5: one owner of
// the bus, the DAP, and the target.
type Session struct {
	t   bridge.Transport
	log *zap.SugaredLogger

	SWD    *swd.Driver
	DAP    *dap.DAP
	MemAP  *memap.MemAP
	Target *target.Target

	IDCODE uint32
}

// Open drives the full bring-up sequence of spec.md §3: line-reset and
// IDCODE read, DAP reset_state (power domains, sticky clear), and target
// initialize (enable halting debug). t must already be configured (the
// caller calls bridge.Transport.Configure before Open).
func Open(t bridge.Transport, log *zap.SugaredLogger) (*Session, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	d := swd.New(t, log)
	idcode, err := d.Initialize()
	if err != nil {
		return nil, dbgerror.Wrap(err, dbgerror.NoTarget, "session.Open: swd.Initialize")
	}

	p := dap.New(d, log)
	if err := p.ResetState(); err != nil {
		return nil, dbgerror.Wrap(err, dbgerror.Transport, "session.Open: dap.ResetState")
	}

	m := memap.New(p, memAPIndex)
	tgt := target.New(m, log)
	if err := tgt.Initialize(); err != nil {
		return nil, dbgerror.Wrap(err, dbgerror.Transport, "session.Open: target.Initialize")
	}

	log.Infow("session opened", "idcode", idcode, "state", tgt.State())

	return &Session{
		t:      t,
		log:    log,
		SWD:    d,
		DAP:    p,
		MemAP:  m,
		Target: tgt,
		IDCODE: idcode,
	}, nil
}

// Halt brings the target to a halted debug state.
func (s *Session) Halt() error {
	return s.Target.Halt()
}

// Close releases the transport. Open returns a nil *Session when it fails,
// so after a failed Open the caller closes the transport itself.
func (s *Session) Close() error {
	return dbgerror.Wrap(s.t.Close(), dbgerror.Transport, "session.Close")
}
