// Package dbgerror defines the error kinds surfaced by the SWD stack and a
// chained error value that remembers the call sites it passed through, so a
// session failure can be printed as a backtrace instead of a single line.
package dbgerror

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies why an SWD/DAP/target operation failed.
type Kind int

const (
	// Transport indicates a bridge channel failure (USB, timeout,
	// malformed reply framing).
	Transport Kind = iota
	// ProtocolAckWait indicates a WAIT ACK exhausted its retry budget.
	ProtocolAckWait
	// ProtocolFault indicates a FAULT ACK; a sticky DP bit was set.
	ProtocolFault
	// ProtocolParity indicates a data-phase parity mismatch.
	ProtocolParity
	// NoTarget indicates IDCODE read 0/all-ones, or an all-zero ACK.
	NoTarget
	// TargetState indicates an operation requiring a different target
	// state than the one observed (e.g. register read while running).
	TargetState
	// TargetTimeout indicates a poll condition (S_HALT, S_REGRDY, power-up
	// ACKs) never became true within the retry bound.
	TargetTimeout
	// SemihostingUnsupported indicates an unknown SYS_* operation or a
	// breakpoint that was not a semihosting request.
	SemihostingUnsupported
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case ProtocolAckWait:
		return "protocol-ack-wait"
	case ProtocolFault:
		return "protocol-fault"
	case ProtocolParity:
		return "protocol-parity"
	case NoTarget:
		return "no-target"
	case TargetState:
		return "target-state"
	case TargetTimeout:
		return "target-timeout"
	case SemihostingUnsupported:
		return "semihosting-unsupported"
	default:
		return "unknown"
	}
}

// Error is a single error kind plus the chain of call sites that observed it.
type Error struct {
	Kind Kind
	err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.err)
}

// Unwrap lets errors.Is/errors.As see through to the wrapped cause.
func (e *Error) Unwrap() error {
	return e.err
}

// Format implements fmt.Formatter so that "%+v" prints the full call-site
// chain, the way errors.Wrap chains do.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "%s:\n%+v", e.Kind, e.err)
			return
		}
		fallthrough
	default:
		fmt.Fprint(s, e.Error())
	}
}

// New creates a new chained error of the given kind at the named call site.
func New(kind Kind, site, msg string) error {
	return &Error{Kind: kind, err: errors.New(site + ": " + msg)}
}

// Wrap adds a call-site tag to an existing error, preserving its kind if it
// already is a *Error, otherwise classifying it under kind.
func Wrap(err error, kind Kind, site string) error {
	if err == nil {
		return nil
	}

	var de *Error
	if errors.As(err, &de) {
		return &Error{Kind: de.Kind, err: errors.WithMessage(err, site)}
	}

	return &Error{Kind: kind, err: errors.WithMessage(err, site)}
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind == kind
	}
	return false
}
