// Package errs implements the error taxonomy every other package reports
// through: Parse, SchemaViolation, Unauthorized, NotFound, Conflict,
// InvalidSignature, TransportFault, Timeout, Backpressure and Internal.
//
// Errors are wrapped with github.com/pkg/errors so a stack trace is
// attached at the point a Kind is first assigned; callers further up the
// stack add context with fmt.Errorf("...: %w", err) as usual and KindOf
// still finds the original Kind by unwrapping.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error for propagation and metrics purposes.
type Kind int

const (
	Internal Kind = iota
	Parse
	SchemaViolation
	Unauthorized
	NotFound
	Conflict
	InvalidSignature
	TransportFault
	Timeout
	Backpressure
)

func (k Kind) String() string {
	switch k {
	case Parse:
		return "Parse"
	case SchemaViolation:
		return "SchemaViolation"
	case Unauthorized:
		return "Unauthorized"
	case NotFound:
		return "NotFound"
	case Conflict:
		return "Conflict"
	case InvalidSignature:
		return "InvalidSignature"
	case TransportFault:
		return "TransportFault"
	case Timeout:
		return "Timeout"
	case Backpressure:
		return "Backpressure"
	default:
		return "Internal"
	}
}

// Location pinpoints the offending source/row so a synchronous caller
// gets the exact parse position or row that failed, not just a message.
type Location struct {
	Line, Col, Offset int
	RoomID, RowID     string
}

type kindError struct {
	kind Kind
	loc  *Location
	err  error
}

func (e *kindError) Error() string {
	if e.loc != nil && (e.loc.Line != 0 || e.loc.RoomID != "" || e.loc.RowID != "") {
		return fmt.Sprintf("%s: %v (%+v)", e.kind, e.err, *e.loc)
	}
	return fmt.Sprintf("%s: %v", e.kind, e.err)
}

func (e *kindError) Unwrap() error { return e.err }

// WithKind attaches a taxonomy Kind to err, wrapping it with
// errors.WithStack so a stack trace is recorded at this call.
func WithKind(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: errors.WithStack(err)}
}

// At is WithKind plus an offending location, used by the parser and row
// ingress paths.
func At(err error, kind Kind, loc Location) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, loc: &loc, err: errors.WithStack(err)}
}

// KindOf walks err's wrap chain for the first attached Kind, defaulting to
// Internal when none is found.
func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return Internal
}

// LocationOf returns the Location attached by At, if any.
func LocationOf(err error) (Location, bool) {
	var ke *kindError
	if errors.As(err, &ke) && ke.loc != nil {
		return *ke.loc, true
	}
	return Location{}, false
}

// Is reports whether err's Kind matches k, for use in %w-wrapped chains.
func Is(err error, k Kind) bool { return KindOf(err) == k }
