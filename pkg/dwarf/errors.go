package dwarf

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// FormatError covers malformed lengths, unknown versions, unsupported
// forms/opcodes, and bounded-record overruns (spec.md §7).
type FormatError struct {
	msg   string
	cause error
}

func (e *FormatError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("dwarf: format error: %s: %v", e.msg, e.cause)
	}
	return fmt.Sprintf("dwarf: format error: %s", e.msg)
}

func (e *FormatError) Unwrap() error { return e.cause }

// NewFormatError builds a FormatError with a formatted message.
func NewFormatError(format string, args ...interface{}) *FormatError {
	return &FormatError{msg: fmt.Sprintf(format, args...)}
}

// WrapFormat attaches format-error context to an existing error.
func WrapFormat(cause error, format string, args ...interface{}) *FormatError {
	return &FormatError{msg: fmt.Sprintf(format, args...), cause: errors.WithStack(cause)}
}

// ReferenceError is a DIE reference to an unknown offset or missing
// abbreviation code (spec.md §7).
type ReferenceError struct {
	msg   string
	cause error
}

func (e *ReferenceError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("dwarf: reference error: %s: %v", e.msg, e.cause)
	}
	return fmt.Sprintf("dwarf: reference error: %s", e.msg)
}

func (e *ReferenceError) Unwrap() error { return e.cause }

// NewReferenceError builds a ReferenceError with a formatted message.
func NewReferenceError(format string, args ...interface{}) *ReferenceError {
	return &ReferenceError{msg: fmt.Sprintf(format, args...)}
}

// WrapReference attaches reference-error context to an existing error.
func WrapReference(cause error, format string, args ...interface{}) *ReferenceError {
	return &ReferenceError{msg: fmt.Sprintf(format, args...), cause: errors.WithStack(cause)}
}

// IOError wraps a failure from the underlying byte reader, surfaced
// unchanged at the reader boundary (spec.md §7).
type IOError struct {
	cause error
}

func (e *IOError) Error() string { return fmt.Sprintf("dwarf: io error: %v", e.cause) }
func (e *IOError) Unwrap() error { return e.cause }

// WrapIO wraps a reader failure as an IOError.
func WrapIO(cause error) *IOError {
	return &IOError{cause: errors.WithStack(cause)}
}

// newMultiUnitError combines several units' independent parse failures
// into one error, so that a caller enumerating every unit (LoadUnits)
// can skip the bad ones without losing their diagnostics (spec.md §7
// "one unit's corruption does not prevent the others from being
// usable").
func newMultiUnitError(errs []error) error {
	var merr *multierror.Error
	for _, e := range errs {
		merr = multierror.Append(merr, e)
	}
	return merr.ErrorOrNil()
}
