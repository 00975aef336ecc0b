package proc

import "github.com/pkg/errors"

// UnwindError reports why the stack walker stopped before producing a
// complete trace (spec.md §7's five error kinds, the unwind-specific
// one): no FDE covers a PC, a register rule needed to continue is
// undefined, or the CFA failed to advance between two frames.
type UnwindError struct {
	cause error
	msg   string
}

func (e *UnwindError) Error() string { return e.msg }
func (e *UnwindError) Unwrap() error { return e.cause }

func newUnwindError(format string, args ...interface{}) *UnwindError {
	return &UnwindError{msg: errors.Errorf(format, args...).Error()}
}

func wrapUnwindError(cause error, format string, args ...interface{}) *UnwindError {
	return &UnwindError{cause: cause, msg: errors.Wrapf(cause, format, args...).Error()}
}
