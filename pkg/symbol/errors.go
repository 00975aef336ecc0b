package symbol

import "github.com/pkg/errors"

// SymbolError covers malformed or missing symbol-layer data built on
// top of an otherwise well-formed DWARF tree: a function with no
// address range, a source line with no matching DIE, a missing
// .debug_frame section.
type SymbolError struct {
	cause error
	msg   string
}

func (e *SymbolError) Error() string {
	if e.cause == nil {
		return "symbol: " + e.msg
	}
	return "symbol: " + e.msg + ": " + e.cause.Error()
}

func (e *SymbolError) Unwrap() error { return e.cause }

func newSymbolError(format string, args ...interface{}) *SymbolError {
	return &SymbolError{msg: errors.Errorf(format, args...).Error()}
}

// WrapSymbol wraps cause with additional context, the way the teacher
// chains fmt.Errorf("...: %v") but keeping the original error
// retrievable via errors.Unwrap/errors.As.
func WrapSymbol(cause error, format string, args ...interface{}) *SymbolError {
	return &SymbolError{cause: cause, msg: errors.Errorf(format, args...).Error()}
}
