package eval

import "fmt"

// RuntimeError is the Go encoding of what the source implementation
// raises as a fatal "_DeathError": an interpreter-level failure that
// unwinds all the way to the top of the current Feed call, carrying the
// filename/line/reason a caller needs to print the "<file>:<line>:\n
// <kind>: <reason>" diagnostic.
type RuntimeError struct {
	Filename string
	Line     int
	Reason   string
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s:%d: runtime error: %s", e.Filename, e.Line, e.Reason)
}

func (s *State) die(format string, args ...interface{}) error {
	return &RuntimeError{Filename: s.Filename, Line: s.Line, Reason: fmt.Sprintf(format, args...)}
}

// returnSignal is how "ret" unwinds to the nearest call boundary. It is
// returned as a Go error only so it can travel up through ordinary
// (value, error) returns; it is unwrapped only at a function-call
// boundary (visitCall for non-tail statements of a body, Visit and
// visitLoop for a tail chain), and VisitTopLevel turns one that escapes
// every call into a RuntimeError.
type returnSignal struct {
	Value interface{}
}

func (r *returnSignal) Error() string { return "return outside of a function call" }
