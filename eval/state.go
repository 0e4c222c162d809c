package eval

import (
	"github.com/rydesta-lang/rydesta/environment"
	"github.com/rydesta-lang/rydesta/parser"
)

// State is the vehicle a node visit carries along: the file it originated
// from (for diagnostics), the shared Reader (so a function body can still
// see grammar extensions registered after it was defined), the current
// source line, and the environment bindings are read from and written to.
type State struct {
	Filename     string
	Reader       *parser.Reader
	Line         int
	Env          *environment.Env
	ModuleLoader ModuleLoader

	// TopLevel is true only for a Master's root state. A function defined
	// while TopLevel decides itself "naked" (its captured environment is
	// live, not re-copied into the closure) since the grammar never marks
	// this explicitly — see DESIGN.md.
	TopLevel bool
}

// NewState returns a state over an empty environment, at the top level.
func NewState(filename string, reader *parser.Reader) *State {
	return &State{Filename: filename, Reader: reader, Line: 1, Env: environment.New(), TopLevel: true}
}

// Copy produces an independent state sharing the same filename, reader,
// and module loader but with its own environment copy — the operation
// every function/object entry performs to implement flat, copy-on-entry
// closures. The copy is never itself top-level, since it always
// represents either a call capsule or an object instantiation capsule.
func (s *State) Copy() *State {
	return &State{Filename: s.Filename, Reader: s.Reader, Line: s.Line, Env: s.Env.Copy(), ModuleLoader: s.ModuleLoader}
}
