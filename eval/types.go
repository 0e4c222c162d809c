// Package eval implements Rydesta's tree-walking evaluator: the pattern
// engine's matcher, the tail-call-eliminating node visitor, call dispatch
// over overloaded "variations", object instantiation, and module loading.
package eval

import (
	"fmt"

	"github.com/rydesta-lang/rydesta/environment"
	"github.com/rydesta-lang/rydesta/parser"
	"github.com/rydesta-lang/rydesta/value"
)

// Function, Object, Routeable, and Excerpt capture whichever pieces of a
// *State they need to resume evaluation later. Function and Object close
// over a full *State (environment, reader, filename) since their bodies
// get evaluated well after definition time, from a different call site's
// state. Excerpt also holds a full *State, so an unquoted excerpt is
// evaluated in a copy of its capture site's state; Routeable only ever
// needs the environment itself.

// Function, Variations, Object, Routeable, and Excerpt all need a
// reference to a captured *environment.Env or a *parser.Node, which would
// make package value depend on both of those — and both of those already
// sit above value in the import graph once the evaluator needs them. They
// live here instead, implementing value.Value by duck typing (Type/String
// methods), same as every type in package value.

// Function is one overload of a named, possibly multi-variation,
// callable: its captured defining environment, its aggregate pattern
// signature, parameters, and body.
type Function struct {
	Name      string
	Signature int64
	Params    []*parser.Pattern
	Body      []*parser.Node
	State     *State
	Head      string // declaration-line text; defineFunction leaves it empty and String does not read it
}

func (f *Function) Type() string { return "function" }
func (f *Function) String() string {
	args := ""
	for i, p := range f.Params {
		if i > 0 {
			args += ", "
		}
		args += p.Kind
	}
	return fmt.Sprintf("[%s(%s)]", f.Name, args)
}

func (f *Function) Arity() int { return len(f.Params) }

// Variations is a named overload set, kept sorted by descending
// signature so the most specific variation is always tried first.
type Variations struct {
	Name       string
	Items      []*Function
	Quoting    bool
	Naked      bool
}

func (v *Variations) Type() string   { return "variations" }
func (v *Variations) String() string { return fmt.Sprintf("[function %q with %d variation(s)]", v.Name, len(v.Items)) }

// Add appends a new variation and re-sorts by descending signature.
func (v *Variations) Add(fn *Function) {
	v.Items = append(v.Items, fn)
	sortFunctionsBySignatureDesc(v.Items)
}

func sortFunctionsBySignatureDesc(fns []*Function) {
	for i := 1; i < len(fns); i++ {
		j := i
		for j > 0 && fns[j-1].Signature < fns[j].Signature {
			fns[j-1], fns[j] = fns[j], fns[j-1]
			j--
		}
	}
}

// Object is an uninstantiated object constructor: its declared property
// patterns, its body block, and the environment it closed over.
type Object struct {
	Name       string
	Secret     bool
	Properties []*parser.Pattern
	Block      []*parser.Node
	State      *State
}

func (o *Object) Type() string   { return "object" }
func (o *Object) String() string { return fmt.Sprintf("[object %s]", o.Name) }

// Routeable is anything dot-accessible: an instantiated object, or a
// module's exported namespace. Extractable preserves declaration order so
// a P_Extract pattern can destructure it positionally even though
// environments themselves are unordered maps.
type Routeable struct {
	Name        string
	Env         *environment.Env
	Extractable []value.Value
}

func (r *Routeable) Type() string   { return "routeable" }
func (r *Routeable) String() string { return fmt.Sprintf("[routeable %q]", r.Name) }

// Excerpt is a quoted, unevaluated expression: a parse node plus the full
// state captured at the moment "quote" ran, so "unquote" can later
// evaluate it as if still in that context.
type Excerpt struct {
	Node  *parser.Node
	State *State
}

func (e *Excerpt) Type() string   { return "excerpt" }
func (e *Excerpt) String() string { return fmt.Sprintf("[excerpt %s]", e.Node.Tag) }

// Builtin wraps a native Go function under a "#:name" binding. Unlike
// value.Builtin (kept for values with no evaluator dependency), this one
// is typed against *State directly rather than interface{}.
type Builtin struct {
	Name string
	Fn   func(s *State, args []value.Value) (value.Value, error)
}

func (b *Builtin) Type() string   { return "builtin" }
func (b *Builtin) String() string { return fmt.Sprintf("<builtin %s>", b.Name) }
