// Package environment implements the flat binding map functions and objects
// capture and copy on entry, per spec.md §3/§9: there is no scope chain, no
// parent pointer — closures are "the whole environment at definition time",
// copied wholesale.
package environment

import (
	"github.com/google/uuid"

	"github.com/rydesta-lang/rydesta/value"
)

// Env is a flat mapping from identifier spelling to value. A new Env is
// produced by Copy whenever a function or object is entered; assignment
// inside that call only ever rebinds in the copy, never reaches back into
// the caller's Env.
type Env struct {
	id       uuid.UUID
	bindings map[string]value.Value
}

// New returns an empty environment with a fresh diagnostic id.
func New() *Env {
	return &Env{id: uuid.New(), bindings: make(map[string]value.Value)}
}

// ID is a debugging aid with no bearing on language semantics. No builtin
// surfaces it; "#:state" lists binding names only.
func (e *Env) ID() string { return e.id.String() }

// Get returns the bound value and whether it was present.
func (e *Env) Get(name string) (value.Value, bool) {
	v, ok := e.bindings[name]
	return v, ok
}

// Set rebinds name in this environment, shadowing any outer binding of the
// same spelling (there is no outer binding in the flat model; Set simply
// writes into this Env's own map).
func (e *Env) Set(name string, v value.Value) {
	e.bindings[name] = v
}

// Copy performs the shallow, wholesale copy spec.md's design note
// describes: a brand-new map with the same key/value pairs, a fresh id,
// and no further connection to e. Mutating the copy never affects e, and
// vice versa.
func (e *Env) Copy() *Env {
	cp := make(map[string]value.Value, len(e.bindings))
	for k, v := range e.bindings {
		cp[k] = v
	}
	return &Env{id: uuid.New(), bindings: cp}
}

// Names returns every bound identifier, used by the evaluator's
// did-you-mean diagnostic and by the "#:state" builtin.
func (e *Env) Names() []string {
	out := make([]string, 0, len(e.bindings))
	for k := range e.bindings {
		out = append(out, k)
	}
	return out
}

// Len reports how many bindings e currently holds.
func (e *Env) Len() int { return len(e.bindings) }
