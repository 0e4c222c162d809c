// Package value implements the runtime tagged-variant value model: the
// handful of concrete types every Rydesta expression evaluates to, and the
// identity/equality/display rules spec.md §3 assigns each of them.
package value

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Value is satisfied by every runtime variant. Type returns the tag that
// "type v" surfaces at the language level; it is also the key used to look
// up the corresponding TypeVal binding in the kernel environment.
type Value interface {
	Type() string
	String() string
}

// Nothing is the value of statements and forms that carry no result
// (function and object definitions, "needs", "expect", an empty body).
type Nothing struct{}

func (Nothing) Type() string   { return "nothing" }
func (Nothing) String() string { return "nothing" }

var TheNothing = Nothing{}

// Bool is compared by identity, per spec.md §3: there are exactly two Bool
// values in a running Master (true/false), and "#:equals?" on two Bools
// compares which of the two they are, not a derived boolean field.
type Bool struct {
	name string
}

// True and False are the only two Bool instances that will ever exist in
// a running Master. NewBool hands back one of these two pointers rather
// than allocating, so pointer identity is exactly boolean identity.
var (
	True  = &Bool{name: "true"}
	False = &Bool{name: "false"}
)

// NewBool returns the singleton True or False for the given name
// ("true"/"false"); any other name allocates its own instance, which is
// never truthy and is identical to no other Bool.
func NewBool(name string) *Bool {
	switch name {
	case "true":
		return True
	case "false":
		return False
	default:
		return &Bool{name: name}
	}
}

func (b *Bool) Type() string   { return "bool" }
func (b *Bool) String() string { return b.name }
func (b *Bool) Truthy() bool   { return b.name == "true" }

// Str is an immutable byte string. A string literal's escapes are decoded
// by the evaluator when it builds the Str, not by the lexer.
type Str struct {
	Value string
}

func (s *Str) Type() string   { return "str" }
func (s *Str) String() string { return s.Value }

// Num is an arbitrary-precision rational. math/big.Rat is used rather than
// a hand-rolled fraction type: the standard library already provides exact
// reduction, comparison, and the four basic operations, and nothing in the
// retrieved example pack ships a third-party rational-number type (see
// DESIGN.md). shopspring/decimal is used only to render a non-integral
// rational with a finite, human-friendly decimal expansion; it never
// participates in arithmetic.
type Num struct {
	Rat *big.Rat
}

func NewNumInt(n int64) *Num           { return &Num{Rat: big.NewRat(n, 1)} }
func NewNumFrac(num, den int64) *Num   { return &Num{Rat: big.NewRat(num, den)} }
func NewNumFromRat(r *big.Rat) *Num    { return &Num{Rat: r} }
func NewNumFromBig(i *big.Int) *Num    { return &Num{Rat: new(big.Rat).SetInt(i)} }

func (n *Num) Type() string { return "num" }

func (n *Num) String() string {
	if n.Rat.IsInt() {
		return n.Rat.Num().String()
	}
	d, err := decimal.NewFromString(n.Rat.FloatString(32))
	if err != nil {
		return n.Rat.RatString()
	}
	s := d.String()
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	return s
}

// Int64 returns the value truncated to an int64, used by builtins that
// must interoperate with Go APIs expecting plain integers (precedence
// levels, vec indices).
func (n *Num) Int64() int64 {
	f := new(big.Int).Quo(n.Rat.Num(), n.Rat.Denom())
	return f.Int64()
}

// Vec is an ordered, mutable-by-rebind sequence. Equality is structural
// (element-wise), unlike Bool's identity equality.
type Vec struct {
	Items []Value
}

func (v *Vec) Type() string { return "vec" }

func (v *Vec) String() string {
	parts := make([]string, len(v.Items))
	for i, it := range v.Items {
		parts[i] = it.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// TypeVal reifies a type tag as a first-class value, the result of
// evaluating a bare type name like "num" or "str", and the result of the
// "#:type-of" kernel builtin.
type TypeVal struct {
	Tag string
}

func (t *TypeVal) Type() string   { return "type" }
func (t *TypeVal) String() string { return fmt.Sprintf("<type %s>", t.Tag) }

// Builtin is a native Go function exposed to Rydesta under a "#:name"
// binding. It always receives the interpreter's state as an opaque first
// argument (supplied by the caller, typed as interface{} here to avoid an
// import cycle with package eval) followed by the already-evaluated
// argument values.
type Builtin struct {
	Name string
	Fn   func(state interface{}, args []Value) (Value, error)
}

func (b *Builtin) Type() string   { return "builtin" }
func (b *Builtin) String() string { return fmt.Sprintf("<builtin %s>", b.Name) }
