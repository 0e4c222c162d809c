// Package lexer turns Rydesta source text into a stream of tokens. Its
// Switches are the mutable grammar tables the evaluator extends mid-file:
// a quoted function definition can register a brand-new keyword, prefix,
// or infix operator that the rest of the same file then relies on.
package lexer

import (
	"regexp"
	"sort"
	"strings"
)

// Assoc is the associativity of a registered infix operator.
type Assoc int

const (
	LeftAssoc Assoc = iota
	RightAssoc
)

// PrecEntry is one entry of the precedence switch: an operator's
// associativity and binding power.
type PrecEntry struct {
	Assoc Assoc
	Prec  int
}

// tokenEntry preserves registration order: user tokens are tried in the
// order they were added, before falling back to the built-in lexical
// categories (identifier, number, string, builtin literal, symbol).
type tokenEntry struct {
	typ string
	re  *regexp.Regexp
}

// Switches bundles every mutable lexical/grammar table a Reader consults.
// None of these ever shrink at runtime; AddXxx only ever grows them.
type Switches struct {
	tokens     []tokenEntry
	Symbols    map[string]bool
	Prefixes   map[string]bool
	Keywords   map[string]bool
	Precedence map[string]PrecEntry

	symbolRE *regexp.Regexp
}

// NewSwitches returns the switches every fresh Reader starts with: the
// fixed punctuation, and the keyword set the core grammar's special forms
// need ("if", "case", "obj", "needs", ...).
func NewSwitches() *Switches {
	s := &Switches{
		Symbols: map[string]bool{
			"->": true, "=>": true, "!": true, "_": true,
			"=": true, ".": true, ",": true, "(": true, ")": true,
			"[": true, "]": true, "{": true, "}": true,
			"*": true, "+": true,
		},
		Prefixes: map[string]bool{},
		Keywords: map[string]bool{
			"for": true, "expect": true, "ret": true, "if": true, "else": true, "case": true,
			"division": true, "needs": true, "hidden": true, "exposed": true,
			"new": true, "obj": true, "secret": true, "umbrella": true,
		},
		Precedence: map[string]PrecEntry{},
	}
	s.UpdateSymbolRegex()
	return s
}

// UpdateSymbolRegex rebuilds the single alternation regex used to
// recognize punctuation and user operators, longest literal first so that
// e.g. "->" is never shadowed by a bare "-".
func (s *Switches) UpdateSymbolRegex() {
	lits := make([]string, 0, len(s.Symbols))
	for sym := range s.Symbols {
		lits = append(lits, sym)
	}
	sort.Slice(lits, func(i, j int) bool { return len(lits[i]) > len(lits[j]) })
	escaped := make([]string, len(lits))
	for i, l := range lits {
		escaped[i] = regexp.QuoteMeta(l)
	}
	s.symbolRE = regexp.MustCompile(`\A(?:` + strings.Join(escaped, "|") + `)`)
}

// AddToken registers a brand-new, highest-priority token kind matched by
// the given regex (anchored automatically).
func (s *Switches) AddToken(typ, pattern string) {
	s.tokens = append(s.tokens, tokenEntry{typ: typ, re: regexp.MustCompile(`\A(?:` + pattern + `)`)})
}

// AddPrefix marks typ (assumed uppercase) as a unary prefix operator. If it
// isn't alphabetic it is also a symbol.
func (s *Switches) AddPrefix(typ string) {
	s.Prefixes[typ] = true
	if typ != "" && !isAlpha(typ[0]) {
		s.Symbols[typ] = true
		s.UpdateSymbolRegex()
	}
}

// AddKeyword registers a new reserved spelling, matched exactly against an
// already-lexed identifier.
func (s *Switches) AddKeyword(kw string) {
	s.Keywords[kw] = true
}

// AddOperator registers a new infix operator with its associativity and
// precedence, adding it as a symbol if it isn't alphabetic.
func (s *Switches) AddOperator(op string, assoc Assoc, prec int) {
	s.Precedence[op] = PrecEntry{Assoc: assoc, Prec: prec}
	if op != "" && !isAlpha(op[0]) {
		s.Symbols[op] = true
		s.UpdateSymbolRegex()
	}
}

// Merge folds another Switches' tables into s, used when a "needs" import
// brings a module's own grammar extensions into the importing file.
func (s *Switches) Merge(other *Switches) {
	s.tokens = append(s.tokens, other.tokens...)
	for k := range other.Symbols {
		s.Symbols[k] = true
	}
	for k := range other.Prefixes {
		s.Prefixes[k] = true
	}
	for k := range other.Keywords {
		s.Keywords[k] = true
	}
	for k, v := range other.Precedence {
		s.Precedence[k] = v
	}
	s.UpdateSymbolRegex()
}

func isAlpha(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}
