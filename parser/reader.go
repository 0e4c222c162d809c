package parser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rydesta-lang/rydesta/lexer"
)

// errNoMatch is a sentinel: a production function returns it to mean "this
// alternative doesn't apply here", as opposed to a genuine *ReaderError,
// which means parsing has definitely failed and must be reported. Reader
// methods never wrap errNoMatch in more context; they propagate it as-is
// so callers can tell the two apart with errors.Is.
var errNoMatch = errors.New("no match")

// Reader incrementally parses Rydesta source, one top-level term at a
// time, against a set of Switches the running program can extend between
// calls to Next.
type Reader struct {
	Switches *lexer.Switches
	lex      *lexer.Lexer
	tok      lexer.Token
	started  bool

	// Precedence is the infix level a newly declared quoted operator gets
	// unless "#:set-precedence" has adjusted it; GuardPrecedence is the
	// analogous level "case" guards bind at.
	Precedence      int
	GuardPrecedence int
}

// NewReader returns a reader with a fresh set of default switches.
func NewReader() *Reader {
	sw := lexer.NewSwitches()
	return &Reader{Switches: sw, lex: lexer.New(sw), Precedence: 10, GuardPrecedence: 5}
}

// Update resets the reader's progress and substitutes new source text —
// used both for the initial feed and every REPL line thereafter.
func (r *Reader) Update(source string) {
	r.lex.Reset(source)
	r.started = false
}

// Merge folds another reader's switch tables into this one's, used when a
// "needs" import brings a module's grammar extensions into scope.
func (r *Reader) Merge(other *Reader) {
	r.Switches.Merge(other.Switches)
}

func (r *Reader) AddPrefix(typ string)                       { r.Switches.AddPrefix(typ) }
func (r *Reader) AddKeyword(kw string)                       { r.Switches.AddKeyword(kw) }
func (r *Reader) AddOperator(op string, assoc lexer.Assoc, prec int) {
	r.Switches.AddOperator(op, assoc, prec)
}
func (r *Reader) AddToken(typ, pattern string) { r.Switches.AddToken(typ, pattern) }

// --- token-level helpers ---------------------------------------------

func (r *Reader) advance() error {
	tok, err := r.lex.Next()
	if err != nil {
		var lerr *lexer.Error
		if errors.As(err, &lerr) {
			return &ReaderError{Reason: lerr.Reason, Line: lerr.Line}
		}
		return err
	}
	r.tok = tok
	return nil
}

func (r *Reader) die(line int, format string, args ...interface{}) error {
	return newReaderError(line, format, args...)
}

func (r *Reader) expected(what string, line int, got bool) error {
	reason := "expected " + what
	if got {
		reason += fmt.Sprintf(", found %s", prettyTokenType(r.tok.Type))
	}
	return r.die(line, "%s", reason)
}

func prettyTokenType(t string) string {
	switch t {
	case lexer.TypeNL:
		return "newline"
	case lexer.TypeEOF:
		return "end-of-input"
	case lexer.TypeBOL:
		return "beginning-of-line"
	case lexer.TypeID:
		return "identifier"
	case lexer.TypeBuiltin:
		return "builtin literal"
	case lexer.TypeNum:
		return "number literal"
	case lexer.TypeStr:
		return "string literal"
	default:
		return fmt.Sprintf("%q", t)
	}
}

// consume advances past the current token if its type is one of types,
// returning the consumed token and true; otherwise leaves state untouched
// and returns false.
func (r *Reader) consume(types ...string) (lexer.Token, bool, error) {
	for _, t := range types {
		if r.tok.Type == t {
			consumed := r.tok
			if err := r.advance(); err != nil {
				return consumed, true, err
			}
			return consumed, true, nil
		}
	}
	return lexer.Token{}, false, nil
}

type mark struct {
	lm  lexer.Mark
	tok lexer.Token
}

func (r *Reader) save() mark           { return mark{lm: r.lex.Mark(), tok: r.tok} }
func (r *Reader) restore(m mark)       { r.lex.Restore(m.lm); r.tok = m.tok }

// isolate runs unit; if it soft-fails (errNoMatch), the reader's position
// is rewound as if the call never happened.
func (r *Reader) isolate(unit func() (*Node, error)) (*Node, error) {
	before := r.save()
	node, err := unit()
	if errors.Is(err, errNoMatch) {
		r.restore(before)
		return nil, errNoMatch
	}
	return node, err
}

// anyOf tries each choice in order via isolate, returning the first
// non-soft-fail result. A hard error from any choice propagates
// immediately without trying the rest.
func (r *Reader) anyOf(choices ...func() (*Node, error)) (*Node, error) {
	for _, choice := range choices {
		node, err := r.isolate(choice)
		if errors.Is(err, errNoMatch) {
			continue
		}
		return node, err
	}
	return nil, errNoMatch
}

// kleeneUntil repeatedly calls unit until the stopper token is reached.
// With a separator, each unit result must be directly followed by either
// the separator or the stopper. If allowNL, blank lines before/between
// units are skipped. If chop, the stopper is consumed on exit.
func (r *Reader) kleeneUntil(stopper string, unit func() (*Node, error), sep string, allowNL, chop bool) ([]*Node, error) {
	var items []*Node
	for {
		if chop {
			if _, ok, err := r.consume(stopper); err != nil {
				return nil, err
			} else if ok {
				return items, nil
			}
		}
		if !chop && r.tok.Type == stopper {
			return items, nil
		}
		if allowNL {
			if _, ok, err := r.consume(lexer.TypeNL); err != nil {
				return nil, err
			} else if ok {
				continue
			}
		}
		item, err := unit()
		if errors.Is(err, errNoMatch) {
			return nil, errNoMatch
		}
		if err != nil {
			return nil, err
		}
		if sep != "" && r.tok.Type != stopper && r.tok.Type != sep {
			return nil, errNoMatch
		}
		if sep != "" {
			if _, _, err := r.consume(sep); err != nil {
				return nil, err
			}
		}
		items = append(items, item)
	}
}

// --- values, calls, operators -----------------------------------------

func opCalleePath(line int, name string) *Node {
	return NewNode("Path", line).Set("parent", "'"+strings.ToLower(name)).Set("path", []string{})
}

func (r *Reader) value() (*Node, error) {
	line := r.lex.Line()
	tok, ok, err := r.consume(lexer.TypeID, lexer.TypeBuiltin, lexer.TypeStr, lexer.TypeNum, "(", "[")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNoMatch
	}
	switch tok.Type {
	case lexer.TypeID:
		var path []string
		for {
			_, dot, err := r.consume(".")
			if err != nil {
				return nil, err
			}
			if !dot {
				break
			}
			part, ok, err := r.consume(lexer.TypeID)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, r.expected("an identifier", line, true)
			}
			path = append(path, part.Literal)
		}
		return NewNode("Path", line).Set("parent", tok.Literal).Set("path", path), nil
	case lexer.TypeBuiltin:
		return NewNode("Builtin", line).Set("name", tok.Literal[2:]), nil
	case lexer.TypeStr:
		return NewNode("String", line).Set("value", tok.Literal[1:len(tok.Literal)-1]), nil
	case lexer.TypeNum:
		return NewNode("Number", line).Set("value", tok.Literal), nil
	case "[":
		items, err := r.kleeneUntil("]", r.value, "", true, true)
		if errors.Is(err, errNoMatch) {
			return nil, r.expected(`a vector item or "]" when reading a vector`, line, true)
		}
		if err != nil {
			return nil, err
		}
		return NewNode("Vector", line).Set("items", items), nil
	case "(":
		inside, err := r.infix(0)
		if errors.Is(err, errNoMatch) {
			return nil, r.expected("an expression", line, true)
		}
		if err != nil {
			return nil, err
		}
		if _, ok, err := r.consume(")"); err != nil {
			return nil, err
		} else if !ok {
			return nil, r.expected(`")"`, line, true)
		}
		return inside, nil
	}
	return nil, errNoMatch
}

func (r *Reader) call() (*Node, error) {
	line := r.lex.Line()
	if r.tok.Type != lexer.TypeID && r.tok.Type != "NEW" && r.tok.Type != lexer.TypeBuiltin && r.tok.Type != "(" {
		return r.value()
	}
	_, isNew, err := r.consume("NEW")
	if err != nil {
		return nil, err
	}
	callee, err := r.value()
	if errors.Is(err, errNoMatch) {
		callee = nil
	} else if err != nil {
		return nil, err
	}
	if _, bang, err := r.consume("!"); err != nil {
		return nil, err
	} else if bang {
		return NewNode("Call", line).Set("callee", callee).Set("args", []*Node{}), nil
	}
	if isNew && callee == nil {
		return nil, r.expected("object name", line, true)
	}
	var args []*Node
	for {
		arg, err := r.value()
		if errors.Is(err, errNoMatch) {
			break
		}
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	if !isNew && len(args) == 0 {
		if callee == nil {
			return nil, errNoMatch
		}
		return callee, nil
	}
	tag := "Call"
	if isNew {
		tag = "Instance"
	}
	return NewNode(tag, line).Set("callee", callee).Set("args", args), nil
}

func (r *Reader) prefix() (*Node, error) {
	line := r.lex.Line()
	for p := range r.Switches.Prefixes {
		op, ok, err := r.consume(p)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		operand, err := r.prefix()
		if errors.Is(err, errNoMatch) {
			return nil, r.expected(fmt.Sprintf("a value to follow prefix %q", op.Literal), line, true)
		}
		if err != nil {
			return nil, err
		}
		return NewNode("Call", line).Set("callee", opCalleePath(line, op.Literal)).Set("args", []*Node{operand}), nil
	}
	return r.call()
}

func (r *Reader) infix(depth int) (*Node, error) {
	line := r.lex.Line()
	left, err := r.prefix()
	if err != nil {
		return nil, err
	}
	for {
		entry, has := r.Switches.Precedence[r.tok.Type]
		if !has || depth >= entry.Prec {
			return left, nil
		}
		opType := r.tok.Type
		if _, _, err := r.consume(opType); err != nil {
			return nil, err
		}
		rightDepth := entry.Prec
		if entry.Assoc == lexer.RightAssoc {
			rightDepth--
		}
		right, err := r.infix(rightDepth)
		if errors.Is(err, errNoMatch) {
			return nil, r.expected("right hand side of an expression", line, true)
		}
		if err != nil {
			return nil, err
		}
		left = NewNode("Call", line).Set("callee", opCalleePath(line, opType)).Set("args", []*Node{left, right})
	}
}

// --- patterns -----------------------------------------------------------

func (r *Reader) patternGuard() (*Pattern, error) {
	line := r.lex.Line()
	param, ok, err := r.consume(lexer.TypeID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNoMatch
	}
	if _, comma, err := r.consume(","); err != nil {
		return nil, err
	} else if comma {
		guard, err := r.infix(0)
		if errors.Is(err, errNoMatch) {
			return nil, r.expected("a guarding expression", line, true)
		}
		if err != nil {
			return nil, err
		}
		return &Pattern{Kind: PGuard, Line: line, Param: param.Literal, Guard: guard}, nil
	}
	var binary []string
	for op, entry := range r.Switches.Precedence {
		if entry.Prec == r.GuardPrecedence {
			binary = append(binary, op)
		}
	}
	if len(binary) > 0 {
		tok, ok, err := r.consume(binary...)
		if err != nil {
			return nil, err
		}
		if ok {
			rhs, err := r.value()
			if errors.Is(err, errNoMatch) {
				return nil, r.expected("a value", line, true)
			}
			if err != nil {
				return nil, err
			}
			guard := NewNode("Call", line).Set("callee", opCalleePath(line, tok.Type)).
				Set("args", []*Node{NewNode("Path", line).Set("parent", param.Literal).Set("path", []string{}), rhs})
			return &Pattern{Kind: PGuard, Line: line, Param: param.Literal, Guard: guard}, nil
		}
	}
	return nil, errNoMatch
}

func (r *Reader) patternExtract() (*Pattern, error) {
	line := r.lex.Line()
	obj, ok, err := r.consume(lexer.TypeID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNoMatch
	}
	fieldNodes, err := r.kleeneUntil(")", func() (*Node, error) {
		p, e := r.pattern()
		if e != nil {
			return nil, e
		}
		return &Node{Tag: "__pattern__", Props: map[string]interface{}{"p": p}}, nil
	}, "", false, false)
	if err != nil {
		return nil, err
	}
	fields := make([]*Pattern, len(fieldNodes))
	for i, n := range fieldNodes {
		fields[i] = n.Props["p"].(*Pattern)
	}
	return &Pattern{Kind: PExtract, Line: line, Obj: obj.Literal, Fields: fields}, nil
}

func (r *Reader) patternMulti() (*Pattern, error) {
	line := r.lex.Line()
	if _, lp, err := r.consume("("); err != nil {
		return nil, err
	} else if lp {
		tok, ok, err := r.consume("+", "*")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errNoMatch
		}
		if _, ok, err := r.consume(")"); err != nil {
			return nil, err
		} else if !ok {
			return nil, r.expected(`")"`, line, true)
		}
		kind := PDiscardMany
		if tok.Type == "+" {
			kind = PDiscardMulti
		}
		return &Pattern{Kind: kind, Line: line}, nil
	}
	name, ok, err := r.consume(lexer.TypeID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNoMatch
	}
	if _, plus, err := r.consume("+"); err != nil {
		return nil, err
	} else if plus {
		return &Pattern{Kind: PNamedMulti, Line: line, Name: name.Literal}, nil
	}
	if _, star, err := r.consume("*"); err != nil {
		return nil, err
	} else if star {
		return &Pattern{Kind: PNamedMany, Line: line, Name: name.Literal}, nil
	}
	return nil, errNoMatch
}

// pattern implements the grammar production; it has signature
// func() (*Node, error) only via a small adapter where a *Node is needed
// (kleeneUntil's unit parameter), since patterns of P_Unpack members are
// themselves sometimes multi-patterns — so internally we work with
// *Pattern and adapt at the edges.
func (r *Reader) pattern() (*Pattern, error) {
	line := r.lex.Line()
	tok, ok, err := r.consume(lexer.TypeID, lexer.TypeNum, lexer.TypeStr, "_", "[", "(")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNoMatch
	}
	switch tok.Type {
	case "[":
		var members []*Pattern
		for {
			if _, rb, err := r.consume("]"); err != nil {
				return nil, err
			} else if rb {
				break
			}
			m, err := r.patternMultiOrPattern()
			if errors.Is(err, errNoMatch) {
				break
			}
			if err != nil {
				return nil, err
			}
			members = append(members, m)
		}
		if len(members) == 0 {
			return nil, errNoMatch
		}
		return &Pattern{Kind: PUnpack, Line: line, Members: members}, nil
	case "(":
		inside, err := r.anyOfPattern(r.patternGuard, r.patternExtract)
		if errors.Is(err, errNoMatch) {
			return nil, errNoMatch
		}
		if err != nil {
			return nil, err
		}
		if _, ok, err := r.consume(")"); err != nil {
			return nil, err
		} else if !ok {
			return nil, r.expected(`")"`, line, true)
		}
		return inside, nil
	case lexer.TypeID:
		return &Pattern{Kind: PIdentifier, Line: line, Name: tok.Literal}, nil
	case lexer.TypeNum:
		return &Pattern{Kind: PCompare, Line: line, Value: NewNode("Number", line).Set("value", tok.Literal)}, nil
	case lexer.TypeStr:
		return &Pattern{Kind: PCompare, Line: line, Value: NewNode("String", line).Set("value", tok.Literal[1:len(tok.Literal)-1])}, nil
	case "_":
		return &Pattern{Kind: PDiscard, Line: line}, nil
	}
	return nil, errNoMatch
}

func (r *Reader) patternMultiOrPattern() (*Pattern, error) {
	before := r.save()
	m, err := r.patternMulti()
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, errNoMatch) {
		return nil, err
	}
	r.restore(before)
	return r.pattern()
}

func (r *Reader) anyOfPattern(choices ...func() (*Pattern, error)) (*Pattern, error) {
	for _, choice := range choices {
		before := r.save()
		p, err := choice()
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, errNoMatch) {
			return nil, err
		}
		r.restore(before)
	}
	return nil, errNoMatch
}

// --- block --------------------------------------------------------------

func (r *Reader) block() ([]*Node, error) {
	if _, ok, err := r.consume("{"); err != nil {
		return nil, err
	} else if !ok {
		return nil, errNoMatch
	}
	var terms []*Node
	for {
		nodes, err := r.Next("}")
		if err != nil {
			return nil, err
		}
		if nodes == nil {
			break
		}
		terms = append(terms, nodes...)
	}
	if _, ok, err := r.consume("}"); err != nil {
		return nil, err
	} else if !ok {
		return nil, r.die(r.lex.Line(), `unexpected term while in block: expected "}"`)
	}
	return terms, nil
}

// --- top-level terms ------------------------------------------------------

func (r *Reader) assign() (*Node, error) {
	line := r.lex.Line()
	pat, err := r.pattern()
	if errors.Is(err, errNoMatch) {
		return nil, errNoMatch
	}
	if err != nil {
		return nil, err
	}
	if _, ok, err := r.consume("="); err != nil {
		return nil, err
	} else if !ok {
		return nil, errNoMatch
	}
	if pat.Kind == PGuard {
		return nil, r.die(line, "top-level guards forbidden in assignment")
	}
	value, err := r.infix(0)
	if errors.Is(err, errNoMatch) {
		return nil, r.expected("a value", line, true)
	}
	if err != nil {
		return nil, err
	}
	return NewNode("Assign", line).Set("pattern", pat).Set("value", value), nil
}

func (r *Reader) function() (*Node, error) {
	line := r.lex.Line()
	name, ok, err := r.consume(lexer.TypeID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNoMatch
	}
	params, err := r.kleeneUntil("->", func() (*Node, error) {
		p, e := r.pattern()
		if e != nil {
			return nil, e
		}
		return &Node{Tag: "__pattern__", Props: map[string]interface{}{"p": p}}, nil
	}, "", false, true)
	if errors.Is(err, errNoMatch) {
		return nil, errNoMatch
	}
	if err != nil {
		return nil, err
	}
	pats := make([]*Pattern, len(params))
	for i, n := range params {
		pats[i] = n.Props["p"].(*Pattern)
	}
	body, err := r.anyOfBody()
	if errors.Is(err, errNoMatch) {
		return nil, r.expected("function body", line, false)
	}
	if err != nil {
		return nil, err
	}
	return NewNode("Function", line).Set("name", name.Literal).Set("params", pats).Set("body", body), nil
}

func (r *Reader) anyOfBody() ([]*Node, error) {
	before := r.save()
	if b, err := r.block(); err == nil {
		return b, nil
	} else if !errors.Is(err, errNoMatch) {
		return nil, err
	}
	r.restore(before)
	expr, err := r.infix(0)
	if err != nil {
		return nil, err
	}
	return []*Node{expr}, nil
}

func (r *Reader) forBlock() ([]*Node, error) {
	line := r.lex.Line()
	if _, ok, err := r.consume("FOR"); err != nil {
		return nil, err
	} else if !ok {
		return nil, errNoMatch
	}
	var common []*Pattern
	for r.tok.Type != "{" {
		p, err := r.pattern()
		if errors.Is(err, errNoMatch) {
			return nil, r.expected(`a common parameter pattern or "{"`, line, true)
		}
		if err != nil {
			return nil, err
		}
		common = append(common, p)
	}
	if _, _, err := r.consume("{"); err != nil {
		return nil, err
	}
	functions, err := r.kleeneUntil("}", r.function, lexer.TypeNL, true, true)
	if errors.Is(err, errNoMatch) || len(functions) == 0 {
		return nil, r.expected("at least one function in the block", line, false)
	}
	if err != nil {
		return nil, err
	}
	for _, fn := range functions {
		params := fn.Patterns("params")
		fn.Set("params", append(append([]*Pattern{}, common...), params...))
	}
	return functions, nil
}

func (r *Reader) umbrella() (*Node, error) {
	line := r.lex.Line()
	if _, ok, err := r.consume("UMBRELLA"); err != nil {
		return nil, err
	} else if !ok {
		return nil, errNoMatch
	}
	name, ok, err := r.consume(lexer.TypeID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, r.expected("umbrella name", line, true)
	}
	if _, ok, err := r.consume("FOR"); err != nil {
		return nil, err
	} else if !ok {
		return nil, r.expected(`"for"`, line, true)
	}
	var covers []string
	for r.tok.Type != lexer.TypeNL && r.tok.Type != lexer.TypeEOF {
		tok, ok, err := r.consume(lexer.TypeID)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		covers = append(covers, tok.Literal)
	}
	if len(covers) == 0 {
		return nil, r.expected("at least one object", line, false)
	}
	return NewNode("Umbrella", line).Set("name", name.Literal).Set("covers", covers), nil
}

func (r *Reader) obj() (*Node, error) {
	line := r.lex.Line()
	_, secret, err := r.consume("SECRET")
	if err != nil {
		return nil, err
	}
	if _, ok, err := r.consume("OBJ"); err != nil {
		return nil, err
	} else if !ok {
		return nil, errNoMatch
	}
	name, ok, err := r.consume(lexer.TypeID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, r.expected("object name", line, true)
	}
	var props []string
	for {
		tok, ok, err := r.consume(lexer.TypeID)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		props = append(props, tok.Literal)
	}
	block, err := r.block()
	if errors.Is(err, errNoMatch) {
		block = nil
	} else if err != nil {
		return nil, err
	}
	return NewNode("Object", line).
		Set("name", name.Literal).
		Set("secret", secret).
		Set("properties", props).
		Set("block", block), nil
}

func (r *Reader) ret() (*Node, error) {
	line := r.lex.Line()
	if _, ok, err := r.consume("RET"); err != nil {
		return nil, err
	} else if !ok {
		return nil, errNoMatch
	}
	value, err := r.infix(0)
	if errors.Is(err, errNoMatch) {
		return nil, r.expected("a value to return", line, true)
	}
	if err != nil {
		return nil, err
	}
	return NewNode("Ret", line).Set("value", value), nil
}

func (r *Reader) needs() (*Node, error) {
	line := r.lex.Line()
	if _, ok, err := r.consume("NEEDS"); err != nil {
		return nil, err
	} else if !ok {
		return nil, errNoMatch
	}
	_, hidden, err := r.consume("HIDDEN")
	if err != nil {
		return nil, err
	}
	module, ok, err := r.consume(lexer.TypeID, lexer.TypeStr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, r.expected("dependency name", line, false)
	}
	_, exposed, err := r.consume("EXPOSED")
	if err != nil {
		return nil, err
	}
	name := module.Literal
	if module.Type == lexer.TypeStr {
		name = module.Literal[1 : len(module.Literal)-1]
	}
	return NewNode("Needs", line).Set("module", name).Set("hidden", hidden).Set("expose", exposed), nil
}

func (r *Reader) expect() (*Node, error) {
	line := r.lex.Line()
	if _, ok, err := r.consume("EXPECT"); err != nil {
		return nil, err
	} else if !ok {
		return nil, errNoMatch
	}
	guard, err := r.infix(0)
	if errors.Is(err, errNoMatch) {
		return nil, r.expected("an expression", line, true)
	}
	if err != nil {
		return nil, err
	}
	return NewNode("Expect", line).Set("guard", guard), nil
}

func (r *Reader) casePattern() (*Node, bool, error) {
	pat, err := r.pattern()
	if errors.Is(err, errNoMatch) {
		return nil, false, errNoMatch
	}
	if err != nil {
		return nil, false, err
	}
	if _, ok, err := r.consume("->"); err != nil {
		return nil, false, err
	} else if !ok {
		return nil, false, errNoMatch
	}
	return &Node{Tag: "__pat__", Props: map[string]interface{}{"p": pat}}, true, nil
}

func (r *Reader) caseInfix() (*Node, bool, error) {
	expr, err := r.infix(0)
	if errors.Is(err, errNoMatch) {
		return nil, false, errNoMatch
	}
	if err != nil {
		return nil, false, err
	}
	if _, ok, err := r.consume("=>"); err != nil {
		return nil, false, err
	} else if !ok {
		return nil, false, errNoMatch
	}
	return expr, false, nil
}

func (r *Reader) caseArm() (*Node, error) {
	line := r.lex.Line()
	before := r.save()
	var cond *Node
	var isPattern bool
	if node, isPat, err := r.casePattern(); err == nil {
		cond, isPattern = node, isPat
	} else if errors.Is(err, errNoMatch) {
		r.restore(before)
		node2, isPat2, err2 := r.caseInfix()
		if errors.Is(err2, errNoMatch) {
			return nil, r.die(line, `invalid expression or pattern; expected a valid expression `+
				`or pattern followed by "=>" or "->", correspondingly, or "}"`)
		}
		if err2 != nil {
			return nil, err2
		}
		cond, isPattern = node2, isPat2
	} else {
		return nil, err
	}
	body, err := r.anyOfBody()
	if errors.Is(err, errNoMatch) {
		return nil, r.expected("case body - an expression or a block", line, true)
	}
	if err != nil {
		return nil, err
	}
	tag := "ValueCase"
	n := NewNode(tag, line).Set("body", body)
	if isPattern {
		n.Tag = "MatchCase"
		n.Set("cond", cond.Props["p"].(*Pattern))
	} else {
		n.Set("cond", cond)
	}
	return n, nil
}

func (r *Reader) cases() (*Node, error) {
	line := r.lex.Line()
	if _, ok, err := r.consume("CASE"); err != nil {
		return nil, err
	} else if !ok {
		return nil, errNoMatch
	}
	head, err := r.infix(0)
	if errors.Is(err, errNoMatch) {
		return nil, r.expected("case head - the value to match upon", line, true)
	}
	if err != nil {
		return nil, err
	}
	if _, ok, err := r.consume("{"); err != nil {
		return nil, err
	} else if !ok {
		return nil, r.expected(`"{"`, line, true)
	}
	arms, err := r.kleeneUntil("}", r.caseArm, lexer.TypeNL, true, true)
	if err != nil {
		return nil, err
	}
	if len(arms) == 0 {
		return nil, r.expected("at least one case", line, false)
	}
	return NewNode("Cases", line).Set("head", head).Set("cases", arms), nil
}

func (r *Reader) ifTerm() (*Node, error) {
	line := r.lex.Line()
	if _, ok, err := r.consume("IF"); err != nil {
		return nil, err
	} else if !ok {
		return nil, errNoMatch
	}
	cond, err := r.infix(0)
	if errors.Is(err, errNoMatch) {
		return nil, r.expected("condition", line, true)
	}
	if err != nil {
		return nil, err
	}
	correct, err := r.block()
	if errors.Is(err, errNoMatch) {
		return nil, r.expected("a block", line, false)
	}
	if err != nil {
		return nil, err
	}
	var other []*Node
	if _, ok, err := r.consume("ELSE"); err != nil {
		return nil, err
	} else if ok {
		other, err = r.block()
		if errors.Is(err, errNoMatch) {
			return nil, r.expected("a block", line, false)
		}
		if err != nil {
			return nil, err
		}
	}
	return NewNode("If", line).Set("cond", cond).Set("correct", correct).Set("other", other), nil
}

func (r *Reader) division() ([]*Node, error) {
	line := r.lex.Line()
	if _, _, err := r.consume(lexer.TypeID); err != nil {
		return nil, err
	}
	if _, ok, err := r.consume("DIVISION"); err != nil {
		return nil, err
	} else if !ok {
		return nil, errNoMatch
	}
	body, err := r.block()
	if errors.Is(err, errNoMatch) {
		return nil, r.expected("division body", line, true)
	}
	if err != nil {
		return nil, err
	}
	return body, nil
}

// --- entry point ----------------------------------------------------------

// Next parses one top-level term and returns the node(s) it produced.
// Most terms produce exactly one node; "for" and "division" blocks expand
// into several simultaneously, hence the slice return. A nil slice with a
// nil error means the stopper token (normally EOF) was reached.
func (r *Reader) Next(stopper string) ([]*Node, error) {
	if !r.started {
		r.started = true
		if err := r.advance(); err != nil {
			return nil, err
		}
	}
	if r.tok.Type == stopper {
		return nil, nil
	}
	if _, ok, err := r.consume(lexer.TypeNL); err != nil {
		return nil, err
	} else if ok {
		return r.Next(stopper)
	}
	line := r.lex.Line()

	before := r.save()
	if nodes, err := r.division(); err == nil {
		return r.finishTerm(nodes, stopper, line, true)
	} else if !errors.Is(err, errNoMatch) {
		return nil, err
	}
	r.restore(before)
	if nodes, err := r.forBlock(); err == nil {
		return r.finishTerm(nodes, stopper, line, true)
	} else if !errors.Is(err, errNoMatch) {
		return nil, err
	}
	r.restore(before)

	single := []func() (*Node, error){
		r.ifTerm, r.cases, r.expect, r.needs, r.ret, r.obj, r.umbrella, r.function, r.assign,
		func() (*Node, error) { return r.infix(0) },
	}
	for _, fn := range single {
		node, err := r.isolate(fn)
		if errors.Is(err, errNoMatch) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return r.finishTerm([]*Node{node}, stopper, line, node == nil)
	}
	return nil, r.expected("a valid term or EOF", line, false)
}

func (r *Reader) finishTerm(nodes []*Node, stopper string, line int, rawList bool) ([]*Node, error) {
	// The newline is left as the current token rather than consumed: the
	// next call to Next consumes it, so the token after it is lexed only
	// once this term has been evaluated and may use switches it added.
	if r.tok.Type != lexer.TypeNL && r.tok.Type != stopper {
		if rawList {
			return nil, r.die(line, "two or more terms in a row")
		}
		return nil, r.die(line, "strange text (namely %s) follows term", prettyTokenType(r.tok.Type))
	}
	return nodes, nil
}
