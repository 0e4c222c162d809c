package eval

import (
	"fmt"
	"math/big"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rydesta-lang/rydesta/lexer"
	"github.com/rydesta-lang/rydesta/parser"
	"github.com/rydesta-lang/rydesta/value"
)

// ModuleLoader resolves and loads a "needs" dependency. It is injected by
// package master rather than imported directly, since master itself
// depends on eval — a direct import the other way would cycle. expose
// decides whether the loaded module's bindings are merged straight into
// s.Env (true) or only reachable through the module's own name as a
// routeable namespace (false).
type ModuleLoader func(s *State, modpath string, hidden, expose bool) (loaded bool, err error)

// Visit evaluates a node to a value. A "Call" node establishes a fresh
// function-call boundary: any returnSignal produced while trampolining
// through its callee's tail chain terminates that call alone, and is
// unwrapped into a plain value here before returning to whatever asked
// for this Call's result. Any other node tag is evaluated as-is, letting
// a "ret" nested in it keep propagating as an error to the nearest
// enclosing Call boundary, which is exactly the semantics a "ret" needs:
// it ends its own function, not whichever expression happened to invoke
// a sub-evaluation of it.
func (s *State) Visit(node *parser.Node) (value.Value, error) {
	isCallBoundary := node != nil && node.Tag == "Call"
	v, err := s.visitLoop(node)
	if isCallBoundary {
		if rs, ok := err.(*returnSignal); ok {
			return rs.Value.(value.Value), nil
		}
	}
	return v, err
}

// VisitTopLevel evaluates one of the nodes a Reader hands back between
// feeds. It behaves exactly like Visit, except a "ret" that escapes all
// the way out here — one with no enclosing function call left to
// terminate — is the "attempted ret outside a function" runtime error
// rather than an internal signal a caller doesn't know how to handle.
func (s *State) VisitTopLevel(node *parser.Node) (value.Value, error) {
	v, err := s.Visit(node)
	if _, ok := err.(*returnSignal); ok {
		return nil, s.die("attempted ret outside a function")
	}
	return v, err
}

func (s *State) visitLoop(node *parser.Node) (result value.Value, err error) {
	// Once a tail Call has been entered, a ret surfacing here belongs to
	// that call, whatever node the loop started from.
	enteredCall := false
	defer func() {
		if rs, ok := err.(*returnSignal); ok && enteredCall {
			result, err = rs.Value.(value.Value), nil
		}
	}()
	for {
		if node == nil {
			return value.TheNothing, nil
		}
		s.Line = node.Line
		switch node.Tag {

		case "Cases":
			result, nextNode, nextState, done, err := s.visitCases(node)
			if err != nil || done {
				return result, err
			}
			node, s = nextNode, nextState
			continue

		case "Function":
			if err := s.defineFunction(node); err != nil {
				return nil, err
			}
			return value.TheNothing, nil

		case "If":
			nextNode, result, done, err := s.visitIf(node)
			if err != nil || done {
				return result, err
			}
			node = nextNode
			continue

		case "Object":
			obj := &Object{
				Name:       node.Str("name"),
				Secret:     node.Bool("secret"),
				Properties: synthesizePropertyPatterns(node),
				Block:      node.Children("block"),
				State:      s.Copy(),
			}
			s.Env.Set(node.Str("name"), obj)
			return value.TheNothing, nil

		case "Ret":
			v, err := s.Visit(node.Child("value"))
			if err != nil {
				return nil, err
			}
			return nil, &returnSignal{Value: v}

		case "Needs":
			if err := s.visitNeeds(node); err != nil {
				return nil, err
			}
			return value.TheNothing, nil

		case "Assign":
			v, err := s.Visit(node.Child("value"))
			if err != nil {
				return nil, err
			}
			ok, payload, err := Match(s, node.Pattern("pattern"), v)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, s.die("match error: %s", payload)
			}
			return v, nil

		case "Call":
			result, nextNode, nextState, done, err := s.visitCall(node)
			if err != nil || done {
				return result, err
			}
			enteredCall = true
			node, s = nextNode, nextState
			continue

		case "Instance":
			return s.visitInstance(node)

		case "Builtin":
			name := node.Str("name")
			v, ok := s.Env.Get("#:" + name)
			if !ok {
				return nil, s.die("builtin %q not found", name)
			}
			return v, nil

		case "Path":
			return s.visitPath(node)

		case "Expect":
			guard, err := s.Visit(node.Child("guard"))
			if err != nil {
				return nil, err
			}
			if b, ok := guard.(*value.Bool); ok && !b.Truthy() {
				return nil, s.die("expectation false")
			}
			return value.TheNothing, nil

		case "Vector":
			items, err := s.VisitAll(node.Children("items"))
			if err != nil {
				return nil, err
			}
			return &value.Vec{Items: items}, nil

		case "Number":
			return parseNumber(node.Str("value"))

		case "String":
			return s.visitString(node)

		default:
			return nil, s.die("internal error: cannot evaluate node of type %q", node.Tag)
		}
	}
}

// VisitAll evaluates each node in order, collecting results — used for
// call arguments and vector literals, where there is no tail position.
func (s *State) VisitAll(nodes []*parser.Node) ([]value.Value, error) {
	out := make([]value.Value, 0, len(nodes))
	for _, n := range nodes {
		v, err := s.Visit(n)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// visitBodyButLast evaluates every node except the last, discarding their
// results, as the TCO loop does before looping onto the final statement.
func (s *State) visitBodyButLast(nodes []*parser.Node) error {
	if len(nodes) == 0 {
		return nil
	}
	_, err := s.VisitAll(nodes[:len(nodes)-1])
	return err
}

func (s *State) visitIf(node *parser.Node) (next *parser.Node, result value.Value, done bool, err error) {
	cond, err := s.Visit(node.Child("cond"))
	if err != nil {
		return nil, nil, true, err
	}
	falsy := false
	if b, ok := cond.(*value.Bool); ok && !b.Truthy() {
		falsy = true
	}
	var branch []*parser.Node
	if !falsy {
		branch = node.Children("correct")
	} else {
		branch = node.Children("other")
	}
	if len(branch) == 0 {
		return nil, value.NewBool(boolName(!falsy)), true, nil
	}
	if err := s.visitBodyButLast(branch); err != nil {
		return nil, nil, true, err
	}
	return branch[len(branch)-1], nil, false, nil
}

func boolName(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (s *State) visitCases(node *parser.Node) (result value.Value, next *parser.Node, nextState *State, done bool, err error) {
	head, err := s.Visit(node.Child("head"))
	if err != nil {
		return nil, nil, nil, true, err
	}
	arms := append([]*parser.Node{}, node.Children("cases")...)
	sort.SliceStable(arms, func(i, j int) bool {
		return caseSortKey(arms[i]) > caseSortKey(arms[j])
	})
	for _, arm := range arms {
		var ok bool
		if arm.Tag == "MatchCase" {
			cond := arm.Pattern("cond")
			if cond.Kind == parser.PDiscard {
				ok = true
			} else {
				ok, _, err = Match(s, cond, head)
				if err != nil {
					return nil, nil, nil, true, err
				}
			}
		} else {
			condVal, err := s.Visit(arm.Child("cond"))
			if err != nil {
				return nil, nil, nil, true, err
			}
			ok = valuesEqual(condVal, head)
		}
		if ok {
			body := arm.Children("body")
			if len(body) == 0 {
				return value.NewBool("true"), nil, nil, true, nil
			}
			if err := s.visitBodyButLast(body); err != nil {
				return nil, nil, nil, true, err
			}
			return nil, body[len(body)-1], s, false, nil
		}
	}
	return value.NewBool("false"), nil, nil, true, nil
}

func caseSortKey(arm *parser.Node) int64 {
	if arm.Tag == "ValueCase" {
		return 1 << 32
	}
	return arm.Pattern("cond").Sign()
}

// synthesizePropertyPatterns builds a P_Identifier pattern for each
// declared object property name. The property grammar accepts bare
// identifiers, not pattern syntax, but instantiation always needs a real
// Pattern to match an argument against — see DESIGN.md.
func synthesizePropertyPatterns(node *parser.Node) []*parser.Pattern {
	names, _ := node.Props["properties"].([]string)
	pats := make([]*parser.Pattern, len(names))
	for i, n := range names {
		pats[i] = parser.NewIdentifierPattern(n, node.Line)
	}
	return pats
}

func (s *State) defineFunction(node *parser.Node) error {
	params := node.Patterns("params")
	fn := &Function{
		Name:      node.Str("name"),
		Signature: parser.SignAll(params),
		Params:    params,
		Body:      node.Children("body"),
		State:     s,
	}
	name := fn.Name
	naked := s.TopLevel

	if strings.HasPrefix(name, "'") {
		opName := name[1:]
		if fn.Arity() != 1 && fn.Arity() != 2 {
			return s.die("expected either a prefix (arity = 1) or infix (arity = 2), got arity = %d", fn.Arity())
		}
		if strings.Contains(opName, "_") {
			s.Reader.AddToken(strings.ToUpper(opName), strings.ReplaceAll(regexp.QuoteMeta(opName), "_", `[ \t]+`))
		} else if len(opName) > 0 && isAlphaByte(opName[0]) {
			s.Reader.AddKeyword(opName)
		}
		if fn.Arity() == 2 {
			s.Reader.AddOperator(strings.ToUpper(opName), lexer.LeftAssoc, s.Reader.Precedence)
		} else {
			s.Reader.AddPrefix(strings.ToUpper(opName))
		}
	}

	existing, has := s.Env.Get(name)
	if has {
		variations, ok := existing.(*Variations)
		if !ok {
			return s.die("%q is already bound to a non-function value", name)
		}
		if variations.Naked != naked {
			return s.die("expected variation %q to be naked", name)
		}
		variations.Add(fn)
	} else {
		// Quoting starts false for every freshly-declared name; a boot
		// script flips it with "#:set-quoting" once it wants a variation's
		// arguments captured as excerpts instead of evaluated (see
		// DESIGN.md for why the grammar itself carries no such marker).
		s.Env.Set(name, &Variations{Name: name, Items: []*Function{fn}, Naked: naked})
	}
	if !naked {
		fn.State = fn.State.Copy()
	}
	return nil
}

func isAlphaByte(b byte) bool { return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' }

func (s *State) visitNeeds(node *parser.Node) error {
	if s.ModuleLoader == nil {
		return s.die("module loading is not available in this context")
	}
	loaded, err := s.ModuleLoader(s, node.Str("module"), node.Bool("hidden"), node.Bool("expose"))
	if err != nil {
		return err
	}
	if !loaded {
		hidden := ""
		if node.Bool("hidden") {
			hidden = "hidden "
		}
		return s.die("%smodule not found: %q", hidden, node.Str("module"))
	}
	return nil
}

func (s *State) visitPath(node *parser.Node) (value.Value, error) {
	name := node.Str("parent")
	base, ok := s.Env.Get(name)
	if !ok {
		return nil, s.die("%q is not defined%s", name, didYouMean(name, s.Env.Names()))
	}
	res := base
	segs, _ := node.Props["path"].([]string)
	for _, piece := range segs {
		route, ok := res.(*Routeable)
		if !ok {
			return nil, s.die("type %q is not routeable: %s", res.Type(), res.String())
		}
		v, ok := route.Env.Get(piece)
		if !ok {
			return nil, s.die("no property %q for %s", piece, route.String())
		}
		res = v
	}
	return res, nil
}

func (s *State) visitInstance(node *parser.Node) (value.Value, error) {
	calleeVal, err := s.Visit(node.Child("callee"))
	if err != nil {
		return nil, err
	}
	obj, ok := calleeVal.(*Object)
	if !ok {
		return nil, s.die("value of type %s is not an object", calleeVal.Type())
	}
	args, err := s.VisitAll(node.Children("args"))
	if err != nil {
		return nil, err
	}
	if len(args) != len(obj.Properties) {
		return nil, s.die("%q expected %d properties, got %d", obj.Name, len(obj.Properties), len(args))
	}
	capsule := obj.State.Copy()
	extractable := make([]value.Value, 0, len(args))
	for i, arg := range args {
		ok, payload, err := Match(capsule, obj.Properties[i], arg)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, s.die("failed to instantiate %s on argument no. %d: %s", obj.Name, i+1, payload)
		}
		extractable = append(extractable, arg)
	}
	if err := capsule.visitBodyButLast(obj.Block); err != nil {
		return nil, err
	}
	if len(obj.Block) > 0 {
		if _, err := capsule.Visit(obj.Block[len(obj.Block)-1]); err != nil {
			return nil, err
		}
	}
	return &Routeable{Name: obj.Name, Env: capsule.Env, Extractable: extractable}, nil
}

// visitCall implements the special forms (quote/unquote), builtin
// dispatch, and overloaded-variation dispatch with self-tail-call
// elimination: rather than recursing into the chosen variation's body,
// it swaps in the variation's last statement and its capsule state and
// lets the outer Visit loop continue.
func (s *State) visitCall(node *parser.Node) (result value.Value, nextNode *parser.Node, nextState *State, done bool, err error) {
	callee := node.Child("callee")
	args := node.Children("args")
	if callee.Tag == "Path" && callee.IsBareIdentifier() {
		switch callee.Str("parent") {
		case "quote":
			if len(args) != 1 {
				return nil, nil, nil, true, s.die(`special-form "quote" receives exactly one argument`)
			}
			return &Excerpt{Node: args[0], State: s.Copy()}, nil, nil, true, nil
		case "unquote":
			if len(args) != 1 {
				return nil, nil, nil, true, s.die(`special-form "unquote" receives exactly one argument`)
			}
			quotedVal, err := s.Visit(args[0])
			if err != nil {
				return nil, nil, nil, true, err
			}
			excerpt, ok := quotedVal.(*Excerpt)
			if !ok {
				return nil, nil, nil, true, s.die("cannot unquote a non-excerpt value: %s", quotedVal.String())
			}
			v, err := excerpt.State.Copy().Visit(excerpt.Node)
			return v, nil, nil, true, err
		}
	}

	calleeVal, err := s.Visit(callee)
	if err != nil {
		return nil, nil, nil, true, err
	}

	switch fn := calleeVal.(type) {
	case *Variations:
		argVals := make([]value.Value, len(args))
		for i, a := range args {
			if fn.Quoting {
				argVals[i] = &Excerpt{Node: a, State: s.Copy()}
			} else {
				v, err := s.Visit(a)
				if err != nil {
					return nil, nil, nil, true, err
				}
				argVals[i] = v
			}
		}
		variation, capsule, matchErr := dispatchVariation(s, fn, argVals)
		if matchErr != nil {
			return nil, nil, nil, true, matchErr
		}
		if len(variation.Body) == 0 {
			return value.TheNothing, nil, nil, true, nil
		}
		if err := capsule.visitBodyButLast(variation.Body); err != nil {
			if ret, ok := err.(*returnSignal); ok {
				return ret.Value.(value.Value), nil, nil, true, nil
			}
			return nil, nil, nil, true, err
		}
		last := variation.Body[len(variation.Body)-1]
		var tail *parser.Node
		if last.Tag == "Ret" {
			tail = last.Child("value")
		} else {
			tail = last
		}
		return nil, tail, capsule, false, nil

	case *Builtin:
		argVals, err := s.VisitAll(args)
		if err != nil {
			return nil, nil, nil, true, err
		}
		v, err := fn.Fn(s, argVals)
		return v, nil, nil, true, err

	default:
		return nil, nil, nil, true, s.die("callee of type %s is not callable: %s", calleeVal.Type(), calleeVal.String())
	}
}

// dispatchVariation finds the first variation (already sorted most
// specific first) whose arity matches argVals and whose parameter
// patterns all match, running each candidate's pattern match against a
// fresh capsule copied from that variation's captured state.
func dispatchVariation(s *State, fn *Variations, argVals []value.Value) (*Function, *State, error) {
	for _, variation := range fn.Items {
		if variation.Arity() != len(argVals) {
			continue
		}
		capsule := variation.State.Copy()
		allOK := true
		for i, param := range variation.Params {
			ok, _, err := Match(capsule, param, argVals[i])
			if err != nil {
				return nil, nil, err
			}
			if !ok {
				allOK = false
				break
			}
		}
		if allOK {
			capsule.Reader = s.Reader
			return variation, capsule, nil
		}
	}
	var dump []string
	for _, v := range fn.Items {
		dump = append(dump, v.String())
	}
	return nil, nil, s.die("no variation of %q can handle such %d argument(s). Maybe you want one of these:\n  %s",
		fn.Name, len(argVals), strings.Join(dump, "\n  "))
}

var interpolationRE = regexp.MustCompile(`\$([a-zA-Z][a-zA-Z0-9_\-]*[!?]?)`)

func (s *State) visitString(node *parser.Node) (value.Value, error) {
	raw := node.Str("value")
	var outerErr error
	formatted := interpolationRE.ReplaceAllStringFunc(raw, func(m string) string {
		name := interpolationRE.FindStringSubmatch(m)[1]
		v, ok := s.Env.Get(name)
		if !ok {
			outerErr = s.die("interpolation: variable %q is not defined", name)
			return ""
		}
		if sv, ok := v.(*value.Str); ok {
			return sv.Value
		}
		return v.String()
	})
	if outerErr != nil {
		return nil, outerErr
	}
	return &value.Str{Value: unescape(formatted)}, nil
}

func unescape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case 'v':
				b.WriteByte('\v')
			case '\\':
				b.WriteByte('\\')
			case '$':
				b.WriteByte('$')
			case '"':
				b.WriteByte('"')
			case '\'':
				b.WriteByte('\'')
			case '0':
				b.WriteByte(0)
			default:
				b.WriteByte(s[i])
				b.WriteByte(s[i+1])
			}
			i++
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func parseNumber(literal string) (value.Value, error) {
	switch {
	case strings.HasPrefix(literal, "0x"):
		n, ok := new(big.Int).SetString(literal[2:], 16)
		if !ok {
			return nil, fmt.Errorf("invalid hex literal %q", literal)
		}
		return value.NewNumFromBig(n), nil
	case strings.HasPrefix(literal, "0o"):
		n, ok := new(big.Int).SetString(literal[2:], 8)
		if !ok {
			return nil, fmt.Errorf("invalid octal literal %q", literal)
		}
		return value.NewNumFromBig(n), nil
	case strings.HasPrefix(literal, "0b"):
		n, ok := new(big.Int).SetString(literal[2:], 2)
		if !ok {
			return nil, fmt.Errorf("invalid binary literal %q", literal)
		}
		return value.NewNumFromBig(n), nil
	case strings.Contains(literal, "."):
		r, err := decimalStringToRat(literal)
		if err != nil {
			return nil, err
		}
		return value.NewNumFromRat(r), nil
	default:
		n, err := strconv.ParseInt(literal, 10, 64)
		if err != nil {
			bigN, ok := new(big.Int).SetString(literal, 10)
			if !ok {
				return nil, fmt.Errorf("invalid number literal %q", literal)
			}
			return value.NewNumFromBig(bigN), nil
		}
		return value.NewNumInt(n), nil
	}
}

func decimalStringToRat(literal string) (*big.Rat, error) {
	r, ok := new(big.Rat).SetString(literal)
	if !ok {
		return nil, fmt.Errorf("invalid decimal literal %q", literal)
	}
	return r, nil
}

