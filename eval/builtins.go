package eval

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/go-json-experiment/json"
	"github.com/xrash/smetrics"

	"github.com/rydesta-lang/rydesta/value"
)

// Kernel installs every "#:name" builtin a fresh Master needs before it
// can load its boot script, plus the handful of top-level values
// (true/false, one TypeVal per concrete value.Value variant) the source
// implementation's Master.kernel() seeds the same way.
func Kernel(s *State) {
	s.Env.Set("true", value.True)
	s.Env.Set("false", value.False)
	for _, tag := range []string{"nothing", "bool", "str", "num", "vec", "type", "function", "variations", "object", "routeable", "excerpt", "builtin"} {
		s.Env.Set(tag, &value.TypeVal{Tag: tag})
	}

	builtins := map[string]func(s *State, args []value.Value) (value.Value, error){
		"set-precedence":       kSetPrecedence,
		"set-guard-precedence": kSetGuardPrecedence,
		"set-quoting":          kSetQuoting,
		"equals?":              kEqualsP,
		"getattr":              kGetattr,
		"print":                kPrint,
		"state":                kState,
		"json-encode":          kJSONEncode,
		"json-decode":          kJSONDecode,
		"type-of":              kTypeOf,
		"vec-len":              kVecLen,
		"vec-get":              kVecGet,
		"str-len":              kStrLen,
		"str-concat":           kStrConcat,
	}
	for name, fn := range builtins {
		s.Env.Set("#:"+name, &Builtin{Name: name, Fn: fn})
	}
}

func kSetPrecedence(s *State, args []value.Value) (value.Value, error) {
	n, ok := oneNum(args)
	if !ok {
		return nil, s.die(`"set-precedence" (no. 1) expects a num`)
	}
	s.Reader.Precedence = int(n.Int64())
	return value.TheNothing, nil
}

func kSetGuardPrecedence(s *State, args []value.Value) (value.Value, error) {
	n, ok := oneNum(args)
	if !ok {
		return nil, s.die(`"set-guard-precedence" (no. 1) expects a num`)
	}
	s.Reader.GuardPrecedence = int(n.Int64())
	return value.TheNothing, nil
}

// kSetQuoting flips a named variation bundle's Quoting flag. The grammar
// itself has no syntax marking a function "quoting" (see DESIGN.md), so
// boot scripts that need lazy, excerpt-capturing arguments — a
// short-circuiting "and"/"or", for instance — call this once right after
// declaring the ordinary-looking function.
func kSetQuoting(s *State, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, s.die(`"set-quoting" expects exactly 1 argument`)
	}
	str, ok := args[0].(*value.Str)
	if !ok {
		return nil, s.die(`"set-quoting" (no. 1) expects a str`)
	}
	bound, ok := s.Env.Get(str.Value)
	if !ok {
		return nil, s.die("%q is not defined", str.Value)
	}
	variations, ok := bound.(*Variations)
	if !ok {
		return nil, s.die("%q is not a function", str.Value)
	}
	variations.Quoting = true
	return value.TheNothing, nil
}

func kEqualsP(s *State, args []value.Value) (value.Value, error) {
	if len(args) != 2 {
		return nil, s.die(`"equals?" expects exactly 2 arguments`)
	}
	return value.NewBool(boolName(valuesEqual(args[0], args[1]))), nil
}

// kGetattr reaches into a routeable's environment by name, producing a
// "did you mean" suggestion over the available names when the lookup
// misses — grounded on the same edit-distance idea a typo'd identifier
// anywhere else in the language gets.
func kGetattr(s *State, args []value.Value) (value.Value, error) {
	if len(args) != 2 {
		return nil, s.die(`"getattr" expects exactly 2 arguments`)
	}
	route, ok := args[0].(*Routeable)
	if !ok {
		return nil, s.die(`"getattr" (no. 1) expects a routeable`)
	}
	name, ok := args[1].(*value.Str)
	if !ok {
		return nil, s.die(`"getattr" (no. 2) expects a str`)
	}
	v, ok := route.Env.Get(name.Value)
	if !ok {
		return nil, s.die(`no property %q for %s%s`, name.Value, route.String(), didYouMean(name.Value, route.Env.Names()))
	}
	return v, nil
}

func kPrint(s *State, args []value.Value) (value.Value, error) {
	for i, a := range args {
		if i > 0 {
			fmt.Print(" ")
		}
		fmt.Print(a.String())
	}
	fmt.Println()
	return value.TheNothing, nil
}

func kState(s *State, args []value.Value) (value.Value, error) {
	names := s.Env.Names()
	items := make([]value.Value, len(names))
	for i, n := range names {
		items[i] = &value.Str{Value: n}
	}
	return &value.Vec{Items: items}, nil
}

func kTypeOf(s *State, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, s.die(`"type-of" expects exactly 1 argument`)
	}
	return &value.TypeVal{Tag: args[0].Type()}, nil
}

func kVecLen(s *State, args []value.Value) (value.Value, error) {
	v, ok := oneVec(args)
	if !ok {
		return nil, s.die(`"vec-len" (no. 1) expects a vec`)
	}
	return value.NewNumInt(int64(len(v.Items))), nil
}

func kVecGet(s *State, args []value.Value) (value.Value, error) {
	if len(args) != 2 {
		return nil, s.die(`"vec-get" expects exactly 2 arguments`)
	}
	v, ok := args[0].(*value.Vec)
	if !ok {
		return nil, s.die(`"vec-get" (no. 1) expects a vec`)
	}
	n, ok := args[1].(*value.Num)
	if !ok {
		return nil, s.die(`"vec-get" (no. 2) expects a num`)
	}
	idx := int(n.Int64())
	if idx < 0 || idx >= len(v.Items) {
		return nil, s.die("index %d out of bounds for a vec of length %d", idx, len(v.Items))
	}
	return v.Items[idx], nil
}

func kStrLen(s *State, args []value.Value) (value.Value, error) {
	str, ok := oneStr(args)
	if !ok {
		return nil, s.die(`"str-len" (no. 1) expects a str`)
	}
	return value.NewNumInt(int64(len(str.Value))), nil
}

func kStrConcat(s *State, args []value.Value) (value.Value, error) {
	out := ""
	for _, a := range args {
		str, ok := a.(*value.Str)
		if !ok {
			return nil, s.die(`"str-concat" expects every argument to be a str`)
		}
		out += str.Value
	}
	return &value.Str{Value: out}, nil
}

// kJSONEncode renders a value tree (nothing/bool/num/str/vec) as JSON text.
func kJSONEncode(s *State, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, s.die(`"json-encode" expects exactly 1 argument`)
	}
	out, err := json.Marshal(toPlainJSON(args[0]))
	if err != nil {
		return nil, s.die("json-encode: %s", err)
	}
	return &value.Str{Value: string(out)}, nil
}

// kJSONDecode parses JSON text back into the same value tree.
func kJSONDecode(s *State, args []value.Value) (value.Value, error) {
	str, ok := oneStr(args)
	if !ok {
		return nil, s.die(`"json-decode" (no. 1) expects a str`)
	}
	var decoded interface{}
	if err := json.Unmarshal([]byte(str.Value), &decoded); err != nil {
		return nil, s.die("json-decode: %s", err)
	}
	return fromPlainJSON(decoded), nil
}

func toPlainJSON(v value.Value) interface{} {
	switch vv := v.(type) {
	case *value.Num:
		f, _ := vv.Rat.Float64()
		return f
	case *value.Str:
		return vv.Value
	case *value.Bool:
		return vv.Truthy()
	case *value.Vec:
		items := make([]interface{}, len(vv.Items))
		for i, it := range vv.Items {
			items[i] = toPlainJSON(it)
		}
		return items
	default:
		return nil
	}
}

func fromPlainJSON(v interface{}) value.Value {
	switch vv := v.(type) {
	case nil:
		return value.TheNothing
	case bool:
		return value.NewBool(boolName(vv))
	case float64:
		r := new(big.Rat).SetFloat64(vv)
		if r == nil {
			return value.TheNothing
		}
		return value.NewNumFromRat(r)
	case string:
		return &value.Str{Value: vv}
	case []interface{}:
		items := make([]value.Value, len(vv))
		for i, it := range vv {
			items[i] = fromPlainJSON(it)
		}
		return &value.Vec{Items: items}
	case map[string]interface{}:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		items := make([]value.Value, len(keys))
		for i, k := range keys {
			items[i] = &value.Vec{Items: []value.Value{&value.Str{Value: k}, fromPlainJSON(vv[k])}}
		}
		return &value.Vec{Items: items}
	default:
		return value.TheNothing
	}
}

// didYouMean appends a suggestion clause for the closest candidate name
// by Jaro-Winkler similarity, or nothing if no candidate is close.
func didYouMean(name string, candidates []string) string {
	best := ""
	bestScore := 0.0
	for _, c := range candidates {
		score := smetrics.JaroWinkler(name, c, 0.7, 4)
		if score > bestScore {
			bestScore, best = score, c
		}
	}
	if best == "" || bestScore < 0.7 {
		return ""
	}
	return fmt.Sprintf(" (did you mean %q?)", best)
}

func oneNum(args []value.Value) (*value.Num, bool) {
	if len(args) != 1 {
		return nil, false
	}
	n, ok := args[0].(*value.Num)
	return n, ok
}

func oneStr(args []value.Value) (*value.Str, bool) {
	if len(args) != 1 {
		return nil, false
	}
	s, ok := args[0].(*value.Str)
	return s, ok
}

func oneVec(args []value.Value) (*value.Vec, bool) {
	if len(args) != 1 {
		return nil, false
	}
	v, ok := args[0].(*value.Vec)
	return v, ok
}
