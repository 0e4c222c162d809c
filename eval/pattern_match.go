package eval

import (
	"fmt"

	"github.com/rydesta-lang/rydesta/parser"
	"github.com/rydesta-lang/rydesta/value"
)

// Match tries to bind pattern against val under state s, returning
// (true, "", nil) on success, (false, message, nil) on an ordinary
// mismatch (the caller decides whether that's fatal), or a non-nil error
// for a fatal interpreter failure (an extraction naming an entity that
// does not exist).
func Match(s *State, pattern *parser.Pattern, val value.Value) (bool, string, error) {
	switch pattern.Kind {
	case parser.PIdentifier:
		s.Env.Set(pattern.Name, val)
		return true, "", nil

	case parser.PCompare:
		comparee, err := s.Visit(pattern.Value)
		if err != nil {
			return false, "", err
		}
		if !valuesEqual(comparee, val) {
			return false, fmt.Sprintf("expected %s, found %s", comparee.String(), val.String()), nil
		}
		return true, "", nil

	case parser.PGuard:
		s.Env.Set(pattern.Param, val)
		result, err := s.Visit(pattern.Guard)
		if err != nil {
			return false, "", err
		}
		b, ok := result.(*value.Bool)
		if !ok || !b.Truthy() {
			return false, fmt.Sprintf("vetoed by the guard of %q", pattern.Param), nil
		}
		return true, "", nil

	case parser.PExtract:
		return matchExtract(s, pattern, val)

	case parser.PUnpack:
		return matchUnpack(s, pattern, val)

	case parser.PDiscard:
		return true, "", nil
	}
	return true, "", nil
}

func matchExtract(s *State, pattern *parser.Pattern, val value.Value) (bool, string, error) {
	bound, ok := s.Env.Get(pattern.Obj)
	if !ok {
		return false, "", s.die("entity %q does not exist", pattern.Obj)
	}
	obj, isObj := bound.(*Object)
	if !isObj {
		if boxedEqual(bound, val) {
			return true, "", nil
		}
		return false, fmt.Sprintf("expected %s, found %s", bound.String(), val.String()), nil
	}
	route, isRoute := val.(*Routeable)
	if !isRoute {
		return false, fmt.Sprintf("type %s is not an object", val.Type()), nil
	}
	if obj.Name != route.Name {
		return false, fmt.Sprintf("bogus object: expected %q, got %q", obj.Name, route.Name), nil
	}
	for i, field := range pattern.Fields {
		if i >= len(route.Extractable) {
			break
		}
		ok, payload, err := Match(s, field, route.Extractable[i])
		if err != nil {
			return false, "", err
		}
		if !ok {
			return false, fmt.Sprintf("extraction for %q failed: %s", obj.Name, payload), nil
		}
	}
	return true, "", nil
}

func isMultiKind(kind string) bool {
	return kind == parser.PDiscardMulti || kind == parser.PNamedMulti
}
func isManyKind(kind string) bool {
	return kind == parser.PDiscardMany || kind == parser.PNamedMany
}
func isGroupingKind(kind string) bool { return isMultiKind(kind) || isManyKind(kind) }

func matchUnpack(s *State, pattern *parser.Pattern, val value.Value) (bool, string, error) {
	vec, isVec := val.(*value.Vec)
	str, isStr := val.(*value.Str)
	if !isVec && !isStr {
		return false, fmt.Sprintf("right-hand side must be a vector or a string, got %s", val.String()), nil
	}
	myself := "vector"
	length := 0
	if isStr {
		myself = "string"
		length = len(str.Value)
	} else {
		length = len(vec.Items)
	}

	groupings := 0
	for _, m := range pattern.Members {
		if isGroupingKind(m.Kind) {
			groupings++
		}
	}
	if len(pattern.Members) != length && groupings == 0 {
		return false, fmt.Sprintf("got pattern of length %d, but %s is of length %d: %s",
			len(pattern.Members), myself, length, val.String()), nil
	}
	if groupings > 2 && float64(groupings)*1.5 > float64(len(pattern.Members)) {
		return false, "", s.die("several multi-item captures must be delimited")
	}

	itemAt := func(idx int) value.Value {
		if isStr {
			return &value.Str{Value: string(str.Value[idx])}
		}
		return vec.Items[idx]
	}
	sliceLen := func(from int) int {
		if isStr {
			return len(str.Value) - from
		}
		return len(vec.Items) - from
	}

	vOff, mOff := 0, 0
	for mOff < len(pattern.Members) {
		member := pattern.Members[mOff]
		valuesLeft := sliceLen(vOff)
		remainingAfterThis := len(pattern.Members) - mOff - 1
		named := member.Kind == parser.PNamedMulti || member.Kind == parser.PNamedMany
		multi := member.Kind == parser.PNamedMulti || member.Kind == parser.PDiscardMulti
		name := member.Name
		if !named {
			if multi {
				name = "<plus>"
			} else {
				name = "<star>"
			}
		}
		captured := valuesLeft - remainingAfterThis

		if isGroupingKind(member.Kind) {
			delimiterFound := false
			if mOff+1 < len(pattern.Members) {
				next := pattern.Members[mOff+1]
				if next.Kind == parser.PCompare || next.Kind == parser.PGuard || next.Kind == parser.PExtract {
					for idx := 0; idx < valuesLeft; idx++ {
						ok, _, err := Match(s, next, itemAt(vOff+idx))
						if err != nil {
							return false, "", err
						}
						if ok {
							captured = idx
							mOff++
							delimiterFound = true
							break
						}
						if idx == valuesLeft-1 {
							return false, fmt.Sprintf("reached the end of the %s searching for the delimiter of %q: %s",
								myself, name, val.String()), nil
						}
					}
				}
			}
			if captured <= 0 && multi {
				return false, fmt.Sprintf("%q required at least one item to match, got none: %s", name, val.String()), nil
			}
			if named {
				if isStr {
					s.Env.Set(member.Name, &value.Str{Value: str.Value[vOff : vOff+captured]})
				} else {
					s.Env.Set(member.Name, &value.Vec{Items: append([]value.Value{}, vec.Items[vOff:vOff+captured]...)})
				}
			}
			vOff += captured
			if delimiterFound {
				vOff++
			}
		} else if captured < 0 {
			return false, fmt.Sprintf("the given %s is too small to be captured by %s", myself, name), nil
		} else {
			item := itemAt(vOff)
			ok, payload, err := Match(s, member, item)
			if err != nil {
				return false, "", err
			}
			if !ok {
				return false, fmt.Sprintf("unpack failed on member no. %d, for item no. %d; %s", mOff+1, vOff+1, payload), nil
			}
			vOff++
		}
		mOff++
	}
	return true, "", nil
}

// valuesEqual implements the equality rule spec.md's runtime value table
// assigns each variant: structural for num/str/vec, identity for bool.
func valuesEqual(a, b value.Value) bool {
	if a.Type() != b.Type() {
		return false
	}
	switch av := a.(type) {
	case *value.Num:
		bv := b.(*value.Num)
		return av.Rat.Cmp(bv.Rat) == 0
	case *value.Str:
		bv := b.(*value.Str)
		return av.Value == bv.Value
	case *value.Bool:
		return a == b
	case *value.Vec:
		bv := b.(*value.Vec)
		if len(av.Items) != len(bv.Items) {
			return false
		}
		for i := range av.Items {
			if !valuesEqual(av.Items[i], bv.Items[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// boxedEqual is the rule P_Extract uses to compare a non-object bound
// entity against an argument value: structural equality, except Bool
// which always compares by identity.
func boxedEqual(a, b value.Value) bool {
	return valuesEqual(a, b)
}
