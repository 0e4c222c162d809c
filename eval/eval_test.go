package eval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rydesta-lang/rydesta/lexer"
	"github.com/rydesta-lang/rydesta/parser"
	"github.com/rydesta-lang/rydesta/value"
)

// feedSource runs source through a fresh, kernel-only State — no module
// loading, no boot script — and returns the value of its last top-level
// term. It mirrors package master's own feed loop closely enough to
// exercise the evaluator the same way a real program would.
func feedSource(t *testing.T, source string) (value.Value, error) {
	t.Helper()
	reader := parser.NewReader()
	state := NewState("test.ry", reader)
	Kernel(state)

	reader.Update(source)
	var last value.Value = value.TheNothing
	for {
		nodes, err := reader.Next(lexer.TypeEOF)
		if err != nil {
			return nil, err
		}
		if nodes == nil {
			return last, nil
		}
		for _, node := range nodes {
			v, err := state.VisitTopLevel(node)
			if err != nil {
				return nil, err
			}
			last = v
		}
	}
}

func mustFeed(t *testing.T, source string) value.Value {
	t.Helper()
	v, err := feedSource(t, source)
	require.NoError(t, err)
	return v
}

func TestOverloadDispatch_PrefersMostSpecificVariation(t *testing.T) {
	v := mustFeed(t, `
describe 0 -> "zero"
describe n -> "other"
describe 0
`)
	assert.Equal(t, "zero", v.String())

	v = mustFeed(t, `
describe 0 -> "zero"
describe n -> "other"
describe 7
`)
	assert.Equal(t, "other", v.String())
}

func TestOverloadDispatch_DeclarationOrderDoesNotMatter(t *testing.T) {
	v := mustFeed(t, `
describe n -> "other"
describe 0 -> "zero"
describe 0
`)
	assert.Equal(t, "zero", v.String())
}

func TestOperatorInjection_MidFileInfixOperator(t *testing.T) {
	v := mustFeed(t, `
'concat a b -> #:str-concat a b
"foo" concat "bar"
`)
	assert.Equal(t, "foobar", v.String())
}

func TestOperatorInjection_MidFilePrefixOperator(t *testing.T) {
	v := mustFeed(t, `
'shout a -> #:str-concat a "!"
shout "hi"
`)
	assert.Equal(t, "hi!", v.String())
}

func TestDeepSelfTailRecursion_NoStackOverflow(t *testing.T) {
	const depth = 20000
	var items strings.Builder
	for i := 0; i < depth; i++ {
		items.WriteString("1 ")
	}
	source := `
walk (v, #:equals? (#:vec-len v) 0) -> "done"
walk [_ rest*] -> walk rest
walk [` + items.String() + `]
`
	v := mustFeed(t, source)
	assert.Equal(t, "done", v.String())
}

func TestObjectExtraction_ViaCasePattern(t *testing.T) {
	v := mustFeed(t, `
obj Point x y
p = new Point 3 4
case p {
  (Point a b) -> a
}
`)
	assert.Equal(t, "3", v.String())
}

func TestObjectExtraction_NameMismatchFallsThrough(t *testing.T) {
	v := mustFeed(t, `
obj Point x y
obj Other a b
p = new Point 3 4
case p {
  (Other a b) -> "wrong"
  (Point a b) -> b
}
`)
	assert.Equal(t, "4", v.String())
}

func TestReturnSignal_AbsorbedAtCallBoundaryFromNestedIf(t *testing.T) {
	v := mustFeed(t, `
pick x -> {
  if x {
    ret "yes"
  }
  "no"
}
pick true
`)
	assert.Equal(t, "yes", v.String())

	v = mustFeed(t, `
pick x -> {
  if x {
    ret "yes"
  }
  "no"
}
pick false
`)
	assert.Equal(t, "no", v.String())
}

func TestReturnSignal_OutsideAnyCallIsARuntimeError(t *testing.T) {
	_, err := feedSource(t, `ret "oops"`)
	require.Error(t, err)
	rerr, ok := err.(*RuntimeError)
	require.True(t, ok)
	assert.Contains(t, rerr.Reason, "attempted ret outside a function")
}

func TestStringUnpack_WithDelimiter(t *testing.T) {
	v := mustFeed(t, `
split [head* "," tail*] -> #:str-concat tail head
split "ab,cd"
`)
	assert.Equal(t, "cdab", v.String())
}

func TestVectorUnpack_FixedArity(t *testing.T) {
	v := mustFeed(t, `
second [_ x _] -> x
second [10 20 30]
`)
	assert.Equal(t, "20", v.String())
}

func TestQuoteUnquote_RoundTrip(t *testing.T) {
	v := mustFeed(t, `
unquote (quote "hello")
`)
	assert.Equal(t, "hello", v.String())
}

func TestStringInterpolation(t *testing.T) {
	v := mustFeed(t, `
name = "world"
"hello $name"
`)
	assert.Equal(t, "hello world", v.String())
}

func TestCases_ValueArmsFallBackToEquality(t *testing.T) {
	v := mustFeed(t, `
x = "b"
case x {
  "a" => "first"
  "b" => "second"
}
`)
	assert.Equal(t, "second", v.String())
}

func TestSetQuoting_CapturesUnevaluatedArguments(t *testing.T) {
	v := mustFeed(t, `
'given a b -> { if (unquote a) { unquote b } else { "skipped" } }
#:set-quoting "'given"
false given "never seen"
`)
	assert.Equal(t, "skipped", v.String())
}
