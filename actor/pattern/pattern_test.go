package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/markInTheAbyss/actorhub/payload"
)

func TestPatternArityMismatchNeverMatches(t *testing.T) {
	p := New(Any())
	_, ok := p.Match(payload.TupleOf())
	assert.False(t, ok)

	_, ok = p.Match(payload.TupleOf(payload.AtomElement(1), payload.AtomElement(2)))
	assert.False(t, ok)
}

func TestAnyBindsRegardlessOfKind(t *testing.T) {
	p := New(Any(), Any())
	bindings, ok := p.Match(payload.TupleOf(
		payload.AtomElement(1),
		payload.Element{Kind: payload.KindString, Str: "x"},
	))
	assert.True(t, ok)
	assert.Len(t, bindings, 2)
}

func TestTypeMatchesKindAndBinds(t *testing.T) {
	p := New(Type(payload.KindInt64))
	bindings, ok := p.Match(payload.TupleOf(payload.Element{Kind: payload.KindInt64, Int64: 5}))
	assert.True(t, ok)
	assert.Equal(t, int64(5), bindings[0].Int64)

	_, ok = p.Match(payload.TupleOf(payload.Element{Kind: payload.KindString, Str: "not-an-int"}))
	assert.False(t, ok)
}

func TestEqMatchersDoNotBind(t *testing.T) {
	p := New(AtomEq(3))
	bindings, ok := p.Match(payload.TupleOf(payload.AtomElement(3)))
	assert.True(t, ok)
	assert.Empty(t, bindings, "equality matchers never contribute a binding")

	_, ok = p.Match(payload.TupleOf(payload.AtomElement(4)))
	assert.False(t, ok)
}

func TestStringEqAndInt64Eq(t *testing.T) {
	p := New(StringEq("go"), Int64Eq(-1))
	_, ok := p.Match(payload.TupleOf(
		payload.Element{Kind: payload.KindString, Str: "go"},
		payload.Element{Kind: payload.KindInt64, Int64: -1},
	))
	assert.True(t, ok)

	_, ok = p.Match(payload.TupleOf(
		payload.Element{Kind: payload.KindString, Str: "no"},
		payload.Element{Kind: payload.KindInt64, Int64: -1},
	))
	assert.False(t, ok)
}

func TestMixedPatternBindsOnlyWildcardPositions(t *testing.T) {
	p := New(AtomEq(1), Any(), StringEq("tag"))
	bindings, ok := p.Match(payload.TupleOf(
		payload.AtomElement(1),
		payload.Element{Kind: payload.KindUint64, Uint64: 77},
		payload.Element{Kind: payload.KindString, Str: "tag"},
	))
	assert.True(t, ok)
	assert.Len(t, bindings, 1)
	assert.Equal(t, uint64(77), bindings[0].Uint64)
}

func TestPatternStringIncludesEachMatcher(t *testing.T) {
	p := New(Any(), AtomEq(2))
	s := p.String()
	assert.Contains(t, s, "_")
	assert.Contains(t, s, "atom(#2)")
}
