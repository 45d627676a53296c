// Package pattern describes the shape a Payload must have for a
// MatchExpression clause to fire: a fixed arity, and for each position
// either a type constraint, a value-equality constraint, or a wildcard
// bind. It has no notion of actors, handlers, or contexts — it only tests
// a payload.Tuple against a Pattern and reports the bindings.
package pattern

import "github.com/markInTheAbyss/actorhub/payload"

// Matcher tests a single tuple position.
type Matcher interface {
	// Match reports whether e satisfies this position's constraint.
	Match(e payload.Element) bool
	String() string
}

// Pattern is an ordered list of per-position Matchers describing a fixed
// arity shape.
type Pattern struct {
	matchers []Matcher
}

// New builds a Pattern from per-position matchers.
func New(matchers ...Matcher) Pattern {
	cp := make([]Matcher, len(matchers))
	copy(cp, matchers)
	return Pattern{matchers: cp}
}

// Arity returns the fixed tuple arity this pattern requires.
func (p Pattern) Arity() int { return len(p.matchers) }

// Match tests t against the pattern. On success it returns the bound
// elements (the wildcard positions, in order) and true.
func (p Pattern) Match(t payload.Tuple) ([]payload.Element, bool) {
	if t.Arity() != len(p.matchers) {
		return nil, false
	}
	var bindings []payload.Element
	for i, m := range p.matchers {
		e := t.At(i)
		if !m.Match(e) {
			return nil, false
		}
		if _, isWildcard := m.(wildcard); isWildcard {
			bindings = append(bindings, e)
		}
	}
	return bindings, true
}

func (p Pattern) String() string {
	s := "("
	for i, m := range p.matchers {
		if i > 0 {
			s += ", "
		}
		s += m.String()
	}
	return s + ")"
}

// --- built-in matchers ---

type wildcard struct{ kind payload.Kind }

func (w wildcard) Match(e payload.Element) bool {
	if w.kind == payload.KindInvalid {
		return true
	}
	return e.Kind == w.kind
}
func (w wildcard) String() string {
	if w.kind == payload.KindInvalid {
		return "_"
	}
	return w.kind.String() + "(_)"
}

// Any matches any element at this position and binds it, regardless of
// kind. This is the Go equivalent of cppa's arg_match.
func Any() Matcher { return wildcard{kind: payload.KindInvalid} }

// Type matches (and binds) any element of the given kind.
func Type(k payload.Kind) Matcher { return wildcard{kind: k} }

type equality struct{ want payload.Element }

func (eq equality) Match(e payload.Element) bool { return e.Equal(eq.want) }
func (eq equality) String() string               { return eq.want.String() }

// Eq matches only an element exactly equal to want; it does not bind.
func Eq(want payload.Element) Matcher { return equality{want: want} }

// AtomEq matches only an atom element equal to the given interned id; it
// does not bind. Equivalent to cppa's on(atom("go")).
func AtomEq(id uint32) Matcher { return Eq(payload.AtomElement(id)) }

// StringEq matches only a string element equal to want; it does not bind.
func StringEq(want string) Matcher { return Eq(payload.Element{Kind: payload.KindString, Str: want}) }

// Int64Eq matches only an int64 element equal to want; it does not bind.
func Int64Eq(want int64) Matcher { return Eq(payload.Element{Kind: payload.KindInt64, Int64: want}) }
