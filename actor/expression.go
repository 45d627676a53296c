package actor

import (
	"errors"
	"time"

	"github.com/markInTheAbyss/actorhub/actor/pattern"
	"github.com/markInTheAbyss/actorhub/payload"
)

// Handler runs when a Clause's Pattern matches an incoming message. bindings
// holds the wildcard-bound elements, in pattern order (cppa's arg_match).
type Handler func(ctx *Context, bindings []payload.Element)

// TimeoutHandler runs when an Expression's declared timeout elapses before
// any message matched.
type TimeoutHandler func(ctx *Context)

// Clause pairs a Pattern with the Handler that runs when it matches.
type Clause struct {
	Pattern pattern.Pattern
	Handler Handler
}

func (Clause) isExprItem() {}

// TimeoutClause is the single optional `after(duration) >> handler` an
// Expression may declare (spec §4.1).
type TimeoutClause struct {
	After   time.Duration
	Handler TimeoutHandler
}

func (TimeoutClause) isExprItem() {}

// ExprItem is implemented by Clause and TimeoutClause so both can be passed
// to NewExpression in any order.
type ExprItem interface{ isExprItem() }

// On builds a Clause.
func On(p pattern.Pattern, h Handler) Clause { return Clause{Pattern: p, Handler: h} }

// After builds the one allowed TimeoutClause.
func After(d time.Duration, h TimeoutHandler) TimeoutClause {
	return TimeoutClause{After: d, Handler: h}
}

// Expression is the spec's MatchExpression: an ordered list of clauses plus
// an optional timeout. The first clause whose Pattern matches wins; it does
// not mutate the message it borrows for the test.
type Expression struct {
	clauses []Clause
	timeout *TimeoutClause
}

// ErrMultipleTimeouts is returned by NewExpression when more than one
// TimeoutClause is supplied.
var ErrMultipleTimeouts = errors.New("actor: a MatchExpression may declare at most one Timeout clause")

// NewExpression builds an Expression from clauses and at most one
// TimeoutClause, evaluated in the order supplied.
func NewExpression(items ...ExprItem) (*Expression, error) {
	e := &Expression{}
	for _, it := range items {
		switch v := it.(type) {
		case Clause:
			e.clauses = append(e.clauses, v)
		case TimeoutClause:
			if e.timeout != nil {
				return nil, ErrMultipleTimeouts
			}
			t := v
			e.timeout = &t
		}
	}
	return e, nil
}

// MustExpression is NewExpression but panics on error, for call sites
// building a literal, known-good expression (mirrors cppa's `become(...)`
// which cannot itself fail at the call site).
func MustExpression(items ...ExprItem) *Expression {
	e, err := NewExpression(items...)
	if err != nil {
		panic(err)
	}
	return e
}

// Match tests env's payload against each clause in order and returns the
// first Handler whose Pattern matches, along with its bindings. It does not
// mutate env.
func (e *Expression) Match(env *Envelope) (Handler, []payload.Element, bool) {
	for _, c := range e.clauses {
		if bindings, ok := c.Pattern.Match(env.Payload); ok {
			return c.Handler, bindings, true
		}
	}
	return nil, nil, false
}

// Timeout returns the declared Timeout clause, if any.
func (e *Expression) Timeout() (time.Duration, TimeoutHandler, bool) {
	if e.timeout == nil {
		return 0, nil, false
	}
	return e.timeout.After, e.timeout.Handler, true
}
