// Package payload implements the heterogeneous, typed, immutable message
// body ("Payload"/"Tuple") that actors exchange: an ordered tuple of values
// drawn from a closed set of primitive kinds plus an open, registered set
// of user-defined types. Payloads never mutate once constructed.
package payload

import (
	"fmt"
	"strings"
)

// Kind is the runtime type tag carried by every tuple element.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindBool
	KindInt64
	KindUint64
	KindFloat64
	KindString
	KindBytes
	KindAtom
	KindRef
	KindTuple
	KindUser
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt64:
		return "int64"
	case KindUint64:
		return "uint64"
	case KindFloat64:
		return "float64"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindAtom:
		return "atom"
	case KindRef:
		return "ref"
	case KindTuple:
		return "tuple"
	case KindUser:
		return "user"
	default:
		return "invalid"
	}
}

// Ref is the marker interface implemented by anything the payload system
// accepts as an actor reference element (actor.Ref satisfies it). payload
// never depends on the actor package; actor satisfies this interface instead,
// so the dependency points one way.
type Ref interface {
	// RefString returns a stable, human-readable identity used for
	// equality/debugging of the embedded reference (e.g. "node/pid" or
	// "host:port/remote-id").
	RefString() string
	// WireRef returns the (NodeId, Pid) pair a Codec needs to serialize this
	// reference onto the wire, per the spec's Message envelope.
	WireRef() (node [16]byte, pid uint64)
}

// Element is a single, typed position within a Tuple.
type Element struct {
	Kind     Kind
	Bool     bool
	Int64    int64
	Uint64   uint64
	Float64  float64
	Str      string
	Bytes    []byte
	Atom     uint32 // interned atom.Atom, kept untyped here to avoid an import
	Ref      Ref
	Tuple    Tuple
	UserType string // registered type name, set only when Kind == KindUser
	User     any    // the concrete user value
}

func (e Element) String() string {
	switch e.Kind {
	case KindBool:
		return fmt.Sprintf("%t", e.Bool)
	case KindInt64:
		return fmt.Sprintf("%d", e.Int64)
	case KindUint64:
		return fmt.Sprintf("%d", e.Uint64)
	case KindFloat64:
		return fmt.Sprintf("%g", e.Float64)
	case KindString:
		return fmt.Sprintf("%q", e.Str)
	case KindBytes:
		return fmt.Sprintf("bytes(%d)", len(e.Bytes))
	case KindAtom:
		return fmt.Sprintf("atom(#%d)", e.Atom)
	case KindRef:
		if e.Ref != nil {
			return e.Ref.RefString()
		}
		return "ref(nil)"
	case KindTuple:
		return e.Tuple.String()
	case KindUser:
		return fmt.Sprintf("%s(%v)", e.UserType, e.User)
	default:
		return "invalid"
	}
}

// Equal reports whether two elements carry the same kind and value. Used by
// value-equality pattern matchers (e.g. atom("go")).
func (e Element) Equal(o Element) bool {
	if e.Kind != o.Kind {
		return false
	}
	switch e.Kind {
	case KindBool:
		return e.Bool == o.Bool
	case KindInt64:
		return e.Int64 == o.Int64
	case KindUint64:
		return e.Uint64 == o.Uint64
	case KindFloat64:
		return e.Float64 == o.Float64
	case KindString:
		return e.Str == o.Str
	case KindBytes:
		return string(e.Bytes) == string(o.Bytes)
	case KindAtom:
		return e.Atom == o.Atom
	case KindRef:
		return e.Ref != nil && o.Ref != nil && e.Ref.RefString() == o.Ref.RefString()
	case KindTuple:
		return e.Tuple.Equal(o.Tuple)
	case KindUser:
		return e.UserType == o.UserType && fmt.Sprint(e.User) == fmt.Sprint(o.User)
	default:
		return false
	}
}

// Tuple is an ordered, fixed-arity, immutable sequence of Elements: the
// Payload of the spec. The zero Tuple is the empty tuple.
type Tuple struct {
	elems []Element
}

// TupleOf builds a Tuple directly from already-typed Elements.
func TupleOf(elems ...Element) Tuple {
	cp := make([]Element, len(elems))
	copy(cp, elems)
	return Tuple{elems: cp}
}

// New packs a Tuple out of plain Go values, using Go's dynamic type to pick
// a Kind. Types registered in the process-wide default Registry (via
// Announce) become KindUser elements; use NewWithRegistry to consult a
// different Registry.
func New(values ...any) (Tuple, error) {
	return NewWithRegistry(global, values...)
}

// NewWithRegistry is like New but consults reg to classify values whose Go
// type isn't one of the built-in primitive kinds.
func NewWithRegistry(reg *Registry, values ...any) (Tuple, error) {
	elems := make([]Element, len(values))
	for i, v := range values {
		e, err := elementOf(reg, v)
		if err != nil {
			return Tuple{}, fmt.Errorf("payload: position %d: %w", i, err)
		}
		elems[i] = e
	}
	return Tuple{elems: elems}, nil
}

func elementOf(reg *Registry, v any) (Element, error) {
	switch x := v.(type) {
	case Element:
		return x, nil
	case bool:
		return Element{Kind: KindBool, Bool: x}, nil
	case int:
		return Element{Kind: KindInt64, Int64: int64(x)}, nil
	case int64:
		return Element{Kind: KindInt64, Int64: x}, nil
	case uint64:
		return Element{Kind: KindUint64, Uint64: x}, nil
	case uint32:
		return Element{Kind: KindUint64, Uint64: uint64(x)}, nil
	case float64:
		return Element{Kind: KindFloat64, Float64: x}, nil
	case float32:
		return Element{Kind: KindFloat64, Float64: float64(x)}, nil
	case string:
		return Element{Kind: KindString, Str: x}, nil
	case []byte:
		return Element{Kind: KindBytes, Bytes: x}, nil
	case Ref:
		return Element{Kind: KindRef, Ref: x}, nil
	case Tuple:
		return Element{Kind: KindTuple, Tuple: x}, nil
	default:
		if reg != nil {
			if name, ok := reg.NameOf(v); ok {
				return Element{Kind: KindUser, UserType: name, User: v}, nil
			}
		}
		return Element{}, fmt.Errorf("unregistered type %T (call Registry.Announce first)", v)
	}
}

// AtomElement packs an already-interned atom ID as an Element.
func AtomElement(id uint32) Element { return Element{Kind: KindAtom, Atom: id} }

// Arity returns the number of positions in the tuple.
func (t Tuple) Arity() int { return len(t.elems) }

// At returns the element at position i. Callers must check Arity first;
// an out-of-range index returns the zero Element (KindInvalid).
func (t Tuple) At(i int) Element {
	if i < 0 || i >= len(t.elems) {
		return Element{}
	}
	return t.elems[i]
}

// Elements returns a read-only view of the tuple's elements.
func (t Tuple) Elements() []Element { return t.elems }

// Equal reports whether two tuples have the same arity and equal elements.
func (t Tuple) Equal(o Tuple) bool {
	if len(t.elems) != len(o.elems) {
		return false
	}
	for i := range t.elems {
		if !t.elems[i].Equal(o.elems[i]) {
			return false
		}
	}
	return true
}

func (t Tuple) String() string {
	parts := make([]string, len(t.elems))
	for i, e := range t.elems {
		parts[i] = e.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
