package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRef struct {
	node [16]byte
	pid  uint64
}

func (f fakeRef) RefString() string          { return "fake" }
func (f fakeRef) WireRef() ([16]byte, uint64) { return f.node, f.pid }

func TestNewClassifiesBuiltinKinds(t *testing.T) {
	tup, err := New(true, int64(-7), uint64(7), float64(1.5), "hi", []byte("by"))
	require.NoError(t, err)
	require.Equal(t, 6, tup.Arity())

	assert.Equal(t, KindBool, tup.At(0).Kind)
	assert.Equal(t, KindInt64, tup.At(1).Kind)
	assert.Equal(t, KindUint64, tup.At(2).Kind)
	assert.Equal(t, KindFloat64, tup.At(3).Kind)
	assert.Equal(t, KindString, tup.At(4).Kind)
	assert.Equal(t, KindBytes, tup.At(5).Kind)
}

func TestNewRejectsUnregisteredType(t *testing.T) {
	type unregistered struct{ X int }
	_, err := New(unregistered{X: 1})
	assert.Error(t, err)
}

func TestNewWithRegistryAcceptsAnnouncedType(t *testing.T) {
	type myMsg struct{ X int }
	reg := NewRegistry()
	require.NoError(t, reg.Announce(myMsg{}))

	tup, err := NewWithRegistry(reg, myMsg{X: 42})
	require.NoError(t, err)
	require.Equal(t, 1, tup.Arity())
	assert.Equal(t, KindUser, tup.At(0).Kind)
	assert.Equal(t, myMsg{X: 42}, tup.At(0).User)
}

func TestElementEqual(t *testing.T) {
	a := AtomElement(5)
	b := AtomElement(5)
	c := AtomElement(6)
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))

	r1 := Element{Kind: KindRef, Ref: fakeRef{pid: 1}}
	r2 := Element{Kind: KindRef, Ref: fakeRef{pid: 1}}
	assert.True(t, r1.Equal(r2), "refs compare equal by RefString, not identity")
}

func TestTupleEqualAndString(t *testing.T) {
	t1 := TupleOf(AtomElement(1), Element{Kind: KindString, Str: "x"})
	t2 := TupleOf(AtomElement(1), Element{Kind: KindString, Str: "x"})
	t3 := TupleOf(AtomElement(1), Element{Kind: KindString, Str: "y"})
	assert.True(t, t1.Equal(t2))
	assert.False(t, t1.Equal(t3))
	assert.Equal(t, `(atom(#1), "x")`, t1.String())
}

func TestTupleAtOutOfRangeReturnsZeroElement(t *testing.T) {
	tup := TupleOf(AtomElement(1))
	e := tup.At(5)
	assert.Equal(t, KindInvalid, e.Kind)
}

func TestElementOfPassesThroughAlreadyBuiltElement(t *testing.T) {
	tup, err := New(AtomElement(9))
	require.NoError(t, err)
	assert.Equal(t, KindAtom, tup.At(0).Kind)
	assert.Equal(t, uint32(9), tup.At(0).Atom)
}

func TestTupleNestingRoundTripsThroughElements(t *testing.T) {
	inner := TupleOf(Element{Kind: KindInt64, Int64: 1})
	outer, err := New(inner)
	require.NoError(t, err)
	assert.Equal(t, KindTuple, outer.At(0).Kind)
	assert.True(t, outer.At(0).Tuple.Equal(inner))
}
