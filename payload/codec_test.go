package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greeting struct {
	Text string
}

func TestCBORCodecRoundTripsPrimitives(t *testing.T) {
	codec := NewCBORCodec(nil)
	in := TupleOf(
		Element{Kind: KindBool, Bool: true},
		Element{Kind: KindInt64, Int64: -9},
		Element{Kind: KindUint64, Uint64: 9},
		Element{Kind: KindFloat64, Float64: 3.25},
		Element{Kind: KindString, Str: "hello"},
		Element{Kind: KindBytes, Bytes: []byte{1, 2, 3}},
		AtomElement(7),
	)

	b, err := codec.Encode(in)
	require.NoError(t, err)

	out, err := codec.Decode(b)
	require.NoError(t, err)
	assert.True(t, in.Equal(out))
}

func TestCBORCodecRoundTripsNestedTuple(t *testing.T) {
	codec := NewCBORCodec(nil)
	inner := TupleOf(Element{Kind: KindString, Str: "inner"})
	in := TupleOf(Element{Kind: KindTuple, Tuple: inner}, AtomElement(1))

	b, err := codec.Encode(in)
	require.NoError(t, err)
	out, err := codec.Decode(b)
	require.NoError(t, err)
	assert.True(t, in.Equal(out))
}

func TestCBORCodecRoundTripsUserType(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Announce(greeting{}))
	codec := NewCBORCodec(reg)

	in, err := NewWithRegistry(reg, greeting{Text: "hi"})
	require.NoError(t, err)

	b, err := codec.Encode(in)
	require.NoError(t, err)
	out, err := codec.Decode(b)
	require.NoError(t, err)

	require.Equal(t, 1, out.Arity())
	assert.Equal(t, KindUser, out.At(0).Kind)
	assert.Equal(t, greeting{Text: "hi"}, out.At(0).User)
}

func TestCBORCodecDecodesRefAsWirePlaceholder(t *testing.T) {
	codec := NewCBORCodec(nil)
	node := [16]byte{1, 2, 3}
	in := TupleOf(Element{Kind: KindRef, Ref: fakeRef{node: node, pid: 42}})

	b, err := codec.Encode(in)
	require.NoError(t, err)
	out, err := codec.Decode(b)
	require.NoError(t, err)

	require.Equal(t, KindRef, out.At(0).Kind)
	wr, ok := out.At(0).Ref.(wireRefElement)
	require.True(t, ok, "a decoded ref is always the minimal wireRefElement placeholder, not the original Ref")
	assert.Equal(t, node, wr.Node())
	assert.Equal(t, uint64(42), wr.Pid())
}

func TestCBORCodecRejectsNilRef(t *testing.T) {
	codec := NewCBORCodec(nil)
	in := TupleOf(Element{Kind: KindRef, Ref: nil})
	_, err := codec.Encode(in)
	assert.Error(t, err)
}

func TestCBORCodecDecodeRejectsGarbage(t *testing.T) {
	codec := NewCBORCodec(nil)
	_, err := codec.Decode([]byte{0xff, 0xff, 0xff})
	assert.Error(t, err)
}
