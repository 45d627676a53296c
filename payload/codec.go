package payload

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Codec is the interface the transport consumes to turn a Tuple into bytes
// and back. The spec names the serialization codec for user-defined types
// an external collaborator, specified only at this interface; CBORCodec
// below is the concrete, in-tree default so the transport has something
// real to exercise end to end.
type Codec interface {
	Encode(Tuple) ([]byte, error)
	Decode([]byte) (Tuple, error)
}

// wireRef is the on-the-wire shadow of a KindRef element.
type wireRef struct {
	Node [16]byte
	Pid  uint64
}

// wireElement is the on-the-wire shadow of an Element: a tagged union
// encoded as a CBOR map, self-describing the way the spec's §4.7 wire
// format requires (a type tag followed by the value's bytes).
type wireElement struct {
	Kind   Kind
	Bool   bool    `cbor:",omitempty"`
	Int64  int64   `cbor:",omitempty"`
	Uint64 uint64  `cbor:",omitempty"`
	Float  float64 `cbor:",omitempty"`
	Str    string  `cbor:",omitempty"`
	Bytes  []byte  `cbor:",omitempty"`
	Atom   uint32  `cbor:",omitempty"`
	Ref    *wireRef
	Tuple  []wireElement `cbor:",omitempty"`
	// UserType/User round-trip a KindUser element: User is re-encoded by
	// cbor's own reflection-based codec once its concrete type has been
	// resolved through the Registry.
	UserType string `cbor:",omitempty"`
	User     cbor.RawMessage
}

// CBORCodec is the default Codec implementation, backed by
// github.com/fxamacker/cbor/v2. CBOR's tag-prefixed item encoding lines up
// directly with the wire format the spec describes, so no hand-rolled
// framing is needed beyond the Tuple<->wireElement shadowing above.
type CBORCodec struct {
	reg  *Registry
	mode cbor.EncMode
}

// NewCBORCodec returns a Codec that resolves KindUser elements against reg.
// A nil reg falls back to the process-wide default Registry.
func NewCBORCodec(reg *Registry) *CBORCodec {
	if reg == nil {
		reg = Default()
	}
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("payload: invalid cbor options: %v", err))
	}
	return &CBORCodec{reg: reg, mode: mode}
}

func (c *CBORCodec) toWire(e Element) (wireElement, error) {
	w := wireElement{Kind: e.Kind}
	switch e.Kind {
	case KindBool:
		w.Bool = e.Bool
	case KindInt64:
		w.Int64 = e.Int64
	case KindUint64:
		w.Uint64 = e.Uint64
	case KindFloat64:
		w.Float = e.Float64
	case KindString:
		w.Str = e.Str
	case KindBytes:
		w.Bytes = e.Bytes
	case KindAtom:
		w.Atom = e.Atom
	case KindRef:
		if e.Ref == nil {
			return wireElement{}, fmt.Errorf("payload: nil ref in KindRef element")
		}
		node, pid := e.Ref.WireRef()
		w.Ref = &wireRef{Node: node, Pid: pid}
	case KindTuple:
		elems := e.Tuple.Elements()
		w.Tuple = make([]wireElement, len(elems))
		for i, sub := range elems {
			we, err := c.toWire(sub)
			if err != nil {
				return wireElement{}, err
			}
			w.Tuple[i] = we
		}
	case KindUser:
		raw, err := c.mode.Marshal(e.User)
		if err != nil {
			return wireElement{}, fmt.Errorf("payload: encode user type %s: %w", e.UserType, err)
		}
		w.UserType = e.UserType
		w.User = raw
	default:
		return wireElement{}, fmt.Errorf("payload: cannot encode %s element", e.Kind)
	}
	return w, nil
}

func (c *CBORCodec) fromWire(w wireElement) (Element, error) {
	switch w.Kind {
	case KindBool:
		return Element{Kind: KindBool, Bool: w.Bool}, nil
	case KindInt64:
		return Element{Kind: KindInt64, Int64: w.Int64}, nil
	case KindUint64:
		return Element{Kind: KindUint64, Uint64: w.Uint64}, nil
	case KindFloat64:
		return Element{Kind: KindFloat64, Float64: w.Float}, nil
	case KindString:
		return Element{Kind: KindString, Str: w.Str}, nil
	case KindBytes:
		return Element{Kind: KindBytes, Bytes: w.Bytes}, nil
	case KindAtom:
		return Element{Kind: KindAtom, Atom: w.Atom}, nil
	case KindRef:
		if w.Ref == nil {
			return Element{}, fmt.Errorf("payload: missing ref payload")
		}
		return Element{Kind: KindRef, Ref: wireRefElement{node: w.Ref.Node, pid: w.Ref.Pid}}, nil
	case KindTuple:
		elems := make([]Element, len(w.Tuple))
		for i, we := range w.Tuple {
			e, err := c.fromWire(we)
			if err != nil {
				return Element{}, err
			}
			elems[i] = e
		}
		return Element{Kind: KindTuple, Tuple: TupleOf(elems...)}, nil
	case KindUser:
		zero, err := c.reg.New(w.UserType)
		if err != nil {
			return Element{}, err
		}
		ptrVal := reflect.New(reflect.TypeOf(zero))
		if err := cbor.Unmarshal(w.User, ptrVal.Interface()); err != nil {
			return Element{}, fmt.Errorf("payload: decode user type %s: %w", w.UserType, err)
		}
		return Element{Kind: KindUser, UserType: w.UserType, User: ptrVal.Elem().Interface()}, nil
	default:
		return Element{}, fmt.Errorf("payload: cannot decode kind %d", w.Kind)
	}
}

// Encode implements Codec.
func (c *CBORCodec) Encode(t Tuple) ([]byte, error) {
	elems := t.Elements()
	wires := make([]wireElement, len(elems))
	for i, e := range elems {
		w, err := c.toWire(e)
		if err != nil {
			return nil, err
		}
		wires[i] = w
	}
	return c.mode.Marshal(wires)
}

// Decode implements Codec.
func (c *CBORCodec) Decode(data []byte) (Tuple, error) {
	var wires []wireElement
	if err := cbor.Unmarshal(data, &wires); err != nil {
		return Tuple{}, fmt.Errorf("payload: decode tuple: %w", err)
	}
	elems := make([]Element, len(wires))
	for i, w := range wires {
		e, err := c.fromWire(w)
		if err != nil {
			return Tuple{}, err
		}
		elems[i] = e
	}
	return TupleOf(elems...), nil
}

// wireRefElement is a minimal Ref implementation used only to carry a
// decoded (node, pid) pair until the transport layer resolves it to a real
// local or proxy reference via its RemoteActorCache.
type wireRefElement struct {
	node [16]byte
	pid  uint64
}

func (w wireRefElement) RefString() string            { return fmt.Sprintf("%x/%d", w.node, w.pid) }
func (w wireRefElement) WireRef() ([16]byte, uint64)   { return w.node, w.pid }

// Node and Pid expose the decoded identity so transport can resolve it.
func (w wireRefElement) Node() [16]byte { return w.node }
func (w wireRefElement) Pid() uint64    { return w.pid }
