package payload

import (
	"fmt"
	"reflect"
	"sync"
)

// Registry is the process-wide record of user-defined payload types
// registered via announce<T>(). It is consulted by New/NewWithRegistry to
// classify a Go value as KindUser, and by a Codec to reconstruct a concrete
// type from its registered name when decoding a frame off the wire.
//
// The spec treats the serialization codec for user-defined types as an
// external collaborator, specified only at the interface the transport
// consumes (Codec, below); Registry is the small, in-scope bookkeeping a
// codec needs to do that job, not the codec itself.
type Registry struct {
	mu     sync.RWMutex
	nameOf map[reflect.Type]string
	typeOf map[string]reflect.Type
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		nameOf: make(map[reflect.Type]string),
		typeOf: make(map[string]reflect.Type),
	}
}

// Announce registers the type of zero (typically a pointer-free struct
// value, e.g. Announce(MyMsg{})) under its package-qualified name so it can
// round-trip through a Codec as a KindUser element. Re-announcing the same
// type under the same name is a no-op; announcing two distinct types under
// the same name is an error.
func (r *Registry) Announce(zero any) error {
	t := reflect.TypeOf(zero)
	name := t.PkgPath() + "." + t.Name()
	return r.AnnounceAs(name, zero)
}

// AnnounceAs is Announce with an explicit wire name instead of the
// package-qualified Go type name, for cases where a stable cross-process
// name is needed independent of package path (e.g. across module versions).
func (r *Registry) AnnounceAs(name string, zero any) error {
	t := reflect.TypeOf(zero)
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.typeOf[name]; ok && existing != t {
		return fmt.Errorf("payload: type name %q already announced for %s", name, existing)
	}
	r.nameOf[t] = name
	r.typeOf[name] = t
	return nil
}

// NameOf returns the registered wire name for v's type, if any.
func (r *Registry) NameOf(v any) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.nameOf[reflect.TypeOf(v)]
	return name, ok
}

// TypeOf returns the reflect.Type registered under name, if any.
func (r *Registry) TypeOf(name string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.typeOf[name]
	return t, ok
}

// New allocates a zero value of the type registered under name.
func (r *Registry) New(name string) (any, error) {
	t, ok := r.TypeOf(name)
	if !ok {
		return nil, fmt.Errorf("payload: no type announced under %q", name)
	}
	return reflect.New(t).Elem().Interface(), nil
}

var global = NewRegistry()

// Announce registers zero's type in the process-wide default registry.
func Announce(zero any) error { return global.Announce(zero) }

// Default returns the process-wide default Registry, used by New (not
// NewWithRegistry) and by NewCBORCodec when it is given a nil Registry.
func Default() *Registry { return global }
