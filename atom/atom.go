// Package atom interns short symbolic tokens (message tags such as "go" or
// "reply") into small integer IDs so that equality checks in the matcher
// are a single integer compare instead of a string compare.
package atom

import "sync"

// Atom is an interned symbol. The zero value is not a valid Atom; it is
// returned only by a failed lookup.
type Atom uint32

// Table is a thread-safe string<->Atom interning table.
type Table struct {
	mu     sync.RWMutex
	byName map[string]Atom
	byID   []string
}

// NewTable returns an empty interning table.
func NewTable() *Table {
	return &Table{byName: make(map[string]Atom)}
}

// Intern returns the Atom for name, creating one if this is the first time
// name has been seen by this table.
func (t *Table) Intern(name string) Atom {
	t.mu.RLock()
	if a, ok := t.byName[name]; ok {
		t.mu.RUnlock()
		return a
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if a, ok := t.byName[name]; ok {
		return a
	}
	t.byID = append(t.byID, name)
	a := Atom(len(t.byID))
	t.byName[name] = a
	return a
}

// Name returns the string a previously interned Atom stands for.
func (t *Table) Name(a Atom) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if a == 0 || int(a) > len(t.byID) {
		return "", false
	}
	return t.byID[a-1], true
}

// Len returns the number of distinct atoms interned so far.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

var global = NewTable()

// Intern interns name in the process-wide default table.
func Intern(name string) Atom { return global.Intern(name) }

// Name resolves an Atom interned in the process-wide default table.
func Name(a Atom) (string, bool) { return global.Name(a) }
