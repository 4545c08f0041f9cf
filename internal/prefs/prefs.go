package prefs

import (
	"errors"
	"maps"
	"slices"
)

// Errors returned by stores.
var (
	// ErrMalformedValue indicates tagged text that cannot be parsed.
	ErrMalformedValue = errors.New("malformed value")

	// ErrStoreClosed indicates an operation on a closed store.
	ErrStoreClosed = errors.New("store closed")

	// ErrConflict indicates a transaction kept losing to concurrent writers.
	ErrConflict = errors.New("transaction conflict")
)

// Reader is read access to a set of stored values.
type Reader interface {
	// Get returns the raw value stored under key.
	Get(key string) (Value, bool)
	// Bool returns the value under key if it holds a boolean.
	Bool(key string) (bool, bool)
	// Int returns the value under key if it holds a 32-bit integer.
	Int(key string) (int32, bool)
	// Long returns the value under key if it holds a 64-bit integer.
	Long(key string) (int64, bool)
	// Float returns the value under key if it holds a 32-bit float.
	Float(key string) (float32, bool)
	// Double returns the value under key if it holds a 64-bit float.
	Double(key string) (float64, bool)
	// String returns the value under key if it holds a string.
	String(key string) (string, bool)
	// StringSet returns the value under key if it holds a string set.
	StringSet(key string) ([]string, bool)
	// Keys returns all keys in sorted order.
	Keys() []string
}

// Writer stages changes inside a transaction.
type Writer interface {
	Reader
	Set(key string, v Value)
	SetBool(key string, v bool)
	SetInt(key string, v int32)
	SetLong(key string, v int64)
	SetFloat(key string, v float32)
	SetDouble(key string, v float64)
	SetString(key string, v string)
	SetStringSet(key string, v []string)
	Remove(key string)
}

// values implements the typed getters shared by Prefs and Mutable.
type values map[string]Value

func (m values) Get(key string) (Value, bool) {
	v, ok := m[key]
	return v, ok
}

func (m values) Bool(key string) (bool, bool) {
	v, ok := m[key]
	if !ok {
		return false, false
	}
	return v.Bool()
}

func (m values) Int(key string) (int32, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	return v.Int()
}

func (m values) Long(key string) (int64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	return v.Long()
}

func (m values) Float(key string) (float32, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	return v.Float()
}

func (m values) Double(key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	return v.Double()
}

func (m values) String(key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	return v.Str()
}

func (m values) StringSet(key string) ([]string, bool) {
	v, ok := m[key]
	if !ok {
		return nil, false
	}
	return v.StringSet()
}

func (m values) Keys() []string {
	return slices.Sorted(maps.Keys(m))
}

// Prefs is an immutable point-in-time snapshot of a store.
type Prefs struct {
	values
}

var _ Reader = (*Prefs)(nil)

// Empty returns a snapshot with no keys.
func Empty() *Prefs {
	return &Prefs{values: values{}}
}

// FromMap builds a snapshot from a copy of m.
func FromMap(m map[string]Value) *Prefs {
	return &Prefs{values: maps.Clone(values(m))}
}

// Len returns the number of stored keys.
func (p *Prefs) Len() int { return len(p.values) }

// Map returns a copy of the snapshot contents.
func (p *Prefs) Map() map[string]Value { return maps.Clone(map[string]Value(p.values)) }

// Equal reports whether two snapshots hold identical contents.
func (p *Prefs) Equal(o *Prefs) bool {
	if p == nil || o == nil {
		return p == o
	}
	return maps.EqualFunc(p.values, o.values, Value.Equal)
}

// Edit returns a Mutable view staged on top of this snapshot.
func (p *Prefs) Edit() *Mutable {
	return &Mutable{values: maps.Clone(p.values), base: p, changed: make(map[string]struct{})}
}

// Mutable is a staging view used inside a store transaction.
type Mutable struct {
	values
	base    *Prefs
	changed map[string]struct{}
}

var _ Writer = (*Mutable)(nil)

// Set stages v under key.
func (m *Mutable) Set(key string, v Value) {
	if !v.IsValid() {
		m.Remove(key)
		return
	}
	m.values[key] = v
	m.changed[key] = struct{}{}
}

// SetBool stages a boolean.
func (m *Mutable) SetBool(key string, v bool) { m.Set(key, BoolValue(v)) }

// SetInt stages a 32-bit integer.
func (m *Mutable) SetInt(key string, v int32) { m.Set(key, IntValue(v)) }

// SetLong stages a 64-bit integer.
func (m *Mutable) SetLong(key string, v int64) { m.Set(key, LongValue(v)) }

// SetFloat stages a 32-bit float.
func (m *Mutable) SetFloat(key string, v float32) { m.Set(key, FloatValue(v)) }

// SetDouble stages a 64-bit float.
func (m *Mutable) SetDouble(key string, v float64) { m.Set(key, DoubleValue(v)) }

// SetString stages a string.
func (m *Mutable) SetString(key string, v string) { m.Set(key, StringValue(v)) }

// SetStringSet stages a string set.
func (m *Mutable) SetStringSet(key string, v []string) { m.Set(key, StringSetValue(v)) }

// Remove stages deletion of key.
func (m *Mutable) Remove(key string) {
	delete(m.values, key)
	m.changed[key] = struct{}{}
}

// Clear stages deletion of every key.
func (m *Mutable) Clear() {
	for key := range m.values {
		m.Remove(key)
	}
}

// Changed returns the keys whose staged state differs from the base
// snapshot, sorted.
func (m *Mutable) Changed() []string {
	out := make([]string, 0, len(m.changed))
	for key := range m.changed {
		nv, inNew := m.values[key]
		ov, inOld := m.base.values[key]
		if inNew != inOld || (inNew && !nv.Equal(ov)) {
			out = append(out, key)
		}
	}
	slices.Sort(out)
	return out
}

// Dirty reports whether any staged change differs from the base.
func (m *Mutable) Dirty() bool {
	return len(m.Changed()) > 0
}

// Savepoint captures the staged state so it can be restored after a
// failed step.
type Savepoint struct {
	values  values
	changed map[string]struct{}
}

// Savepoint captures the current staged state.
func (m *Mutable) Savepoint() Savepoint {
	return Savepoint{values: maps.Clone(m.values), changed: maps.Clone(m.changed)}
}

// Rollback restores a previously captured savepoint.
func (m *Mutable) Rollback(sp Savepoint) {
	m.values = maps.Clone(sp.values)
	m.changed = maps.Clone(sp.changed)
}

// Freeze returns the staged contents as a new immutable snapshot.
func (m *Mutable) Freeze() *Prefs {
	return &Prefs{values: maps.Clone(m.values)}
}

// Base returns the snapshot the view was staged on.
func (m *Mutable) Base() *Prefs { return m.base }
