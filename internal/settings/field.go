package settings

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/dshills/prefkit/internal/prefs"
)

// Field is the type-erased view of a field descriptor over model M. The
// schema, repository and managers operate on it; typed code uses
// *Descriptor directly.
type Field[M any] interface {
	// Name is the stable in-process identifier.
	Name() string
	// KeyName is the stable persistence identifier.
	KeyName() string
	// StoreKey is the key actually written to the store. It differs from
	// KeyName for encodings that carry a suffix.
	StoreKey() string
	// Meta returns display metadata, nil for persistence-only fields.
	Meta() *Meta

	GetAny(m M) any
	SetAny(m M, v any) (M, error)
	ReadAny(r prefs.Reader) (any, bool)
	WriteAny(w prefs.Writer, v any) error
	EqualAny(a, b any) bool

	// EncodeTagged renders v in the portable "tag:payload" form.
	EncodeTagged(v any) (string, error)
	// DecodeTagged parses the portable form back into a field value.
	DecodeTagged(text string) (any, error)

	// ParseText parses user-entered text into a field value.
	ParseText(s string) (any, error)
	// FormatText renders v for display.
	FormatText(v any) string
}

// Codec reads and writes values of type V under a store key.
type Codec[V any] interface {
	// Read decodes the value under key. It never fails: unset or
	// undecodable keys report false.
	Read(r prefs.Reader, key string) (V, bool)
	// Write stages v under key.
	Write(w prefs.Writer, key string, v V) error
	// Equal reports whether two values encode identically.
	Equal(a, b V) bool
}

// TaggedCodec is implemented by codecs with a native portable encoding.
// Codecs without one use "j:" followed by JSON.
type TaggedCodec[V any] interface {
	EncodeTagged(v V) (string, error)
	DecodeTagged(text string) (V, error)
}

// TextCodec is implemented by codecs with a human-readable text form.
// Codecs without one use JSON text.
type TextCodec[V any] interface {
	ParseText(s string) (V, error)
	FormatText(v V) string
}

// Option configures a field descriptor.
type Option func(*fieldOptions)

type fieldOptions struct {
	meta *Meta
}

// WithMeta attaches display metadata, making the field user-facing.
func WithMeta(m Meta) Option {
	return func(o *fieldOptions) {
		o.meta = &m
	}
}

// Descriptor is a typed field descriptor for a property of type V on
// model M.
type Descriptor[M, V any] struct {
	name     string
	key      string
	storeKey string
	meta     *Meta
	codec    Codec[V]
	get      func(M) V
	set      func(M, V) M
}

var _ Field[struct{}] = (*Descriptor[struct{}, bool])(nil)

// NewDescriptor builds a descriptor over an arbitrary codec. The typed
// constructors cover the built-in encodings.
func NewDescriptor[M, V any](name, key string, codec Codec[V], get func(M) V, set func(M, V) M, opts ...Option) *Descriptor[M, V] {
	return newDescriptor(name, key, key, codec, get, set, opts)
}

func newDescriptor[M, V any](name, key, storeKey string, codec Codec[V], get func(M) V, set func(M, V) M, opts []Option) *Descriptor[M, V] {
	var o fieldOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Descriptor[M, V]{
		name:     name,
		key:      key,
		storeKey: storeKey,
		meta:     o.meta,
		codec:    codec,
		get:      get,
		set:      set,
	}
}

// Name returns the field name.
func (d *Descriptor[M, V]) Name() string { return d.name }

// KeyName returns the persistence key.
func (d *Descriptor[M, V]) KeyName() string { return d.key }

// StoreKey returns the key written to the store.
func (d *Descriptor[M, V]) StoreKey() string { return d.storeKey }

// Meta returns the field metadata or nil.
func (d *Descriptor[M, V]) Meta() *Meta { return d.meta }

// Get returns the property value from m.
func (d *Descriptor[M, V]) Get(m M) V { return d.get(m) }

// Set returns a copy of m with the property replaced.
func (d *Descriptor[M, V]) Set(m M, v V) M { return d.set(m, v) }

// Read decodes the property from a snapshot.
func (d *Descriptor[M, V]) Read(r prefs.Reader) (V, bool) {
	return d.codec.Read(r, d.storeKey)
}

// Write stages v into a transaction.
func (d *Descriptor[M, V]) Write(w prefs.Writer, v V) error {
	if err := d.codec.Write(w, d.storeKey, v); err != nil {
		return &WriteError{Field: d.name, Key: d.storeKey, Err: err}
	}
	return nil
}

// Equal compares two property values by their encoding.
func (d *Descriptor[M, V]) Equal(a, b V) bool { return d.codec.Equal(a, b) }

// GetAny returns the property value from m.
func (d *Descriptor[M, V]) GetAny(m M) any { return d.get(m) }

// SetAny is Set for an untyped value.
func (d *Descriptor[M, V]) SetAny(m M, v any) (M, error) {
	tv, err := d.cast(v)
	if err != nil {
		return m, err
	}
	return d.set(m, tv), nil
}

// ReadAny is Read returning an untyped value.
func (d *Descriptor[M, V]) ReadAny(r prefs.Reader) (any, bool) {
	v, ok := d.Read(r)
	if !ok {
		return nil, false
	}
	return v, true
}

// WriteAny is Write for an untyped value.
func (d *Descriptor[M, V]) WriteAny(w prefs.Writer, v any) error {
	tv, err := d.cast(v)
	if err != nil {
		return &WriteError{Field: d.name, Key: d.storeKey, Err: err}
	}
	return d.Write(w, tv)
}

// EqualAny is Equal for untyped values. Values of the wrong type are
// never equal.
func (d *Descriptor[M, V]) EqualAny(a, b any) bool {
	ta, err := d.cast(a)
	if err != nil {
		return false
	}
	tb, err := d.cast(b)
	if err != nil {
		return false
	}
	return d.codec.Equal(ta, tb)
}

// EncodeTagged renders v in portable form.
func (d *Descriptor[M, V]) EncodeTagged(v any) (string, error) {
	tv, err := d.cast(v)
	if err != nil {
		return "", err
	}
	if tc, ok := d.codec.(TaggedCodec[V]); ok {
		return tc.EncodeTagged(tv)
	}
	data, err := json.Marshal(tv)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return "j:" + string(data), nil
}

// DecodeTagged parses the portable form.
func (d *Descriptor[M, V]) DecodeTagged(text string) (any, error) {
	if tc, ok := d.codec.(TaggedCodec[V]); ok {
		return tc.DecodeTagged(text)
	}
	payload, ok := strings.CutPrefix(text, "j:")
	if !ok {
		return nil, fmt.Errorf("%w: field %s expects a j: value", prefs.ErrMalformedValue, d.name)
	}
	var v V
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", prefs.ErrMalformedValue, err)
	}
	return v, nil
}

// ParseText parses user input.
func (d *Descriptor[M, V]) ParseText(s string) (any, error) {
	if tc, ok := d.codec.(TextCodec[V]); ok {
		return tc.ParseText(s)
	}
	var v V
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("parse %s: %w", d.name, err)
	}
	return v, nil
}

// FormatText renders v for display.
func (d *Descriptor[M, V]) FormatText(v any) string {
	tv, err := d.cast(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	if tc, ok := d.codec.(TextCodec[V]); ok {
		return tc.FormatText(tv)
	}
	data, err := json.Marshal(tv)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// cast converts an untyped value to V. An untyped nil converts to the
// zero value of nilable types.
func (d *Descriptor[M, V]) cast(v any) (V, error) {
	if tv, ok := v.(V); ok {
		return tv, nil
	}
	var zero V
	if v == nil {
		switch reflect.TypeFor[V]().Kind() {
		case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
			return zero, nil
		}
	}
	return zero, fmt.Errorf("%w: field %s holds %T, got %T", ErrTypeMismatch, d.name, zero, v)
}
