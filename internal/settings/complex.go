package settings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/dshills/prefkit/internal/prefs"
)

// jsonCodec stores V as JSON text in a string key. Undecodable text reads
// as absent; values that cannot be marshaled fail the write with ErrEncode.
type jsonCodec[V any] struct {
	// nullable stores nil as NullMarker instead of JSON null.
	nullable bool
}

func (c jsonCodec[V]) Read(r prefs.Reader, key string) (V, bool) {
	var v V
	s, ok := r.String(key)
	if !ok {
		return v, false
	}
	if c.nullable && s == NullMarker {
		return v, true
	}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		var zero V
		return zero, false
	}
	return v, true
}

func (c jsonCodec[V]) Write(w prefs.Writer, key string, v V) error {
	if c.nullable && isNil(v) {
		w.SetString(key, NullMarker)
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncode, err)
	}
	w.SetString(key, string(data))
	return nil
}

func (c jsonCodec[V]) Equal(a, b V) bool {
	da, errA := json.Marshal(a)
	db, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return bytes.Equal(da, db)
}

// JSONCodec stores V as JSON text.
func JSONCodec[V any]() Codec[V] {
	return jsonCodec[V]{}
}

// List declares a []E field stored as a JSON array.
func List[M, E any](name, key string, get func(M) []E, set func(M, []E) M, opts ...Option) *Descriptor[M, []E] {
	return newDescriptor(name, key, key, JSONCodec[[]E](), get, set, opts)
}

// Map declares a map[string]V field stored as a JSON object.
func Map[M, V any](name, key string, get func(M) map[string]V, set func(M, map[string]V) M, opts ...Option) *Descriptor[M, map[string]V] {
	return newDescriptor(name, key, key, JSONCodec[map[string]V](), get, set, opts)
}

// Serialized declares a field of arbitrary JSON-serializable type V.
func Serialized[M, V any](name, key string, get func(M) V, set func(M, V) M, opts ...Option) *Descriptor[M, V] {
	return newDescriptor(name, key, key, JSONCodec[V](), get, set, opts)
}

// NullableSerialized declares a *V field stored as JSON, with NullMarker
// for nil.
func NullableSerialized[M, V any](name, key string, get func(M) *V, set func(M, *V) M, opts ...Option) *Descriptor[M, *V] {
	return newDescriptor(name, key, key, Codec[*V](jsonCodec[*V]{nullable: true}), get, set, opts)
}
