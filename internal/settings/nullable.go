package settings

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dshills/prefkit/internal/prefs"
)

// Store encodings for nullable fields. Where the store has no null, a
// reserved value stands in for it; writing that exact value reads back as
// nil.
const (
	// NullableSuffix is appended to the key of nullable primitive fields.
	NullableSuffix = "_nullable"

	// NullableLongSuffix is appended to the key of nullable long fields.
	NullableLongSuffix = "_nullable_long"

	// NullIntSentinel encodes a nil nullable int.
	NullIntSentinel int64 = math.MinInt64

	// NullStringSentinel encodes a nil nullable string.
	NullStringSentinel = "\x00__NULL__\x00"

	// NullMarker encodes a nil nullable enum or serialized value.
	NullMarker = "__NULL__"
)

// nullText is the portable and display form of nil.
const nullText = "null"

// nullableCodec wraps an element codec, mapping nil to a stored
// representation chosen by the concrete encoding.
type nullableCodec[E any] struct {
	// read returns (nil, true) for a stored null.
	read  func(r prefs.Reader, key string) (*E, bool)
	write func(w prefs.Writer, key string, v *E) error
	elem  valueCodec[E]
}

func (c nullableCodec[E]) Read(r prefs.Reader, key string) (*E, bool) {
	return c.read(r, key)
}

func (c nullableCodec[E]) Write(w prefs.Writer, key string, v *E) error {
	return c.write(w, key, v)
}

func (c nullableCodec[E]) Equal(a, b *E) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return c.elem.Equal(*a, *b)
}

func (c nullableCodec[E]) EncodeTagged(v *E) (string, error) {
	if v == nil {
		return "j:" + nullText, nil
	}
	return c.elem.EncodeTagged(*v)
}

func (c nullableCodec[E]) DecodeTagged(text string) (*E, error) {
	if text == "j:"+nullText {
		return nil, nil
	}
	e, err := c.elem.DecodeTagged(text)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (c nullableCodec[E]) ParseText(s string) (*E, error) {
	if strings.TrimSpace(s) == nullText {
		return nil, nil
	}
	e, err := c.elem.ParseText(s)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (c nullableCodec[E]) FormatText(v *E) string {
	if v == nil {
		return nullText
	}
	return c.elem.FormatText(*v)
}

func ptr[E any](v E) *E { return &v }

// NullableBool declares a *bool field stored as the string "true" or
// "false" under "<key>_nullable". Writing nil removes the key, so nil reads
// back as absent and the model keeps its default.
func NullableBool[M any](name, key string, get func(M) *bool, set func(M, *bool) M, opts ...Option) *Descriptor[M, *bool] {
	codec := nullableCodec[bool]{
		elem: BoolCodec().(valueCodec[bool]),
		read: func(r prefs.Reader, key string) (*bool, bool) {
			s, ok := r.String(key)
			if !ok {
				return nil, false
			}
			switch s {
			case "true":
				return ptr(true), true
			case "false":
				return ptr(false), true
			}
			return nil, false
		},
		write: func(w prefs.Writer, key string, v *bool) error {
			if v == nil {
				w.Remove(key)
				return nil
			}
			w.SetString(key, strconv.FormatBool(*v))
			return nil
		},
	}
	return newDescriptor(name, key, key+NullableSuffix, Codec[*bool](codec), get, set, opts)
}

// NullableInt declares a *int field stored as a long under
// "<key>_nullable". Nil is stored as NullIntSentinel; an int equal to the
// sentinel reads back as nil.
func NullableInt[M any](name, key string, get func(M) *int, set func(M, *int) M, opts ...Option) *Descriptor[M, *int] {
	codec := nullableCodec[int]{
		elem: IntCodec().(valueCodec[int]),
		read: func(r prefs.Reader, key string) (*int, bool) {
			n, ok := r.Long(key)
			if !ok {
				return nil, false
			}
			if n == NullIntSentinel {
				return nil, true
			}
			if n < math.MinInt32 || n > math.MaxInt32 {
				return nil, false
			}
			return ptr(int(n)), true
		},
		write: func(w prefs.Writer, key string, v *int) error {
			if v == nil {
				w.SetLong(key, NullIntSentinel)
				return nil
			}
			n := int64(*v)
			if n != NullIntSentinel && (n < math.MinInt32 || n > math.MaxInt32) {
				return fmt.Errorf("%w: %d does not fit in 32 bits", ErrOutOfRange, n)
			}
			w.SetLong(key, n)
			return nil
		},
	}
	return newDescriptor(name, key, key+NullableSuffix, Codec[*int](codec), get, set, opts)
}

// NullableLong declares a *int64 field stored as decimal text under
// "<key>_nullable_long". Writing nil removes the key.
func NullableLong[M any](name, key string, get func(M) *int64, set func(M, *int64) M, opts ...Option) *Descriptor[M, *int64] {
	codec := nullableCodec[int64]{
		elem: LongCodec().(valueCodec[int64]),
		read: func(r prefs.Reader, key string) (*int64, bool) {
			s, ok := r.String(key)
			if !ok {
				return nil, false
			}
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, false
			}
			return ptr(n), true
		},
		write: func(w prefs.Writer, key string, v *int64) error {
			if v == nil {
				w.Remove(key)
				return nil
			}
			w.SetString(key, strconv.FormatInt(*v, 10))
			return nil
		},
	}
	return newDescriptor(name, key, key+NullableLongSuffix, Codec[*int64](codec), get, set, opts)
}

// NullableFloat declares a *float32 field stored under "<key>_nullable".
// Nil is stored as NaN, so a NaN value reads back as nil.
func NullableFloat[M any](name, key string, get func(M) *float32, set func(M, *float32) M, opts ...Option) *Descriptor[M, *float32] {
	codec := nullableCodec[float32]{
		elem: FloatCodec().(valueCodec[float32]),
		read: func(r prefs.Reader, key string) (*float32, bool) {
			f, ok := r.Float(key)
			if !ok {
				return nil, false
			}
			if math.IsNaN(float64(f)) {
				return nil, true
			}
			return ptr(f), true
		},
		write: func(w prefs.Writer, key string, v *float32) error {
			if v == nil {
				w.SetFloat(key, float32(math.NaN()))
				return nil
			}
			w.SetFloat(key, *v)
			return nil
		},
	}
	return newDescriptor(name, key, key+NullableSuffix, Codec[*float32](codec), get, set, opts)
}

// NullableDouble declares a *float64 field stored under "<key>_nullable".
// Nil is stored as NaN, so a NaN value reads back as nil.
func NullableDouble[M any](name, key string, get func(M) *float64, set func(M, *float64) M, opts ...Option) *Descriptor[M, *float64] {
	codec := nullableCodec[float64]{
		elem: DoubleCodec().(valueCodec[float64]),
		read: func(r prefs.Reader, key string) (*float64, bool) {
			f, ok := r.Double(key)
			if !ok {
				return nil, false
			}
			if math.IsNaN(f) {
				return nil, true
			}
			return ptr(f), true
		},
		write: func(w prefs.Writer, key string, v *float64) error {
			if v == nil {
				w.SetDouble(key, math.NaN())
				return nil
			}
			w.SetDouble(key, *v)
			return nil
		},
	}
	return newDescriptor(name, key, key+NullableSuffix, Codec[*float64](codec), get, set, opts)
}

// NullableString declares a *string field stored under "<key>_nullable".
// Nil is stored as NullStringSentinel; that exact string reads back as nil.
func NullableString[M any](name, key string, get func(M) *string, set func(M, *string) M, opts ...Option) *Descriptor[M, *string] {
	codec := nullableCodec[string]{
		elem: StringCodec().(valueCodec[string]),
		read: func(r prefs.Reader, key string) (*string, bool) {
			s, ok := r.String(key)
			if !ok {
				return nil, false
			}
			if s == NullStringSentinel {
				return nil, true
			}
			return ptr(s), true
		},
		write: func(w prefs.Writer, key string, v *string) error {
			if v == nil {
				w.SetString(key, NullStringSentinel)
				return nil
			}
			w.SetString(key, *v)
			return nil
		},
	}
	return newDescriptor(name, key, key+NullableSuffix, Codec[*string](codec), get, set, opts)
}
