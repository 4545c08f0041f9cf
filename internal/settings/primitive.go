package settings

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/dshills/prefkit/internal/prefs"
)

// valueCodec stores V as a single native prefs.Value. Its tagged form is
// the store's own "tag:payload" text.
type valueCodec[V any] struct {
	kind   prefs.Kind
	to     func(V) (prefs.Value, error)
	from   func(prefs.Value) (V, bool)
	parse  func(string) (V, error)
	format func(V) string
}

func (c valueCodec[V]) Read(r prefs.Reader, key string) (V, bool) {
	var zero V
	pv, ok := r.Get(key)
	if !ok {
		return zero, false
	}
	return c.from(pv)
}

func (c valueCodec[V]) Write(w prefs.Writer, key string, v V) error {
	pv, err := c.to(v)
	if err != nil {
		return err
	}
	w.Set(key, pv)
	return nil
}

func (c valueCodec[V]) Equal(a, b V) bool {
	pa, errA := c.to(a)
	pb, errB := c.to(b)
	if errA != nil || errB != nil {
		return false
	}
	return pa.Equal(pb)
}

func (c valueCodec[V]) EncodeTagged(v V) (string, error) {
	pv, err := c.to(v)
	if err != nil {
		return "", err
	}
	return prefs.FormatValue(pv), nil
}

func (c valueCodec[V]) DecodeTagged(text string) (V, error) {
	var zero V
	pv, err := prefs.ParseValue(text)
	if err != nil {
		return zero, err
	}
	if pv.Kind() != c.kind {
		return zero, fmt.Errorf("%w: expected %s, got %s", ErrTypeMismatch, c.kind, pv.Kind())
	}
	v, ok := c.from(pv)
	if !ok {
		return zero, fmt.Errorf("%w: %q", prefs.ErrMalformedValue, text)
	}
	return v, nil
}

func (c valueCodec[V]) ParseText(s string) (V, error) { return c.parse(s) }

func (c valueCodec[V]) FormatText(v V) string { return c.format(v) }

// BoolCodec stores a boolean.
func BoolCodec() Codec[bool] {
	return valueCodec[bool]{
		kind:   prefs.KindBool,
		to:     func(v bool) (prefs.Value, error) { return prefs.BoolValue(v), nil },
		from:   prefs.Value.Bool,
		parse:  strconv.ParseBool,
		format: strconv.FormatBool,
	}
}

// IntCodec stores an int as a 32-bit integer. Values outside the 32-bit
// range fail with ErrOutOfRange.
func IntCodec() Codec[int] {
	return valueCodec[int]{
		kind: prefs.KindInt,
		to: func(v int) (prefs.Value, error) {
			if v < math.MinInt32 || v > math.MaxInt32 {
				return prefs.Value{}, fmt.Errorf("%w: %d does not fit in 32 bits", ErrOutOfRange, v)
			}
			return prefs.IntValue(int32(v)), nil
		},
		from: func(pv prefs.Value) (int, bool) {
			n, ok := pv.Int()
			return int(n), ok
		},
		parse: func(s string) (int, error) {
			n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
			return int(n), err
		},
		format: strconv.Itoa,
	}
}

// LongCodec stores a 64-bit integer.
func LongCodec() Codec[int64] {
	return valueCodec[int64]{
		kind: prefs.KindLong,
		to:   func(v int64) (prefs.Value, error) { return prefs.LongValue(v), nil },
		from: prefs.Value.Long,
		parse: func(s string) (int64, error) {
			return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		},
		format: func(v int64) string { return strconv.FormatInt(v, 10) },
	}
}

// FloatCodec stores a 32-bit float.
func FloatCodec() Codec[float32] {
	return valueCodec[float32]{
		kind: prefs.KindFloat,
		to:   func(v float32) (prefs.Value, error) { return prefs.FloatValue(v), nil },
		from: prefs.Value.Float,
		parse: func(s string) (float32, error) {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 32)
			return float32(f), err
		},
		format: func(v float32) string { return strconv.FormatFloat(float64(v), 'g', -1, 32) },
	}
}

// DoubleCodec stores a 64-bit float.
func DoubleCodec() Codec[float64] {
	return valueCodec[float64]{
		kind: prefs.KindDouble,
		to:   func(v float64) (prefs.Value, error) { return prefs.DoubleValue(v), nil },
		from: prefs.Value.Double,
		parse: func(s string) (float64, error) {
			return strconv.ParseFloat(strings.TrimSpace(s), 64)
		},
		format: func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) },
	}
}

// StringCodec stores a string.
func StringCodec() Codec[string] {
	return valueCodec[string]{
		kind:   prefs.KindString,
		to:     func(v string) (prefs.Value, error) { return prefs.StringValue(v), nil },
		from:   prefs.Value.Str,
		parse:  func(s string) (string, error) { return s, nil },
		format: func(v string) string { return v },
	}
}

// StringSetCodec stores a set of strings. Order and duplicates are not
// preserved; values read back sorted.
func StringSetCodec() Codec[[]string] {
	return valueCodec[[]string]{
		kind: prefs.KindStringSet,
		to:   func(v []string) (prefs.Value, error) { return prefs.StringSetValue(v), nil },
		from: prefs.Value.StringSet,
		parse: func(s string) ([]string, error) {
			if strings.TrimSpace(s) == "" {
				return []string{}, nil
			}
			parts := strings.Split(s, ",")
			for i, p := range parts {
				parts[i] = strings.TrimSpace(p)
			}
			return parts, nil
		},
		format: func(v []string) string {
			sorted := slices.Clone(v)
			slices.Sort(sorted)
			return strings.Join(slices.Compact(sorted), ",")
		},
	}
}

// Bool declares a boolean field.
func Bool[M any](name, key string, get func(M) bool, set func(M, bool) M, opts ...Option) *Descriptor[M, bool] {
	return newDescriptor(name, key, key, BoolCodec(), get, set, opts)
}

// Int declares an int field persisted as a 32-bit integer.
func Int[M any](name, key string, get func(M) int, set func(M, int) M, opts ...Option) *Descriptor[M, int] {
	return newDescriptor(name, key, key, IntCodec(), get, set, opts)
}

// Long declares a 64-bit integer field.
func Long[M any](name, key string, get func(M) int64, set func(M, int64) M, opts ...Option) *Descriptor[M, int64] {
	return newDescriptor(name, key, key, LongCodec(), get, set, opts)
}

// Float declares a 32-bit float field.
func Float[M any](name, key string, get func(M) float32, set func(M, float32) M, opts ...Option) *Descriptor[M, float32] {
	return newDescriptor(name, key, key, FloatCodec(), get, set, opts)
}

// Double declares a 64-bit float field.
func Double[M any](name, key string, get func(M) float64, set func(M, float64) M, opts ...Option) *Descriptor[M, float64] {
	return newDescriptor(name, key, key, DoubleCodec(), get, set, opts)
}

// String declares a string field.
func String[M any](name, key string, get func(M) string, set func(M, string) M, opts ...Option) *Descriptor[M, string] {
	return newDescriptor(name, key, key, StringCodec(), get, set, opts)
}

// StringSet declares a string set field.
func StringSet[M any](name, key string, get func(M) []string, set func(M, []string) M, opts ...Option) *Descriptor[M, []string] {
	return newDescriptor(name, key, key, StringSetCodec(), get, set, opts)
}
