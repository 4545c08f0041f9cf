package settings

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dshills/prefkit/internal/prefs"
)

// EnumValue is a comparable type whose String method returns a stable
// entry name.
type EnumValue interface {
	comparable
	String() string
}

// enumSet indexes the declared entries of an enum type.
type enumSet[E EnumValue] struct {
	values   []E
	byName   map[string]E
	fallback E
}

func newEnumSet[E EnumValue](values []E, fallback E) enumSet[E] {
	byName := make(map[string]E, len(values))
	for _, v := range values {
		byName[v.String()] = v
	}
	return enumSet[E]{values: values, byName: byName, fallback: fallback}
}

func (s enumSet[E]) parse(text string) (E, error) {
	text = strings.TrimSpace(text)
	if v, ok := s.byName[text]; ok {
		return v, nil
	}
	var zero E
	return zero, fmt.Errorf("%w: unknown entry %q", prefs.ErrMalformedValue, text)
}

func (s enumSet[E]) ordinal(v E) (int, bool) {
	for i, e := range s.values {
		if e == v {
			return i, true
		}
	}
	return 0, false
}

// enumNameCodec stores an entry by name. Unknown names read as the
// fallback, which keeps reordering safe but not renaming.
type enumNameCodec[E EnumValue] struct {
	set enumSet[E]
}

func (c enumNameCodec[E]) Read(r prefs.Reader, key string) (E, bool) {
	s, ok := r.String(key)
	if !ok {
		var zero E
		return zero, false
	}
	if v, ok := c.set.byName[s]; ok {
		return v, true
	}
	return c.set.fallback, true
}

func (c enumNameCodec[E]) Write(w prefs.Writer, key string, v E) error {
	w.SetString(key, v.String())
	return nil
}

func (c enumNameCodec[E]) Equal(a, b E) bool { return a == b }

func (c enumNameCodec[E]) EncodeTagged(v E) (string, error) {
	return prefs.FormatValue(prefs.StringValue(v.String())), nil
}

func (c enumNameCodec[E]) DecodeTagged(text string) (E, error) {
	payload, ok := strings.CutPrefix(text, "s:")
	if !ok {
		var zero E
		return zero, fmt.Errorf("%w: enum expects an s: value", prefs.ErrMalformedValue)
	}
	return c.set.parse(payload)
}

func (c enumNameCodec[E]) ParseText(s string) (E, error) { return c.set.parse(s) }

func (c enumNameCodec[E]) FormatText(v E) string { return v.String() }

// nullableEnumCodec stores an entry by name, or NullMarker for nil.
type nullableEnumCodec[E EnumValue] struct {
	set enumSet[E]
}

func (c nullableEnumCodec[E]) Read(r prefs.Reader, key string) (*E, bool) {
	s, ok := r.String(key)
	if !ok {
		return nil, false
	}
	if s == NullMarker {
		return nil, true
	}
	if v, ok := c.set.byName[s]; ok {
		return &v, true
	}
	return ptr(c.set.fallback), true
}

func (c nullableEnumCodec[E]) Write(w prefs.Writer, key string, v *E) error {
	if v == nil {
		w.SetString(key, NullMarker)
		return nil
	}
	w.SetString(key, (*v).String())
	return nil
}

func (c nullableEnumCodec[E]) Equal(a, b *E) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (c nullableEnumCodec[E]) EncodeTagged(v *E) (string, error) {
	if v == nil {
		return "j:" + nullText, nil
	}
	return prefs.FormatValue(prefs.StringValue((*v).String())), nil
}

func (c nullableEnumCodec[E]) DecodeTagged(text string) (*E, error) {
	if text == "j:"+nullText {
		return nil, nil
	}
	payload, ok := strings.CutPrefix(text, "s:")
	if !ok {
		return nil, fmt.Errorf("%w: enum expects an s: value", prefs.ErrMalformedValue)
	}
	v, err := c.set.parse(payload)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (c nullableEnumCodec[E]) ParseText(s string) (*E, error) {
	if strings.TrimSpace(s) == nullText {
		return nil, nil
	}
	v, err := c.set.parse(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (c nullableEnumCodec[E]) FormatText(v *E) string {
	if v == nil {
		return nullText
	}
	return (*v).String()
}

// enumOrdinalCodec stores an entry by its index in the declared values.
// Reordering the declaration changes the meaning of stored data.
type enumOrdinalCodec[E EnumValue] struct {
	set enumSet[E]
}

func (c enumOrdinalCodec[E]) Read(r prefs.Reader, key string) (E, bool) {
	n, ok := r.Int(key)
	if !ok {
		var zero E
		return zero, false
	}
	if n < 0 || int(n) >= len(c.set.values) {
		return c.set.fallback, true
	}
	return c.set.values[n], true
}

func (c enumOrdinalCodec[E]) Write(w prefs.Writer, key string, v E) error {
	i, ok := c.set.ordinal(v)
	if !ok {
		return fmt.Errorf("%w: %v is not a declared entry", ErrOutOfRange, v)
	}
	w.SetInt(key, int32(i))
	return nil
}

func (c enumOrdinalCodec[E]) Equal(a, b E) bool { return a == b }

func (c enumOrdinalCodec[E]) EncodeTagged(v E) (string, error) {
	i, ok := c.set.ordinal(v)
	if !ok {
		return "", fmt.Errorf("%w: %v is not a declared entry", ErrOutOfRange, v)
	}
	return prefs.FormatValue(prefs.IntValue(int32(i))), nil
}

func (c enumOrdinalCodec[E]) DecodeTagged(text string) (E, error) {
	var zero E
	payload, ok := strings.CutPrefix(text, "i:")
	if !ok {
		return zero, fmt.Errorf("%w: ordinal enum expects an i: value", prefs.ErrMalformedValue)
	}
	n, err := strconv.Atoi(payload)
	if err != nil || n < 0 || n >= len(c.set.values) {
		return zero, fmt.Errorf("%w: ordinal %q", prefs.ErrMalformedValue, payload)
	}
	return c.set.values[n], nil
}

func (c enumOrdinalCodec[E]) ParseText(s string) (E, error) { return c.set.parse(s) }

func (c enumOrdinalCodec[E]) FormatText(v E) string { return v.String() }

// Enum declares a field stored by entry name. Names not in values read as
// fallback.
func Enum[M any, E EnumValue](name, key string, values []E, fallback E, get func(M) E, set func(M, E) M, opts ...Option) *Descriptor[M, E] {
	codec := enumNameCodec[E]{set: newEnumSet(values, fallback)}
	return newDescriptor(name, key, key, Codec[E](codec), get, set, opts)
}

// NullableEnum declares a *E field stored by entry name, with NullMarker
// for nil.
func NullableEnum[M any, E EnumValue](name, key string, values []E, fallback E, get func(M) *E, set func(M, *E) M, opts ...Option) *Descriptor[M, *E] {
	codec := nullableEnumCodec[E]{set: newEnumSet(values, fallback)}
	return newDescriptor(name, key, key, Codec[*E](codec), get, set, opts)
}

// EnumOrdinal declares a field stored by index into values. Out of range
// indexes read as fallback.
func EnumOrdinal[M any, E EnumValue](name, key string, values []E, fallback E, get func(M) E, set func(M, E) M, opts ...Option) *Descriptor[M, E] {
	codec := enumOrdinalCodec[E]{set: newEnumSet(values, fallback)}
	return newDescriptor(name, key, key, Codec[E](codec), get, set, opts)
}
