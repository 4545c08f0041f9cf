// Package prefs defines the key-value preference store contract that the
// settings framework is built on.
//
// A store holds named values of a small closed set of kinds (boolean,
// 32-bit integer, 64-bit integer, 32-bit float, 64-bit float, string and
// string set). Readers see immutable snapshots (Prefs); writers stage
// changes in a Mutable view inside a single atomic Edit call.
package prefs

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Kind is the stored type of a value.
type Kind uint8

const (
	// KindInvalid is the zero Kind and never stored.
	KindInvalid Kind = iota
	// KindBool is a boolean value.
	KindBool
	// KindInt is a 32-bit signed integer.
	KindInt
	// KindLong is a 64-bit signed integer.
	KindLong
	// KindFloat is a 32-bit float.
	KindFloat
	// KindDouble is a 64-bit float.
	KindDouble
	// KindString is a string.
	KindString
	// KindStringSet is an unordered set of strings.
	KindStringSet
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindLong:
		return "long"
	case KindFloat:
		return "float"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindStringSet:
		return "stringset"
	default:
		return "invalid"
	}
}

// Tag returns the short type tag used in the tagged text encoding.
func (k Kind) Tag() string {
	switch k {
	case KindBool:
		return "b"
	case KindInt:
		return "i"
	case KindLong:
		return "l"
	case KindFloat:
		return "f"
	case KindDouble:
		return "d"
	case KindString:
		return "s"
	case KindStringSet:
		return "ss"
	default:
		return ""
	}
}

// KindForTag maps a tag back to its Kind. It returns KindInvalid for
// unknown tags.
func KindForTag(tag string) Kind {
	switch tag {
	case "b":
		return KindBool
	case "i":
		return KindInt
	case "l":
		return KindLong
	case "f":
		return KindFloat
	case "d":
		return KindDouble
	case "s":
		return KindString
	case "ss":
		return KindStringSet
	default:
		return KindInvalid
	}
}

// SetSeparator joins string set members in the tagged text encoding.
const SetSeparator = "\x00"

// Value is an immutable stored value. The zero Value is invalid.
type Value struct {
	kind Kind
	b    bool
	n    int64
	f    float64
	s    string
	set  []string
}

// BoolValue returns a boolean value.
func BoolValue(v bool) Value { return Value{kind: KindBool, b: v} }

// IntValue returns a 32-bit integer value.
func IntValue(v int32) Value { return Value{kind: KindInt, n: int64(v)} }

// LongValue returns a 64-bit integer value.
func LongValue(v int64) Value { return Value{kind: KindLong, n: v} }

// FloatValue returns a 32-bit float value.
func FloatValue(v float32) Value { return Value{kind: KindFloat, f: float64(v)} }

// DoubleValue returns a 64-bit float value.
func DoubleValue(v float64) Value { return Value{kind: KindDouble, f: v} }

// StringValue returns a string value.
func StringValue(v string) Value { return Value{kind: KindString, s: v} }

// StringSetValue returns a string set value. Duplicates are dropped and
// members are kept sorted so equal sets compare equal.
func StringSetValue(members []string) Value {
	set := slices.Clone(members)
	slices.Sort(set)
	set = slices.Compact(set)
	if set == nil {
		set = []string{}
	}
	return Value{kind: KindStringSet, set: set}
}

// Kind returns the value kind.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether v holds a value.
func (v Value) IsValid() bool { return v.kind != KindInvalid }

// Bool returns the boolean payload.
func (v Value) Bool() (bool, bool) { return v.b, v.kind == KindBool }

// Int returns the 32-bit integer payload.
func (v Value) Int() (int32, bool) { return int32(v.n), v.kind == KindInt }

// Long returns the 64-bit integer payload.
func (v Value) Long() (int64, bool) { return v.n, v.kind == KindLong }

// Float returns the 32-bit float payload.
func (v Value) Float() (float32, bool) { return float32(v.f), v.kind == KindFloat }

// Double returns the 64-bit float payload.
func (v Value) Double() (float64, bool) { return v.f, v.kind == KindDouble }

// Str returns the string payload.
func (v Value) Str() (string, bool) { return v.s, v.kind == KindString }

// StringSet returns a copy of the sorted set members.
func (v Value) StringSet() ([]string, bool) {
	if v.kind != KindStringSet {
		return nil, false
	}
	return slices.Clone(v.set), true
}

// Equal reports whether two values have the same kind and payload.
// NaN floats compare equal to each other so a stored NaN is stable.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindBool:
		return v.b == o.b
	case KindInt, KindLong:
		return v.n == o.n
	case KindFloat, KindDouble:
		if math.IsNaN(v.f) && math.IsNaN(o.f) {
			return true
		}
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindStringSet:
		return slices.Equal(v.set, o.set)
	default:
		return true
	}
}

// String implements fmt.Stringer using the tagged text form.
func (v Value) String() string { return FormatValue(v) }

// FormatValue renders v as "<tag>:<payload>".
func FormatValue(v Value) string {
	var payload string
	switch v.kind {
	case KindBool:
		payload = strconv.FormatBool(v.b)
	case KindInt, KindLong:
		payload = strconv.FormatInt(v.n, 10)
	case KindFloat:
		payload = strconv.FormatFloat(v.f, 'g', -1, 32)
	case KindDouble:
		payload = strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		payload = v.s
	case KindStringSet:
		payload = strings.Join(v.set, SetSeparator)
	default:
		return ""
	}
	return v.kind.Tag() + ":" + payload
}

// ParseValue parses the "<tag>:<payload>" form produced by FormatValue.
func ParseValue(text string) (Value, error) {
	tag, payload, ok := strings.Cut(text, ":")
	if !ok {
		return Value{}, fmt.Errorf("%w: missing tag in %q", ErrMalformedValue, text)
	}
	return ParsePayload(KindForTag(tag), payload)
}

// ParsePayload parses an untagged payload as the given kind.
func ParsePayload(kind Kind, payload string) (Value, error) {
	switch kind {
	case KindBool:
		switch payload {
		case "true":
			return BoolValue(true), nil
		case "false":
			return BoolValue(false), nil
		}
		return Value{}, fmt.Errorf("%w: bad bool %q", ErrMalformedValue, payload)
	case KindInt:
		n, err := strconv.ParseInt(payload, 10, 32)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrMalformedValue, err)
		}
		return IntValue(int32(n)), nil
	case KindLong:
		n, err := strconv.ParseInt(payload, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrMalformedValue, err)
		}
		return LongValue(n), nil
	case KindFloat:
		f, err := strconv.ParseFloat(payload, 32)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrMalformedValue, err)
		}
		return FloatValue(float32(f)), nil
	case KindDouble:
		f, err := strconv.ParseFloat(payload, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrMalformedValue, err)
		}
		return DoubleValue(f), nil
	case KindString:
		return StringValue(payload), nil
	case KindStringSet:
		if payload == "" {
			return StringSetValue(nil), nil
		}
		return StringSetValue(strings.Split(payload, SetSeparator)), nil
	default:
		return Value{}, fmt.Errorf("%w: unknown kind", ErrMalformedValue)
	}
}
