package settings

import (
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/dshills/prefkit/internal/prefs"
)

type theme int

const (
	themeLight theme = iota
	themeDark
	themeSystem
)

func (t theme) String() string {
	switch t {
	case themeLight:
		return "LIGHT"
	case themeDark:
		return "DARK"
	case themeSystem:
		return "SYSTEM"
	default:
		return "UNKNOWN"
	}
}

var themes = []theme{themeLight, themeDark, themeSystem}

type point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// model exercises one field of every encoding.
type model struct {
	Flag     bool
	Count    int
	Big      int64
	Ratio    float32
	Precise  float64
	Name     string
	Tags     []string
	MaybeOn  *bool
	MaybeN   *int
	MaybeL   *int64
	MaybeF   *float32
	MaybeD   *float64
	MaybeS   *string
	Theme    theme
	MaybeT   *theme
	Ordinal  theme
	Recent   []string
	Counters map[string]int
	Origin   point
	Anchor   *point
}

var (
	flagField = Bool("flag", "flag",
		func(m model) bool { return m.Flag },
		func(m model, v bool) model { m.Flag = v; return m })
	countField = Int("count", "count",
		func(m model) int { return m.Count },
		func(m model, v int) model { m.Count = v; return m })
	bigField = Long("big", "big",
		func(m model) int64 { return m.Big },
		func(m model, v int64) model { m.Big = v; return m })
	ratioField = Float("ratio", "ratio",
		func(m model) float32 { return m.Ratio },
		func(m model, v float32) model { m.Ratio = v; return m })
	preciseField = Double("precise", "precise",
		func(m model) float64 { return m.Precise },
		func(m model, v float64) model { m.Precise = v; return m })
	nameField = String("name", "name",
		func(m model) string { return m.Name },
		func(m model, v string) model { m.Name = v; return m })
	tagsField = StringSet("tags", "tags",
		func(m model) []string { return m.Tags },
		func(m model, v []string) model { m.Tags = v; return m })
	maybeOnField = NullableBool("maybeOn", "maybe_on",
		func(m model) *bool { return m.MaybeOn },
		func(m model, v *bool) model { m.MaybeOn = v; return m })
	maybeNField = NullableInt("maybeN", "maybe_n",
		func(m model) *int { return m.MaybeN },
		func(m model, v *int) model { m.MaybeN = v; return m })
	maybeLField = NullableLong("maybeL", "maybe_l",
		func(m model) *int64 { return m.MaybeL },
		func(m model, v *int64) model { m.MaybeL = v; return m })
	maybeFField = NullableFloat("maybeF", "maybe_f",
		func(m model) *float32 { return m.MaybeF },
		func(m model, v *float32) model { m.MaybeF = v; return m })
	maybeDField = NullableDouble("maybeD", "maybe_d",
		func(m model) *float64 { return m.MaybeD },
		func(m model, v *float64) model { m.MaybeD = v; return m })
	maybeSField = NullableString("maybeS", "maybe_s",
		func(m model) *string { return m.MaybeS },
		func(m model, v *string) model { m.MaybeS = v; return m })
	themeField = Enum("theme", "theme", themes, themeSystem,
		func(m model) theme { return m.Theme },
		func(m model, v theme) model { m.Theme = v; return m })
	maybeTField = NullableEnum("maybeT", "maybe_t", themes, themeSystem,
		func(m model) *theme { return m.MaybeT },
		func(m model, v *theme) model { m.MaybeT = v; return m })
	ordinalField = EnumOrdinal("ordinal", "ordinal", themes, themeLight,
		func(m model) theme { return m.Ordinal },
		func(m model, v theme) model { m.Ordinal = v; return m })
	recentField = List("recent", "recent",
		func(m model) []string { return m.Recent },
		func(m model, v []string) model { m.Recent = v; return m })
	countersField = Map("counters", "counters",
		func(m model) map[string]int { return m.Counters },
		func(m model, v map[string]int) model { m.Counters = v; return m })
	originField = Serialized("origin", "origin",
		func(m model) point { return m.Origin },
		func(m model, v point) model { m.Origin = v; return m })
	anchorField = NullableSerialized("anchor", "anchor",
		func(m model) *point { return m.Anchor },
		func(m model, v *point) model { m.Anchor = v; return m })
)

func allFields() []Field[model] {
	return []Field[model]{
		flagField, countField, bigField, ratioField, preciseField, nameField,
		tagsField, maybeOnField, maybeNField, maybeLField, maybeFField,
		maybeDField, maybeSField, themeField, maybeTField, ordinalField,
		recentField, countersField, originField, anchorField,
	}
}

// roundTrip writes v through f into an empty store and reads it back.
func roundTrip(t *testing.T, f Field[model], v any) (any, bool) {
	t.Helper()
	m := prefs.Empty().Edit()
	if err := f.WriteAny(m, v); err != nil {
		t.Fatalf("%s.WriteAny(%v) error = %v", f.Name(), v, err)
	}
	return f.ReadAny(m.Freeze())
}

func TestFields_RoundTrip(t *testing.T) {
	tests := []struct {
		field Field[model]
		value any
	}{
		{flagField, true},
		{flagField, false},
		{countField, math.MaxInt32},
		{countField, math.MinInt32},
		{bigField, int64(math.MaxInt64)},
		{ratioField, float32(0.25)},
		{ratioField, float32(math.NaN())},
		{preciseField, math.Pi},
		{nameField, ""},
		{nameField, "hello: world"},
		{tagsField, []string{"a", "b"}},
		{tagsField, []string{}},
		{maybeOnField, ptr(true)},
		{maybeOnField, ptr(false)},
		{maybeNField, ptr(7)},
		{maybeNField, (*int)(nil)},
		{maybeLField, ptr(int64(-3))},
		{maybeFField, ptr(float32(1.5))},
		{maybeFField, (*float32)(nil)},
		{maybeDField, ptr(2.5)},
		{maybeDField, (*float64)(nil)},
		{maybeSField, ptr("x")},
		{maybeSField, (*string)(nil)},
		{themeField, themeDark},
		{maybeTField, ptr(themeLight)},
		{maybeTField, (*theme)(nil)},
		{ordinalField, themeSystem},
		{recentField, []string{"b", "a", "b"}},
		{countersField, map[string]int{"x": 1}},
		{originField, point{X: 3, Y: -4}},
		{anchorField, &point{X: 1}},
		{anchorField, (*point)(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.field.Name(), func(t *testing.T) {
			got, ok := roundTrip(t, tt.field, tt.value)
			if !ok {
				t.Fatalf("read after write reported absent")
			}
			if !tt.field.EqualAny(got, tt.value) {
				t.Errorf("round trip = %v, want %v", got, tt.value)
			}
		})
	}
}

func TestNullableInt_SentinelBoundary(t *testing.T) {
	got, ok := roundTrip(t, maybeNField, ptr(math.MinInt))
	if !ok {
		t.Fatal("sentinel should read as present null")
	}
	if !IsNil(got) {
		t.Errorf("writing the sentinel read back %v, want nil", got)
	}

	// One above the sentinel does not fit the 32-bit field.
	m := prefs.Empty().Edit()
	err := maybeNField.WriteAny(m, ptr(math.MinInt+1))
	if !errors.Is(err, ErrOutOfRange) {
		t.Errorf("WriteAny() error = %v, want ErrOutOfRange", err)
	}
}

func TestNullableString_SentinelBoundary(t *testing.T) {
	got, ok := roundTrip(t, maybeSField, ptr(NullStringSentinel))
	if !ok || !IsNil(got) {
		t.Errorf("writing the sentinel string read back %v, %v; want nil", got, ok)
	}
}

func TestNullableDouble_NaNReadsAsNil(t *testing.T) {
	got, ok := roundTrip(t, maybeDField, ptr(math.NaN()))
	if !ok || !IsNil(got) {
		t.Errorf("NaN read back %v, %v; want nil", got, ok)
	}
}

func TestNullableBool_NilRemovesKey(t *testing.T) {
	base := prefs.FromMap(map[string]prefs.Value{
		"maybe_on_nullable": prefs.StringValue("true"),
	})
	m := base.Edit()
	if err := maybeOnField.WriteAny(m, nil); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Get("maybe_on_nullable"); ok {
		t.Error("nil should remove the key")
	}
	if _, ok := maybeOnField.ReadAny(m); ok {
		t.Error("removed key should read as absent")
	}
}

func TestFields_StoreKeys(t *testing.T) {
	tests := []struct {
		field Field[model]
		want  string
	}{
		{flagField, "flag"},
		{maybeOnField, "maybe_on_nullable"},
		{maybeNField, "maybe_n_nullable"},
		{maybeLField, "maybe_l_nullable_long"},
		{maybeSField, "maybe_s_nullable"},
		{maybeTField, "maybe_t"},
	}
	for _, tt := range tests {
		if got := tt.field.StoreKey(); got != tt.want {
			t.Errorf("%s.StoreKey() = %q, want %q", tt.field.Name(), got, tt.want)
		}
	}
}

func TestFields_ReadNeverFails(t *testing.T) {
	snap := prefs.FromMap(map[string]prefs.Value{
		"flag":     prefs.StringValue("yes"),
		"count":    prefs.LongValue(1),
		"recent":   prefs.StringValue("[not json"),
		"origin":   prefs.StringValue("{\"x\":\"oops\"}"),
		"ordinal":  prefs.StringValue("DARK"),
		"maybe_on": prefs.StringValue("true"),
	})
	for _, f := range []Field[model]{flagField, countField, recentField, originField, ordinalField, maybeOnField} {
		if v, ok := f.ReadAny(snap); ok {
			t.Errorf("%s read %v from an undecodable value", f.Name(), v)
		}
	}
}

func TestEnum_UnknownNameReadsFallback(t *testing.T) {
	snap := prefs.FromMap(map[string]prefs.Value{"theme": prefs.StringValue("SEPIA")})
	v, ok := themeField.Read(snap)
	if !ok || v != themeSystem {
		t.Errorf("Read() = %v, %v; want SYSTEM fallback", v, ok)
	}
}

func TestEnumOrdinal_OutOfRangeReadsFallback(t *testing.T) {
	snap := prefs.FromMap(map[string]prefs.Value{"ordinal": prefs.IntValue(9)})
	v, ok := ordinalField.Read(snap)
	if !ok || v != themeLight {
		t.Errorf("Read() = %v, %v; want LIGHT fallback", v, ok)
	}
}

func TestInt_OutOfRangeWrite(t *testing.T) {
	m := prefs.Empty().Edit()
	err := countField.WriteAny(m, math.MaxInt32+1)

	var we *WriteError
	if !errors.As(err, &we) {
		t.Fatalf("WriteAny() error = %v, want *WriteError", err)
	}
	if we.Field != "count" || !errors.Is(err, ErrOutOfRange) {
		t.Errorf("WriteError = %+v", we)
	}
	if m.Dirty() {
		t.Error("failed write staged a value")
	}
}

func TestSerialized_EncodeFailureReported(t *testing.T) {
	type bad struct{ C chan int }
	f := Serialized("bad", "bad",
		func(m model) bad { return bad{} },
		func(m model, v bad) model { return m })

	m := prefs.Empty().Edit()
	err := f.Write(m, bad{C: make(chan int)})
	if !errors.Is(err, ErrEncode) {
		t.Errorf("Write() error = %v, want ErrEncode", err)
	}
}

func TestDescriptor_TypeMismatch(t *testing.T) {
	if _, err := flagField.SetAny(model{}, "true"); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("SetAny() error = %v, want ErrTypeMismatch", err)
	}
	if flagField.EqualAny(true, "true") {
		t.Error("values of different types compared equal")
	}
}

func TestFields_TaggedRoundTrip(t *testing.T) {
	tests := []struct {
		field Field[model]
		value any
		want  string
	}{
		{flagField, true, "b:true"},
		{countField, 42, "i:42"},
		{bigField, int64(7), "l:7"},
		{nameField, "x", "s:x"},
		{tagsField, []string{"b", "a"}, "ss:a\x00b"},
		{themeField, themeDark, "s:DARK"},
		{ordinalField, themeDark, "i:1"},
		{maybeSField, (*string)(nil), "j:null"},
		{maybeNField, ptr(5), "i:5"},
		{originField, point{X: 1, Y: 2}, `j:{"x":1,"y":2}`},
	}

	for _, tt := range tests {
		text, err := tt.field.EncodeTagged(tt.value)
		if err != nil {
			t.Errorf("%s.EncodeTagged() error = %v", tt.field.Name(), err)
			continue
		}
		if text != tt.want {
			t.Errorf("%s.EncodeTagged() = %q, want %q", tt.field.Name(), text, tt.want)
		}
		back, err := tt.field.DecodeTagged(text)
		if err != nil {
			t.Errorf("%s.DecodeTagged(%q) error = %v", tt.field.Name(), text, err)
			continue
		}
		if !tt.field.EqualAny(back, tt.value) {
			t.Errorf("%s tagged round trip = %v, want %v", tt.field.Name(), back, tt.value)
		}
	}
}

func TestFields_ParseText(t *testing.T) {
	tests := []struct {
		field Field[model]
		text  string
		want  any
	}{
		{flagField, "true", true},
		{countField, " 12 ", 12},
		{ratioField, "0.5", float32(0.5)},
		{tagsField, "b, a", []string{"a", "b"}},
		{maybeNField, "null", (*int)(nil)},
		{maybeNField, "3", ptr(3)},
		{themeField, "DARK", themeDark},
		{recentField, `["x","y"]`, []string{"x", "y"}},
	}
	for _, tt := range tests {
		got, err := tt.field.ParseText(tt.text)
		if err != nil {
			t.Errorf("%s.ParseText(%q) error = %v", tt.field.Name(), tt.text, err)
			continue
		}
		if !tt.field.EqualAny(got, tt.want) {
			t.Errorf("%s.ParseText(%q) = %v, want %v", tt.field.Name(), tt.text, got, tt.want)
		}
	}

	if _, err := themeField.ParseText("SEPIA"); err == nil {
		t.Error("unknown enum name should not parse")
	}
	if got := tagsField.FormatText([]string{"b", "a"}); got != "a,b" {
		t.Errorf("FormatText() = %q", got)
	}
	if got := maybeSField.FormatText(nil); got != "null" {
		t.Errorf("FormatText(nil) = %q", got)
	}
}

func TestStringSet_ReadsSorted(t *testing.T) {
	got, _ := roundTrip(t, tagsField, []string{"z", "a"})
	if !slices.Equal(got.([]string), []string{"a", "z"}) {
		t.Errorf("got %v", got)
	}
}
