package settings

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dshills/prefkit/internal/prefs"
)

// Schema associates a default model with its ordered field descriptors.
// It is immutable after construction.
type Schema[M any] struct {
	def    M
	fields []Field[M]
	byName map[string]Field[M]
	byKey  map[string]Field[M]
}

// Group is the fields of one category, in declaration order.
type Group[M any] struct {
	Category Category
	Fields   []Field[M]
}

// NewSchema builds a schema. Field names and persistence keys must be
// unique, including the store keys derived from them.
func NewSchema[M any](def M, fields ...Field[M]) (*Schema[M], error) {
	s := &Schema[M]{
		def:    def,
		fields: slices.Clone(fields),
		byName: make(map[string]Field[M], len(fields)),
		byKey:  make(map[string]Field[M], len(fields)),
	}

	storeKeys := make(map[string]string, len(fields))
	for _, f := range fields {
		if f.Name() == "" || f.KeyName() == "" {
			return nil, fmt.Errorf("field with empty name or key: %q/%q", f.Name(), f.KeyName())
		}
		if _, dup := s.byName[f.Name()]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateField, f.Name())
		}
		if _, dup := s.byKey[f.KeyName()]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, f.KeyName())
		}
		if other, dup := storeKeys[f.StoreKey()]; dup {
			return nil, fmt.Errorf("%w: store key %s used by %s and %s", ErrDuplicateKey, f.StoreKey(), other, f.Name())
		}
		s.byName[f.Name()] = f
		s.byKey[f.KeyName()] = f
		storeKeys[f.StoreKey()] = f.Name()
	}
	return s, nil
}

// MustSchema is NewSchema that panics on error. It is meant for
// package-level schema declarations.
func MustSchema[M any](def M, fields ...Field[M]) *Schema[M] {
	s, err := NewSchema(def, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Default returns the default model.
func (s *Schema[M]) Default() M { return s.def }

// Fields returns the fields in declaration order.
func (s *Schema[M]) Fields() []Field[M] { return slices.Clone(s.fields) }

// Len returns the number of fields.
func (s *Schema[M]) Len() int { return len(s.fields) }

// FieldByName looks up a field by name.
func (s *Schema[M]) FieldByName(name string) (Field[M], bool) {
	f, ok := s.byName[name]
	return f, ok
}

// FieldByKey looks up a field by persistence key.
func (s *Schema[M]) FieldByKey(key string) (Field[M], bool) {
	f, ok := s.byKey[key]
	return f, ok
}

// FieldsWithMeta returns the user-facing fields.
func (s *Schema[M]) FieldsWithMeta() []Field[M] {
	return s.filter(func(f Field[M]) bool { return f.Meta() != nil })
}

// UIFields returns the fields a settings screen shows.
func (s *Schema[M]) UIFields() []Field[M] {
	return s.FieldsWithMeta()
}

// ResettableFields returns every field not marked NoReset.
func (s *Schema[M]) ResettableFields() []Field[M] {
	return s.filter(resettable[M])
}

// ResettableFieldsInCategory returns the resettable user-facing fields of
// one category.
func (s *Schema[M]) ResettableFieldsInCategory(categoryID string) []Field[M] {
	return s.filter(func(f Field[M]) bool {
		m := f.Meta()
		return m != nil && m.Category.ID == categoryID && !m.NoReset
	})
}

func resettable[M any](f Field[M]) bool {
	m := f.Meta()
	return m == nil || !m.NoReset
}

func (s *Schema[M]) filter(keep func(Field[M]) bool) []Field[M] {
	var out []Field[M]
	for _, f := range s.fields {
		if keep(f) {
			out = append(out, f)
		}
	}
	return out
}

// GroupedByCategory groups user-facing fields by category ID. Groups
// appear in first-seen order and keep declaration order within.
func (s *Schema[M]) GroupedByCategory() []Group[M] {
	var groups []Group[M]
	index := make(map[string]int)
	for _, f := range s.FieldsWithMeta() {
		cat := f.Meta().Category
		i, ok := index[cat.ID]
		if !ok {
			i = len(groups)
			index[cat.ID] = i
			groups = append(groups, Group[M]{Category: cat})
		}
		groups[i].Fields = append(groups[i].Fields, f)
	}
	return groups
}

// OrderedGroups is GroupedByCategory sorted by category display order,
// ties kept in first-seen order.
func (s *Schema[M]) OrderedGroups() []Group[M] {
	groups := s.GroupedByCategory()
	slices.SortStableFunc(groups, func(a, b Group[M]) int {
		return a.Category.Order - b.Category.Order
	})
	return groups
}

// OrderedCategories returns the distinct categories sorted by display
// order, ties kept in first-seen order.
func (s *Schema[M]) OrderedCategories() []Category {
	groups := s.OrderedGroups()
	out := make([]Category, len(groups))
	for i, g := range groups {
		out[i] = g.Category
	}
	return out
}

// IsEnabled resolves a field's DependsOn against m. Blank, unknown and
// non-boolean dependencies leave the field enabled. Only one hop is
// followed.
func (s *Schema[M]) IsEnabled(m M, f Field[M]) bool {
	meta := f.Meta()
	if meta == nil || strings.TrimSpace(meta.DependsOn) == "" {
		return true
	}
	dep, ok := s.byName[meta.DependsOn]
	if !ok {
		return true
	}
	v, ok := dep.GetAny(m).(bool)
	if !ok {
		return true
	}
	return v
}

// Validate checks value against the named field's rules. The returned
// *ValidationError carries the field name.
func (s *Schema[M]) Validate(name string, value any) error {
	f, ok := s.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	err := f.Meta().Validate(value)
	if ve, ok := err.(*ValidationError); ok {
		ve.Field = name
	}
	return err
}

// ValidateModel validates every user-facing field of m and returns the
// first failure.
func (s *Schema[M]) ValidateModel(m M) error {
	for _, f := range s.fields {
		if f.Meta() == nil {
			continue
		}
		if err := s.Validate(f.Name(), f.GetAny(m)); err != nil {
			return err
		}
	}
	return nil
}

// Materialize folds a snapshot into a model, starting from the default
// and overriding each field whose value is present and decodable.
func (s *Schema[M]) Materialize(r prefs.Reader) M {
	m := s.def
	for _, f := range s.fields {
		v, ok := f.ReadAny(r)
		if !ok {
			continue
		}
		next, err := f.SetAny(m, v)
		if err != nil {
			continue
		}
		m = next
	}
	return m
}

// Equal reports whether two models hold equal values for every field.
func (s *Schema[M]) Equal(a, b M) bool {
	for _, f := range s.fields {
		if !f.EqualAny(f.GetAny(a), f.GetAny(b)) {
			return false
		}
	}
	return true
}

// Diff returns the fields whose values differ between a and b, in schema
// order.
func (s *Schema[M]) Diff(a, b M) []Field[M] {
	var out []Field[M]
	for _, f := range s.fields {
		if !f.EqualAny(f.GetAny(a), f.GetAny(b)) {
			out = append(out, f)
		}
	}
	return out
}
