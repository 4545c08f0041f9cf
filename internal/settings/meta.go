package settings

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"
)

// UIType selects the control a renderer uses for a field.
type UIType uint8

const (
	// UIToggle is an on/off switch.
	UIToggle UIType = iota
	// UIDropdown picks one entry from Meta.Options.
	UIDropdown
	// UISlider picks a number within Meta.Min and Meta.Max.
	UISlider
	// UIButton triggers the action named by Meta.Action.
	UIButton
	// UITextInput edits free text.
	UITextInput
	// UICustom is rendered by a handler registered under Meta.CustomType.
	UICustom
)

// String returns the UI type name.
func (t UIType) String() string {
	switch t {
	case UIToggle:
		return "toggle"
	case UIDropdown:
		return "dropdown"
	case UISlider:
		return "slider"
	case UIButton:
		return "button"
	case UITextInput:
		return "text"
	case UICustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Category is an ordered display group.
type Category struct {
	ID    string
	Title string
	Order int
}

// Confirmation asks the user to confirm before a change is applied.
type Confirmation struct {
	Title       string
	Message     string
	ConfirmText string
	CancelText  string
	Dangerous   bool
}

// Meta is the display, validation and reset metadata of a user-facing
// field. Fields without Meta are persisted but never shown.
type Meta struct {
	Title       string
	Description string

	Category Category
	UIType   UIType

	// Slider bounds.
	Min  float64
	Max  float64
	Step float64

	// Dropdown labels.
	Options []string

	// DependsOn names a boolean field that enables this one.
	DependsOn string

	// Action is the handler id invoked by a UIButton field.
	Action string

	// CustomType selects the renderer for a UICustom field.
	CustomType string

	Validation   *ValidationRules
	Confirmation *Confirmation

	// NoReset exempts the field from bulk resets.
	NoReset bool

	// ConfirmReset, when set, is the prompt shown before resetting.
	ConfirmReset string
}

// Validate checks value against the configured rules.
func (m *Meta) Validate(value any) error {
	if m == nil || m.Validation == nil {
		return nil
	}
	return m.Validation.Validate(value)
}

// ValidationRules constrain the values accepted for a field. Rules that
// do not apply to a value's type are skipped.
type ValidationRules struct {
	// Min and Max bound numeric values. Nil means unbounded.
	Min *float64
	Max *float64

	// MinLength and MaxLength bound string length in runes and the length
	// of slices and maps. Zero MaxLength means unbounded.
	MinLength int
	MaxLength int

	// Pattern is a regular expression string values must match in full.
	Pattern string

	// Required rejects nil, blank strings and empty collections.
	Required bool

	// Validator is an additional check run last.
	Validator func(value any) error

	// Message overrides generated error messages.
	Message string

	once     sync.Once
	compiled *regexp.Regexp
	compErr  error
}

// Range returns rules bounding numeric values to [min, max].
func Range(min, max float64) *ValidationRules {
	return &ValidationRules{Min: &min, Max: &max}
}

// Validate returns a *ValidationError for the first failing rule.
func (r *ValidationRules) Validate(value any) error {
	if r == nil {
		return nil
	}

	if r.Required && isEmpty(value) {
		return r.fail("required", "value is required", value)
	}

	if f, ok := toFloat(value); ok {
		if r.Min != nil && f < *r.Min {
			return r.fail("range", fmt.Sprintf("value is less than minimum %v", *r.Min), value)
		}
		if r.Max != nil && f > *r.Max {
			return r.fail("range", fmt.Sprintf("value is greater than maximum %v", *r.Max), value)
		}
	}

	if n, ok := length(value); ok {
		if n < r.MinLength {
			return r.fail("length", fmt.Sprintf("length %d is less than %d", n, r.MinLength), value)
		}
		if r.MaxLength > 0 && n > r.MaxLength {
			return r.fail("length", fmt.Sprintf("length %d is greater than %d", n, r.MaxLength), value)
		}
	}

	if r.Pattern != "" {
		if s, ok := deref(value).(string); ok {
			re, err := r.pattern()
			if err != nil {
				return r.fail("pattern", fmt.Sprintf("invalid pattern: %v", err), value)
			}
			if !re.MatchString(s) {
				return r.fail("pattern", fmt.Sprintf("value does not match pattern %s", r.Pattern), value)
			}
		}
	}

	if r.Validator != nil {
		if err := r.Validator(value); err != nil {
			return r.fail("custom", err.Error(), value)
		}
	}
	return nil
}

func (r *ValidationRules) pattern() (*regexp.Regexp, error) {
	r.once.Do(func() {
		r.compiled, r.compErr = regexp.Compile("^(?:" + r.Pattern + ")$")
	})
	return r.compiled, r.compErr
}

func (r *ValidationRules) fail(rule, msg string, value any) *ValidationError {
	if r.Message != "" {
		msg = r.Message
	}
	return &ValidationError{Rule: rule, Message: msg, Value: value}
}

// deref unwraps a non-nil pointer so nullable fields validate like their
// element type.
func deref(value any) any {
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() {
		return rv.Elem().Interface()
	}
	return value
}

func isEmpty(value any) bool {
	if isNil(value) {
		return true
	}
	switch v := deref(value).(type) {
	case string:
		return strings.TrimSpace(v) == ""
	}
	if n, ok := length(value); ok {
		return n == 0
	}
	return false
}

func length(value any) (int, bool) {
	value = deref(value)
	if s, ok := value.(string); ok {
		return utf8.RuneCountInString(s), true
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len(), true
	}
	return 0, false
}

func toFloat(value any) (float64, bool) {
	switch v := deref(value).(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// isNil reports whether value is nil or a nil pointer, slice, map or
// interface.
func isNil(value any) bool {
	if value == nil {
		return true
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// IsNil reports whether a field value is nil, including typed nil
// pointers, slices and maps held in an interface.
func IsNil(value any) bool { return isNil(value) }
