package config

import (
	"fmt"
	"strconv"

	"github.com/dshills/prefkit/internal/config/loader"
)

// tree reads typed values out of a merged configuration map and records
// the first type error per path.
type tree struct {
	data map[string]any
	errs []error
	seen map[string]bool
}

func newTree(data map[string]any) *tree {
	return &tree{data: data, seen: make(map[string]bool)}
}

func (t *tree) fail(path, expected string, v any) {
	if t.seen[path] {
		return
	}
	t.seen[path] = true
	t.errs = append(t.errs, &TypeError{Path: path, Expected: expected, Actual: typeName(v)})
}

// stringOr accepts any scalar; environment values arrive type-guessed.
func (t *tree) stringOr(path, def string) string {
	v, ok := loader.GetByPath(t.data, path)
	if !ok || v == nil {
		return def
	}
	switch val := v.(type) {
	case string:
		return val
	case bool, int, int64, float64:
		return fmt.Sprint(val)
	default:
		t.fail(path, "string", v)
		return def
	}
}

func (t *tree) intOr(path string, def int) int {
	v, ok := loader.GetByPath(t.data, path)
	if !ok || v == nil {
		return def
	}
	switch val := v.(type) {
	case int:
		return val
	case int64:
		return int(val)
	case uint64:
		return int(val)
	case float64:
		if val == float64(int(val)) {
			return int(val)
		}
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	t.fail(path, "int", v)
	return def
}

func (t *tree) boolOr(path string, def bool) bool {
	v, ok := loader.GetByPath(t.data, path)
	if !ok || v == nil {
		return def
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	t.fail(path, "bool", v)
	return def
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "nil"
	case string:
		return "string"
	case int, int64, uint64:
		return "int"
	case float64:
		return "float"
	case bool:
		return "bool"
	case []any:
		return "list"
	case map[string]any:
		return "table"
	default:
		return fmt.Sprintf("%T", v)
	}
}
