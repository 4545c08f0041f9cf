package loader

import (
	"errors"
	"io/fs"
	"testing"
	"time"
)

type memFS map[string]string

func (m memFS) ReadFile(path string) ([]byte, error) {
	data, ok := m[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return []byte(data), nil
}

func (m memFS) Stat(path string) (fs.FileInfo, error) {
	if _, ok := m[path]; !ok {
		return nil, fs.ErrNotExist
	}
	return memInfo(path), nil
}

type memInfo string

func (f memInfo) Name() string       { return string(f) }
func (f memInfo) Size() int64        { return 0 }
func (f memInfo) Mode() fs.FileMode  { return 0o644 }
func (f memInfo) ModTime() time.Time { return time.Time{} }
func (f memInfo) IsDir() bool        { return false }
func (f memInfo) Sys() any           { return nil }

func TestForPath(t *testing.T) {
	files := memFS{
		"/c.toml": "[store]\nbackend = \"redis\"\n[logging]\nmaxSize = 20\n",
		"/c.yaml": "store:\n  backend: redis\nlogging:\n  maxSize: 20\n",
		"/c.yml":  "store:\n  backend: redis\nlogging:\n  maxSize: 20\n",
	}
	for path := range files {
		t.Run(path, func(t *testing.T) {
			l, err := ForPath(files, path)
			if err != nil {
				t.Fatal(err)
			}
			cfg, err := l.Load()
			if err != nil {
				t.Fatal(err)
			}
			if v, _ := GetByPath(cfg, "store.backend"); v != "redis" {
				t.Errorf("store.backend = %v", v)
			}
			v, _ := GetByPath(cfg, "logging.maxSize")
			switch n := v.(type) {
			case int64:
				if n != 20 {
					t.Errorf("maxSize = %d", n)
				}
			case int:
				if n != 20 {
					t.Errorf("maxSize = %d", n)
				}
			default:
				t.Errorf("maxSize = %v (%T)", v, v)
			}
		})
	}

	if _, err := ForPath(files, "/c.ini"); err == nil {
		t.Error("ForPath(.ini) succeeded")
	}
}

func TestLoadMissingFile(t *testing.T) {
	l, _ := ForPath(memFS{}, "/missing.toml")
	cfg, err := l.Load()
	if cfg != nil || err != nil {
		t.Errorf("Load() = %v, %v", cfg, err)
	}
}

func TestParseError(t *testing.T) {
	_, err := ParseTOML("bad.toml", []byte("store = [unclosed"))
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Path != "bad.toml" {
		t.Errorf("ParseTOML() error = %v", err)
	}
	if _, err := ParseYAML("bad.yaml", []byte("store: [unclosed")); !errors.As(err, &pe) {
		t.Errorf("ParseYAML() error = %v", err)
	}
}

func TestYAMLNormalizesKeys(t *testing.T) {
	cfg, err := ParseYAML("x.yaml", []byte("codes:\n  1: one\n  2: two\n"))
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := GetByPath(cfg, "codes.1"); !ok || v != "one" {
		t.Errorf("codes.1 = %v, %v", v, ok)
	}
}

func TestDeepMerge(t *testing.T) {
	dst := map[string]any{
		"store":   map[string]any{"backend": "file", "path": "/a"},
		"logging": map[string]any{"level": "info"},
	}
	src := map[string]any{
		"store":   map[string]any{"backend": "redis"},
		"logging": "flat",
	}
	got := DeepMerge(dst, src)
	if v, _ := GetByPath(got, "store.backend"); v != "redis" {
		t.Errorf("store.backend = %v", v)
	}
	if v, _ := GetByPath(got, "store.path"); v != "/a" {
		t.Errorf("store.path = %v", v)
	}
	if got["logging"] != "flat" {
		t.Errorf("logging = %v", got["logging"])
	}
}

func TestEnvLoader(t *testing.T) {
	l := NewEnvLoader()
	l.environ = func() []string {
		return []string{
			"PREFKIT_STORE=redis",
			"PREFKIT_S3_BUCKET=backups",
			"PREFKIT_S3_PATH_STYLE=true",
			"PREFKIT_LOCK_BCRYPT_COST=12",
			"PREFKIT_METRICS_ADDR=127.0.0.1:9090",
			"PREFKIT_=ignored",
			"HOME=/root",
		}
	}
	l.AddMapping("PREFKIT_THEME", "app.theme")

	cfg, err := l.Load()
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		path string
		want any
	}{
		{"store.backend", "redis"},
		{"backup.s3.bucket", "backups"},
		{"backup.s3.pathStyle", true},
		{"lock.bcryptCost", int64(12)},
		{"metrics.addr", "127.0.0.1:9090"},
	}
	for _, tt := range tests {
		if got, _ := GetByPath(cfg, tt.path); got != tt.want {
			t.Errorf("%s = %v (%T), want %v", tt.path, got, got, tt.want)
		}
	}
	if len(cfg) != 4 {
		t.Errorf("sections = %v", cfg)
	}
}

func TestEnvToPath(t *testing.T) {
	l := NewEnvLoader()
	tests := map[string]string{
		"PREFKIT_LOGGING_MAX_BACKUPS": "logging.maxBackups",
		"PREFKIT_APP_NAME":            "app.name",
		"PREFKIT_CONFIG":              "",
	}
	for env, want := range tests {
		if got := l.envToPath(env); got != want {
			t.Errorf("envToPath(%s) = %q, want %q", env, got, want)
		}
	}
}
