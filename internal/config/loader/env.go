package loader

import (
	"os"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every prefkit environment variable.
const EnvPrefix = "PREFKIT_"

// EnvLoader maps environment variables onto configuration paths.
type EnvLoader struct {
	prefix  string
	mapping map[string]string
	environ func() []string
}

// NewEnvLoader creates a loader with the default PREFKIT_ mapping.
func NewEnvLoader() *EnvLoader {
	return &EnvLoader{prefix: EnvPrefix, mapping: defaultEnvMapping(), environ: os.Environ}
}

func defaultEnvMapping() map[string]string {
	return map[string]string{
		"PREFKIT_APP_ID":               "app.id",
		"PREFKIT_STORE":                "store.backend",
		"PREFKIT_STORE_PATH":           "store.path",
		"PREFKIT_REDIS_URL":            "store.redisUrl",
		"PREFKIT_REDIS_NAMESPACE":      "store.namespace",
		"PREFKIT_BACKUP_DIR":           "backup.dir",
		"PREFKIT_S3_BUCKET":            "backup.s3.bucket",
		"PREFKIT_S3_REGION":            "backup.s3.region",
		"PREFKIT_S3_ENDPOINT":          "backup.s3.endpoint",
		"PREFKIT_S3_ACCESS_KEY_ID":     "backup.s3.accessKeyId",
		"PREFKIT_S3_SECRET_ACCESS_KEY": "backup.s3.secretAccessKey",
		"PREFKIT_S3_PATH_STYLE":        "backup.s3.pathStyle",
		"PREFKIT_S3_PREFIX":            "backup.s3.prefix",
		"PREFKIT_LOG_LEVEL":            "logging.level",
		"PREFKIT_LOG_FILE":             "logging.file",
		"PREFKIT_METRICS_ADDR":         "metrics.addr",
	}
}

// AddMapping maps envVar to a configuration path.
func (l *EnvLoader) AddMapping(envVar, path string) {
	l.mapping[envVar] = path
}

// Load implements Loader. Mapped variables are applied first, then any
// other prefixed variable is converted by name: PREFKIT_LOCK_BCRYPT_COST
// becomes lock.bcryptCost.
func (l *EnvLoader) Load() (map[string]any, error) {
	config := make(map[string]any)
	for _, kv := range l.environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, l.prefix) {
			continue
		}
		path, mapped := l.mapping[name]
		if !mapped {
			path = l.envToPath(name)
		}
		if path == "" {
			continue
		}
		SetByPath(config, path, parseValue(value))
	}
	return config, nil
}

// envToPath converts PREFKIT_SECTION_SOME_NAME to section.someName.
func (l *EnvLoader) envToPath(env string) string {
	parts := strings.Split(strings.TrimPrefix(env, l.prefix), "_")
	if len(parts) < 2 || parts[0] == "" {
		return ""
	}
	name := strings.ToLower(parts[1])
	for _, p := range parts[2:] {
		if p != "" {
			name += strings.ToUpper(p[:1]) + strings.ToLower(p[1:])
		}
	}
	return strings.ToLower(parts[0]) + "." + name
}

// parseValue guesses the scalar type of an environment value. Consumers
// accept numeric and boolean values for string settings, so guessing is
// safe.
func parseValue(s string) any {
	switch strings.ToLower(s) {
	case "true", "yes", "on":
		return true
	case "false", "no", "off":
		return false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if strings.Contains(s, ".") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return s
}
