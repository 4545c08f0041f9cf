// Package config loads the prefkit tool configuration.
//
// Sources are layered with later layers overriding earlier ones:
//
//	┌──────────────────────────────┐
//	│  3. PREFKIT_* environment    │  ← Highest priority
//	├──────────────────────────────┤
//	│  2. Config file (TOML/YAML)  │
//	├──────────────────────────────┤
//	│  1. Built-in defaults        │  ← Lowest priority
//	└──────────────────────────────┘
//
// The merged tree is read into typed sections. A value of the wrong type
// falls back to the default and is reported by Validate.
//
// # Sections
//
//	[app]      id, name
//	[store]    backend (memory|file|redis), path, redisUrl, namespace
//	[backup]   dir, [backup.s3] bucket, region, endpoint, accessKeyId,
//	           secretAccessKey, pathStyle, prefix
//	[lock]     hasher (bcrypt|weak), bcryptCost
//	[logging]  level, file, maxSize, maxBackups, maxAge, compress
//	[notify]   buffer
//	[metrics]  addr
package config
