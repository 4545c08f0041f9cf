package backup

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// FormatVersion is the bundle layout version written by Export.
const FormatVersion = 1

// Bundle is the portable backup document.
type Bundle struct {
	FormatVersion int               `json:"formatVersion"`
	SchemaVersion int               `json:"schemaVersion"`
	AppID         string            `json:"appId"`
	ExportedAt    int64             `json:"exportedAt"`
	DeviceInfo    *DeviceInfo       `json:"deviceInfo"`
	Settings      map[string]string `json:"settings"`
	Checksum      string            `json:"checksum"`
}

// DeviceInfo describes the exporting installation.
type DeviceInfo struct {
	Platform   string `json:"platform"`
	OSVersion  string `json:"osVersion"`
	AppVersion string `json:"appVersion"`
}

// Checksum hashes the settings as key=value pairs sorted by key and
// joined by "|". It detects truncation and accidental edits, not
// tampering.
func Checksum(settings map[string]string) string {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(settings[k])
	}
	return strconv.FormatUint(xxhash.Sum64String(b.String()), 16)
}

// VerifyChecksum reports whether the stored checksum matches the
// settings.
func (b *Bundle) VerifyChecksum() bool {
	return b.Checksum == Checksum(b.Settings)
}

// Marshal encodes the bundle as indented JSON.
func (b *Bundle) Marshal() ([]byte, error) {
	return json.MarshalIndent(b, "", "  ")
}

// ParseBundle decodes a bundle. Unknown JSON members are ignored.
func ParseBundle(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	if b.Settings == nil {
		return nil, fmt.Errorf("bundle has no settings object")
	}
	if b.Checksum == "" {
		return nil, fmt.Errorf("bundle has no checksum")
	}
	return &b, nil
}
