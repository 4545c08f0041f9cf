package appsettings

import (
	"context"
	"fmt"

	"github.com/dshills/prefkit/internal/prefs"
	"github.com/dshills/prefkit/internal/settings/migration"
)

// themeScript converts the version 2 boolean dark_mode key into the
// theme enum name.
const themeScript = `
local dark = prefs.get("dark_mode")
if dark ~= nil then
  if prefs.get("theme") == nil then
    if dark then prefs.set("theme", "dark") else prefs.set("theme", "light") end
  end
  prefs.remove("dark_mode")
end
`

// Migrations registers the stored layout history on m:
//
//	v1 -> v2  tab_width renamed to tab_size, legacy_ui dropped
//	v2 -> v3  dark_mode folded into theme
func Migrations(m *migration.Manager) error {
	m.AddKeyRename(1, 2, "tab_width", "tab_size").
		AddKeyDeletion(1, 2, "legacy_ui")
	m.Add(migration.Migration{
		From:        1,
		To:          2,
		Description: "font size stored as int",
		Apply: func(_ context.Context, mut *prefs.Mutable) error {
			v, ok := mut.Get("font_size")
			if !ok {
				return nil
			}
			if d, ok := v.Double(); ok {
				mut.SetInt("font_size", int32(d))
				return nil
			}
			if _, ok := v.Int(); !ok {
				return fmt.Errorf("font_size holds %s", v.Kind())
			}
			return nil
		},
	})
	return m.AddScript(2, 3, "theme.lua", themeScript)
}

// NewMigrator returns a migration manager for store with every editor
// migration registered.
func NewMigrator(store prefs.Store, opts ...migration.Option) (*migration.Manager, error) {
	m := migration.New(store, SchemaVersion, opts...)
	if err := Migrations(m); err != nil {
		return nil, fmt.Errorf("register migrations: %w", err)
	}
	return m, nil
}
