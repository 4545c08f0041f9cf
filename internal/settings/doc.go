// Package settings maps an immutable settings model onto a preference
// store.
//
// A model is any value type M. Each persisted property of M is described
// by a Field: a stable in-process name, a stable persistence key, optional
// display and validation Meta, pure accessors over M, and a codec that
// reads and writes the property against a prefs snapshot. A Schema groups
// the fields of one model with its default instance and materializes
// snapshots into models.
//
// Field descriptors are declared with the typed constructors in this
// package (Bool, Int, NullableString, Enum, List, Serialized and so on):
//
//	type Prefs struct {
//		DarkMode bool
//		FontSize int
//	}
//
//	var darkMode = settings.Bool("darkMode", "dark_mode",
//		func(p Prefs) bool { return p.DarkMode },
//		func(p Prefs, v bool) Prefs { p.DarkMode = v; return p },
//		settings.WithMeta(settings.Meta{Title: "Dark mode", UIType: settings.UIToggle}),
//	)
//
// Reads never fail: an unset or undecodable key reads as absent and the
// schema default is used instead. Writes report encode failures as
// *WriteError so callers decide whether a dropped write is fatal.
package settings
