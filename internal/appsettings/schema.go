package appsettings

import (
	"github.com/dshills/prefkit/internal/settings"
)

// SchemaVersion is the version of the stored layout Schema describes.
const SchemaVersion = 3

// ActionClearRecent clears the recent file list.
const ActionClearRecent = "clear_recent"

func limit(min, max float64) *settings.ValidationRules {
	return settings.Range(min, max)
}

// Schema returns the editor settings schema.
func Schema() *settings.Schema[Editor] {
	return settings.MustSchema[Editor](Defaults(),
		settings.Enum("theme", "theme", Themes, ThemeSystem,
			func(e Editor) Theme { return e.Theme },
			func(e Editor, v Theme) Editor { e.Theme = v; return e },
			settings.WithMeta(settings.Meta{
				Title:    "Theme",
				Category: Appearance,
				UIType:   settings.UIDropdown,
				Options:  []string{"system", "light", "dark"},
			})),
		settings.Int("fontSize", "font_size",
			func(e Editor) int { return e.FontSize },
			func(e Editor, v int) Editor { e.FontSize = v; return e },
			settings.WithMeta(settings.Meta{
				Title:      "Font size",
				Category:   Appearance,
				UIType:     settings.UISlider,
				Min:        8,
				Max:        32,
				Step:       1,
				Validation: limit(8, 32),
			})),
		settings.String("fontFamily", "font_family",
			func(e Editor) string { return e.FontFamily },
			func(e Editor, v string) Editor { e.FontFamily = v; return e },
			settings.WithMeta(settings.Meta{
				Title:      "Font family",
				Category:   Appearance,
				UIType:     settings.UITextInput,
				Validation: &settings.ValidationRules{Required: true, MaxLength: 64},
			})),
		settings.NullableString("language", "language",
			func(e Editor) *string { return e.Language },
			func(e Editor, v *string) Editor { e.Language = v; return e },
			settings.WithMeta(settings.Meta{
				Title:       "Language",
				Description: "Unset follows the system language.",
				Category:    Appearance,
				UIType:      settings.UIDropdown,
				Options:     Languages,
				NoReset:     true,
			})),

		settings.Int("tabSize", "tab_size",
			func(e Editor) int { return e.TabSize },
			func(e Editor, v int) Editor { e.TabSize = v; return e },
			settings.WithMeta(settings.Meta{
				Title:      "Tab size",
				Category:   Editing,
				UIType:     settings.UISlider,
				Min:        1,
				Max:        16,
				Step:       1,
				Validation: limit(1, 16),
			})),
		settings.Bool("insertSpaces", "insert_spaces",
			func(e Editor) bool { return e.InsertSpaces },
			func(e Editor, v bool) Editor { e.InsertSpaces = v; return e },
			settings.WithMeta(settings.Meta{Title: "Insert spaces", Category: Editing, UIType: settings.UIToggle})),
		settings.Bool("wordWrap", "word_wrap",
			func(e Editor) bool { return e.WordWrap },
			func(e Editor, v bool) Editor { e.WordWrap = v; return e },
			settings.WithMeta(settings.Meta{Title: "Word wrap", Category: Editing, UIType: settings.UIToggle})),
		settings.Int("wordWrapColumn", "word_wrap_column",
			func(e Editor) int { return e.WordWrapColumn },
			func(e Editor, v int) Editor { e.WordWrapColumn = v; return e },
			settings.WithMeta(settings.Meta{
				Title:      "Wrap column",
				Category:   Editing,
				UIType:     settings.UISlider,
				Min:        40,
				Max:        200,
				Step:       10,
				DependsOn:  "wordWrap",
				Validation: limit(40, 200),
			})),
		settings.EnumOrdinal("lineNumbers", "line_numbers", LineNumberStyles, LineNumbersOn,
			func(e Editor) LineNumbers { return e.LineNumbers },
			func(e Editor, v LineNumbers) Editor { e.LineNumbers = v; return e },
			settings.WithMeta(settings.Meta{
				Title:    "Line numbers",
				Category: Editing,
				UIType:   settings.UIDropdown,
				Options:  []string{"on", "off", "relative"},
			})),

		settings.NullableInt("autoSaveDelay", "auto_save_delay",
			func(e Editor) *int { return e.AutoSaveDelay },
			func(e Editor, v *int) Editor { e.AutoSaveDelay = v; return e },
			settings.WithMeta(settings.Meta{
				Title:       "Auto save delay (ms)",
				Description: "Unset disables auto save.",
				Category:    Files,
				UIType:      settings.UITextInput,
				Validation:  limit(100, 60_000),
			})),
		settings.StringSet("exclude", "files_exclude",
			func(e Editor) []string { return e.Exclude },
			func(e Editor, v []string) Editor { e.Exclude = v; return e },
			settings.WithMeta(settings.Meta{Title: "Excluded files", Category: Files, UIType: settings.UICustom, CustomType: "glob-list"})),
		settings.Long("lastCleared", "recent_cleared_at",
			func(e Editor) int64 { return e.LastCleared },
			func(e Editor, v int64) Editor { e.LastCleared = v; return e },
			settings.WithMeta(settings.Meta{
				Title:    "Clear recent files",
				Category: Files,
				UIType:   settings.UIButton,
				Action:   ActionClearRecent,
				NoReset:  true,
			})),

		settings.Bool("telemetry", "telemetry",
			func(e Editor) bool { return e.Telemetry },
			func(e Editor, v bool) Editor { e.Telemetry = v; return e },
			settings.WithMeta(settings.Meta{
				Title:    "Send usage data",
				Category: Privacy,
				UIType:   settings.UIToggle,
				Confirmation: &settings.Confirmation{
					Title:       "Usage data",
					Message:     "Anonymous usage statistics will be sent.",
					ConfirmText: "Allow",
					CancelText:  "Cancel",
				},
				ConfirmReset: "Stop sending usage data?",
			})),

		// Not shown.
		settings.String("deviceId", "device_id",
			func(e Editor) string { return e.DeviceID },
			func(e Editor, v string) Editor { e.DeviceID = v; return e }),
		settings.List("recentFiles", "recent_files",
			func(e Editor) []string { return e.RecentFiles },
			func(e Editor, v []string) Editor { e.RecentFiles = v; return e }),
		settings.Map("keymap", "keymap",
			func(e Editor) map[string]string { return e.Keymap },
			func(e Editor, v map[string]string) Editor { e.Keymap = v; return e }),
		settings.Serialized("window", "window",
			func(e Editor) Window { return e.Window },
			func(e Editor, v Window) Editor { e.Window = v; return e }),
	)
}
