// Package appsettings declares the editor preferences managed by the
// prefkit command: the model, its schema, its migrations and its button
// actions.
package appsettings

import (
	"github.com/dshills/prefkit/internal/settings"
)

// Theme is the color theme.
type Theme int

// Themes.
const (
	ThemeSystem Theme = iota
	ThemeLight
	ThemeDark
)

// Themes lists every theme in declaration order.
var Themes = []Theme{ThemeSystem, ThemeLight, ThemeDark}

func (t Theme) String() string {
	switch t {
	case ThemeLight:
		return "light"
	case ThemeDark:
		return "dark"
	default:
		return "system"
	}
}

// LineNumbers selects the gutter style. It is stored by ordinal.
type LineNumbers int

// Gutter styles.
const (
	LineNumbersOn LineNumbers = iota
	LineNumbersOff
	LineNumbersRelative
)

// LineNumberStyles lists every gutter style in ordinal order.
var LineNumberStyles = []LineNumbers{LineNumbersOn, LineNumbersOff, LineNumbersRelative}

func (l LineNumbers) String() string {
	switch l {
	case LineNumbersOff:
		return "off"
	case LineNumbersRelative:
		return "relative"
	default:
		return "on"
	}
}

// Window is the last window geometry.
type Window struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Editor holds the editor preferences.
type Editor struct {
	Theme      Theme
	FontSize   int
	FontFamily string
	Language   *string

	TabSize        int
	InsertSpaces   bool
	WordWrap       bool
	WordWrapColumn int
	LineNumbers    LineNumbers

	AutoSaveDelay *int
	Exclude       []string
	RecentFiles   []string
	LastCleared   int64

	Telemetry bool
	DeviceID  string

	Keymap map[string]string
	Window Window
}

// Defaults returns the model used for absent keys.
func Defaults() Editor {
	return Editor{
		Theme:          ThemeSystem,
		FontSize:       14,
		FontFamily:     "monospace",
		TabSize:        4,
		InsertSpaces:   true,
		WordWrapColumn: 80,
		Exclude:        []string{".git", "node_modules"},
		Window:         Window{Width: 1280, Height: 800},
	}
}

// Categories, in display order.
var (
	Appearance = settings.Category{ID: "appearance", Title: "Appearance", Order: 0}
	Editing    = settings.Category{ID: "editing", Title: "Editing", Order: 1}
	Files      = settings.Category{ID: "files", Title: "Files", Order: 2}
	Privacy    = settings.Category{ID: "privacy", Title: "Privacy", Order: 3}
)

// Languages are the offered UI languages.
var Languages = []string{"en", "de", "fr", "ja"}
