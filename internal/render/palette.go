package render

import (
	"TaxChat/internal/theme"

	"github.com/charmbracelet/lipgloss"
)

// Palette is the set of colors a theme contributes to the terminal UI.
type Palette struct {
	Accent    lipgloss.Color
	User      lipgloss.Color
	Assistant lipgloss.Color
	Muted     lipgloss.Color
	Bar       lipgloss.Color
	Error     lipgloss.Color
}

var palettes = map[theme.Theme]Palette{
	theme.Beige: {
		Accent:    "#8B5E34",
		User:      "#A47148",
		Assistant: "#6F4E37",
		Muted:     "#B8A48C",
		Bar:       "#C08552",
		Error:     "#B33A3A",
	},
	theme.Dark: {
		Accent:    "#E0E0E0",
		User:      "#90CAF9",
		Assistant: "#CFD8DC",
		Muted:     "#757575",
		Bar:       "#64B5F6",
		Error:     "#EF5350",
	},
	theme.Blue: {
		Accent:    "#1565C0",
		User:      "#1E88E5",
		Assistant: "#0D47A1",
		Muted:     "#90A4AE",
		Bar:       "#42A5F5",
		Error:     "#C62828",
	},
	theme.Green: {
		Accent:    "#2E7D32",
		User:      "#43A047",
		Assistant: "#1B5E20",
		Muted:     "#A5D6A7",
		Bar:       "#66BB6A",
		Error:     "#C62828",
	},
	theme.Purple: {
		Accent:    "#6A1B9A",
		User:      "#8E24AA",
		Assistant: "#4A148C",
		Muted:     "#CE93D8",
		Bar:       "#AB47BC",
		Error:     "#C62828",
	},
}

// PaletteFor returns the palette of t, falling back to the default theme.
func PaletteFor(t theme.Theme) Palette {
	if p, ok := palettes[t]; ok {
		return p
	}
	return palettes[theme.Default]
}
