package transcript

import (
	"strings"

	"TaxChat/internal/canned"
)

// Display is assistant content prepared for the screen: markers removed and
// the visualizations they asked for.
type Display struct {
	Text  string
	Chart bool
	Table bool
}

// Render strips every marker from content. The chart marker shows the
// bracket chart and also offers the table; the table marker alone shows
// the table.
func Render(content string) Display {
	chart := strings.Contains(content, canned.MarkerBracketChart)
	table := strings.Contains(content, canned.MarkerBreakdownTable)
	return Display{
		Text:  strings.TrimSpace(canned.StripMarkers(content)),
		Chart: chart,
		Table: chart || table,
	}
}

// Visible returns the part of a partial reply that can be shown while the
// stream is still open: markers are removed and a trailing fragment that
// may still grow into a marker is held back.
func Visible(partial string) string {
	text := canned.StripMarkers(partial)
	i := strings.LastIndexByte(text, '[')
	if i < 0 {
		return text
	}
	tail := text[i:]
	for _, m := range []string{canned.MarkerBracketChart, canned.MarkerBreakdownTable} {
		if len(tail) < len(m) && strings.HasPrefix(m, tail) {
			return text[:i]
		}
	}
	return text
}
