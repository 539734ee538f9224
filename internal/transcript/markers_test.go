package transcript

import (
	"testing"

	"TaxChat/internal/canned"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Display
	}{
		{"plain", "Hello.", Display{Text: "Hello."}},
		{"chart", "Brackets.\n\n" + canned.MarkerBracketChart, Display{Text: "Brackets.", Chart: true, Table: true}},
		{"table", "Deduction.\n\n" + canned.MarkerBreakdownTable, Display{Text: "Deduction.", Table: true}},
		{
			"repeated markers",
			canned.MarkerBracketChart + "A" + canned.MarkerBracketChart + "B" + canned.MarkerBreakdownTable,
			Display{Text: "AB", Chart: true, Table: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.content))
		})
	}
}

func TestVisible(t *testing.T) {
	assert.Equal(t, "Rates rise ", Visible("Rates rise [TAX_BRA"))
	assert.Equal(t, "Rates rise ", Visible("Rates rise "+canned.MarkerBracketChart))
	assert.Equal(t, "See [note] here", Visible("See [note] here"))
	assert.Equal(t, "Box [1", Visible("Box [1"))

	// Growing a partial never retracts text that was already visible.
	reply := "Deductions reduce income.\n\n" + canned.MarkerBreakdownTable + " Done."
	shown := ""
	for i := 1; i <= len(reply); i++ {
		v := Visible(reply[:i])
		assert.True(t, len(v) >= len(shown) && v[:len(shown)] == shown, "prefix %d", i)
		shown = v
	}
	assert.Equal(t, "Deductions reduce income.\n\n Done.", shown)
}
