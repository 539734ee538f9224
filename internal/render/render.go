// Package render draws the chat transcript, notices and tax visualizations
// for a terminal.
package render

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"TaxChat/internal/canned"
	"TaxChat/internal/history"
	"TaxChat/internal/session"
	"TaxChat/internal/theme"
	"TaxChat/internal/transcript"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/muesli/termenv"
)

const (
	minWidth        = 40
	chartLabelWidth = 24
	suggestionWidth = 25
)

// Options configures a Renderer. Plain disables colors and uses the
// no-TTY markdown style, for pipes and tests.
type Options struct {
	Theme  theme.Theme
	Width  int
	Plain  bool
	Region *canned.Region
	Output io.Writer
}

type Renderer struct {
	opts    Options
	palette Palette
	lg      *lipgloss.Renderer
	md      *glamour.TermRenderer
}

func New(opts Options) (*Renderer, error) {
	if opts.Width < minWidth {
		opts.Width = minWidth
	}
	r := &Renderer{opts: opts}
	if err := r.SetTheme(opts.Theme); err != nil {
		return nil, err
	}
	return r, nil
}

// SetTheme switches the palette and markdown style.
func (r *Renderer) SetTheme(t theme.Theme) error {
	style := styles.LightStyle
	if t.IsDark() {
		style = styles.DarkStyle
	}
	if r.opts.Plain {
		style = styles.NoTTYStyle
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(r.opts.Width-4),
	)
	if err != nil {
		return fmt.Errorf("failed to create markdown renderer: %w", err)
	}

	out := r.opts.Output
	if out == nil {
		out = io.Discard
	}
	lg := lipgloss.NewRenderer(out)
	if r.opts.Plain {
		lg.SetColorProfile(termenv.Ascii)
	}

	r.opts.Theme = t
	r.palette = PaletteFor(t)
	r.lg = lg
	r.md = md
	return nil
}

func (r *Renderer) Theme() theme.Theme { return r.opts.Theme }

func (r *Renderer) markdown(content string) string {
	out, err := r.md.Render(content)
	if err != nil {
		return content
	}
	return strings.Trim(out, "\n")
}

// Message renders a completed message. Assistant messages are rendered as
// markdown with their markers replaced by the visualizations they request.
func (r *Renderer) Message(m session.Message) string {
	if m.Role == session.RoleUser {
		return r.bubble("You", r.palette.User, m.Content)
	}
	d := transcript.Render(m.Content)
	var b strings.Builder
	b.WriteString(r.bubble("Tax Assistant", r.palette.Assistant, r.markdown(d.Text)))
	if d.Chart {
		b.WriteString("\n")
		b.WriteString(r.Chart())
	}
	if d.Table {
		b.WriteString("\n")
		b.WriteString(r.Table())
	}
	return b.String()
}

// Transcript renders every message, separated by blank lines.
func (r *Renderer) Transcript(messages []session.Message) string {
	parts := make([]string, len(messages))
	for i, m := range messages {
		parts[i] = r.Message(m)
	}
	return strings.Join(parts, "\n\n")
}

// Delta renders streamed text as it arrives, without markers.
func (r *Renderer) Delta(text string) string {
	return canned.StripMarkers(text)
}

func (r *Renderer) bubble(label string, color lipgloss.Color, body string) string {
	head := r.lg.NewStyle().Bold(true).Foreground(color).Render(label)
	box := r.lg.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(color).
		Padding(0, 1).
		Width(r.opts.Width - 2).
		Render(body)
	return head + "\n" + box
}

// Typing is the indicator shown while waiting for the first frame.
func (r *Renderer) Typing() string {
	return r.lg.NewStyle().Italic(true).Foreground(r.palette.Muted).Render("Tax Assistant is typing...")
}

func (r *Renderer) Notice(msg string) string {
	return r.lg.NewStyle().Foreground(r.palette.Accent).Render(msg)
}

func (r *Renderer) Error(msg string) string {
	return r.lg.NewStyle().Bold(true).Foreground(r.palette.Error).Render(msg)
}

// Header is the title line for the active region.
func (r *Renderer) Header() string {
	label := "Tax Assistant"
	if r.opts.Region != nil && r.opts.Region.Label != "" {
		label += " (" + r.opts.Region.Label + ")"
	}
	return r.lg.NewStyle().Bold(true).Foreground(r.palette.Accent).Render(label)
}

// Suggestions lists questions numbered from 1. Short renders each truncated
// for the follow-up row shown after a reply.
func (r *Renderer) Suggestions(questions []string, short bool) string {
	muted := r.lg.NewStyle().Foreground(r.palette.Muted)
	var b strings.Builder
	for i, q := range questions {
		if short {
			q = Truncate(q, suggestionWidth)
		}
		fmt.Fprintf(&b, "%s %s\n", muted.Render(fmt.Sprintf("[%d]", i+1)), q)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Truncate shortens s to n runes followed by "...".
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// History renders the saved conversations sidebar.
func (r *Renderer) History(entries []history.Entry, current string) string {
	if len(entries) == 0 {
		return r.Notice("No saved conversations.")
	}
	title := r.lg.NewStyle().Bold(true)
	muted := r.lg.NewStyle().Foreground(r.palette.Muted)
	var b strings.Builder
	for i, e := range entries {
		mark := " "
		if e.ID == current {
			mark = "*"
		}
		fmt.Fprintf(&b, "%s%2d. %s  %s\n", mark, i+1, title.Render(e.Title), muted.Render(formatTimestamp(e)))
		if e.Preview != "" {
			fmt.Fprintf(&b, "     %s\n", muted.Render(e.Preview))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatTimestamp(e history.Entry) string {
	t, err := e.Time()
	if err != nil {
		return e.Timestamp
	}
	return t.In(time.Local).Format("Jan 2, 2006 3:04 PM")
}

// Themes lists the available themes, marking the active one.
func (r *Renderer) Themes() string {
	var names []string
	for _, t := range theme.All() {
		name := string(t)
		if t == r.opts.Theme {
			name = r.lg.NewStyle().Bold(true).Foreground(r.palette.Accent).Render(name + " *")
		}
		names = append(names, name)
	}
	return strings.Join(names, "  ")
}

// Chart draws the region's brackets as horizontal bars proportional to the
// width of each income band, capped at the chart's maximum income.
func (r *Renderer) Chart() string {
	if r.opts.Region == nil || len(r.opts.Region.Chart.Brackets) == 0 {
		return ""
	}
	c := r.opts.Region.Chart
	barWidth := r.opts.Width - chartLabelWidth - 2
	bar := r.lg.NewStyle().Foreground(r.palette.Bar)
	label := r.lg.NewStyle().Width(chartLabelWidth)

	var b strings.Builder
	b.WriteString(r.lg.NewStyle().Bold(true).Render(c.Title))
	b.WriteString("\n")
	lower := 0.0
	for _, br := range c.Brackets {
		upper := br.Limit
		if upper == 0 || upper > c.MaxIncome {
			upper = c.MaxIncome
		}
		n := 1
		if c.MaxIncome > 0 && upper > lower {
			n = max(1, int(math.Round((upper-lower)/c.MaxIncome*float64(barWidth))))
		}
		b.WriteString(label.Render(fmt.Sprintf("%s %s", formatRate(br.Rate), bandLabel(lower, br.Limit))))
		b.WriteString(bar.Render(strings.Repeat("█", n)))
		b.WriteString("\n")
		if br.Limit == 0 {
			break
		}
		lower = br.Limit
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatRate(rate float64) string {
	return fmt.Sprintf("%4s", humanize.FtoaWithDigits(rate*100, 1)+"%")
}

func bandLabel(lower, limit float64) string {
	if limit == 0 {
		return dollars(lower) + "+"
	}
	return dollars(lower) + "-" + dollars(limit)
}

func dollars(v float64) string {
	return "$" + humanize.Comma(int64(v))
}

// Table renders every breakdown section of the region.
func (r *Renderer) Table() string {
	if r.opts.Region == nil {
		return ""
	}
	header := r.lg.NewStyle().Bold(true).Foreground(r.palette.Accent).Padding(0, 1)
	cell := r.lg.NewStyle().Padding(0, 1)
	titleStyle := r.lg.NewStyle().Bold(true)

	var parts []string
	for _, sec := range r.opts.Region.Table {
		t := table.New().
			Border(lipgloss.NormalBorder()).
			BorderStyle(r.lg.NewStyle().Foreground(r.palette.Muted)).
			Headers(sec.Headers...).
			Rows(sec.Rows...).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return header
				}
				return cell
			})
		parts = append(parts, titleStyle.Render(sec.Title)+"\n"+t.Render())
	}
	return strings.Join(parts, "\n\n")
}
