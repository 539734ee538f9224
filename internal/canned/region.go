package canned

import (
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Marker tokens embedded in assistant text. The front-end strips them and
// renders the matching visualization instead.
const (
	MarkerBracketChart   = "[TAX_BRACKET_CHART]"
	MarkerBreakdownTable = "[TAX_BREAKDOWN_TABLE]"
)

// DefaultRegion is used when no region is configured.
const DefaultRegion = "us"

var ErrUnknownRegion = errors.New("unknown region")

//go:embed regions/*.toml
var regionFS embed.FS

// Answer is one canned topic: any keyword hit selects Response.
type Answer struct {
	Topic    string   `toml:"topic"`
	Keywords []string `toml:"keywords"`
	Response string   `toml:"response"`
}

// FileAck is a canned acknowledgment for uploaded files whose name contains
// one of Keywords.
type FileAck struct {
	Keywords []string `toml:"keywords"`
	Response string   `toml:"response"`
}

// Bracket is a marginal tax band. A zero Limit means the band is unbounded.
type Bracket struct {
	Rate  float64 `toml:"rate"`
	Limit float64 `toml:"limit"`
}

// Chart holds the data behind the bracket chart visualization.
type Chart struct {
	Title     string    `toml:"title"`
	MaxIncome float64   `toml:"max_income"`
	Brackets  []Bracket `toml:"brackets"`
}

// TableSection is one titled table of the breakdown visualization.
type TableSection struct {
	Title   string     `toml:"title"`
	Headers []string   `toml:"headers"`
	Rows    [][]string `toml:"rows"`
}

// Region bundles every piece of country-specific content: prompt, canned
// answers, upload acknowledgments and visualization data.
type Region struct {
	Name               string         `toml:"name"`
	Label              string         `toml:"label"`
	SystemPrompt       string         `toml:"system_prompt"`
	SuggestedQuestions []string       `toml:"suggested_questions"`
	Answers            []Answer       `toml:"answers"`
	FileAcks           []FileAck      `toml:"file_acks"`
	DefaultFileAck     string         `toml:"default_file_ack"`
	Chart              Chart          `toml:"chart"`
	Table              []TableSection `toml:"table"`
}

// LoadRegion decodes the embedded table for name.
func LoadRegion(name string) (*Region, error) {
	if name == "" {
		name = DefaultRegion
	}
	data, err := regionFS.ReadFile(path.Join("regions", strings.ToLower(name)+".toml"))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRegion, name)
	}

	var r Region
	if _, err := toml.Decode(string(data), &r); err != nil {
		return nil, fmt.Errorf("failed to decode region %s: %w", name, err)
	}

	r.SystemPrompt = strings.TrimSpace(r.SystemPrompt)
	for i := range r.Answers {
		r.Answers[i].Response = strings.TrimSpace(r.Answers[i].Response)
	}
	for i := range r.FileAcks {
		r.FileAcks[i].Response = strings.TrimSpace(r.FileAcks[i].Response)
	}
	return &r, nil
}

// Regions lists the names of all embedded regions.
func Regions() []string {
	entries, err := regionFS.ReadDir("regions")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".toml"))
	}
	sort.Strings(names)
	return names
}

// Matcher returns a matcher over the region's canned answers.
func (r *Region) Matcher() *Matcher {
	return NewMatcher(r.Answers)
}

// StripMarkers removes every marker token from content.
func StripMarkers(content string) string {
	content = strings.ReplaceAll(content, MarkerBracketChart, "")
	return strings.ReplaceAll(content, MarkerBreakdownTable, "")
}
