package canned

import "strings"

// Matcher selects a canned answer by substring containment. Groups are tried
// in order and the first group with a matching keyword wins.
type Matcher struct {
	answers []Answer
}

// NewMatcher creates a matcher. Keywords are compared case-insensitively.
func NewMatcher(answers []Answer) *Matcher {
	m := &Matcher{answers: make([]Answer, len(answers))}
	for i, a := range answers {
		kws := make([]string, 0, len(a.Keywords))
		for _, kw := range a.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				kws = append(kws, kw)
			}
		}
		m.answers[i] = Answer{Topic: a.Topic, Keywords: kws, Response: a.Response}
	}
	return m
}

// Match inspects text (normally the latest user message) and returns the
// canned answer for the first matching group.
func (m *Matcher) Match(text string) (Answer, bool) {
	lower := strings.ToLower(text)
	if lower == "" {
		return Answer{}, false
	}
	for _, a := range m.answers {
		for _, kw := range a.Keywords {
			if strings.Contains(lower, kw) {
				return a, true
			}
		}
	}
	return Answer{}, false
}
