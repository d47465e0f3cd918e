package normalize

import (
	"regexp"
	"strings"
)

// PrefixClass distinguishes the two supported prefix shapes.
type PrefixClass string

const (
	PrefixDash  PrefixClass = "dash"
	PrefixColon PrefixClass = "colon"
)

// PrefixRule is one configured strippable prefix.
type PrefixRule struct {
	Text  string
	Class PrefixClass
}

// PrefixStripper removes a single configured dash- or colon-prefix from a
// raw, pre-normalization title. It holds compiled regexes so repeated calls
// don't re-compile per title.
type PrefixStripper struct {
	rules []compiledRule
}

type compiledRule struct {
	text string
	re   *regexp.Regexp
}

// NewPrefixStripper compiles the configured rule set. Rules are tried in
// the given order; the first match wins and exactly one prefix is stripped.
func NewPrefixStripper(rules []PrefixRule) *PrefixStripper {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		text := strings.TrimSpace(r.Text)
		if text == "" {
			continue
		}
		var pattern string
		switch r.Class {
		case PrefixColon:
			pattern = `(?i)^\s*` + regexp.QuoteMeta(text) + `\s*:\s*`
		default:
			pattern = `(?i)^\s*` + regexp.QuoteMeta(text) + `\s*(-{1,2}|–|—)\s*`
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		compiled = append(compiled, compiledRule{text: text, re: re})
	}
	return &PrefixStripper{rules: compiled}
}

// Strip removes the first matching configured prefix from title, if any.
func (p *PrefixStripper) Strip(title string) string {
	for _, r := range p.rules {
		if loc := r.re.FindStringIndex(title); loc != nil && loc[0] == 0 {
			return title[loc[1]:]
		}
	}
	return title
}
