// Package normalize implements text preprocessing shared by blocking,
// scoring, and synthesis: title/description normalization, prefix
// stripping, and city alias resolution.
package normalize

import (
	"sort"
	"strings"
	"unicode"
)

// Normalizer holds the synonym map and city alias table used across calls.
// Both maps are immutable after construction; a Normalizer is safe for
// concurrent use.
type Normalizer struct {
	synonyms   []synonymRule
	cityAlias  map[string]string
}

type synonymRule struct {
	variant   string
	canonical string
}

// NewNormalizer builds a Normalizer from a flat {variant: canonical}
// synonym map and a district->parent-municipality alias table. The
// synonym map must not contain a canonical form that is itself a variant
// of another group; NewNormalizer does not validate that (the config
// loader is the validation boundary), it only sorts variants longest-first
// so a single left-to-right replacement pass never re-scans replaced text.
func NewNormalizer(synonyms map[string]string, cityAlias map[string]string) *Normalizer {
	rules := make([]synonymRule, 0, len(synonyms))
	for variant, canonical := range synonyms {
		v := strings.TrimSpace(strings.ToLower(variant))
		c := strings.TrimSpace(strings.ToLower(canonical))
		if v == "" || c == "" {
			continue
		}
		rules = append(rules, synonymRule{variant: v, canonical: c})
	}
	sort.Slice(rules, func(i, j int) bool {
		if len(rules[i].variant) != len(rules[j].variant) {
			return len(rules[i].variant) > len(rules[j].variant)
		}
		return rules[i].variant < rules[j].variant
	})

	alias := make(map[string]string, len(cityAlias))
	for district, parent := range cityAlias {
		d := strings.TrimSpace(strings.ToLower(district))
		p := strings.TrimSpace(strings.ToLower(parent))
		if d == "" || p == "" {
			continue
		}
		alias[d] = p
	}

	return &Normalizer{synonyms: rules, cityAlias: alias}
}

// Normalize applies the fixed pipeline: lowercase, umlaut-expand,
// synonym-fold, whitespace/punctuation canonicalize. No Unicode
// normalization (NFC) pass is applied; only the umlaut expansion handles
// both precomposed and combining forms. It is idempotent:
// Normalize(Normalize(x)) == Normalize(x).
func (n *Normalizer) Normalize(s string) string {
	s = strings.ToLower(s)
	s = expandUmlauts(s)
	s = n.foldSynonyms(s)
	s = collapseWhitespaceAndPunctuation(s)
	return s
}

// NormalizeCity applies Normalize, then resolves a district to its parent
// municipality via the alias table.
func (n *Normalizer) NormalizeCity(s string) string {
	normalized := n.Normalize(s)
	if parent, ok := n.cityAlias[normalized]; ok {
		return parent
	}
	return normalized
}

func (n *Normalizer) foldSynonyms(s string) string {
	if len(n.synonyms) == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	i := 0
	for i < len(s) {
		matched := false
		for _, rule := range n.synonyms {
			if rule.variant == "" {
				continue
			}
			if strings.HasPrefix(s[i:], rule.variant) {
				b.WriteString(rule.canonical)
				i += len(rule.variant)
				matched = true
				break
			}
		}
		if !matched {
			r, size := decodeRune(s[i:])
			b.WriteRune(r)
			i += size
		}
	}
	return b.String()
}

func decodeRune(s string) (rune, int) {
	for i, r := range s {
		_ = i
		return r, len(string(r))
	}
	return 0, 1
}

// umlautReplacer expands both representations a German umlaut can arrive
// in: precomposed (single rune) and base+combining-diaeresis (two runes).
// Expanding both to the same digraph keeps Normalize idempotent without a
// full Unicode normalization pass.
var umlautReplacer = strings.NewReplacer(
	"ä", "ae", "ö", "oe", "ü", "ue", "ß", "ss",
	"ä", "ae", "ö", "oe", "ü", "ue",
)

func expandUmlauts(s string) string {
	return umlautReplacer.Replace(s)
}

func collapseWhitespaceAndPunctuation(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastWasSpace := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			if !lastWasSpace {
				b.WriteByte(' ')
				lastWasSpace = true
			}
		case r == '-':
			b.WriteRune(r)
			lastWasSpace = false
		case isPunctuation(r):
			// drop, treated as if it were whitespace for collapsing purposes
			if !lastWasSpace {
				b.WriteByte(' ')
				lastWasSpace = true
			}
		default:
			b.WriteRune(r)
			lastWasSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}

func isPunctuation(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}
