package ingest

import (
	"regexp"
	"strings"
)

// maxNormalizePasses bounds the fixed-point iteration. With the default rules
// a second pass only fires when a placeholder opens a new word boundary.
const maxNormalizePasses = 8

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	placeholder   = regexp.MustCompile(`<[A-Z_]+>`)
)

// Normalizer maps message content to a template by applying an ordered rule
// cascade. It holds no mutable state and is safe for concurrent use.
type Normalizer struct {
	rules []Rule
}

// NewNormalizer creates a normalizer. A nil rule list selects DefaultRules.
func NewNormalizer(rules []Rule) *Normalizer {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Normalizer{rules: rules}
}

// Rules returns the number of rules in the cascade.
func (n *Normalizer) Rules() int { return len(n.rules) }

// Normalize returns the template for content and the substrings it replaced,
// in rule order. Matches that already contain a placeholder are not
// parameters. Normalize(Normalize(x)) == Normalize(x).
func (n *Normalizer) Normalize(content string) (string, []string) {
	out := collapse(content)
	var params []string
	for pass := 0; pass < maxNormalizePasses; pass++ {
		next := out
		for _, r := range n.rules {
			matches := r.Pattern.FindAllString(next, -1)
			if len(matches) == 0 {
				continue
			}
			for _, m := range matches {
				if m != r.Replacement && !placeholder.MatchString(m) {
					params = append(params, m)
				}
			}
			next = r.Pattern.ReplaceAllString(next, r.Replacement)
		}
		next = collapse(next)
		if next == out {
			break
		}
		out = next
	}
	return out, params
}

func collapse(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}
