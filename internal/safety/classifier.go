// Package safety classifies chat messages against a lexical moderation
// policy. Classification is pure: no I/O, no errors, same verdict for the
// same input.
package safety

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/eldtechnologies/beechat/internal/models"
)

const (
	// BadWordPrefix prefixes every lexicon flag.
	BadWordPrefix = "bad_word:"
	// FlagPersonalInfo is appended once per matching PII pattern.
	FlagPersonalInfo = "personal_info_detected"
)

// Classifier holds a compiled policy. It is immutable and safe for
// concurrent use.
type Classifier struct {
	terms          []string
	high           map[string]bool
	patterns       []*regexp.Regexp
	blockThreshold int
}

// NewClassifier compiles p. Duplicate terms collapse to their first
// occurrence.
func NewClassifier(p Policy) (*Classifier, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	c := &Classifier{
		high:           make(map[string]bool, len(p.HighSeverity)),
		blockThreshold: p.BlockThreshold,
	}

	seen := make(map[string]bool, len(p.Terms))
	for _, t := range p.Terms {
		t = normalize(t)
		if seen[t] {
			continue
		}
		seen[t] = true
		c.terms = append(c.terms, t)
	}
	for _, t := range p.HighSeverity {
		c.high[normalize(t)] = true
	}
	for _, pat := range p.Patterns {
		c.patterns = append(c.patterns, regexp.MustCompile(pat.Regex))
	}

	return c, nil
}

// MustDefault returns a classifier for the embedded policy.
func MustDefault() *Classifier {
	c, err := NewClassifier(DefaultPolicy())
	if err != nil {
		panic(err)
	}
	return c
}

// Check classifies content.
func (c *Classifier) Check(content string) models.SafetyCheckResult {
	lower := normalize(content)

	var flags []string
	highHit := false

	for _, term := range c.terms {
		if strings.Contains(lower, term) {
			flags = append(flags, BadWordPrefix+term)
			if c.high[term] {
				highHit = true
			}
		}
	}

	// PII patterns run on the original text so case-sensitive shapes still
	// match; one flag per pattern regardless of match count.
	for _, re := range c.patterns {
		if re.MatchString(content) {
			flags = append(flags, FlagPersonalInfo)
		}
	}

	res := models.SafetyCheckResult{
		Clean:    len(flags) == 0,
		Flags:    flags,
		Severity: models.SeverityLow,
		Action:   models.ActionAllow,
	}
	if res.Flags == nil {
		res.Flags = []string{}
	}

	switch {
	case highHit || len(flags) >= c.blockThreshold:
		res.Severity = models.SeverityHigh
		res.Action = models.ActionBlock
	case len(flags) >= 1:
		res.Severity = models.SeverityMedium
		res.Action = models.ActionWarn
	}

	return res
}

// IsHighSeverity reports whether a flag names a high-severity term.
func (c *Classifier) IsHighSeverity(flag string) bool {
	term, ok := strings.CutPrefix(flag, BadWordPrefix)
	return ok && c.high[term]
}

// normalize composes accents and lowercases with French casing rules so
// "CÂLISSE" and a decomposed "câlisse" both match the lexicon entry.
// cases.Caser is stateful, so one is built per call.
func normalize(s string) string {
	return cases.Lower(language.French).String(norm.NFC.String(s))
}
