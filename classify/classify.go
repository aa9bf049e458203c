package classify

import (
	"slices"
	"strings"

	"github.com/wippyai/wasm2env/extract"
)

// Rejection reasons reported by Check.
const (
	ReasonCharset      = "character outside [A-Za-z0-9_]"
	ReasonLength       = "length out of range"
	ReasonLetters      = "too few letters"
	ReasonUnderscore   = "leading or trailing underscore"
	ReasonDenied       = "denylisted"
	ReasonDeniedSubstr = "contains denylisted term"
	ReasonTypeName     = "looks like an error type name"
	ReasonShape        = "not an environment variable shape"
)

// Verdict is the classifier's decision for one string.
type Verdict struct {
	Reason string // why the string was rejected; empty when accepted
	Accept bool
}

// Classifier applies a rule set. It is safe for concurrent use.
type Classifier struct {
	denyExact map[string]struct{}
	keywords  []string
	rules     Rules
}

// New returns a classifier for rules.
func New(rules Rules) *Classifier {
	c := &Classifier{
		rules:     rules,
		denyExact: make(map[string]struct{}, len(rules.DenyExact)),
	}
	for _, s := range rules.DenyExact {
		c.denyExact[s] = struct{}{}
	}
	for _, k := range rules.Keywords {
		c.keywords = append(c.keywords, strings.ToUpper(k))
	}
	return c
}

// Default returns a classifier for DefaultRules.
func Default() *Classifier {
	return New(DefaultRules())
}

// Rules returns the rule set the classifier was built from.
func (c *Classifier) Rules() Rules {
	return c.rules
}

// Check decides whether data is an environment variable name.
func (c *Classifier) Check(data []byte) Verdict {
	letters := 0
	underscore := false
	upper := true
	for _, b := range data {
		switch {
		case b >= 'A' && b <= 'Z':
			letters++
		case b >= 'a' && b <= 'z':
			letters++
			upper = false
		case b == '_':
			underscore = true
		case b >= '0' && b <= '9':
		default:
			return reject(ReasonCharset)
		}
	}

	n := len(data)
	if n == 0 || n < c.rules.MinLength || n > c.rules.MaxLength {
		return reject(ReasonLength)
	}
	if letters < c.rules.MinLetters || letters*2 < n {
		return reject(ReasonLetters)
	}
	if data[0] == '_' || data[n-1] == '_' {
		return reject(ReasonUnderscore)
	}

	s := string(data)
	if _, ok := c.denyExact[s]; ok {
		return reject(ReasonDenied)
	}
	if !underscore && strings.Contains(s, "Error") {
		return reject(ReasonTypeName)
	}
	for _, d := range c.rules.DenySubstrings {
		if strings.Contains(s, d) {
			return reject(ReasonDeniedSubstr)
		}
	}

	if !underscore {
		return reject(ReasonShape)
	}
	if upper {
		return Verdict{Accept: true}
	}
	u := strings.ToUpper(s)
	for _, k := range c.keywords {
		if strings.Contains(u, k) {
			return Verdict{Accept: true}
		}
	}
	return reject(ReasonShape)
}

func reject(reason string) Verdict {
	return Verdict{Reason: reason}
}

// Names returns the distinct accepted strings among candidates in
// lexicographic order.
func (c *Classifier) Names(candidates []extract.Candidate) []string {
	var out []string
	for i := range candidates {
		if c.Check(candidates[i].Data).Accept {
			out = append(out, string(candidates[i].Data))
		}
	}
	return Dedup(out)
}

// Dedup sorts names lexicographically and removes duplicates in place.
func Dedup(names []string) []string {
	slices.Sort(names)
	return slices.Compact(names)
}

// Classify is Names with DefaultRules.
func Classify(candidates []extract.Candidate) []string {
	return Default().Names(candidates)
}
