package fixer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/0x6d61/warden/internal/severity"
)

// DefaultMatchTimeout bounds a single pattern evaluation.
const DefaultMatchTimeout = 2 * time.Second

// IssueType classifies a Finding.
type IssueType string

const (
	Missing   IssueType = "missing"
	Incorrect IssueType = "incorrect"
)

// RuleSpec is the declarative form of a rule, as written by a plugin.
type RuleSpec struct {
	ID          string
	Pattern     string
	Expected    *string // nil: compare the whole matched line with Replacement
	Replacement string
	Description string
	Severity    severity.Level
	Required    bool
	IgnoreCase  bool
	// Blocks lists enclosing blocks (e.g. "server", "http") into which a
	// missing directive is inserted, tried in order. Empty means append.
	Blocks []string
	// MatchTimeout overrides DefaultMatchTimeout when positive.
	MatchTimeout time.Duration
}

// Expect is a helper for RuleSpec.Expected literals.
func Expect(v string) *string { return &v }

// Rule is a compiled, immutable RuleSpec.
type Rule struct {
	spec RuleSpec
	re   *regexp2.Regexp
}

func (r Rule) ID() string               { return r.spec.ID }
func (r Rule) Description() string      { return r.spec.Description }
func (r Rule) Severity() severity.Level { return r.spec.Severity }
func (r Rule) Required() bool           { return r.spec.Required }
func (r Rule) Replacement() string      { return r.spec.Replacement }
func (r Rule) Pattern() string          { return r.spec.Pattern }
func (r Rule) Blocks() []string         { return append([]string(nil), r.spec.Blocks...) }

// Expected returns the expected captured value and whether one is set.
func (r Rule) Expected() (string, bool) {
	if r.spec.Expected == nil {
		return "", false
	}
	return *r.spec.Expected, true
}

// CompileRules validates and compiles specs in order. Any malformed rule
// fails the whole set.
func CompileRules(specs []RuleSpec) ([]Rule, error) {
	seen := make(map[string]bool, len(specs))
	rules := make([]Rule, 0, len(specs))
	var errs []error

	for i, s := range specs {
		if s.ID == "" {
			errs = append(errs, fmt.Errorf("rule #%d: empty id", i))
			continue
		}
		if seen[s.ID] {
			errs = append(errs, fmt.Errorf("rule %q: duplicate id", s.ID))
			continue
		}
		seen[s.ID] = true

		if strings.TrimSpace(s.Replacement) == "" {
			errs = append(errs, fmt.Errorf("rule %q: empty replacement", s.ID))
			continue
		}
		if s.Severity <= severity.Info || s.Severity > severity.Critical {
			errs = append(errs, fmt.Errorf("rule %q: severity must be low..critical, got %s", s.ID, s.Severity))
			continue
		}

		opts := regexp2.RegexOptions(regexp2.Multiline)
		if s.IgnoreCase {
			opts |= regexp2.IgnoreCase
		}
		re, err := regexp2.Compile(s.Pattern, opts)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %q: bad pattern: %w", s.ID, err))
			continue
		}
		re.MatchTimeout = DefaultMatchTimeout
		if s.MatchTimeout > 0 {
			re.MatchTimeout = s.MatchTimeout
		}

		s.Blocks = append([]string(nil), s.Blocks...)
		rules = append(rules, Rule{spec: s, re: re})
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("fixer: compile rules: %w", errors.Join(errs...))
	}
	return rules, nil
}

// MustCompileRules is like CompileRules but panics on error. It is meant for
// tests; plugins compile their tables with CompileRules at construction.
func MustCompileRules(specs []RuleSpec) []Rule {
	rules, err := CompileRules(specs)
	if err != nil {
		panic(err)
	}
	return rules
}

// match is the first occurrence of a rule's pattern in a document.
type match struct {
	value string // captured value
	line  string // full line holding the match start
}

// find returns the first match of r in content, or nil.
func (r Rule) find(content string) (*match, error) {
	m, err := r.re.FindStringMatch(content)
	if err != nil || m == nil {
		return nil, err
	}
	return &match{value: capturedValue(m), line: lineAt([]rune(content), m.Index)}, nil
}

// matchesLine reports whether r matches within a single line.
func (r Rule) matchesLine(line string) (bool, error) {
	return r.re.MatchString(line)
}

// capturedValue prefers the "value" group, then the last group that
// participated, then the whole match.
func capturedValue(m *regexp2.Match) string {
	if g := m.GroupByName("value"); g != nil && len(g.Captures) > 0 {
		return g.String()
	}
	groups := m.Groups()
	for i := len(groups) - 1; i >= 1; i-- {
		if len(groups[i].Captures) > 0 {
			return groups[i].String()
		}
	}
	return m.String()
}

// lineAt returns the line of runes containing rune offset idx.
func lineAt(runes []rune, idx int) string {
	if idx > len(runes) {
		idx = len(runes)
	}
	start := idx
	for start > 0 && runes[start-1] != '\n' {
		start--
	}
	end := idx
	for end < len(runes) && runes[end] != '\n' {
		end++
	}
	return strings.TrimRight(string(runes[start:end]), "\r")
}

// satisfied reports whether a match meets the rule's expectation.
func (r Rule) satisfied(m *match) bool {
	want, ok := r.Expected()
	got := strings.TrimSpace(m.value)
	if !ok {
		want = strings.TrimSpace(r.spec.Replacement)
		got = strings.TrimSpace(m.line)
	}
	if r.spec.IgnoreCase {
		return strings.EqualFold(got, want)
	}
	return got == want
}
