// Package scope evaluates focus/avoid rules against candidate targets.
// Evaluation is pure: if any focus rule exists the candidate must match
// at least one, and a match against any avoid rule excludes the
// candidate regardless of focus. Rule sets are immutable for the
// lifetime of a scan and loaded once at start.
package scope

import (
	"fmt"
	"os"
	"strings"

	wildcard "github.com/IGLOU-EU/go-wildcard/v2"
	"gopkg.in/yaml.v3"
)

// RuleType classifies what a rule's pattern applies to.
type RuleType string

const (
	// TypePath matches URL paths (e.g. "/admin/*").
	TypePath RuleType = "path"
	// TypeHost matches hostnames (e.g. "*.staging.example.com").
	TypeHost RuleType = "host"
)

// Rule is one focus or avoid pattern.
type Rule struct {
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Type        RuleType `yaml:"type" json:"type"`
	Pattern     string   `yaml:"pattern" json:"pattern"`
}

// Match reports whether candidate matches the rule's pattern.
// Patterns support '*' and '?' wildcards; matching is case-insensitive
// and a bare substring pattern (no wildcards) matches anywhere in the
// candidate.
func (r Rule) Match(candidate string) bool {
	p := strings.ToLower(r.Pattern)
	c := strings.ToLower(candidate)
	if !strings.ContainsAny(p, "*?") {
		return strings.Contains(c, p)
	}
	return wildcard.Match(p, c)
}

// RuleSet groups focus (inclusive allow-list) and avoid (exclusive
// deny-list) rules.
type RuleSet struct {
	focus []Rule
	avoid []Rule
}

// Decision explains the outcome of evaluating one candidate.
type Decision struct {
	Allowed bool
	// Rule is the rule that decided the outcome: the matched avoid
	// rule for exclusions, or nil when allowed (or when excluded only
	// because no focus rule matched).
	Rule   *Rule
	Reason string
}

// fileFormat is the YAML shape of a scope rules file.
type fileFormat struct {
	Focus []Rule `yaml:"focus"`
	Avoid []Rule `yaml:"avoid"`
}

// Load reads a rule set from a YAML file.
func Load(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scope: read rules: %w", err)
	}
	var ff fileFormat
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("scope: parse rules: %w", err)
	}
	for _, r := range append(append([]Rule{}, ff.Focus...), ff.Avoid...) {
		if r.Pattern == "" {
			return nil, fmt.Errorf("scope: rule with empty pattern (%q)", r.Description)
		}
	}
	return &RuleSet{focus: ff.Focus, avoid: ff.Avoid}, nil
}

// FromPatterns builds a rule set from comma-separated focus and avoid
// pattern strings, as supplied on the command line. Empty strings yield
// no rules. All rules are typed as path rules.
func FromPatterns(focus, avoid string) *RuleSet {
	return &RuleSet{
		focus: parsePatterns(focus),
		avoid: parsePatterns(avoid),
	}
}

func parsePatterns(s string) []Rule {
	var rules []Rule
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		rules = append(rules, Rule{Type: TypePath, Pattern: p})
	}
	return rules
}

// Empty reports whether the set carries no rules at all.
func (rs *RuleSet) Empty() bool {
	return rs == nil || (len(rs.focus) == 0 && len(rs.avoid) == 0)
}

// InScope reports whether candidate may be acted on.
func (rs *RuleSet) InScope(candidate string) bool {
	return rs.Evaluate(candidate).Allowed
}

// Evaluate applies the rule set to a candidate. Avoid always overrides
// focus: a candidate matching both is excluded.
func (rs *RuleSet) Evaluate(candidate string) Decision {
	if rs == nil {
		return Decision{Allowed: true, Reason: "no scope rules configured"}
	}
	for i := range rs.avoid {
		if rs.avoid[i].Match(candidate) {
			return Decision{
				Allowed: false,
				Rule:    &rs.avoid[i],
				Reason:  fmt.Sprintf("matches avoid pattern %q", rs.avoid[i].Pattern),
			}
		}
	}
	if len(rs.focus) > 0 {
		for i := range rs.focus {
			if rs.focus[i].Match(candidate) {
				return Decision{Allowed: true, Rule: &rs.focus[i], Reason: "matches focus pattern"}
			}
		}
		return Decision{Allowed: false, Reason: "matches no focus pattern"}
	}
	return Decision{Allowed: true, Reason: "no focus rules; not avoided"}
}

// Focus returns a copy of the focus rules.
func (rs *RuleSet) Focus() []Rule {
	if rs == nil {
		return nil
	}
	return append([]Rule(nil), rs.focus...)
}

// Avoid returns a copy of the avoid rules.
func (rs *RuleSet) Avoid() []Rule {
	if rs == nil {
		return nil
	}
	return append([]Rule(nil), rs.avoid...)
}
