// Package triage scores freshly declared incidents against an ordered rule
// table and recommends a severity. The table is data: the built-in defaults
// can be replaced wholesale from JSON without touching the engine.
package triage

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/linnemanlabs/aegis/internal/fault"
	"github.com/linnemanlabs/aegis/internal/incident"
)

// Rule is one row of the triage table. All matcher fields are optional; a
// rule only contributes signals for the matchers it defines.
type Rule struct {
	Name     string            `json:"name"`
	Severity incident.Severity `json:"severity"`

	// Patterns are substrings matched against the incident title.
	Patterns []string `json:"patterns,omitempty"`

	// Keywords are matched against title + description; the score scales
	// with the fraction that hit.
	Keywords []string `json:"keywords,omitempty"`

	// Services match the metadata "service" attribute.
	Services []string `json:"services,omitempty"`

	// Metric thresholds compared against metadata "error_rate" (ratio) and
	// "response_time_ms".
	ErrorRateOver    float64 `json:"error_rate_over,omitempty"`
	ResponseTimeOver float64 `json:"response_time_over_ms,omitempty"`
}

// DefaultRules is the built-in table, ordered most to least severe.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "full-outage",
			Severity: incident.SeverityP0,
			Patterns: []string{"outage", "down", "unreachable"},
			Keywords: []string{"all users", "complete", "total", "production"},
			Services: []string{"api-gateway", "auth", "payments"},
			ErrorRateOver: 0.5,
		},
		{
			Name:             "major-degradation",
			Severity:         incident.SeverityP1,
			Patterns:         []string{"degraded", "errors", "failing"},
			Keywords:         []string{"many users", "intermittent", "elevated"},
			Services:         []string{"api-gateway", "search", "checkout"},
			ErrorRateOver:    0.1,
			ResponseTimeOver: 5000,
		},
		{
			Name:             "partial-impact",
			Severity:         incident.SeverityP2,
			Patterns:         []string{"slow", "latency", "timeout"},
			Keywords:         []string{"some users", "region", "subset"},
			ResponseTimeOver: 2000,
		},
		{
			Name:     "minor-issue",
			Severity: incident.SeverityP3,
			Patterns: []string{"warning", "retry", "flaky"},
			Keywords: []string{"internal", "tooling", "non-critical"},
		},
	}
}

// LoadRules reads a JSON rule table. An empty table is rejected: scoring
// with no rules silently downgrades everything.
func LoadRules(r io.Reader) ([]Rule, error) {
	var rules []Rule
	if err := json.NewDecoder(r).Decode(&rules); err != nil {
		return nil, fault.Wrap(fault.KindValidation, err, "decode rule table")
	}
	if len(rules) == 0 {
		return nil, fault.New(fault.KindValidation, "rule table is empty")
	}
	for i, rule := range rules {
		if rule.Name == "" {
			return nil, fault.Newf(fault.KindValidation, "rule %d has no name", i)
		}
		if !incident.ValidSeverity(rule.Severity) {
			return nil, fmt.Errorf("rule %q: %w", rule.Name,
				fault.Newf(fault.KindValidation, "unknown severity %q", rule.Severity))
		}
	}
	return rules, nil
}
