package triage

import (
	"strings"

	"github.com/linnemanlabs/aegis/internal/incident"
)

// Signal weights. Confidence is the capped sum of whichever signals fire.
const (
	weightPattern      = 0.3
	weightKeywords     = 0.2
	weightService      = 0.3
	weightErrorRate    = 0.2
	weightResponseTime = 0.2
	maxConfidence      = 1.0
)

// Recommendation is the scored outcome for one incident.
type Recommendation struct {
	Rule       string
	Severity   incident.Severity
	Confidence float64
	Signals    []string
}

// Input is the slice of an incident the engine looks at. Metrics come from
// the declaring monitor via incident metadata.
type Input struct {
	Title          string
	Description    string
	Service        string
	ErrorRate      float64
	ResponseTimeMS float64
}

// InputFromIncident projects the scoring fields out of incident metadata.
func InputFromIncident(inc *incident.Incident) Input {
	in := Input{Title: inc.Title, Description: inc.Description}
	if inc.Metadata != nil {
		in.Service, _ = inc.Metadata["service"].(string)
		in.ErrorRate = floatMeta(inc.Metadata["error_rate"])
		in.ResponseTimeMS = floatMeta(inc.Metadata["response_time_ms"])
	}
	return in
}

func floatMeta(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}

// Engine scores incidents against an ordered rule table.
type Engine struct {
	rules []Rule
}

// NewEngine creates an engine. Empty rules fall back to the defaults.
func NewEngine(rules []Rule) *Engine {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Engine{rules: rules}
}

// Evaluate scores the input against every rule and returns the best match,
// or nil when nothing scored. Ties go to the earlier (more severe) rule.
func (e *Engine) Evaluate(in Input) *Recommendation {
	var best *Recommendation
	for _, rule := range e.rules {
		if rec := score(rule, in); rec != nil {
			if best == nil || rec.Confidence > best.Confidence {
				best = rec
			}
		}
	}
	return best
}

func score(rule Rule, in Input) *Recommendation {
	title := strings.ToLower(in.Title)
	text := title + " " + strings.ToLower(in.Description)

	var confidence float64
	var signals []string

	for _, p := range rule.Patterns {
		if strings.Contains(title, strings.ToLower(p)) {
			confidence += weightPattern
			signals = append(signals, "pattern:"+p)
			break
		}
	}

	if len(rule.Keywords) > 0 {
		hits := 0
		for _, kw := range rule.Keywords {
			if strings.Contains(text, strings.ToLower(kw)) {
				hits++
			}
		}
		if hits > 0 {
			confidence += weightKeywords * float64(hits) / float64(len(rule.Keywords))
			signals = append(signals, "keywords")
		}
	}

	for _, svc := range rule.Services {
		if strings.EqualFold(svc, in.Service) {
			confidence += weightService
			signals = append(signals, "service:"+svc)
			break
		}
	}

	if rule.ErrorRateOver > 0 && in.ErrorRate > rule.ErrorRateOver {
		confidence += weightErrorRate
		signals = append(signals, "error_rate")
	}
	if rule.ResponseTimeOver > 0 && in.ResponseTimeMS > rule.ResponseTimeOver {
		confidence += weightResponseTime
		signals = append(signals, "response_time")
	}

	if confidence == 0 {
		return nil
	}
	if confidence > maxConfidence {
		confidence = maxConfidence
	}
	return &Recommendation{
		Rule:       rule.Name,
		Severity:   rule.Severity,
		Confidence: confidence,
		Signals:    signals,
	}
}
