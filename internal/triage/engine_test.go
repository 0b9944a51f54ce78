package triage

import (
	"math"
	"strings"
	"testing"

	"github.com/linnemanlabs/aegis/internal/incident"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestEvaluatePicksHighestConfidence(t *testing.T) {
	t.Parallel()

	e := NewEngine(nil)
	rec := e.Evaluate(Input{
		Title:       "Production outage: api-gateway unreachable",
		Description: "All users affected, complete loss of service in production",
		Service:     "api-gateway",
		ErrorRate:   0.9,
	})
	if rec == nil {
		t.Fatal("no recommendation")
	}
	if rec.Severity != incident.SeverityP0 {
		t.Fatalf("severity = %s, want P0", rec.Severity)
	}
	// pattern 0.3 + all 4 keywords 0.2 + service 0.3 + error rate 0.2 = 1.0 (capped)
	if !almostEqual(rec.Confidence, 1.0) {
		t.Fatalf("confidence = %v, want 1.0", rec.Confidence)
	}
}

func TestKeywordFractionScaling(t *testing.T) {
	t.Parallel()

	e := NewEngine([]Rule{{
		Name:     "kw-only",
		Severity: incident.SeverityP2,
		Keywords: []string{"alpha", "beta", "gamma", "delta"},
	}})

	rec := e.Evaluate(Input{Title: "x", Description: "alpha and beta happened"})
	if rec == nil {
		t.Fatal("no recommendation")
	}
	// 2 of 4 keywords: 0.2 * 0.5
	if !almostEqual(rec.Confidence, 0.1) {
		t.Fatalf("confidence = %v, want 0.1", rec.Confidence)
	}
}

func TestNoSignalsNoRecommendation(t *testing.T) {
	t.Parallel()

	e := NewEngine(nil)
	if rec := e.Evaluate(Input{Title: "routine deploy note", Description: "nothing interesting"}); rec != nil {
		t.Fatalf("unexpected recommendation: %+v", rec)
	}
}

func TestThresholdSignals(t *testing.T) {
	t.Parallel()

	e := NewEngine([]Rule{{
		Name:             "metrics-only",
		Severity:         incident.SeverityP1,
		ErrorRateOver:    0.1,
		ResponseTimeOver: 1000,
	}})

	rec := e.Evaluate(Input{Title: "x", ErrorRate: 0.2, ResponseTimeMS: 2500})
	if rec == nil {
		t.Fatal("no recommendation")
	}
	if !almostEqual(rec.Confidence, 0.4) {
		t.Fatalf("confidence = %v, want 0.4", rec.Confidence)
	}

	// at-threshold values do not fire
	if rec := e.Evaluate(Input{Title: "x", ErrorRate: 0.1, ResponseTimeMS: 1000}); rec != nil {
		t.Fatalf("threshold equality fired: %+v", rec)
	}
}

func TestInputFromIncidentReadsMetadata(t *testing.T) {
	t.Parallel()

	in := InputFromIncident(&incident.Incident{
		Title:       "checkout errors",
		Description: "elevated 500s",
		Metadata: map[string]any{
			"service":          "checkout",
			"error_rate":       0.25,
			"response_time_ms": 4200,
		},
	})
	if in.Service != "checkout" || !almostEqual(in.ErrorRate, 0.25) || !almostEqual(in.ResponseTimeMS, 4200) {
		t.Fatalf("input = %+v", in)
	}
}

func TestLoadRules(t *testing.T) {
	t.Parallel()

	good := `[{"name":"db","severity":"P1","patterns":["database"]}]`
	rules, err := LoadRules(strings.NewReader(good))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rules) != 1 || rules[0].Name != "db" {
		t.Fatalf("rules = %+v", rules)
	}

	cases := map[string]string{
		"empty table":    `[]`,
		"missing name":   `[{"severity":"P1"}]`,
		"bad severity":   `[{"name":"x","severity":"P9"}]`,
		"malformed json": `{`,
	}
	for name, body := range cases {
		if _, err := LoadRules(strings.NewReader(body)); err == nil {
			t.Errorf("%s accepted", name)
		}
	}
}
