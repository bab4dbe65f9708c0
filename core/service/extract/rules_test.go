package extract

import (
	"testing"

	"alert_worker/core/domain"
)

func TestApplyRules(t *testing.T) {
	rules := domain.RuleSet{
		"host": {
			Source: "body",
			Regex:  `Host:\s*(?P<host>\S+)`,
			Group:  "host",
		},
		"severity": {
			Source:    "body",
			Regex:     `Level:\s*(\w+)`,
			Group:     "1",
			Normalize: map[string]string{"sev1": "critical"},
		},
		"summary": {
			Source: "subject",
			Regex:  `ALERT:\s*(.+)`,
		},
	}

	subject := "ALERT: disk filling up"
	body := "Host: db-01\nLevel: SEV1"

	fields, ok := ApplyRules(rules, subject, body)
	if !ok {
		t.Fatal("expected matches")
	}
	if fields["host"] != "db-01" {
		t.Errorf("host = %q", fields["host"])
	}
	if fields["severity"] != "critical" {
		t.Errorf("severity = %q, want normalized critical", fields["severity"])
	}
	if fields["summary"] != "disk filling up" {
		t.Errorf("summary = %q", fields["summary"])
	}
}

func TestApplyRulesPartialMatch(t *testing.T) {
	rules := domain.RuleSet{
		"host":    {Source: "body", Regex: `Host:\s*(\S+)`},
		"service": {Source: "body", Regex: `Service:\s*(\S+)`},
	}

	fields, ok := ApplyRules(rules, "", "Host: web-01\nno service line")
	if !ok {
		t.Fatal("one matching rule is enough")
	}
	if len(fields) != 1 || fields["host"] != "web-01" {
		t.Errorf("fields = %v", fields)
	}
}

func TestApplyRulesNothingMatches(t *testing.T) {
	rules := domain.RuleSet{
		"host": {Source: "body", Regex: `Host:\s*(\S+)`},
	}
	if _, ok := ApplyRules(rules, "subject", "unrelated text"); ok {
		t.Error("no matches must report false")
	}
}

func TestApplyRulesSkipsInvalidRegex(t *testing.T) {
	rules := domain.RuleSet{
		"broken": {Source: "body", Regex: `([unclosed`},
		"host":   {Source: "body", Regex: `Host:\s*(\S+)`},
	}

	fields, ok := ApplyRules(rules, "", "Host: db-01")
	if !ok || fields["host"] != "db-01" {
		t.Errorf("valid rules must survive a broken sibling: %v", fields)
	}
}

func TestApplyRulesCaseInsensitive(t *testing.T) {
	rules := domain.RuleSet{
		"host": {Source: "body", Regex: `host:\s*(\S+)`},
	}
	fields, ok := ApplyRules(rules, "", "HOST: DB-01")
	if !ok || fields["host"] != "DB-01" {
		t.Errorf("fields = %v", fields)
	}
}

func TestApplyRulesNormalizeFoldsBothSides(t *testing.T) {
	rules := domain.RuleSet{
		"severity": {
			Source:    "body",
			Regex:     `Level:\s*(\w+)`,
			Normalize: map[string]string{"Sev1": "critical", "WARN": "medium"},
		},
	}

	tests := []struct {
		body string
		want string
	}{
		{"Level: SEV1", "critical"},
		{"Level: sev1", "critical"},
		{"Level: warn", "medium"},
		{"Level: Warn", "medium"},
	}
	for _, tt := range tests {
		fields, ok := ApplyRules(rules, "", tt.body)
		if !ok || fields["severity"] != tt.want {
			t.Errorf("ApplyRules(%q) severity = %q, want %q", tt.body, fields["severity"], tt.want)
		}
	}
}

func TestCaptureGroupResolution(t *testing.T) {
	rules := domain.RuleSet{
		// Numeric group reference pointing at the second capture.
		"value": {Source: "body", Regex: `(\w+)=(\w+)`, Group: "2"},
	}
	fields, _ := ApplyRules(rules, "", "status=down")
	if fields["value"] != "down" {
		t.Errorf("numeric group = %q, want down", fields["value"])
	}

	// Unknown group name falls back to the first capture.
	rules = domain.RuleSet{
		"value": {Source: "body", Regex: `(\w+)=\w+`, Group: "nope"},
	}
	fields, _ = ApplyRules(rules, "", "status=down")
	if fields["value"] != "status" {
		t.Errorf("fallback group = %q, want status", fields["value"])
	}
}
