package maintenance

import (
	"testing"
	"time"

	"alert_worker/core/domain"
)

func TestParseBodyFull(t *testing.T) {
	body := `Hello,

Title: Database upgrade
Scope: host=db-01,db-02; env=prod
Mode: downgrade
Start: 2026-09-01 22:00
End: 2026-09-02 02:00
Timezone: UTC

Regards`

	w := parseBody(body)

	if w.Title != "Database upgrade" {
		t.Errorf("Title = %q", w.Title)
	}
	if w.SuppressMode != domain.SuppressDowngrade {
		t.Errorf("SuppressMode = %q", w.SuppressMode)
	}
	if w.Scope == nil || len(w.Scope.Hosts) != 2 {
		t.Errorf("Scope = %+v", w.Scope)
	}
	if w.Start == nil || !w.Start.Equal(time.Date(2026, 9, 1, 22, 0, 0, 0, time.UTC)) {
		t.Errorf("Start = %v", w.Start)
	}
	if w.End == nil || !w.End.Equal(time.Date(2026, 9, 2, 2, 0, 0, 0, time.UTC)) {
		t.Errorf("End = %v", w.End)
	}
}

func TestParseBodyTimezoneApplied(t *testing.T) {
	body := `Start: 2026-09-01 10:00
Timezone: Europe/Stockholm`

	w := parseBody(body)
	if w.Start == nil {
		t.Fatal("Start not parsed")
	}
	// 10:00 CEST is 08:00 UTC.
	want := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	if !w.Start.Equal(want) {
		t.Errorf("Start = %v, want %v", w.Start, want)
	}
}

func TestParseBodyFlexibleTimeLayouts(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Time
	}{
		{"2026-09-01T22:00:00Z", time.Date(2026, 9, 1, 22, 0, 0, 0, time.UTC)},
		{"2026-09-01T22:00", time.Date(2026, 9, 1, 22, 0, 0, 0, time.UTC)},
		{"2026-09-01", time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)},
		{"01 Sep 2026 22:00", time.Date(2026, 9, 1, 22, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := parseFlexibleTime(tt.raw, time.UTC)
			if !ok {
				t.Fatalf("parseFlexibleTime(%q) failed", tt.raw)
			}
			if !got.Equal(tt.want) {
				t.Errorf("parseFlexibleTime(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}

	if _, ok := parseFlexibleTime("next tuesday", time.UTC); ok {
		t.Error("free-text dates must not parse")
	}
}

func TestParseBodyInvalidModeIgnored(t *testing.T) {
	w := parseBody("Mode: obliterate")
	if w.SuppressMode != "" {
		t.Errorf("SuppressMode = %q, want empty for unknown mode", w.SuppressMode)
	}
}

func TestParseBodyUnstructured(t *testing.T) {
	w := parseBody("we will be doing some maintenance tonight, sorry")
	if w.Title != "" || w.Scope != nil || w.Start != nil || w.End != nil {
		t.Errorf("unstructured body must yield an empty window, got %+v", w)
	}
}
