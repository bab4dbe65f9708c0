package maintenance

import (
	"testing"
	"time"
)

const simpleICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:maint-123@ops.example.com
SUMMARY:Network maintenance
DESCRIPTION:host=fw-01; env=prod
ORGANIZER:mailto:netops@example.com
DTSTART:20260901T220000Z
DTEND:20260902T020000Z
END:VEVENT
END:VCALENDAR`

const cancelledICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:maint-123@ops.example.com
STATUS:CANCELLED
DTSTART:20260901T220000Z
END:VEVENT
END:VCALENDAR`

const recurringICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:weekly-maint@ops.example.com
SUMMARY:Weekly patching
DTSTART:20260901T010000Z
DTEND:20260901T030000Z
RRULE:FREQ=WEEKLY;BYDAY=TU
END:VEVENT
END:VCALENDAR`

func TestParseICSSimpleEvent(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	w, err := parseICS(simpleICS, now, 90*24*time.Hour)
	if err != nil {
		t.Fatalf("parseICS() error = %v", err)
	}
	if w == nil {
		t.Fatal("expected a window")
	}

	if w.ExternalEventID != "maint-123@ops.example.com" {
		t.Errorf("ExternalEventID = %q", w.ExternalEventID)
	}
	if w.Title != "Network maintenance" {
		t.Errorf("Title = %q", w.Title)
	}
	if w.Organizer != "netops@example.com" {
		t.Errorf("Organizer = %q, mailto prefix must be stripped", w.Organizer)
	}
	if !w.Start.Equal(time.Date(2026, 9, 1, 22, 0, 0, 0, time.UTC)) {
		t.Errorf("Start = %v", w.Start)
	}
	if !w.End.Equal(time.Date(2026, 9, 2, 2, 0, 0, 0, time.UTC)) {
		t.Errorf("End = %v", w.End)
	}
	if w.IsRecurring {
		t.Error("simple event must not be recurring")
	}
}

func TestParseICSCancelled(t *testing.T) {
	w, err := parseICS(cancelledICS, time.Now(), time.Hour)
	if err != nil {
		t.Fatalf("parseICS() error = %v", err)
	}
	if !w.Cancelled {
		t.Error("STATUS:CANCELLED must flag cancellation")
	}
	if w.ExternalEventID != "maint-123@ops.example.com" {
		t.Errorf("ExternalEventID = %q", w.ExternalEventID)
	}
}

func TestParseICSRecurringExpansion(t *testing.T) {
	now := time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC)

	w, err := parseICS(recurringICS, now, 28*24*time.Hour)
	if err != nil {
		t.Fatalf("parseICS() error = %v", err)
	}

	if !w.IsRecurring || w.RecurrenceRule == "" {
		t.Fatal("expected recurring window with stored rule")
	}
	if len(w.Occurrences) != 4 {
		t.Fatalf("got %d occurrences in 28 days, want 4 weekly ones: %v", len(w.Occurrences), w.Occurrences)
	}
	for _, occ := range w.Occurrences {
		if occ.Start.Weekday() != time.Tuesday {
			t.Errorf("occurrence on %v, want Tuesday", occ.Start.Weekday())
		}
		if occ.End.Sub(occ.Start) != 2*time.Hour {
			t.Errorf("occurrence duration = %v, want original 2h", occ.End.Sub(occ.Start))
		}
		if occ.Start.Before(now) || occ.Start.After(now.Add(28*24*time.Hour)) {
			t.Errorf("occurrence %v outside horizon", occ.Start)
		}
	}
}

func TestParseICSMissingEnd(t *testing.T) {
	ics := `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:x@y
DTSTART:20260901T220000Z
END:VEVENT
END:VCALENDAR`

	w, err := parseICS(ics, time.Now(), time.Hour)
	if err != nil {
		t.Fatalf("parseICS() error = %v", err)
	}
	if w.End.Sub(w.Start) != time.Hour {
		t.Errorf("missing DTEND must default to one hour, got %v", w.End.Sub(w.Start))
	}
}

func TestParseICSGarbage(t *testing.T) {
	if _, err := parseICS("not a calendar at all", time.Now(), time.Hour); err == nil {
		t.Error("garbage input must error")
	}
}
