package maintenance

import (
	"fmt"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"
)

// icsWindow is what ICS parsing yields: either a cancellation signal for
// an external event id, or a window with optional expanded occurrences.
type icsWindow struct {
	Cancelled       bool
	ExternalEventID string
	Title           string
	Description     string
	Organizer       string
	Start           time.Time
	End             time.Time
	Timezone        string
	IsRecurring     bool
	RecurrenceRule  string
	Occurrences     []occurrence
}

type occurrence struct {
	Start time.Time
	End   time.Time
}

// parseICS reads the first VEVENT of a calendar. RRULE events are
// expanded into concrete occurrences between now and now + horizon,
// preserving the original duration.
func parseICS(content string, now time.Time, horizon time.Duration) (*icsWindow, error) {
	cal, err := ics.ParseCalendar(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	events := cal.Events()
	if len(events) == 0 {
		return nil, nil
	}
	ev := events[0]

	uid := propValue(ev, ics.ComponentPropertyUniqueId)

	if status := strings.ToUpper(propValue(ev, ics.ComponentPropertyStatus)); status == "CANCELLED" {
		return &icsWindow{Cancelled: true, ExternalEventID: uid}, nil
	}

	loc := eventLocation(ev, cal)

	start, err := parseICSTime(ev.GetProperty(ics.ComponentPropertyDtStart), loc)
	if err != nil {
		return nil, fmt.Errorf("dtstart: %w", err)
	}
	end, err := parseICSTime(ev.GetProperty(ics.ComponentPropertyDtEnd), loc)
	if err != nil {
		end = start.Add(time.Hour)
	}

	w := &icsWindow{
		ExternalEventID: uid,
		Title:           propValue(ev, ics.ComponentPropertySummary),
		Description:     propValue(ev, ics.ComponentPropertyDescription),
		Organizer:       strings.TrimPrefix(propValue(ev, ics.ComponentPropertyOrganizer), "mailto:"),
		Start:           start.UTC(),
		End:             end.UTC(),
		Timezone:        loc.String(),
	}

	if rule := propValue(ev, ics.ComponentPropertyRrule); rule != "" {
		w.IsRecurring = true
		w.RecurrenceRule = rule
		w.Occurrences = expandRRule(rule, start, end.Sub(start), now, horizon)
	}

	return w, nil
}

func propValue(ev *ics.VEvent, prop ics.ComponentProperty) string {
	p := ev.GetProperty(prop)
	if p == nil {
		return ""
	}
	return p.Value
}

// eventLocation resolves the event timezone from DTSTART's TZID
// parameter, then the calendar's VTIMEZONE, falling back to UTC.
func eventLocation(ev *ics.VEvent, cal *ics.Calendar) *time.Location {
	if p := ev.GetProperty(ics.ComponentPropertyDtStart); p != nil {
		if tzids := p.ICalParameters["TZID"]; len(tzids) > 0 {
			if loc, err := time.LoadLocation(tzids[0]); err == nil {
				return loc
			}
		}
	}

	for _, comp := range cal.Components {
		tz, ok := comp.(*ics.VTimezone)
		if !ok {
			continue
		}
		if p := tz.GetProperty(ics.ComponentProperty(ics.PropertyTzid)); p != nil {
			if loc, err := time.LoadLocation(p.Value); err == nil {
				return loc
			}
		}
	}

	return time.UTC
}

// parseICSTime handles the three DTSTART shapes: UTC instant, floating
// local time (interpreted in loc), and all-day date.
func parseICSTime(p *ics.IANAProperty, loc *time.Location) (time.Time, error) {
	if p == nil || p.Value == "" {
		return time.Time{}, fmt.Errorf("missing property")
	}
	v := p.Value

	if t, err := time.Parse("20060102T150405Z", v); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("20060102T150405", v, loc); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("20060102", v, loc); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", v)
}

// expandRRule materializes rule occurrences between now and now+horizon,
// each preserving the original event duration.
func expandRRule(rule string, start time.Time, duration time.Duration, now time.Time, horizon time.Duration) []occurrence {
	opt, err := rrule.StrToROption(rule)
	if err != nil {
		return nil
	}
	opt.Dtstart = start

	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil
	}

	if duration <= 0 {
		duration = time.Hour
	}

	var out []occurrence
	for _, occ := range r.Between(now, now.Add(horizon), true) {
		out = append(out, occurrence{Start: occ.UTC(), End: occ.Add(duration).UTC()})
	}
	return out
}
