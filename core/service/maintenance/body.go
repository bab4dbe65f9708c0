package maintenance

import (
	"regexp"
	"strings"
	"time"

	"alert_worker/core/domain"
)

var bodyPatterns = map[string]*regexp.Regexp{
	"scope":    regexp.MustCompile(`(?im)Scope:\s*(.+?)\s*$`),
	"mode":     regexp.MustCompile(`(?im)Mode:\s*(mute|downgrade|digest)`),
	"title":    regexp.MustCompile(`(?im)Title:\s*(.+?)\s*$`),
	"start":    regexp.MustCompile(`(?im)Start:\s*(.+?)\s*$`),
	"end":      regexp.MustCompile(`(?im)End:\s*(.+?)\s*$`),
	"timezone": regexp.MustCompile(`(?im)Timezone:\s*(.+?)\s*$`),
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
	"02 Jan 2006 15:04",
	"Jan 2, 2006 15:04",
}

type bodyWindow struct {
	Title        string
	Scope        *domain.MaintenanceScope
	SuppressMode domain.SuppressMode
	Start        *time.Time
	End          *time.Time
	Timezone     string
}

// parseBody pulls structured maintenance fields out of a plain-text
// announcement body.
func parseBody(body string) bodyWindow {
	var w bodyWindow

	get := func(field string) (string, bool) {
		m := bodyPatterns[field].FindStringSubmatch(body)
		if m == nil {
			return "", false
		}
		return strings.TrimSpace(m[1]), true
	}

	if v, ok := get("title"); ok {
		w.Title = v
	}
	if v, ok := get("scope"); ok {
		scope := ParseScope(v)
		w.Scope = &scope
	}
	if v, ok := get("mode"); ok {
		w.SuppressMode = domain.SuppressMode(strings.ToLower(v))
	}
	if v, ok := get("timezone"); ok {
		w.Timezone = v
	}

	loc := time.UTC
	if w.Timezone != "" {
		if l, err := time.LoadLocation(w.Timezone); err == nil {
			loc = l
		}
	}

	if v, ok := get("start"); ok {
		if t, ok := parseFlexibleTime(v, loc); ok {
			w.Start = &t
		}
	}
	if v, ok := get("end"); ok {
		if t, ok := parseFlexibleTime(v, loc); ok {
			w.End = &t
		}
	}

	return w
}

func parseFlexibleTime(v string, loc *time.Location) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
