package extract

import (
	"regexp"
	"strconv"
	"strings"

	"alert_worker/core/domain"
)

// ApplyRules runs a cached rule set against the email text. Rules that
// fail to compile or match are skipped; the result holds whatever fields
// matched. Returns false when no rule produced a value.
func ApplyRules(rules domain.RuleSet, subject, body string) (map[string]string, bool) {
	fields := make(map[string]string)

	for field, rule := range rules {
		text := body
		if rule.Source == "subject" {
			text = subject
		}

		re, err := regexp.Compile("(?i)" + rule.Regex)
		if err != nil {
			continue
		}
		match := re.FindStringSubmatch(text)
		if match == nil {
			continue
		}

		value := strings.TrimSpace(captureGroup(re, match, rule.Group))
		if value == "" {
			continue
		}

		// Normalize maps come back from the LLM in whatever case it
		// chose, so fold both sides.
		for raw, mapped := range rule.Normalize {
			if strings.EqualFold(raw, value) {
				value = mapped
				break
			}
		}
		fields[field] = value
	}

	return fields, len(fields) > 0
}

// captureGroup resolves a group reference that may be a named group, a
// numeric index, or empty (first capture when present).
func captureGroup(re *regexp.Regexp, match []string, group string) string {
	if group != "" {
		if idx := re.SubexpIndex(group); idx >= 0 && idx < len(match) {
			return match[idx]
		}
		if n, err := strconv.Atoi(group); err == nil && n >= 0 && n < len(match) {
			return match[n]
		}
	}
	if len(match) > 1 {
		return match[1]
	}
	return match[0]
}
