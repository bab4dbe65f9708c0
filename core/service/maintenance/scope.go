package maintenance

import (
	"regexp"
	"strings"

	"alert_worker/core/domain"
)

var scopePatterns = map[string]*regexp.Regexp{
	"host":    regexp.MustCompile(`(?i)host=([^;]+)`),
	"service": regexp.MustCompile(`(?i)service=([^;]+)`),
	"env":     regexp.MustCompile(`(?i)env=([^;]+)`),
	"region":  regexp.MustCompile(`(?i)region=([^;]+)`),
	"tags":    regexp.MustCompile(`(?i)tags=([^;]+)`),
}

// ParseScope reads a "host=a,b; service=web-*; env=prod" scope string
// into a structured scope. Wildcards in host/service promote the value
// to a regex.
func ParseScope(scopeStr string) domain.MaintenanceScope {
	var scope domain.MaintenanceScope

	get := func(field string) (string, bool) {
		m := scopePatterns[field].FindStringSubmatch(scopeStr)
		if m == nil {
			return "", false
		}
		return strings.TrimSpace(m[1]), true
	}

	if v, ok := get("host"); ok {
		if strings.ContainsAny(v, "*?") {
			scope.HostRegex = promoteWildcard(v)
		} else {
			scope.Hosts = splitList(v)
		}
	}
	if v, ok := get("service"); ok {
		if strings.ContainsAny(v, "*?") {
			scope.ServiceRegex = promoteWildcard(v)
		} else {
			scope.Services = splitList(v)
		}
	}
	if v, ok := get("env"); ok {
		scope.Environments = splitList(v)
	}
	if v, ok := get("region"); ok {
		scope.Regions = splitList(v)
	}
	if v, ok := get("tags"); ok {
		scope.Tags = splitList(v)
	}

	return scope
}

func promoteWildcard(v string) string {
	v = regexp.QuoteMeta(v)
	v = strings.ReplaceAll(v, `\*`, ".*")
	v = strings.ReplaceAll(v, `\?`, ".")
	return v
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// MatchesScope reports whether the incident falls inside the scope. Every
// non-empty dimension must be satisfied by a listed value or the regex,
// case-insensitively. An empty scope matches everything.
func MatchesScope(inc *domain.Incident, scope domain.MaintenanceScope) bool {
	if scope.IsEmpty() {
		return true
	}

	if len(scope.Hosts) > 0 || scope.HostRegex != "" {
		if !dimensionMatches(inc.Host, scope.Hosts, scope.HostRegex) {
			return false
		}
	}

	service := inc.Service
	if service == "" {
		service = inc.CheckName
	}
	if len(scope.Services) > 0 || scope.ServiceRegex != "" {
		if !dimensionMatches(service, scope.Services, scope.ServiceRegex) {
			return false
		}
	}

	if len(scope.Environments) > 0 && !containsFold(scope.Environments, inc.Environment) {
		return false
	}
	if len(scope.Regions) > 0 && !containsFold(scope.Regions, inc.Region) {
		return false
	}
	if len(scope.CheckNames) > 0 && !containsFold(scope.CheckNames, inc.CheckName) {
		return false
	}

	if len(scope.Tags) > 0 {
		matched := false
		for _, t := range scope.Tags {
			if containsFold(inc.Tags, t) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	return true
}

// MatchReason explains which dimensions matched, for the audit row.
func MatchReason(inc *domain.Incident, scope domain.MaintenanceScope) []domain.MatchCriterion {
	var reasons []domain.MatchCriterion

	if scope.IsEmpty() {
		return []domain.MatchCriterion{{Field: "scope", Pattern: "*", Value: "open-ended window"}}
	}

	if containsFold(scope.Hosts, inc.Host) {
		reasons = append(reasons, domain.MatchCriterion{Field: "host", Pattern: strings.Join(scope.Hosts, ","), Value: inc.Host})
	} else if scope.HostRegex != "" && regexMatches(scope.HostRegex, inc.Host) {
		reasons = append(reasons, domain.MatchCriterion{Field: "host", Pattern: scope.HostRegex, Value: inc.Host})
	}

	service := inc.Service
	if service == "" {
		service = inc.CheckName
	}
	if containsFold(scope.Services, service) {
		reasons = append(reasons, domain.MatchCriterion{Field: "service", Pattern: strings.Join(scope.Services, ","), Value: service})
	} else if scope.ServiceRegex != "" && regexMatches(scope.ServiceRegex, service) {
		reasons = append(reasons, domain.MatchCriterion{Field: "service", Pattern: scope.ServiceRegex, Value: service})
	}

	if containsFold(scope.Environments, inc.Environment) {
		reasons = append(reasons, domain.MatchCriterion{Field: "environment", Pattern: strings.Join(scope.Environments, ","), Value: inc.Environment})
	}
	if containsFold(scope.Regions, inc.Region) {
		reasons = append(reasons, domain.MatchCriterion{Field: "region", Pattern: strings.Join(scope.Regions, ","), Value: inc.Region})
	}
	if containsFold(scope.CheckNames, inc.CheckName) {
		reasons = append(reasons, domain.MatchCriterion{Field: "check_name", Pattern: strings.Join(scope.CheckNames, ","), Value: inc.CheckName})
	}
	for _, t := range scope.Tags {
		if containsFold(inc.Tags, t) {
			reasons = append(reasons, domain.MatchCriterion{Field: "tags", Pattern: t, Value: t})
		}
	}

	return reasons
}

func dimensionMatches(value string, listed []string, pattern string) bool {
	if value == "" {
		return false
	}
	if containsFold(listed, value) {
		return true
	}
	if pattern != "" {
		return regexMatches(pattern, value)
	}
	return false
}

func regexMatches(pattern, value string) bool {
	re, err := regexp.Compile("(?i)^" + pattern + "$")
	if err != nil {
		return false
	}
	return re.MatchString(value)
}

func containsFold(list []string, value string) bool {
	if value == "" {
		return false
	}
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}
