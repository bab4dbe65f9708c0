// Package parse turns raw emails into normalized alert events using a
// data-driven regex parser registry.
package parse

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"alert_worker/core/domain"
	"alert_worker/core/fingerprint"
	"alert_worker/pkg/logger"

	"gopkg.in/yaml.v3"
)

// ParserConfig is one source-tool parser definition.
type ParserConfig struct {
	Name           string            `yaml:"name" json:"name"`
	SubjectPattern string            `yaml:"subject_pattern" json:"subject_pattern"`
	BodyPatterns   []string          `yaml:"body_patterns" json:"body_patterns"`
	SeverityMap    map[string]string `yaml:"severity_map" json:"severity_map"`
}

type registryFile struct {
	Parsers map[string]ParserConfig `yaml:"parsers"`
}

type compiledParser struct {
	name        string
	subject     *regexp.Regexp
	body        []*regexp.Regexp
	severityMap map[string]string
}

// DefaultConfigs returns the built-in parser registry.
func DefaultConfigs() map[string]ParserConfig {
	return map[string]ParserConfig{
		"op5": {
			Name:           "OP5 Monitor",
			SubjectPattern: `\*\*\s*(?P<state>PROBLEM|RECOVERY|ACKNOWLEDGEMENT)\*\*.*Host:\s*(?P<host>\S+)`,
			BodyPatterns: []string{
				`Service:\s*(?P<service>.+)`,
				`State:\s*(?P<severity>CRITICAL|WARNING|OK|UNKNOWN)`,
				`Additional Info:\s*(?P<info>.+)`,
			},
		},
		"nagios": {
			Name:           "Nagios",
			SubjectPattern: `\*\*\s*(?P<state>PROBLEM|RECOVERY)\*\*.*Host:\s*(?P<host>\S+)`,
			BodyPatterns: []string{
				`Service:\s*(?P<service>.+)`,
				`State:\s*(?P<severity>CRITICAL|WARNING|OK|UNKNOWN)`,
			},
		},
		"xymon": {
			Name:           "Xymon",
			SubjectPattern: `(?P<host>\S+)\.(?P<service>\S+)\s+(?P<severity>red|yellow|green)`,
			SeverityMap:    map[string]string{"red": "critical", "yellow": "warning", "green": "info"},
		},
		"splunk": {
			Name:           "Splunk Alert",
			SubjectPattern: `Splunk Alert:\s*(?P<alert_name>.+)`,
			BodyPatterns: []string{
				`host=(?P<host>\S+)`,
				`severity=(?P<severity>\w+)`,
			},
		},
		"prometheus": {
			Name:           "Prometheus AlertManager",
			SubjectPattern: `\[(?P<severity>FIRING|RESOLVED)\]\s*(?P<alert_name>.+)`,
			BodyPatterns: []string{
				`instance:\s*(?P<host>\S+)`,
				`alertname:\s*(?P<check_name>\S+)`,
			},
		},
		"zabbix": {
			Name:           "Zabbix",
			SubjectPattern: `(?P<state>PROBLEM|OK):\s*(?P<trigger>.+)`,
			BodyPatterns: []string{
				`Host:\s*(?P<host>\S+)`,
				`Severity:\s*(?P<severity>\w+)`,
			},
		},
		"generic": {
			Name:           "Generic Alert",
			SubjectPattern: `(?P<subject>.+)`,
		},
	}
}

// Service is the static regex parser.
type Service struct {
	parsers map[string]*compiledParser
}

// NewService builds a parser from the built-in registry.
func NewService() *Service {
	svc, _ := NewServiceFromConfigs(DefaultConfigs())
	return svc
}

// NewServiceFromFile loads the registry from a YAML file, falling back to
// the defaults when the file is missing.
func NewServiceFromFile(path string) (*Service, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("No parser config at %s, using defaults", path)
			return NewService(), nil
		}
		return nil, fmt.Errorf("read parser config: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse parser config: %w", err)
	}
	if len(file.Parsers) == 0 {
		return NewService(), nil
	}
	return NewServiceFromConfigs(file.Parsers)
}

// NewServiceFromConfigs compiles a registry. Invalid patterns fail the
// whole load so a bad config version cannot half-activate.
func NewServiceFromConfigs(configs map[string]ParserConfig) (*Service, error) {
	parsers := make(map[string]*compiledParser, len(configs))
	for key, cfg := range configs {
		cp := &compiledParser{name: cfg.Name, severityMap: cfg.SeverityMap}

		if cfg.SubjectPattern != "" {
			re, err := regexp.Compile("(?i)" + cfg.SubjectPattern)
			if err != nil {
				return nil, fmt.Errorf("parser %s: subject pattern: %w", key, err)
			}
			cp.subject = re
		}
		for _, p := range cfg.BodyPatterns {
			re, err := regexp.Compile("(?im)" + p)
			if err != nil {
				return nil, fmt.Errorf("parser %s: body pattern %q: %w", key, p, err)
			}
			cp.body = append(cp.body, re)
		}
		parsers[strings.ToLower(key)] = cp
	}
	return &Service{parsers: parsers}, nil
}

var knownTools = []string{"op5", "nagios", "xymon", "splunk", "prometheus", "zabbix"}

// HasParser reports whether a dedicated (non-generic) parser exists for
// the tool. Tools without one go through the learning extractor.
func (s *Service) HasParser(sourceTool string) bool {
	key := strings.ToLower(sourceTool)
	if key == "generic" {
		return false
	}
	_, ok := s.parsers[key]
	return ok
}

// DetermineSourceTool infers the originating monitoring tool from the
// folder name first, then content signatures.
func (s *Service) DetermineSourceTool(folder, subject, body string) string {
	folderLower := strings.ToLower(folder)
	for _, tool := range knownTools {
		if strings.Contains(folderLower, tool) {
			return tool
		}
	}

	content := strings.ToLower(subject + " " + body)
	switch {
	case strings.Contains(content, "alertmanager") || strings.Contains(content, "prometheus"):
		return "prometheus"
	case strings.Contains(content, "splunk"):
		return "splunk"
	case strings.Contains(content, "zabbix"):
		return "zabbix"
	case strings.Contains(content, "xymon"):
		return "xymon"
	case strings.Contains(content, "nagios") || strings.Contains(content, "op5"):
		return "op5"
	}

	return strings.ReplaceAll(strings.ReplaceAll(folder, "INBOX", "generic"), "/", "_")
}

// Apply runs the parser for sourceTool over subject and body and returns
// the union of all named captures, with the severity map applied.
func (s *Service) Apply(sourceTool, subject, body string) map[string]string {
	cp, ok := s.parsers[strings.ToLower(sourceTool)]
	if !ok {
		cp = s.parsers["generic"]
	}
	if cp == nil {
		return map[string]string{}
	}

	result := make(map[string]string)

	if cp.subject != nil {
		mergeNamedGroups(result, cp.subject, subject)
	}
	for _, re := range cp.body {
		mergeNamedGroups(result, re, body)
	}

	if sev, ok := result["severity"]; ok && len(cp.severityMap) > 0 {
		if mapped, ok := cp.severityMap[strings.ToLower(sev)]; ok {
			result["severity"] = mapped
		}
	}

	return result
}

func mergeNamedGroups(dst map[string]string, re *regexp.Regexp, text string) {
	match := re.FindStringSubmatch(text)
	if match == nil {
		return
	}
	for i, name := range re.SubexpNames() {
		if name == "" || i >= len(match) || match[i] == "" {
			continue
		}
		dst[name] = match[i]
	}
}

var tagRe = regexp.MustCompile(`(?i)tags?[=:]\s*([^\s,;]+)`)

// ExtractTags collects env/region tags plus explicit tag markers in the
// body, deduplicated.
func ExtractTags(body string, parsed map[string]string) []string {
	seen := make(map[string]bool)
	var tags []string
	add := func(t string) {
		if t != "" && !seen[t] {
			seen[t] = true
			tags = append(tags, t)
		}
	}

	if env := parsed["environment"]; env != "" {
		add("env:" + env)
	}
	if region := parsed["region"]; region != "" {
		add("region:" + region)
	}
	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		add(m[1])
	}

	return tags
}

// Parse produces a normalized alert event from a raw email, or an error
// when the email yields nothing usable.
func (s *Service) Parse(email *domain.RawEmail) (*domain.AlertEvent, error) {
	subject := email.Subject
	body := email.Body()

	sourceTool := s.DetermineSourceTool(email.Folder, subject, body)
	parsed := s.Apply(sourceTool, subject, body)

	return BuildEvent(email, sourceTool, parsed), nil
}

// BuildEvent assembles a normalized alert event from extracted fields,
// whatever produced them (static parser or learned rules).
func BuildEvent(email *domain.RawEmail, sourceTool string, parsed map[string]string) *domain.AlertEvent {
	subject := email.Subject
	body := email.Body()

	checkName := parsed["check_name"]
	if checkName == "" {
		checkName = parsed["service"]
	}
	if checkName == "" {
		checkName = parsed["trigger"]
	}

	payload := map[string]any{
		"subject": subject,
		"from":    email.FromAddress,
	}
	for k, v := range parsed {
		switch k {
		case "host", "check_name", "severity", "state":
		default:
			payload[k] = v
		}
	}

	emailID := email.ID
	event := &domain.AlertEvent{
		RawEmailID:  &emailID,
		SourceTool:  sourceTool,
		Environment: parsed["environment"],
		Region:      parsed["region"],
		Host:        parsed["host"],
		CheckName:   checkName,
		Service:     parsed["service"],
		Severity:    domain.NormalizeSeverity(parsed["severity"]),
		State:       domain.NormalizeState(parsed["state"]),
		OccurredAt:  email.OccurredAt(),
		Payload:     payload,
		Tags:        ExtractTags(body, parsed),
	}

	event.NormalizedSignature = fingerprint.NormalizedSignature(subject, body)
	event.FingerprintV2 = fingerprint.V2(event.Environment, event.Host, event.CheckOrService(), event.NormalizedSignature)
	event.Fingerprint = fingerprint.V1(event.Environment, event.Host, event.CheckOrService(), event.NormalizedSignature)

	return event
}
