// Package redact strips PII and secrets from text before it leaves the
// process (LLM prompts, advisory payloads, notifier output).
package redact

import (
	"regexp"
	"strings"

	"alert_worker/pkg/logger"
)

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// defaultPatterns covers the common leak shapes seen in alert mail:
// addresses, phone numbers, card/SSN formats, key-value credentials,
// bearer JWTs, cloud keys, PEM blocks and connection strings.
var defaultPatterns = []struct {
	pattern     string
	replacement string
}{
	// Email addresses
	{`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`, `[EMAIL]`},

	// Phone numbers (various formats)
	{`\b\d{3}[-.\s]?\d{3}[-.\s]?\d{4}\b`, `[PHONE]`},
	{`\b\+?1?[-.\s]?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`, `[PHONE]`},

	// SSN
	{`\b\d{3}-\d{2}-\d{4}\b`, `[SSN]`},

	// Credit card numbers
	{`\b(?:4[0-9]{12}(?:[0-9]{3})?)\b`, `[CARD]`},          // Visa
	{`\b(?:5[1-5][0-9]{14})\b`, `[CARD]`},                  // Mastercard
	{`\b(?:3[47][0-9]{13})\b`, `[CARD]`},                   // Amex
	{`\b(?:6(?:011|5[0-9]{2})[0-9]{12})\b`, `[CARD]`},      // Discover

	// API keys and tokens
	{`(?i)(api[_-]?key|apikey)\s*[=:]\s*["']?([a-zA-Z0-9_\-]{20,})["']?`, `${1}=[REDACTED_KEY]`},
	{`(?i)(secret[_-]?key|secretkey)\s*[=:]\s*["']?([a-zA-Z0-9_\-]{20,})["']?`, `${1}=[REDACTED_SECRET]`},
	{`(?i)(access[_-]?token|accesstoken)\s*[=:]\s*["']?([a-zA-Z0-9_\-\.]{20,})["']?`, `${1}=[REDACTED_TOKEN]`},

	// Password fields
	{`(?i)(password|passwd|pwd)\s*[=:]\s*["']?(\S+)["']?`, `${1}=[REDACTED_PASSWORD]`},

	// Bearer tokens
	{`(?i)bearer\s+[a-zA-Z0-9\-_]+\.[a-zA-Z0-9\-_]+\.[a-zA-Z0-9\-_]+`, `[REDACTED_JWT]`},

	// AWS credentials
	{`(?i)(aws[_-]?access[_-]?key[_-]?id)\s*[=:]\s*["']?([A-Z0-9]{20})["']?`, `${1}=[REDACTED_AWS_KEY]`},
	{`(?i)(aws[_-]?secret[_-]?access[_-]?key)\s*[=:]\s*["']?([a-zA-Z0-9/+=]{40})["']?`, `${1}=[REDACTED_AWS_SECRET]`},

	// Private keys (PEM format markers)
	{`-----BEGIN (?:RSA |EC |DSA )?PRIVATE KEY-----[\s\S]*?-----END (?:RSA |EC |DSA )?PRIVATE KEY-----`, `[REDACTED_PRIVATE_KEY]`},

	// Connection strings with passwords
	{`(?i)(mysql|postgresql|postgres|mongodb|redis|amqp)://[^:]+:([^@]+)@`, `${1}://[user]:[REDACTED_PASSWORD]@`},

	// Generic secret patterns
	{`(?i)(secret|token|credential|auth)\s*[=:]\s*["']?([a-zA-Z0-9_\-\.]{16,})["']?`, `${1}=[REDACTED]`},
}

// Redactor applies an ordered list of regex-replace rules.
type Redactor struct {
	rules []rule
}

// New builds a Redactor from the default pattern list plus any extra rules
// given as "pattern|replacement;pattern|replacement;...". Invalid patterns
// are logged and skipped.
func New(extra string) *Redactor {
	r := &Redactor{}

	for _, p := range defaultPatterns {
		compiled, err := regexp.Compile(p.pattern)
		if err != nil {
			logger.Warn("Failed to compile default redaction pattern %q: %v", p.pattern, err)
			continue
		}
		r.rules = append(r.rules, rule{pattern: compiled, replacement: p.replacement})
	}

	for _, item := range strings.Split(extra, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		patternStr, replacement, ok := strings.Cut(item, "|")
		if !ok {
			continue
		}
		compiled, err := regexp.Compile("(?i)" + strings.TrimSpace(patternStr))
		if err != nil {
			logger.Warn("Failed to compile custom redaction pattern %q: %v", patternStr, err)
			continue
		}
		r.rules = append(r.rules, rule{pattern: compiled, replacement: strings.TrimSpace(replacement)})
	}

	return r
}

// AddPattern registers a new rule at runtime.
func (r *Redactor) AddPattern(pattern, replacement string) error {
	compiled, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, rule{pattern: compiled, replacement: replacement})
	return nil
}

// Redact applies all rules in order.
func (r *Redactor) Redact(text string) string {
	if text == "" {
		return text
	}
	result := text
	for _, rl := range r.rules {
		result = rl.pattern.ReplaceAllString(result, rl.replacement)
	}
	return result
}

// RedactWithStats applies redaction and reports per-replacement hit counts.
func (r *Redactor) RedactWithStats(text string) (string, map[string]int) {
	if text == "" {
		return text, map[string]int{}
	}

	stats := make(map[string]int)
	result := text

	for _, rl := range r.rules {
		matches := rl.pattern.FindAllString(result, -1)
		if len(matches) > 0 {
			key := strings.ToLower(strings.Trim(rl.replacement, "[]"))
			stats[key] += len(matches)
			result = rl.pattern.ReplaceAllString(result, rl.replacement)
		}
	}

	return result, stats
}

// RedactEmailContent redacts both subject and body of an email.
func (r *Redactor) RedactEmailContent(subject, body string) (string, string) {
	return r.Redact(subject), r.Redact(body)
}
