// Package fingerprint computes the normalized signature and the
// correlation fingerprints for alert events.
//
// Fingerprint v2 excludes severity from the hash so that a severity flap
// on the same alert does not spawn a new incident.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Version identifies the current fingerprint algorithm.
const Version = 2

var (
	guidRe      = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	requestIDRe = regexp.MustCompile(`(request[_-]?id|req[_-]?id|trace[_-]?id)[=:]\s*\S+`)
	isoTSRe     = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?Z?`)
	dateTimeRe  = regexp.MustCompile(`\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\s+\d{1,2}:\d{2}(:\d{2})?`)
	volatileRe  = regexp.MustCompile(`(pid|port|count|duration|latency|uptime)[=:]\s*\d+`)
	ipRe        = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	wsRe        = regexp.MustCompile(`\s+`)
)

// NormalizedSignature derives the correlation signature from subject and
// the first 500 chars of body: volatile elements (GUIDs, request ids,
// timestamps, pid/port/count values, IPs) are masked so that similar
// alerts produce identical signatures. Idempotent.
func NormalizedSignature(subject, body string) string {
	if len(body) > 500 {
		body = body[:500]
	}
	content := strings.ToLower(subject + " " + body)

	content = guidRe.ReplaceAllString(content, "<guid>")
	content = requestIDRe.ReplaceAllString(content, "<id>")
	content = isoTSRe.ReplaceAllString(content, "<ts>")
	content = dateTimeRe.ReplaceAllString(content, "<ts>")
	content = volatileRe.ReplaceAllString(content, "${1}=<n>")
	content = ipRe.ReplaceAllString(content, "<ip>")
	content = strings.TrimSpace(wsRe.ReplaceAllString(content, " "))

	return content
}

// V2 computes the severity-excluded correlation fingerprint:
// SHA256(env|host|check|signature[:200])[:16].
func V2(environment, host, checkOrService, normalizedSignature string) string {
	components := []string{
		normalizeComponent(environment),
		normalizeComponent(host),
		normalizeComponent(checkOrService),
		normalizeSignatureComponent(normalizedSignature),
	}
	return hash16(strings.Join(components, "|"))
}

// V1 computes the legacy fingerprint, kept for lookup fallback during
// migration. The component set matches v2 but the whole string is
// lowered at once, matching historical values byte for byte.
func V1(environment, host, checkOrService, normalizedSignature string) string {
	if len(normalizedSignature) > 200 {
		normalizedSignature = normalizedSignature[:200]
	}
	joined := strings.Join([]string{environment, host, checkOrService, normalizedSignature}, "|")
	return hash16(strings.ToLower(joined))
}

func normalizeComponent(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func normalizeSignatureComponent(signature string) string {
	if len(signature) > 200 {
		signature = signature[:200]
	}
	return strings.ToLower(signature)
}

func hash16(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}
