package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
)

const (
	subjectPrefixLen = 50
	bodyMarkerScan   = 2000
)

var (
	bracketNumRe = regexp.MustCompile(`\[\d+\]`)
	dateRe       = regexp.MustCompile(`\d{4}-\d{2}-\d{2}|\d{2}/\d{2}/\d{4}`)
	digitsRe     = regexp.MustCompile(`\d+`)
)

// markerVocabulary is the fixed set of structural markers probed in the
// body. Marker presence, not position, contributes to the signature.
var markerVocabulary = []string{
	"severity", "status", "alert", "host:", "service:",
	"critical", "warning", "problem", "recovery",
	"impact", "duration", "opened", "closed",
}

// FromDomain extracts the domain portion of a sender address, lowercased.
func FromDomain(from string) string {
	from = strings.ToLower(strings.TrimSpace(from))
	if idx := strings.LastIndex(from, "@"); idx >= 0 {
		from = from[idx+1:]
	}
	return strings.TrimSuffix(from, ">")
}

// SubjectPrefix masks the volatile parts of a subject and truncates it,
// so all emails of one format share a prefix.
func SubjectPrefix(subject string) string {
	// Mask before truncating so digit runs of different widths collapse
	// to the same prefix instead of shifting the cut point.
	s := bracketNumRe.ReplaceAllString(subject, "[*]")
	s = dateRe.ReplaceAllString(s, "*DATE*")
	s = digitsRe.ReplaceAllString(s, "*N*")
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) > subjectPrefixLen {
		s = s[:subjectPrefixLen]
	}
	return s
}

// BodyMarkers returns the sorted vocabulary markers present in the first
// 2000 characters of the body.
func BodyMarkers(body string) []string {
	if len(body) > bodyMarkerScan {
		body = body[:bodyMarkerScan]
	}
	body = strings.ToLower(body)

	var markers []string
	for _, m := range markerVocabulary {
		if strings.Contains(body, m) {
			markers = append(markers, m)
		}
	}
	sort.Strings(markers)
	return markers
}

// FormatSignature computes the 16-hex-char structural signature used as
// the pattern cache key.
func FormatSignature(from, subject, body string) string {
	parts := FromDomain(from) + "|" + SubjectPrefix(subject) + "|" + strings.Join(BodyMarkers(body), ",")
	sum := sha256.Sum256([]byte(parts))
	return hex.EncodeToString(sum[:])[:16]
}
