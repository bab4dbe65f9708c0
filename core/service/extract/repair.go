package extract

import (
	"strings"
)

// RepairJSON strips the noise language models wrap around JSON documents
// and fixes the escape pathologies seen in practice: markdown fences,
// raw-string prefixes, and invalid backslash escape sequences.
func RepairJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	// Some models emit python-style raw strings: r"..." or r'...'.
	s = strings.ReplaceAll(s, `r"`, `"`)
	s = strings.ReplaceAll(s, `r'`, `'`)

	// Cut to the outermost object when the model added prose around it.
	if start := strings.Index(s, "{"); start > 0 {
		s = s[start:]
	}
	if end := strings.LastIndex(s, "}"); end >= 0 && end < len(s)-1 {
		s = s[:end+1]
	}

	return fixEscapes(s)
}

// fixEscapes doubles any backslash that does not start a valid JSON
// escape. Regex patterns like \d or \s inside rule strings are the usual
// offenders.
func fixEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(s) {
			b.WriteString(`\\`)
			break
		}
		next := s[i+1]
		switch next {
		case '"', '\\', '/', 'b', 'f', 'n', 'r', 't', 'u':
			b.WriteByte(c)
			b.WriteByte(next)
			i++
		default:
			b.WriteString(`\\`)
			b.WriteByte(next)
			i++
		}
	}

	return b.String()
}
