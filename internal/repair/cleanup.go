// Package repair salvages model output: it cuts the JSON payload out of
// surrounding prose, strips comments and trailing commas, and rewrites the
// parsed tree into the canonical key and value shapes. Nothing here does I/O.
package repair

import (
	"regexp"
	"strings"
)

var reFence = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")

// Cleanup extracts the JSON payload from raw model text.
// Fenced content wins; otherwise the span from the first '{' to the last '}'
// is used. Comments and trailing commas outside string literals are removed.
func Cleanup(raw string) string {
	text := strings.TrimSpace(raw)
	if m := reFence.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	} else {
		start := strings.IndexByte(text, '{')
		end := strings.LastIndexByte(text, '}')
		if start >= 0 && end > start {
			text = text[start : end+1]
		}
	}
	return strings.TrimSpace(stripNoise(text))
}

// stripNoise drops // and /* */ comments and commas that directly precede a
// closing bracket, leaving string literals untouched.
func stripNoise(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch {
		case c == '"':
			inString = true
			b.WriteByte(c)
		case c == '/' && i+1 < len(s) && s[i+1] == '/':
			for i < len(s) && s[i] != '\n' {
				i++
			}
			if i < len(s) {
				b.WriteByte('\n')
			}
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				// unterminated: keep the rest so the parse error points at it
				b.WriteString(s[i:])
				return b.String()
			}
			i += 2 + end + 1
		case c == ',' && closesNext(s[i+1:]):
			// trailing comma
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// closesNext reports whether the next non-space, non-comment byte closes an object or array.
func closesNext(rest string) bool {
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case ' ', '\t', '\n', '\r':
			continue
		case '}', ']':
			return true
		case '/':
			if i+1 < len(rest) && rest[i+1] == '/' {
				nl := strings.IndexByte(rest[i:], '\n')
				if nl < 0 {
					return false
				}
				i += nl
				continue
			}
			if i+1 < len(rest) && rest[i+1] == '*' {
				end := strings.Index(rest[i+2:], "*/")
				if end < 0 {
					return false
				}
				i += 2 + end + 1
				continue
			}
			return false
		default:
			return false
		}
	}
	return false
}
