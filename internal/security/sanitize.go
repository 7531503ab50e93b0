// sanitize.go - Cleanup of generated query text before validation.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"strings"
	"unicode"
)

// Sanitize strips markdown code fences and surrounding whitespace from
// candidate query text, then cuts it at the first statement terminator that
// is not inside a quoted literal. The terminator itself is kept; anything
// after it is discarded, so a second statement never reaches the gate.
func Sanitize(raw string) string {
	s := strings.TrimSpace(raw)
	s = stripFences(s)
	s = strings.TrimSpace(s)
	if i := firstTerminator(s); i >= 0 {
		s = s[:i+1]
	}
	return strings.TrimSpace(s)
}

// stripFences removes ```sql / ``` markers. Generators often wrap the whole
// answer in a fence, sometimes with commentary around it; only the fenced
// body is kept in that case.
func stripFences(s string) string {
	const fence = "```"
	start := strings.Index(s, fence)
	if start < 0 {
		return s
	}
	body := s[start+len(fence):]
	// Language tag on the opening fence line.
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		tag := strings.TrimSpace(body[:nl])
		if tag == "" || isFenceTag(tag) {
			body = body[nl+1:]
		}
	} else if lower := strings.ToLower(body); strings.HasPrefix(lower, "sql") {
		body = body[3:]
	}
	if end := strings.Index(body, fence); end >= 0 {
		body = body[:end]
	}
	return strings.ReplaceAll(body, fence, "")
}

func isFenceTag(tag string) bool {
	switch strings.ToLower(tag) {
	case "sql", "sqlite", "sqlite3":
		return true
	}
	return false
}

// firstTerminator returns the byte index of the first ';' outside single
// quotes, double quotes, a bracketed identifier, or a comment, or -1.
func firstTerminator(s string) int {
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				// Doubled quote is an escaped quote inside the literal.
				if i+1 < len(s) && s[i+1] == quote && quote != ']' {
					i++
					continue
				}
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '[':
			quote = ']'
		case '-':
			if i+1 < len(s) && s[i+1] == '-' {
				nl := strings.IndexByte(s[i:], '\n')
				if nl < 0 {
					return -1
				}
				i += nl
			}
		case '/':
			if i+1 < len(s) && s[i+1] == '*' {
				end := strings.Index(s[i+2:], "*/")
				if end < 0 {
					return -1
				}
				i += end + 3
			}
		case ';':
			return i
		}
	}
	return -1
}

// skipSpaceAndComments drops leading whitespace and SQL comments. An
// unterminated block comment swallows the rest of the text.
func skipSpaceAndComments(s string) string {
	for {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		switch {
		case strings.HasPrefix(s, "--"):
			nl := strings.IndexByte(s, '\n')
			if nl < 0 {
				return ""
			}
			s = s[nl+1:]
		case strings.HasPrefix(s, "/*"):
			end := strings.Index(s[2:], "*/")
			if end < 0 {
				return ""
			}
			s = s[end+4:]
		default:
			return s
		}
	}
}
