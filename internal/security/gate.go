// gate.go - Read-only safety gate for candidate queries.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// MutationKeywords are rejected wherever they appear as a whole token.
// ATTACH and DETACH are included because a query that could run them would
// change its own federation.
var MutationKeywords = []string{
	"DROP", "DELETE", "INSERT", "UPDATE", "ALTER",
	"TRUNCATE", "CREATE", "GRANT", "REVOKE", "COMMIT",
	"ATTACH", "DETACH",
}

// Rejection reasons.
const (
	ReasonEmpty    = "empty query"
	ReasonNotRead  = "not a read-only statement"
	ReasonMultiple = "multiple statements"
	reasonKeyword  = "forbidden keyword: "
	keywordPattern = `(?i)(?:^|[^A-Za-z0-9_])(%s)(?:$|[^A-Za-z0-9_])`
)

var mutationRe = regexp.MustCompile(strings.Replace(keywordPattern, "%s", strings.Join(MutationKeywords, "|"), 1))

// =============================================================================
// VERDICT
// =============================================================================

// Verdict is the gate's decision for one query.
type Verdict struct {
	Allowed bool
	// Reason is set when the query is rejected.
	Reason string
	// Keyword is the offending mutation keyword, upper-cased, if any.
	Keyword string
}

// Rejected reports whether the query was refused.
func (v Verdict) Rejected() bool { return !v.Allowed }

// Validate decides whether a sanitized query may run. It is a pure function
// of the text: the grants do not widen or narrow what is accepted, because
// store scope is enforced by the federation itself. Grants are accepted so
// callers can pass the full request context to one place.
func Validate(query string, _ Grants) Verdict {
	text := norm.NFKC.String(strings.TrimSpace(query))
	if text == "" || text == ";" {
		return Verdict{Reason: ReasonEmpty}
	}

	if m := mutationRe.FindStringSubmatch(text); m != nil {
		kw := strings.ToUpper(m[1])
		return Verdict{Reason: reasonKeyword + kw, Keyword: kw}
	}

	// Sanitize already cuts at the first terminator; text that still
	// carries a second statement did not come through it.
	if i := firstTerminator(text); i >= 0 && skipSpaceAndComments(text[i+1:]) != "" {
		return Verdict{Reason: ReasonMultiple}
	}

	switch strings.ToUpper(leadingWord(text)) {
	case "SELECT", "WITH":
		return Verdict{Allowed: true}
	case "":
		return Verdict{Reason: ReasonEmpty}
	}
	return Verdict{Reason: ReasonNotRead}
}

// leadingWord returns the first identifier-like word after skipping
// whitespace, opening parentheses and SQL comments.
func leadingWord(s string) string {
	for {
		s = strings.TrimLeftFunc(s, func(r rune) bool { return unicode.IsSpace(r) || r == '(' })
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
			end := strings.IndexFunc(s, func(r rune) bool {
				return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
			})
			if end < 0 {
				return s
			}
			return s[:end]
		}
	}
}
