// Package redact provides best-effort masking of sensitive values in
// user-facing memory text. The transparency listing returns stored memory
// content to the owning user; anything that looks like a credential, contact
// detail, or long identifier is masked before it leaves the process.
//
// Redaction operates on string representations only. It is not a substitute
// for keeping secrets out of stored content in the first place.
package redact

import (
	"regexp"
	"strings"
)

const placeholder = "[redacted]"

var (
	// emailPattern matches ordinary email addresses.
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

	// phonePattern matches phone-like digit runs with optional separators,
	// at least 7 digits total.
	phonePattern = regexp.MustCompile(`\+?\d[\d\s\-().]{5,}\d`)

	// longNumberPattern matches bare digit runs of 7+ (account numbers,
	// card fragments). Shorter runs (years, quantities) pass through.
	longNumberPattern = regexp.MustCompile(`\b\d{7,}\b`)
)

// String masks emails, phone-like sequences, and long digit runs in s.
func String(s string) string {
	s = emailPattern.ReplaceAllString(s, placeholder)
	s = phonePattern.ReplaceAllStringFunc(s, func(m string) string {
		if countDigits(m) >= 7 {
			return placeholder
		}
		return m
	})
	s = longNumberPattern.ReplaceAllString(s, placeholder)
	return s
}

// Values replaces every occurrence of each sensitive value in s with the
// placeholder. Values shorter than 4 characters are skipped to avoid
// spurious redaction of common substrings.
func Values(s string, sensitive ...string) string {
	for _, v := range sensitive {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
