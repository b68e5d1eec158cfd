// Package tokens provides approximate token accounting and budget-aware text
// trimming for context assembly. Counts are estimates (roughly 4 characters
// per token for English prose) — good enough for enforcing prompt ceilings,
// not for billing.
package tokens

import (
	"strings"
	"unicode/utf8"
)

// charsPerToken is the rough character-to-token ratio used for estimation.
const charsPerToken = 4

// TruncationMarker is appended whenever trimming removed text.
const TruncationMarker = "[truncated]"

// Estimate returns the approximate token count of text.
// Empty text costs zero; anything non-empty costs at least one token.
func Estimate(text string) int {
	return estimateRunes(utf8.RuneCountInString(text))
}

func estimateRunes(n int) int {
	if n == 0 {
		return 0
	}
	return (n + charsPerToken - 1) / charsPerToken
}

// TrimToBudget cuts text down to at most budget tokens, only at line
// boundaries, and appends TruncationMarker when anything was removed.
// A budget of zero or less, or one too small for even the marker, yields the
// empty string. The marker and joining newlines are costed inside the budget
// so the returned text never exceeds it.
func TrimToBudget(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if Estimate(text) <= budget {
		return text
	}

	markerRunes := utf8.RuneCountInString(TruncationMarker)
	if estimateRunes(markerRunes) > budget {
		return ""
	}

	// Cost the output as it will actually be joined: kept lines separated
	// by newlines, then a newline and the marker.
	lines := strings.Split(text, "\n")
	var kept []string
	runes := 0
	for _, line := range lines {
		candidate := runes + utf8.RuneCountInString(line)
		if len(kept) > 0 {
			candidate++
		}
		if estimateRunes(candidate+1+markerRunes) > budget {
			break
		}
		kept = append(kept, line)
		runes = candidate
	}

	if len(kept) == 0 {
		return TruncationMarker
	}

	return strings.Join(kept, "\n") + "\n" + TruncationMarker
}

// SplitSentences breaks text into sentences on terminal punctuation,
// preserving the punctuation on each sentence. Newlines are also treated as
// boundaries so list-style content splits cleanly.
func SplitSentences(text string) []string {
	var out []string
	var sb strings.Builder

	flush := func() {
		s := strings.TrimSpace(sb.String())
		if s != "" {
			out = append(out, s)
		}
		sb.Reset()
	}

	for _, r := range text {
		switch r {
		case '.', '!', '?':
			sb.WriteRune(r)
			flush()
		case '\n':
			flush()
		default:
			sb.WriteRune(r)
		}
	}
	flush()

	return out
}
