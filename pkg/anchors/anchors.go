// Package anchors extracts structured sub-facts from normalized text:
// proper names (including non-ASCII characters), temporal expressions
// (durations and absolute years), numeric and currency values, and
// ordinals. Extraction happens once at write time, per utterance;
// cross-utterance joining is the retrieval engine's job.
package anchors

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/engramhq/engram/pkg/memory"
)

var (
	durationPattern = regexp.MustCompile(`(?i)\b(\d{1,2})\s+years?\b`)
	yearPattern     = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
	currencyPattern = regexp.MustCompile(`[$€£]\s?(\d[\d,]*(?:\.\d+)?)`)
	numberPattern   = regexp.MustCompile(`\b\d[\d,]*(?:\.\d+)?\b`)
	ordinalSuffix   = regexp.MustCompile(`(?i)\b(\d{1,2})(st|nd|rd|th)\b`)
)

// ordinalWords maps spelled-out ordinals to their position.
var ordinalWords = map[string]int{
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
	"sixth": 6, "seventh": 7, "eighth": 8, "ninth": 9, "tenth": 10,
}

// leadingStopwords are capitalized words that never start a proper name.
// Keeps sentence-initial articles and pronouns out of the name table.
var leadingStopwords = map[string]bool{
	"i": true, "my": true, "the": true, "a": true, "an": true,
	"he": true, "she": true, "they": true, "we": true, "it": true,
	"his": true, "her": true, "their": true, "our": true, "your": true,
	"this": true, "that": true, "these": true, "those": true,
	"remember": true, "please": true, "also": true, "and": true,
	"in": true, "on": true, "at": true, "when": true, "what": true,
	"who": true, "where": true, "why": true, "how": true,
}

// Extract derives the anchor side-table from text.
func Extract(text string) memory.Anchors {
	var a memory.Anchors

	a.Names = extractNames(text)
	for _, n := range a.Names {
		if !isASCII(n) {
			a.UnicodeNames = append(a.UnicodeNames, n)
		}
	}

	a.Temporal = extractTemporal(text)
	a.Numeric = extractNumeric(text)

	return a
}

// Ordinal returns the first ordinal found in text and true, or 0 and false.
// Shared by the extractor and the retrieval engine's query parsing.
func Ordinal(text string) (int, bool) {
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?\"'")
		if n, ok := ordinalWords[word]; ok {
			return n, true
		}
	}
	if m := ordinalSuffix.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			return n, true
		}
	}
	return 0, false
}

// extractNames finds maximal runs of capitalized words, keeping internal
// apostrophes and hyphens so "Björn O'Shaughnessy" and "José García-López"
// each stay one unit.
func extractNames(text string) []string {
	var names []string
	var run []string

	flush := func() {
		if len(run) > 0 {
			names = append(names, strings.Join(run, " "))
			run = nil
		}
	}

	for _, raw := range strings.Fields(text) {
		word := strings.Trim(raw, ".,;:!?\"()[]")
		if word == "" {
			flush()
			continue
		}

		if isNameWord(word) && !(len(run) == 0 && leadingStopwords[strings.ToLower(word)]) {
			run = append(run, word)
		} else {
			flush()
		}

		// Terminal punctuation inside raw ends the run even if the word
		// itself qualified.
		if strings.ContainsAny(raw, ".,;:!?") && len(run) > 0 {
			flush()
		}
	}
	flush()

	return dedupe(names)
}

// isNameWord reports whether word looks like one unit of a proper name:
// leading uppercase letter, remaining runes letters, apostrophes, or
// hyphens (with letters on both sides).
func isNameWord(word string) bool {
	runes := []rune(word)
	if len(runes) < 2 {
		return false
	}
	if !unicode.IsUpper(runes[0]) {
		return false
	}
	for i, r := range runes[1:] {
		if unicode.IsLetter(r) {
			continue
		}
		if (r == '\'' || r == '-' || r == '’') && i+1 < len(runes)-1 {
			continue
		}
		return false
	}
	// All-caps acronyms (NASA, CHARLIE) count as names too.
	return true
}

func extractTemporal(text string) []memory.TemporalAnchor {
	var out []memory.TemporalAnchor

	for _, m := range durationPattern.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		out = append(out, memory.TemporalAnchor{Kind: "duration_years", Value: n})
	}

	for _, m := range yearPattern.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		out = append(out, memory.TemporalAnchor{Kind: "year", Value: n})
	}

	return out
}

func extractNumeric(text string) []memory.NumericAnchor {
	var out []memory.NumericAnchor
	claimed := map[string]bool{}

	if n, ok := Ordinal(text); ok {
		out = append(out, memory.NumericAnchor{Kind: "ordinal", Value: float64(n)})
	}

	for _, m := range currencyPattern.FindAllStringSubmatch(text, -1) {
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil {
			continue
		}
		out = append(out, memory.NumericAnchor{Kind: "currency", Value: v, Raw: m[0]})
		claimed[m[1]] = true
	}

	for _, m := range numberPattern.FindAllString(text, -1) {
		if claimed[m] || yearPattern.MatchString(m) {
			continue
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
		if err != nil {
			continue
		}
		out = append(out, memory.NumericAnchor{Kind: "number", Value: v, Raw: m})
	}

	return out
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
