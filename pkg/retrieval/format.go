package retrieval

import "strings"

// FormatContext renders ranked candidates as the memory section text for
// context assembly, one memory per line block in rank order.
func FormatContext(candidates []*Candidate) string {
	if len(candidates) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, c := range candidates {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(c.Memory.Content)
	}
	return sb.String()
}
