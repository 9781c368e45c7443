// Package strings provides small helpers for normalizing configured
// string lists.
package strings

import (
	"strings"
)

// DedupeAndTrimLower trims whitespace, lowercases and deduplicates a
// slice, dropping elements that end up empty. Order of first occurrence
// is preserved. Label lists from the environment pass through here so
// that " Tampering, tampering ," and "tampering" configure the same set.
func DedupeAndTrimLower(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		normalized := strings.ToLower(strings.TrimSpace(v))
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; !ok {
			seen[normalized] = struct{}{}
			result = append(result, normalized)
		}
	}

	return result
}
