package utils

import "strings"

// ParseList splits a comma-separated setting into trimmed, non-empty,
// de-duplicated values in first-seen order. Returns nil when nothing remains.
func ParseList(s string) []string {
	var result []string
	seen := make(map[string]struct{})
	for _, v := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}
