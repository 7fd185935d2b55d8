// Package util provides shared utility functions used across the codebase.
package util

import "strings"

// SplitCSV splits a comma-separated flag value into a slice, trimming
// whitespace and dropping empty entries. Returns nil for empty input, so
// an unset flag means "no filter".
func SplitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var result []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
