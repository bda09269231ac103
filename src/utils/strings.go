package utils

import (
	"fmt"
	"sort"
	"unicode/utf8"
)

// -----------------------------------------------------------------------------

// Truncate shortens s to at most width runes, marking the cut with "...".
func Truncate(s string, width int) string {
	if width <= 0 || utf8.RuneCountInString(s) <= width {
		return s
	}
	if width <= 3 {
		return string([]rune(s)[:width])
	}
	return string([]rune(s)[:width-3]) + "..."
}

// -----------------------------------------------------------------------------

// TruncateValues renders every value of m and truncates it to width.
func TruncateValues(m map[string]any, width int) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = Truncate(fmt.Sprint(v), width)
	}
	return out
}

// -----------------------------------------------------------------------------

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
