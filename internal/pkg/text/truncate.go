// Package text holds small string helpers shared by notifier and client code.
package text

// Truncate cuts s to at most max runes and marks the cut with "...". It never
// splits a multi-byte character.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
