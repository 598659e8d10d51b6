// Package strutil provides small string helpers shared by the ai packages.
package strutil

// Truncate shortens s to at most maxLen runes, appending an ellipsis when
// anything was cut. Rune-level so multi-byte text is never split mid-character.
func Truncate(s string, maxLen int) string {
	if s == "" || maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
