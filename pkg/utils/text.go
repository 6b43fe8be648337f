package utils

// Truncate returns the first n runes of s. It never splits a multibyte
// rune, so valid UTF-8 in gives valid UTF-8 out.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
