package util

import (
	"math"
)

// Head returns the first n runes of s. It never splits a UTF-8 sequence.
func Head(s string, n int) string {
	if n <= 0 {
		return ""
	}
	// fast path: byte length bounds rune count
	if len(s) <= n {
		return s
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

// Excerpt returns the first n runes of s followed by "..." when s was cut.
func Excerpt(s string, n int) string {
	h := Head(s, n)
	if len(h) < len(s) {
		return h + "..."
	}
	return h
}

// Round rounds x to the given number of decimal places, half away from zero.
func Round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
