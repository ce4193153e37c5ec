package service

import (
	"time"
	"unicode/utf8"
)

const (
	baseRetryDelay  = time.Second
	maxRetryDelay   = 60 * time.Second
	maxRetryShift   = 10
	MaxLastErrorLen = 1000
)

// RetryDelay returns how long a row waits after its attempt-th failed publish:
// min(60s, 1s * 2^min(10, max(0, attempt-1)))
func RetryDelay(attempt int) time.Duration {
	shift := min(maxRetryShift, max(0, attempt-1))
	return min(maxRetryDelay, baseRetryDelay<<shift)
}

// Truncate cuts s to at most n characters without splitting a multi-byte rune
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
