package service

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelay(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: -3, want: time.Second},
		{attempt: 0, want: time.Second},
		{attempt: 1, want: time.Second},
		{attempt: 2, want: 2 * time.Second},
		{attempt: 3, want: 4 * time.Second},
		{attempt: 4, want: 8 * time.Second},
		{attempt: 5, want: 16 * time.Second},
		{attempt: 6, want: 32 * time.Second},
		{attempt: 7, want: 60 * time.Second},
		{attempt: 8, want: 60 * time.Second},
		{attempt: 9, want: 60 * time.Second},
		{attempt: 10, want: 60 * time.Second},
		{attempt: 11, want: 60 * time.Second},
		{attempt: 12, want: 60 * time.Second},
		{attempt: 1000, want: 60 * time.Second},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, RetryDelay(tc.attempt), "attempt %d", tc.attempt)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", MaxLastErrorLen))
	assert.Len(t, Truncate(strings.Repeat("a", 1500), MaxLastErrorLen), 1000)

	accented := strings.Repeat("é", 1200)
	got := Truncate(accented, MaxLastErrorLen)
	assert.Equal(t, 1000, len([]rune(got)))
	assert.Equal(t, strings.Repeat("é", 1000), got)
}
