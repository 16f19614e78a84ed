package transport

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLinearBackoff(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Duration(0), linearBackoff(0, 3))
	assert.Equal(t, 2*time.Second, linearBackoff(2*time.Second, 1))
	assert.Equal(t, 6*time.Second, linearBackoff(2*time.Second, 3))
}

func TestRateLimitWait(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	cases := []struct {
		name   string
		header string
		want   time.Duration
	}{
		{"delta seconds", "5", 5 * time.Second},
		{"missing hint", "", fallbackRateLimitWait},
		{"garbage hint", "soon", fallbackRateLimitWait},
		{"capped", "3600", maxRateLimitWait},
		{"negative", "-4", 0},
		{"http date", now.Add(12 * time.Second).Format(http.TimeFormat), 12 * time.Second},
		{"past date", now.Add(-time.Minute).Format(http.TimeFormat), 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, rateLimitWait(tc.header, now))
		})
	}
}
