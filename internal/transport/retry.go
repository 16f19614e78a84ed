package transport

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// maxRateLimitWait caps any wait derived from a 429 response.
	maxRateLimitWait = 60 * time.Second
	// fallbackRateLimitWait applies when a 429 carries no usable hint.
	fallbackRateLimitWait = 60 * time.Second
)

// linearBackoff is the wait after a failed attempt: base scaled by the
// 1-based attempt number.
func linearBackoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 || attempt <= 0 {
		return 0
	}
	return base * time.Duration(attempt)
}

// rateLimitWait derives the wait from a Retry-After header value, which may be
// delta-seconds or an HTTP-date. The result is capped at maxRateLimitWait.
func rateLimitWait(header string, now time.Time) time.Duration {
	wait := fallbackRateLimitWait
	header = strings.TrimSpace(header)
	if header != "" {
		if secs, err := strconv.Atoi(header); err == nil {
			wait = time.Duration(secs) * time.Second
		} else if at, err := http.ParseTime(header); err == nil {
			wait = at.Sub(now)
		}
	}
	if wait < 0 {
		wait = 0
	}
	if wait > maxRateLimitWait {
		wait = maxRateLimitWait
	}
	return wait
}

// pauseController abstracts how the client waits between attempts.
type pauseController interface {
	Pause(ctx context.Context, delay time.Duration)
}

type timerPauseController struct{}

func (p *timerPauseController) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
