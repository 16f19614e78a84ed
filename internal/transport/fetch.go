package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/feeddigest/internal/feed"
)

// attemptResult is what a single GET produced.
type attemptResult struct {
	status  int
	headers http.Header
	body    []byte
}

// Fetch performs up to opts.MaxRetries sequential attempts against rawURL.
func (c *Client) Fetch(ctx context.Context, rawURL string, opts Options) Result {
	attempts := opts.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	host := hostOf(rawURL)
	log := c.logger.With(zap.String("url", rawURL))

	var last Result
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			last = Result{Error: fmt.Sprintf("canceled: %v", err), Kind: feed.KindCanceled, Attempts: attempt - 1}
			break
		}
		if c.waiter != nil {
			if err := c.waiter.Wait(ctx, rawURL); err != nil {
				kind := feed.KindNetwork
				if ctx.Err() != nil {
					kind = feed.KindCanceled
				}
				last = Result{Error: err.Error(), Kind: kind, Attempts: attempt - 1}
				break
			}
		}

		start := time.Now()
		res, err := c.attempt(ctx, rawURL, timeout)
		elapsed := time.Since(start)
		retriesLeft := attempt < attempts

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				c.observer.ObserveAttempt(host, string(feed.KindCanceled), elapsed)
				last = Result{Error: fmt.Sprintf("canceled: %v", ctxErr), Kind: feed.KindCanceled, Attempts: attempt}
				break
			}
			kind, msg := classifyError(err, timeout)
			c.observer.ObserveAttempt(host, string(kind), elapsed)
			last = Result{Error: msg, Kind: kind}
			log.Debug("fetch attempt failed", zap.Int("attempt", attempt), zap.String("error", msg))
			if retriesLeft {
				c.pauser.Pause(ctx, linearBackoff(opts.RetryDelay, attempt))
			}
			last.Attempts = attempt
			continue
		}

		switch {
		case res.status == http.StatusTooManyRequests:
			c.observer.ObserveAttempt(host, string(feed.KindRateLimited), elapsed)
			if !retriesLeft {
				return Result{
					Status:   http.StatusTooManyRequests,
					Error:    "rate limited",
					Kind:     feed.KindRateLimited,
					Attempts: attempt,
				}
			}
			wait := rateLimitWait(res.headers.Get("Retry-After"), c.now())
			log.Info("rate limited, honoring retry hint",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
			)
			c.observer.ObserveRateLimitWait(host, wait)
			c.pauser.Pause(ctx, wait)
			last = Result{Status: res.status, Error: "rate limited", Kind: feed.KindRateLimited, Attempts: attempt}
		case res.status < 200 || res.status >= 300:
			c.observer.ObserveAttempt(host, string(feed.KindHTTPStatus), elapsed)
			last = Result{
				Status:   res.status,
				Error:    fmt.Sprintf("HTTP %d", res.status),
				Kind:     feed.KindHTTPStatus,
				Attempts: attempt,
			}
			if retriesLeft {
				c.pauser.Pause(ctx, linearBackoff(opts.RetryDelay, attempt))
			}
		default:
			c.observer.ObserveAttempt(host, "ok", elapsed)
			return Result{OK: true, Status: res.status, Body: string(res.body), Attempts: attempt}
		}
	}
	last.OK = false
	last.Body = ""
	return last
}

// attempt issues one GET bounded by its own timeout.
func (c *Client) attempt(ctx context.Context, rawURL string, timeout time.Duration) (attemptResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		result   attemptResult
		fetchErr error
	)
	collector := c.buildCollector(attemptCtx, timeout, &result, &fetchErr)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-attemptCtx.Done():
		return attemptResult{}, fmt.Errorf("colly fetch: %w", attemptCtx.Err())
	case err := <-done:
		if err != nil {
			return attemptResult{}, fmt.Errorf("colly visit: %w", err)
		}
		if fetchErr != nil {
			return attemptResult{}, fmt.Errorf("colly response: %w", fetchErr)
		}
		return result, nil
	}
}

// buildCollector creates a fresh collector per attempt so concurrent sources
// never share request timeouts or visit history.
func (c *Client) buildCollector(
	ctx context.Context,
	timeout time.Duration,
	result *attemptResult,
	fetchErr *error,
) *colly.Collector {
	collector := colly.NewCollector(
		colly.UserAgent(c.cfg.UserAgent),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(c.cfg.MaxBodyBytes),
		colly.StdlibContext(ctx),
	)
	collector.WithTransport(c.transport)
	collector.SetRequestTimeout(timeout)

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", defaultAccept)
	})
	collector.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = attemptResult{
			status:  r.StatusCode,
			headers: headers,
			body:    append([]byte(nil), r.Body...),
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
	return collector
}

// classifyError maps an attempt error onto a failure kind and message.
func classifyError(err error, timeout time.Duration) (feed.ErrorKind, string) {
	if errors.Is(err, context.DeadlineExceeded) {
		return feed.KindTimeout, fmt.Sprintf("timeout after %s", timeout)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return feed.KindTimeout, fmt.Sprintf("timeout after %s", timeout)
	}
	if strings.Contains(err.Error(), "Client.Timeout exceeded") {
		return feed.KindTimeout, fmt.Sprintf("timeout after %s", timeout)
	}
	return feed.KindNetwork, err.Error()
}
