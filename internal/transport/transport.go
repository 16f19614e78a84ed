// Package transport performs the single timed, retried HTTP GET used to pull
// feed documents. Every terminal condition resolves to a Result; callers never
// see a Go error from Fetch.
package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/feeddigest/internal/feed"
)

const (
	defaultUserAgent    = "feeddigest/1.0"
	defaultAccept       = "application/rss+xml, application/atom+xml, application/xml, text/xml, */*"
	defaultTimeout      = 15 * time.Second
	defaultMaxBodyBytes = 10 * 1024 * 1024
)

// Config controls the shared client.
type Config struct {
	UserAgent    string
	ProxyURL     string
	MaxBodyBytes int
}

// Options are the per-call knobs. MaxRetries is the total attempt budget.
type Options struct {
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// Result is the structured outcome of a Fetch.
type Result struct {
	OK       bool
	Status   int
	Body     string
	Error    string
	Kind     feed.ErrorKind
	Attempts int
}

// HostWaiter gates attempts per host. The ratelimit package satisfies it.
type HostWaiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Observer receives per-attempt telemetry.
type Observer interface {
	ObserveAttempt(host string, outcome string, d time.Duration)
	ObserveRateLimitWait(host string, d time.Duration)
}

// Client fetches feed documents over a shared, proxy-aware transport.
type Client struct {
	cfg       Config
	transport http.RoundTripper
	waiter    HostWaiter
	observer  Observer
	pauser    pauseController
	now       func() time.Time
	logger    *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHostWaiter installs a per-host gate applied before every attempt.
func WithHostWaiter(w HostWaiter) Option {
	return func(c *Client) { c.waiter = w }
}

// WithObserver installs an attempt observer.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithRoundTripper replaces the HTTP transport. Mostly useful in tests.
func WithRoundTripper(rt http.RoundTripper) Option {
	return func(c *Client) { c.transport = rt }
}

func withPauser(p pauseController) Option {
	return func(c *Client) { c.pauser = p }
}

// New builds a Client. An invalid proxy URL is a configuration error.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	rt, err := newHTTPTransport(cfg.ProxyURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		cfg:       cfg,
		transport: rt,
		observer:  nopObserver{},
		pauser:    &timerPauseController{},
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// newHTTPTransport routes through proxyURL when set, otherwise through
// whatever HTTP(S)_PROXY/NO_PROXY the process environment names.
func newHTTPTransport(proxyURL string) (*http.Transport, error) {
	proxy := http.ProxyFromEnvironment
	if strings.TrimSpace(proxyURL) != "" {
		u, err := url.Parse(proxyURL)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy url %q", proxyURL)
		}
		proxy = http.ProxyURL(u)
	}
	return &http.Transport{
		Proxy: proxy,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}, nil
}

type nopObserver struct{}

func (nopObserver) ObserveAttempt(string, string, time.Duration) {}
func (nopObserver) ObserveRateLimitWait(string, time.Duration)   {}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
