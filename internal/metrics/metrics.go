// Package metrics exposes Prometheus collectors for feed runs.
//
// Collectors live on an explicit registry so a batch run can export them with
// WriteTextfile and tests can inspect them in isolation.
package metrics

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/feeddigest/internal/feed"
)

// Source results used as label values.
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

// Collectors owns every feed pipeline collector.
type Collectors struct {
	registry *prometheus.Registry

	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	rateLimitWaits  *prometheus.CounterVec
	hostDelay       *prometheus.HistogramVec
	inFlight        prometheus.Gauge

	sources     *prometheus.CounterVec
	itemsParsed prometheus.Counter
	itemsNew    prometheus.Counter
	seenPruned  prometheus.Counter
	seenSize    prometheus.Gauge
	stageTime   *prometheus.HistogramVec
	lastRun     *prometheus.GaugeVec
}

// New registers the collectors against a fresh registry.
func New() (*Collectors, error) {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry registers the collectors against reg.
func NewWithRegistry(reg *prometheus.Registry) (*Collectors, error) {
	c := &Collectors{
		registry: reg,
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feeddigest_fetch_attempts_total",
			Help: "HTTP attempts against sources partitioned by host and outcome.",
		}, []string{"host", "outcome"}),
		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "feeddigest_fetch_attempt_duration_seconds",
			Help:    "Duration of individual HTTP attempts partitioned by outcome.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15, 30},
		}, []string{"outcome"}),
		rateLimitWaits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feeddigest_rate_limited_waits_total",
			Help: "Waits triggered by 429 responses, by host.",
		}, []string{"host"}),
		hostDelay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "feeddigest_host_delay_seconds",
			Help:    "Time spent waiting for a per-host rate limit token.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"host"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feeddigest_fetch_in_flight",
			Help: "Sources currently being fetched.",
		}),
		sources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feeddigest_sources_total",
			Help: "Sources processed per run partitioned by result.",
		}, []string{"result"}),
		itemsParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feeddigest_items_parsed_total",
			Help: "Items extracted from fetched documents.",
		}),
		itemsNew: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feeddigest_items_new_total",
			Help: "Items that passed the window and dedupe filter.",
		}),
		seenPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feeddigest_seen_pruned_total",
			Help: "Seen-store entries dropped by retention.",
		}),
		seenSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feeddigest_seen_entries",
			Help: "Seen-store size after the last filter run.",
		}),
		stageTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "feeddigest_stage_duration_seconds",
			Help:    "Wall time per pipeline stage.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"stage"}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "feeddigest_last_run_timestamp_seconds",
			Help: "Unix time a stage last completed.",
		}, []string{"stage"}),
	}
	for _, collector := range []prometheus.Collector{
		c.attempts,
		c.attemptDuration,
		c.rateLimitWaits,
		c.hostDelay,
		c.inFlight,
		c.sources,
		c.itemsParsed,
		c.itemsNew,
		c.seenPruned,
		c.seenSize,
		c.stageTime,
		c.lastRun,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register feed collector: %w", err)
		}
	}
	return c, nil
}

// Registry exposes the underlying registry.
func (c *Collectors) Registry() *prometheus.Registry { return c.registry }

// ObserveAttempt records a single HTTP attempt.
func (c *Collectors) ObserveAttempt(host, outcome string, d time.Duration) {
	c.attempts.WithLabelValues(SanitizeSite(host), outcome).Inc()
	c.attemptDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveRateLimitWait records a 429-driven wait.
func (c *Collectors) ObserveRateLimitWait(host string, _ time.Duration) {
	c.rateLimitWaits.WithLabelValues(SanitizeSite(host)).Inc()
}

// ObserveHostDelay records a per-host token wait.
func (c *Collectors) ObserveHostDelay(host string, d time.Duration) {
	c.hostDelay.WithLabelValues(SanitizeSite(host)).Observe(d.Seconds())
}

// IncInFlight and DecInFlight track concurrent fetches.
func (c *Collectors) IncInFlight() { c.inFlight.Inc() }

// DecInFlight decrements the in-flight gauge.
func (c *Collectors) DecInFlight() { c.inFlight.Dec() }

// ObserveFetch records the aggregate outcome of a fetch stage.
func (c *Collectors) ObserveFetch(out feed.FetchOutput, elapsed time.Duration) {
	c.sources.WithLabelValues(ResultSuccess).Add(float64(out.SuccessCount))
	c.sources.WithLabelValues(ResultFailed).Add(float64(out.FailCount))
	c.sources.WithLabelValues(ResultSkipped).Add(float64(out.SkippedCount))
	c.itemsParsed.Add(float64(out.TotalItems))
	c.observeStage("fetch", out.FetchedAt, elapsed)
}

// ObserveFilter records the aggregate outcome of a filter stage.
func (c *Collectors) ObserveFilter(out feed.FilteredOutput, seenSize int, elapsed time.Duration) {
	c.itemsNew.Add(float64(out.NewItems))
	c.seenPruned.Add(float64(out.Pruned))
	c.seenSize.Set(float64(seenSize))
	c.observeStage("filter", out.FilteredAt, elapsed)
}

func (c *Collectors) observeStage(stage string, at time.Time, elapsed time.Duration) {
	c.stageTime.WithLabelValues(stage).Observe(elapsed.Seconds())
	c.lastRun.WithLabelValues(stage).Set(float64(at.Unix()))
}

// WriteTextfile writes every collector in the node-exporter textfile format.
func (c *Collectors) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
