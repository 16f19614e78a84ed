// Package health tracks per-source reliability across runs and decides which
// sources are attempted.
//
// A Tracker wraps a feed.HealthMap owned by a single goroutine. It does no
// locking: the orchestrator admits before the fan-out and records after it.
package health

import (
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/feeddigest/internal/feed"
)

// Threshold is the consecutive failure count at which a source is skipped.
const Threshold = 7

// Tracker applies the admission policy and records outcomes.
type Tracker struct {
	records   feed.HealthMap
	threshold int
	logger    *zap.Logger
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithThreshold overrides Threshold. Values below one are ignored.
func WithThreshold(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.threshold = n
		}
	}
}

// WithLogger attaches a logger for admission decisions.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTracker wraps records, which may be nil.
func NewTracker(records feed.HealthMap, opts ...Option) *Tracker {
	if records == nil {
		records = feed.HealthMap{}
	}
	t := &Tracker{records: records, threshold: Threshold, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Records returns the underlying map for persistence.
func (t *Tracker) Records() feed.HealthMap { return t.records }

// Lookup returns the record for a source URL.
func (t *Tracker) Lookup(url string) (feed.HealthRecord, bool) {
	r, ok := t.records[url]
	return r, ok
}

// ShouldSkip reports whether a source has failed too many times in a row.
func (t *Tracker) ShouldSkip(url string) bool {
	return t.records[url].ConsecutiveFailures >= t.threshold
}

// Admit splits candidates into the ones to attempt and the ones suppressed by
// the policy. Order is preserved in both.
func (t *Tracker) Admit(candidates []feed.Candidate) ([]feed.Candidate, []feed.SkippedSource) {
	admitted := make([]feed.Candidate, 0, len(candidates))
	var skipped []feed.SkippedSource
	for _, c := range candidates {
		if !t.ShouldSkip(c.Source.URL) {
			admitted = append(admitted, c)
			continue
		}
		failures := t.records[c.Source.URL].ConsecutiveFailures
		t.logger.Info("source skipped by health policy",
			zap.String("source_url", c.Source.URL),
			zap.String("source_name", c.Source.Name),
			zap.Int("consecutive_failures", failures),
		)
		skipped = append(skipped, feed.SkippedSource{
			SourceURL:           c.Source.URL,
			SourceName:          c.Source.Name,
			ConsecutiveFailures: failures,
		})
	}
	return admitted, skipped
}

// Record applies each outcome to its source's record exactly once. Outcomes
// of kind canceled say nothing about the source and leave its record as is.
func (t *Tracker) Record(outcomes []feed.FetchOutcome, now time.Time) {
	for _, o := range outcomes {
		if !o.Success && o.ErrorKind == feed.KindCanceled {
			continue
		}
		t.RecordOne(o.SourceURL, o.Success, o.Error, now)
	}
}

// RecordOne applies a single attempt result.
func (t *Tracker) RecordOne(url string, success bool, errMsg string, now time.Time) {
	r := t.records[url]
	r.TotalAttempts++
	at := now
	if success {
		r.ConsecutiveFailures = 0
		r.LastSuccess = &at
		r.TotalSuccesses++
		r.LastError = ""
	} else {
		r.ConsecutiveFailures++
		r.LastFailure = &at
		r.LastError = errMsg
	}
	t.records[url] = r
}

// Failing returns the URLs currently at or past the threshold.
func (t *Tracker) Failing() []string {
	var out []string
	for url := range t.records {
		if t.ShouldSkip(url) {
			out = append(out, url)
		}
	}
	return out
}
