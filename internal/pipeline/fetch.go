package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/feeddigest/internal/feed"
	"github.com/JakeFAU/feeddigest/internal/health"
	"github.com/JakeFAU/feeddigest/internal/limiter"
	"github.com/JakeFAU/feeddigest/internal/parser"
	"github.com/JakeFAU/feeddigest/internal/storage"
)

// Fetch pulls every enabled source whose category matches, records health
// and persists the raw artifact. Per-source failures are part of the output,
// not an error.
func (p *Pipeline) Fetch(ctx context.Context, list feed.SourceList, category string) (feed.FetchOutput, error) {
	runID, err := p.ids.NewID()
	if err != nil {
		return feed.FetchOutput{}, fmt.Errorf("run id: %w", err)
	}
	return p.fetch(ctx, runID, list, category)
}

func (p *Pipeline) fetch(ctx context.Context, runID string, list feed.SourceList, category string) (feed.FetchOutput, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.fetch")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", runID))

	log := p.logger.With(zap.String("run_id", runID), zap.String("stage", "fetch"))
	started := time.Now()

	records, err := p.health.LoadHealth(ctx)
	if err != nil {
		return feed.FetchOutput{}, fmt.Errorf("load health: %w", err)
	}
	tracker := health.NewTracker(records, health.WithLogger(log))

	candidates := list.Candidates(category)
	admitted, skipped := tracker.Admit(candidates)
	log.Info("fetching sources",
		zap.String("category", category),
		zap.Int("candidates", len(candidates)),
		zap.Int("admitted", len(admitted)),
		zap.Int("skipped", len(skipped)),
		zap.Int("concurrency", p.cfg.Concurrency),
	)

	outcomes := limiter.RunBoundedWithRecover(
		ctx,
		admitted,
		p.cfg.Concurrency,
		func(ctx context.Context, c feed.Candidate) feed.FetchOutcome {
			return p.fetchOne(ctx, log, c)
		},
		func(c feed.Candidate, err error) feed.FetchOutcome {
			log.Error("source worker panicked", zap.String("source_url", c.Source.URL), zap.Error(err))
			return failed(c, err.Error(), feed.KindParse, 0)
		},
		limiter.Hooks{OnStart: p.recorder.IncInFlight, OnDone: p.recorder.DecInFlight},
	)

	now := p.clock.Now()
	tracker.Record(outcomes, now)

	out := feed.FetchOutput{
		RunID:        runID,
		FetchedAt:    now,
		TotalSources: len(admitted),
		SkippedCount: len(skipped),
		Skipped:      skipped,
		Results:      outcomes,
	}
	var (
		failedSources []string
		canceled      int
	)
	for _, o := range outcomes {
		if o.Success {
			out.SuccessCount++
			out.TotalItems += len(o.Items)
			continue
		}
		out.FailCount++
		if o.ErrorKind == feed.KindCanceled {
			canceled++
			continue
		}
		failedSources = append(failedSources, fmt.Sprintf("%s (%s)", o.SourceName, o.Error))
	}

	// Persist even when the run was interrupted so partial progress is kept.
	persistCtx := context.WithoutCancel(ctx)
	uri, err := storage.WriteJSON(persistCtx, p.artifacts, p.cfg.RawItemsPath, out)
	if err != nil {
		return out, fmt.Errorf("persist raw items: %w", err)
	}
	if err := p.health.SaveHealth(persistCtx, tracker.Records()); err != nil {
		return out, fmt.Errorf("save health: %w", err)
	}

	elapsed := time.Since(started)
	p.recorder.ObserveFetch(out, elapsed)
	span.SetAttributes(
		attribute.Int("sources.success", out.SuccessCount),
		attribute.Int("sources.failed", out.FailCount),
		attribute.Int("sources.skipped", out.SkippedCount),
		attribute.Int("items", out.TotalItems),
	)
	log.Info("fetch complete",
		zap.Int("success", out.SuccessCount),
		zap.Int("failed", out.FailCount),
		zap.Int("skipped", out.SkippedCount),
		zap.Int("items", out.TotalItems),
		zap.Duration("elapsed", elapsed),
		zap.String("artifact", uri),
	)
	if canceled > 0 {
		log.Warn("run interrupted, health left unchanged for unfinished sources", zap.Int("sources", canceled))
	}
	if len(failedSources) > 0 {
		log.Warn("sources failed", zap.Strings("sources", failedSources))
	}
	if suppressed := tracker.Failing(); len(suppressed) > 0 {
		sort.Strings(suppressed)
		log.Warn("sources suppressed until they recover", zap.Strings("sources", suppressed))
	}
	return out, nil
}

func (p *Pipeline) fetchOne(ctx context.Context, log *zap.Logger, c feed.Candidate) feed.FetchOutcome {
	start := time.Now()
	res := p.fetcher.Fetch(ctx, c.Source.URL, p.cfg.Fetch)
	if !res.OK && ctx.Err() != nil {
		res.Kind = feed.KindCanceled
	}
	if !res.OK {
		log.Debug("source fetch failed",
			zap.String("source_url", c.Source.URL),
			zap.String("error", res.Error),
			zap.String("kind", string(res.Kind)),
			zap.Int("attempts", res.Attempts),
		)
		return failed(c, res.Error, res.Kind, time.Since(start))
	}

	parsed, err := safeParse(res.Body)
	if err != nil {
		log.Warn("source parse failed", zap.String("source_url", c.Source.URL), zap.Error(err))
		return failed(c, err.Error(), feed.KindParse, time.Since(start))
	}

	items := make([]feed.Item, 0, len(parsed))
	for _, pi := range parsed {
		items = append(items, feed.Item{
			Title:        pi.Title,
			Link:         pi.Link,
			Description:  pi.Description,
			PublishedRaw: pi.PublishedRaw,
			Published:    pi.Published,
			ID:           feed.ResolveID(pi.ID, pi.Link, c.Source.URL, pi.Title),
			SourceName:   c.Source.Name,
			SourceURL:    c.Source.URL,
			CategoryID:   c.CategoryID,
			CategoryName: c.CategoryName,
		})
	}
	log.Debug("source fetched",
		zap.String("source_url", c.Source.URL),
		zap.Int("items", len(items)),
		zap.Int("attempts", res.Attempts),
	)
	return feed.FetchOutcome{
		SourceURL:  c.Source.URL,
		SourceName: c.Source.Name,
		Success:    true,
		Items:      items,
		DurationMs: time.Since(start).Milliseconds(),
	}
}

func safeParse(body string) (items []feed.ParsedItem, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse error: %v", r)
		}
	}()
	return parser.Parse(body), nil
}

func failed(c feed.Candidate, msg string, kind feed.ErrorKind, d time.Duration) feed.FetchOutcome {
	return feed.FetchOutcome{
		SourceURL:  c.Source.URL,
		SourceName: c.Source.Name,
		Items:      []feed.Item{},
		Error:      msg,
		ErrorKind:  kind,
		DurationMs: d.Milliseconds(),
	}
}
