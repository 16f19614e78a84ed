package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/feeddigest/internal/dedupe"
	"github.com/JakeFAU/feeddigest/internal/feed"
	"github.com/JakeFAU/feeddigest/internal/storage"
)

// Filter narrows a fetch artifact to recent, unseen items, persists the
// filtered artifact and seen store, and publishes the result.
func (p *Pipeline) Filter(ctx context.Context, raw feed.FetchOutput, category string) (feed.FilteredOutput, error) {
	runID, err := p.ids.NewID()
	if err != nil {
		return feed.FilteredOutput{}, fmt.Errorf("run id: %w", err)
	}
	return p.filter(ctx, runID, raw, category)
}

func (p *Pipeline) filter(ctx context.Context, runID string, raw feed.FetchOutput, category string) (feed.FilteredOutput, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.filter")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", runID))

	log := p.logger.With(zap.String("run_id", runID), zap.String("stage", "filter"))
	started := time.Now()

	seen, err := p.seen.LoadSeen(ctx)
	if err != nil {
		return feed.FilteredOutput{}, fmt.Errorf("load seen store: %w", err)
	}

	items := dedupe.ByCategory(raw.Items(), category)
	now := p.clock.Now()
	res := p.cfg.Filter.Apply(items, seen, now)

	windowHours := p.cfg.Filter.WindowHours
	if windowHours <= 0 {
		windowHours = dedupe.DefaultWindowHours
	}
	out := feed.FilteredOutput{
		RunID:           runID,
		FilteredAt:      now,
		TimeWindowHours: windowHours,
		TotalBefore:     res.TotalBefore,
		TotalAfter:      len(res.Items),
		NewItems:        len(res.Items),
		Pruned:          res.Pruned,
		Items:           res.Items,
	}

	persistCtx := context.WithoutCancel(ctx)
	uri, err := storage.WriteJSON(persistCtx, p.artifacts, p.cfg.FilteredItemsPath, out)
	if err != nil {
		return out, fmt.Errorf("persist filtered items: %w", err)
	}
	if err := p.seen.SaveSeen(persistCtx, seen); err != nil {
		return out, fmt.Errorf("save seen store: %w", err)
	}

	if p.cfg.Topic != "" {
		id, err := p.publisher.Publish(persistCtx, p.cfg.Topic, out, map[string]string{
			"run_id":    runID,
			"new_items": strconv.Itoa(out.NewItems),
		})
		if err != nil {
			return out, fmt.Errorf("publish filtered items: %w", err)
		}
		log.Info("filtered items published", zap.String("topic", p.cfg.Topic), zap.String("message_id", id))
	}

	elapsed := time.Since(started)
	p.recorder.ObserveFilter(out, len(seen), elapsed)
	span.SetAttributes(
		attribute.Int("items.before", out.TotalBefore),
		attribute.Int("items.new", out.NewItems),
		attribute.Int("seen.pruned", out.Pruned),
	)
	log.Info("filter complete",
		zap.String("category", category),
		zap.Int("total_before", out.TotalBefore),
		zap.Int("in_window", res.Windowed),
		zap.Int("new_items", out.NewItems),
		zap.Int("pruned", out.Pruned),
		zap.Int("seen_entries", len(seen)),
		zap.Duration("elapsed", elapsed),
		zap.String("artifact", uri),
	)
	for _, cc := range dedupe.CountByCategory(out.Items) {
		log.Info("new items by category", zap.String("category", cc.Name), zap.Int("count", cc.Count))
	}
	if log.Core().Enabled(zap.DebugLevel) {
		for _, it := range out.Items {
			d := feed.FromItem(it)
			log.Debug("new item",
				zap.String("title", d.Title),
				zap.String("link", d.Link),
				zap.String("source", d.Source),
				zap.Timep("published", d.Published),
			)
		}
	}
	return out, nil
}
