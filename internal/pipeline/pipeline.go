// Package pipeline runs the fetch and filter stages end to end.
//
// A run moves strictly forward: admission, bounded fetch, parse, aggregate and
// health update, window, dedupe, persist, publish. State repositories are read
// once at the start of a stage and written once at its end by the calling
// goroutine; fetch workers never touch them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/feeddigest/internal/dedupe"
	"github.com/JakeFAU/feeddigest/internal/feed"
	"github.com/JakeFAU/feeddigest/internal/publisher"
	"github.com/JakeFAU/feeddigest/internal/state"
	"github.com/JakeFAU/feeddigest/internal/storage"
	"github.com/JakeFAU/feeddigest/internal/telemetry"
	"github.com/JakeFAU/feeddigest/internal/transport"
)

// ErrNoRawItems is returned by LoadRaw when the fetch artifact is missing.
var ErrNoRawItems = errors.New("raw items not found, run fetch first")

// Fetcher retrieves one source document. transport.Client satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, opts transport.Options) transport.Result
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Recorder receives run telemetry. metrics.Collectors satisfies it.
type Recorder interface {
	ObserveFetch(out feed.FetchOutput, elapsed time.Duration)
	ObserveFilter(out feed.FilteredOutput, seenSize int, elapsed time.Duration)
	IncInFlight()
	DecInFlight()
}

// Config controls a Pipeline.
type Config struct {
	Concurrency       int
	Fetch             transport.Options
	Filter            dedupe.Filter
	RawItemsPath      string
	FilteredItemsPath string
	// Topic receives the filtered output when non-empty.
	Topic string
}

// Deps are the collaborators a Pipeline needs. Recorder and Publisher are
// optional.
type Deps struct {
	Fetcher   Fetcher
	Artifacts storage.BlobStore
	Health    state.HealthRepository
	Seen      state.SeenRepository
	Publisher publisher.Publisher
	Clock     Clock
	IDs       IDGenerator
	Recorder  Recorder
	Logger    *zap.Logger
}

// Pipeline wires the stages together.
type Pipeline struct {
	cfg       Config
	fetcher   Fetcher
	artifacts storage.BlobStore
	health    state.HealthRepository
	seen      state.SeenRepository
	publisher publisher.Publisher
	clock     Clock
	ids       IDGenerator
	recorder  Recorder
	logger    *zap.Logger
	tracer    trace.Tracer
}

// New validates deps and builds a Pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, fmt.Errorf("fetcher is required")
	case deps.Artifacts == nil:
		return nil, fmt.Errorf("artifact store is required")
	case deps.Health == nil || deps.Seen == nil:
		return nil, fmt.Errorf("state repositories are required")
	case deps.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	case deps.IDs == nil:
		return nil, fmt.Errorf("id generator is required")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.RawItemsPath == "" {
		cfg.RawItemsPath = "raw-items.json"
	}
	if cfg.FilteredItemsPath == "" {
		cfg.FilteredItemsPath = "filtered-items.json"
	}
	p := &Pipeline{
		cfg:       cfg,
		fetcher:   deps.Fetcher,
		artifacts: deps.Artifacts,
		health:    deps.Health,
		seen:      deps.Seen,
		publisher: deps.Publisher,
		clock:     deps.Clock,
		ids:       deps.IDs,
		recorder:  deps.Recorder,
		logger:    deps.Logger,
		tracer:    telemetry.Tracer("github.com/JakeFAU/feeddigest/internal/pipeline"),
	}
	if p.publisher == nil {
		p.publisher = publisher.Nop{}
	}
	if p.recorder == nil {
		p.recorder = nopRecorder{}
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p, nil
}

// Run executes Fetch then Filter under one run ID.
func (p *Pipeline) Run(ctx context.Context, list feed.SourceList, category string) (feed.FetchOutput, feed.FilteredOutput, error) {
	runID, err := p.ids.NewID()
	if err != nil {
		return feed.FetchOutput{}, feed.FilteredOutput{}, fmt.Errorf("run id: %w", err)
	}
	fetched, err := p.fetch(ctx, runID, list, category)
	if err != nil {
		return fetched, feed.FilteredOutput{}, err
	}
	filtered, err := p.filter(ctx, runID, fetched, category)
	return fetched, filtered, err
}

// LoadRaw reads the fetch artifact written by a previous Fetch.
func (p *Pipeline) LoadRaw(ctx context.Context) (feed.FetchOutput, error) {
	var out feed.FetchOutput
	err := storage.ReadJSON(ctx, p.artifacts, p.cfg.RawItemsPath, &out)
	if errors.Is(err, storage.ErrNotFound) {
		return feed.FetchOutput{}, fmt.Errorf("%s: %w", p.cfg.RawItemsPath, ErrNoRawItems)
	}
	if err != nil {
		return feed.FetchOutput{}, err
	}
	return out, nil
}

type nopRecorder struct{}

func (nopRecorder) ObserveFetch(feed.FetchOutput, time.Duration)          {}
func (nopRecorder) ObserveFilter(feed.FilteredOutput, int, time.Duration) {}
func (nopRecorder) IncInFlight()                                          {}
func (nopRecorder) DecInFlight()                                          {}
