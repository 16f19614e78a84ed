package feed

import (
	"encoding/json"
	"strings"
	"time"
)

// SourceStatus tags how a source is maintained upstream.
type SourceStatus string

// Known source status tags.
const (
	StatusOfficial  SourceStatus = "official"
	StatusCommunity SourceStatus = "community"
	StatusMirrored  SourceStatus = "mirrored"
	StatusBroken    SourceStatus = "broken"
)

// legacyMirrorTag is what older source lists call a mirrored feed.
const legacyMirrorTag = "rsshub"

// UnmarshalJSON accepts the legacy mirror tag alongside the current names.
func (s *SourceStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err //nolint:wrapcheck
	}
	*s = ParseSourceStatus(raw)
	return nil
}

// UnmarshalYAML mirrors UnmarshalJSON for YAML source lists.
func (s *SourceStatus) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	*s = ParseSourceStatus(raw)
	return nil
}

// ParseSourceStatus normalizes a status tag. Unknown tags map to official.
func ParseSourceStatus(raw string) SourceStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(StatusCommunity):
		return StatusCommunity
	case string(StatusMirrored), legacyMirrorTag:
		return StatusMirrored
	case string(StatusBroken):
		return StatusBroken
	default:
		return StatusOfficial
	}
}

// Source is one externally hosted feed document. Immutable for a run.
type Source struct {
	ID      string       `json:"id" yaml:"id"`
	Name    string       `json:"name" yaml:"name"`
	URL     string       `json:"url" yaml:"url"`
	Status  SourceStatus `json:"status" yaml:"status"`
	Enabled bool         `json:"enabled" yaml:"enabled"`
}

// Category groups sources under a stable identifier and display name.
type Category struct {
	ID      string   `json:"id" yaml:"id"`
	Name    string   `json:"name" yaml:"name"`
	Sources []Source `json:"feeds" yaml:"feeds"`
}

// SourceList is the ordered collection of categories produced by the
// curation tooling.
type SourceList struct {
	GeneratedFrom string     `json:"generatedFrom,omitempty" yaml:"generatedFrom,omitempty"`
	GeneratedAt   string     `json:"generatedAt,omitempty" yaml:"generatedAt,omitempty"`
	Categories    []Category `json:"categories" yaml:"categories"`
}

// Item is a normalized feed entry.
type Item struct {
	Title        string     `json:"title"`
	Link         string     `json:"link"`
	Description  string     `json:"description"`
	PublishedRaw string     `json:"pubDate,omitempty"`
	Published    *time.Time `json:"publishedAt,omitempty"`
	ID           string     `json:"guid"`
	SourceName   string     `json:"feedName"`
	SourceURL    string     `json:"feedUrl"`
	CategoryID   string     `json:"categoryId"`
	CategoryName string     `json:"categoryName"`
}

// ParsedItem is what the format parser extracts from a single entry before
// source attribution is applied.
type ParsedItem struct {
	Title        string
	Link         string
	Description  string
	PublishedRaw string
	Published    *time.Time
	ID           string
}

// ResolveID returns the item identifier using the fallback order
// explicit identifier, link, then sourceURL#title.
func ResolveID(explicit, link, sourceURL, title string) string {
	if id := strings.TrimSpace(explicit); id != "" {
		return id
	}
	if l := strings.TrimSpace(link); l != "" {
		return l
	}
	return sourceURL + "#" + title
}

// ErrorKind classifies why a source attempt failed.
type ErrorKind string

// Failure classes recorded on outcomes.
const (
	KindTimeout     ErrorKind = "timeout"
	KindRateLimited ErrorKind = "rate_limited"
	KindHTTPStatus  ErrorKind = "http_status"
	KindNetwork     ErrorKind = "network"
	KindParse       ErrorKind = "parse"
	// KindCanceled marks an attempt cut short by the run itself, not by the
	// source. It never counts against source health.
	KindCanceled ErrorKind = "canceled"
)

// FetchOutcome is the result of attempting one source in one run.
type FetchOutcome struct {
	SourceURL  string    `json:"feedUrl"`
	SourceName string    `json:"feedName"`
	Success    bool      `json:"success"`
	Items      []Item    `json:"items"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  ErrorKind `json:"errorKind,omitempty"`
	DurationMs int64     `json:"durationMs"`
}

// Elapsed returns the wall time spent on the source.
func (o FetchOutcome) Elapsed() time.Duration {
	return time.Duration(o.DurationMs) * time.Millisecond
}

// SkippedSource records a source suppressed by the health policy.
type SkippedSource struct {
	SourceURL           string `json:"feedUrl"`
	SourceName          string `json:"feedName"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
}

// FetchOutput is the artifact written by the fetch stage.
type FetchOutput struct {
	RunID        string          `json:"runId"`
	FetchedAt    time.Time       `json:"fetchedAt"`
	TotalSources int             `json:"totalFeeds"`
	SuccessCount int             `json:"successCount"`
	FailCount    int             `json:"failCount"`
	SkippedCount int             `json:"skippedCount"`
	TotalItems   int             `json:"totalItems"`
	Skipped      []SkippedSource `json:"skipped,omitempty"`
	Results      []FetchOutcome  `json:"results"`
}

// Items flattens every outcome's items in result order.
func (o FetchOutput) Items() []Item {
	var out []Item
	for _, r := range o.Results {
		out = append(out, r.Items...)
	}
	return out
}

// FilteredOutput is the artifact written by the filter stage.
type FilteredOutput struct {
	RunID           string    `json:"runId"`
	FilteredAt      time.Time `json:"filteredAt"`
	TimeWindowHours int       `json:"timeWindowHours"`
	TotalBefore     int       `json:"totalBefore"`
	TotalAfter      int       `json:"totalAfter"`
	NewItems        int       `json:"newItems"`
	Pruned          int       `json:"pruned"`
	Items           []Item    `json:"items"`
}

// HealthRecord tracks per-source reliability across runs.
type HealthRecord struct {
	LastSuccess         *time.Time `json:"lastSuccess"`
	LastFailure         *time.Time `json:"lastFailure"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	TotalAttempts       int        `json:"totalAttempts"`
	TotalSuccesses      int        `json:"totalSuccesses"`
	LastError           string     `json:"lastError,omitempty"`
}

// HealthMap is keyed by source URL.
type HealthMap map[string]HealthRecord

// SeenStore maps an item identifier to the time it was first observed.
type SeenStore map[string]time.Time
