package feed

import "time"

// DisplayKind tags which upstream shape a DisplayItem was built from.
type DisplayKind string

// Display kinds.
const (
	DisplayRaw        DisplayKind = "raw"
	DisplaySummarized DisplayKind = "summarized"
)

// Summary is the shape produced by the summarization stage. Only the fields
// needed for display are modeled here.
type Summary struct {
	Title      string     `json:"title"`
	Link       string     `json:"link"`
	Source     string     `json:"source"`
	Published  *time.Time `json:"publishedAt,omitempty"`
	Text       string     `json:"summary"`
	IsPick     bool       `json:"isSmartPick"`
	PickRank   int        `json:"smartPickRank,omitempty"`
	CategoryID string     `json:"categoryId"`
}

// DisplayItem is the minimal projection shared by raw and summarized items.
// It is resolved once when an item enters rendering so consumers never check
// the underlying shape.
type DisplayItem struct {
	Kind      DisplayKind
	Title     string
	Link      string
	Source    string
	Published *time.Time
	// Summary is set only for DisplaySummarized.
	Summary string
}

// FromItem projects a raw item.
func FromItem(it Item) DisplayItem {
	return DisplayItem{
		Kind:      DisplayRaw,
		Title:     it.Title,
		Link:      it.Link,
		Source:    it.SourceName,
		Published: it.Published,
	}
}

// FromSummary projects a summarized item.
func FromSummary(s Summary) DisplayItem {
	return DisplayItem{
		Kind:      DisplaySummarized,
		Title:     s.Title,
		Link:      s.Link,
		Source:    s.Source,
		Published: s.Published,
		Summary:   s.Text,
	}
}
