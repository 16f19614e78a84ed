package feed

import "strings"

// MatchesCategory reports whether the category filter selects the given
// category. Matching is a case-insensitive substring test against either the
// identifier or the display name; an empty filter matches everything.
func MatchesCategory(filter, id, name string) bool {
	q := strings.ToLower(strings.TrimSpace(filter))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(id), q) || strings.Contains(strings.ToLower(name), q)
}

// Candidate pairs an enabled source with its category for a fetch run.
type Candidate struct {
	Source       Source
	CategoryID   string
	CategoryName string
}

// Candidates flattens the enabled sources of every category selected by the
// filter, preserving source list order. A URL listed more than once is
// attempted once, under its first category.
func (l SourceList) Candidates(filter string) []Candidate {
	var out []Candidate
	seen := map[string]bool{}
	for _, cat := range l.Categories {
		if !MatchesCategory(filter, cat.ID, cat.Name) {
			continue
		}
		for _, src := range cat.Sources {
			if !src.Enabled || seen[src.URL] {
				continue
			}
			seen[src.URL] = true
			out = append(out, Candidate{Source: src, CategoryID: cat.ID, CategoryName: cat.Name})
		}
	}
	return out
}
