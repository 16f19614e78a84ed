// Package dedupe narrows fetched items to the recent ones not emitted before.
//
// The seen store passed in is mutated in place; callers persist it afterwards.
package dedupe

import (
	"sort"
	"time"

	"github.com/JakeFAU/feeddigest/internal/feed"
	"github.com/JakeFAU/feeddigest/internal/parser"
)

// Defaults used when a Filter field is zero.
const (
	DefaultWindowHours   = 24
	DefaultRetentionDays = 7
)

// publishedAt returns the item timestamp, re-parsing the raw value for
// artifacts written without a parsed one.
func publishedAt(it feed.Item) (time.Time, bool) {
	if it.Published != nil {
		return *it.Published, true
	}
	return parser.ParseTimestamp(it.PublishedRaw)
}

// Window keeps items published within the last hours before now. Items with
// no usable timestamp or a timestamp after now are dropped.
func Window(items []feed.Item, now time.Time, hours int) []feed.Item {
	cutoff := now.Add(-time.Duration(hours) * time.Hour)
	out := make([]feed.Item, 0, len(items))
	for _, it := range items {
		ts, ok := publishedAt(it)
		if !ok || ts.Before(cutoff) || ts.After(now) {
			continue
		}
		out = append(out, it)
	}
	return out
}

// Key is the identifier an item is deduplicated by.
func Key(it feed.Item) string {
	return feed.ResolveID(it.ID, it.Link, it.SourceURL, it.Title)
}

// Dedupe returns items whose key is absent from seen and records each new key
// at now. A key repeated within items is emitted once.
func Dedupe(items []feed.Item, seen feed.SeenStore, now time.Time) []feed.Item {
	out := make([]feed.Item, 0, len(items))
	for _, it := range items {
		k := Key(it)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = now
		out = append(out, it)
	}
	return out
}

// Prune drops seen entries first observed more than days before now and
// returns how many were removed. A pruned item can surface again if a source
// still carries it inside the window.
func Prune(seen feed.SeenStore, now time.Time, days int) int {
	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)
	n := 0
	for k, at := range seen {
		if at.Before(cutoff) {
			delete(seen, k)
			n++
		}
	}
	return n
}

// SortByRecency orders items newest first. Undated items go last and ties
// keep their input order.
func SortByRecency(items []feed.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		ti, iok := publishedAt(items[i])
		tj, jok := publishedAt(items[j])
		switch {
		case iok && jok:
			return ti.After(tj)
		default:
			return iok && !jok
		}
	})
}

// Filter runs the window, dedupe, prune and sort steps in order.
type Filter struct {
	WindowHours   int
	RetentionDays int
}

// Result summarises one Apply call.
type Result struct {
	Items       []feed.Item
	TotalBefore int
	Windowed    int
	Pruned      int
}

// Apply filters items against seen, which is updated in place.
func (f Filter) Apply(items []feed.Item, seen feed.SeenStore, now time.Time) Result {
	hours, days := f.WindowHours, f.RetentionDays
	if hours <= 0 {
		hours = DefaultWindowHours
	}
	if days <= 0 {
		days = DefaultRetentionDays
	}
	recent := Window(items, now, hours)
	fresh := Dedupe(recent, seen, now)
	pruned := Prune(seen, now, days)
	SortByRecency(fresh)
	return Result{
		Items:       fresh,
		TotalBefore: len(items),
		Windowed:    len(recent),
		Pruned:      pruned,
	}
}

// ByCategory filters items by the category filter rules used at fetch time.
func ByCategory(items []feed.Item, filter string) []feed.Item {
	out := make([]feed.Item, 0, len(items))
	for _, it := range items {
		if feed.MatchesCategory(filter, it.CategoryID, it.CategoryName) {
			out = append(out, it)
		}
	}
	return out
}

// CategoryCount is the number of items under one category name.
type CategoryCount struct {
	Name  string
	Count int
}

// CountByCategory tallies items per category name in first-seen order.
func CountByCategory(items []feed.Item) []CategoryCount {
	idx := map[string]int{}
	var out []CategoryCount
	for _, it := range items {
		i, ok := idx[it.CategoryName]
		if !ok {
			i = len(out)
			idx[it.CategoryName] = i
			out = append(out, CategoryCount{Name: it.CategoryName})
		}
		out[i].Count++
	}
	return out
}
