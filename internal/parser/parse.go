// Package parser extracts items from RSS 2.0 and Atom 1.0 documents.
//
// Extraction is tolerant: it works on tag boundaries rather than a full XML
// tree, so truncated or sloppy documents still yield whatever complete entries
// they contain. All patterns are RE2, so matching time is linear in the input.
package parser

import (
	"regexp"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/JakeFAU/feeddigest/internal/feed"
)

// MaxDocumentBytes bounds how much of a document is examined.
const MaxDocumentBytes = 16 << 20

// Format is the detected document flavour.
type Format int

// Supported formats.
const (
	FormatRSS Format = iota
	FormatAtom
)

func (f Format) String() string {
	if f == FormatAtom {
		return "atom"
	}
	return "rss"
}

var atomProbe = regexp.MustCompile(`(?i)<feed[\s>]`)

// Detect reports whether doc is Atom or RSS. Anything not recognisably Atom
// is treated as RSS.
func Detect(doc string) Format {
	switch gofeed.DetectFeedType(strings.NewReader(doc)) {
	case gofeed.FeedTypeAtom:
		return FormatAtom
	case gofeed.FeedTypeRSS:
		return FormatRSS
	}
	// Malformed or truncated input, fall back to lexical sniffing.
	if atomProbe.MatchString(doc) {
		return FormatAtom
	}
	return FormatRSS
}

// Parse returns the items in doc in document order. It never fails: input it
// cannot make sense of yields no items.
func Parse(doc string) []feed.ParsedItem {
	if len(doc) > MaxDocumentBytes {
		doc = doc[:MaxDocumentBytes]
	}
	if Detect(doc) == FormatAtom {
		return parseAtom(doc)
	}
	return parseRSS(doc)
}

var (
	rssItemBlock   = regexp.MustCompile(`(?is)<item(?:\s[^>]*)?>(.*?)</item\s*>`)
	atomEntryBlock = regexp.MustCompile(`(?is)<entry(?:\s[^>]*)?>(.*?)</entry\s*>`)
)

var (
	tagTitle       = newTagMatcher("title")
	tagLink        = newTagMatcher("link")
	tagDescription = newTagMatcher("description")
	tagEncoded     = newTagMatcher("content:encoded")
	tagPubDate     = newTagMatcher("pubDate")
	tagDCDate      = newTagMatcher("dc:date")
	tagGUID        = newTagMatcher("guid")
	tagSummary     = newTagMatcher("summary")
	tagContent     = newTagMatcher("content")
	tagPublished   = newTagMatcher("published")
	tagUpdated     = newTagMatcher("updated")
	tagID          = newTagMatcher("id")
)

func parseRSS(doc string) []feed.ParsedItem {
	var items []feed.ParsedItem
	for _, m := range rssItemBlock.FindAllStringSubmatch(doc, -1) {
		block := m[1]
		desc := tagEncoded.extract(block)
		if desc == "" {
			desc = tagDescription.extract(block)
		}
		date := tagPubDate.extract(block)
		if date == "" {
			date = tagDCDate.extract(block)
		}
		if it, ok := buildItem(
			tagTitle.extract(block),
			tagLink.extract(block),
			desc,
			date,
			tagGUID.extract(block),
		); ok {
			items = append(items, it)
		}
	}
	return items
}

func parseAtom(doc string) []feed.ParsedItem {
	var items []feed.ParsedItem
	for _, m := range atomEntryBlock.FindAllStringSubmatch(doc, -1) {
		block := m[1]
		desc := tagSummary.extract(block)
		if desc == "" {
			desc = tagContent.extract(block)
		}
		date := tagPublished.extract(block)
		if date == "" {
			date = tagUpdated.extract(block)
		}
		if it, ok := buildItem(
			tagTitle.extract(block),
			atomLink(block),
			desc,
			date,
			tagID.extract(block),
		); ok {
			items = append(items, it)
		}
	}
	return items
}

func buildItem(title, link, desc, date, id string) (feed.ParsedItem, bool) {
	title = DecodeEntities(strings.TrimSpace(title))
	link = DecodeEntities(strings.TrimSpace(link))
	if title == "" && link == "" {
		return feed.ParsedItem{}, false
	}
	it := feed.ParsedItem{
		Title:        title,
		Link:         link,
		Description:  CleanDescription(desc),
		PublishedRaw: strings.TrimSpace(date),
		ID:           strings.TrimSpace(id),
	}
	if it.ID == "" {
		it.ID = link
	}
	if ts, ok := ParseTimestamp(it.PublishedRaw); ok {
		it.Published = &ts
	}
	return it, true
}
