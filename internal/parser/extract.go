package parser

import (
	"regexp"
	"strings"
)

// tagMatcher finds the first occurrence of a named element inside a block.
type tagMatcher struct {
	cdata *regexp.Regexp
	plain *regexp.Regexp
}

func newTagMatcher(name string) tagMatcher {
	n := regexp.QuoteMeta(name)
	// Opening tags may carry attributes but must not be self-closing.
	open := `<` + n + `(?:\s[^>]*[^/>])?\s*>`
	closing := `</` + n + `\s*>`
	return tagMatcher{
		cdata: regexp.MustCompile(`(?is)` + open + `\s*<!\[CDATA\[(.*?)\]\]>\s*` + closing),
		plain: regexp.MustCompile(`(?is)` + open + `(.*?)` + closing),
	}
}

// extract returns the trimmed payload, preferring a CDATA section. An empty
// CDATA section yields an empty payload.
func (t tagMatcher) extract(block string) string {
	if m := t.cdata.FindStringSubmatch(block); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := t.plain.FindStringSubmatch(block); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

var (
	atomLinkTag = regexp.MustCompile(`(?is)<link\s[^>]*>`)
	attrPair    = regexp.MustCompile(`(?is)([a-z_:][-a-z0-9_:.]*)\s*=\s*(?:"([^"]*)"|'([^']*)')`)
)

// atomLink picks the first rel="alternate" link with an href, else the first
// link with an href.
func atomLink(block string) string {
	var fallback string
	for _, tag := range atomLinkTag.FindAllString(block, -1) {
		attrs := attributes(tag)
		href := strings.TrimSpace(attrs["href"])
		if href == "" {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(attrs["rel"]), "alternate") {
			return href
		}
		if fallback == "" {
			fallback = href
		}
	}
	return fallback
}

func attributes(tag string) map[string]string {
	out := map[string]string{}
	for _, m := range attrPair.FindAllStringSubmatch(tag, -1) {
		key := strings.ToLower(m[1])
		if _, dup := out[key]; dup {
			continue
		}
		if m[2] != "" {
			out[key] = m[2]
		} else {
			out[key] = m[3]
		}
	}
	return out
}
