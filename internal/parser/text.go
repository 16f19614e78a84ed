package parser

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// MaxDescriptionRunes is the length descriptions are truncated to.
const MaxDescriptionRunes = 500

// CleanDescription strips markup, collapses whitespace, truncates and then
// decodes entities, in that order.
func CleanDescription(s string) string {
	s = CollapseWhitespace(StripMarkup(s))
	return DecodeEntities(Truncate(s, MaxDescriptionRunes))
}

// StripMarkup drops tags and comments and keeps text verbatim. Entities are
// left encoded.
func StripMarkup(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(z.Raw())
		}
	}
}

// CollapseWhitespace folds runs of whitespace into single spaces and trims.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate keeps at most n runes of s.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

var entityRef = regexp.MustCompile(`&(?:#[xX][0-9a-fA-F]+|#[0-9]+|amp|lt|gt|quot|apos);`)

var namedEntities = map[string]string{
	"&amp;":  "&",
	"&lt;":   "<",
	"&gt;":   ">",
	"&quot;": `"`,
	"&apos;": "'",
}

// DecodeEntities resolves the five XML entities plus numeric references in a
// single pass, so "&amp;lt;" becomes "&lt;" and not "<". References to
// invalid code points are left untouched.
func DecodeEntities(s string) string {
	if !strings.ContainsRune(s, '&') {
		return s
	}
	return entityRef.ReplaceAllStringFunc(s, func(ref string) string {
		if v, ok := namedEntities[ref]; ok {
			return v
		}
		body := ref[2 : len(ref)-1]
		base := 10
		if body[0] == 'x' || body[0] == 'X' {
			body, base = body[1:], 16
		}
		cp, err := strconv.ParseUint(body, base, 32)
		if err != nil || cp == 0 || !utf8.ValidRune(rune(cp)) {
			return ref
		}
		return string(rune(cp))
	})
}
