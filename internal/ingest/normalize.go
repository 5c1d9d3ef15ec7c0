// Package ingest cleans raw ad records into the normalized form the rest of
// the MRI pipeline works on.
package ingest

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/kalambet/creativemri/internal/creative"
)

// MinWordCount is the shortest ad (in alphanumeric tokens) worth classifying.
const MinWordCount = 5

const (
	headlineKeyLen = 80
	bodyKeyLen     = 100
)

var (
	tokenRe  = regexp.MustCompile(`[\p{L}\p{N}]+`)
	markupRe = regexp.MustCompile(`<[a-zA-Z/!][^>]*>`)
)

// Normalize cleans, filters and deduplicates ads. Ads with fewer than
// MinWordCount tokens are dropped; for duplicate keys the first ad wins.
// Empty input yields an empty, non-nil slice.
func Normalize(ads []creative.AdRecord) []creative.NormalizedAd {
	out := make([]creative.NormalizedAd, 0, len(ads))
	seen := make(map[string]struct{}, len(ads))
	for _, ad := range ads {
		n := NormalizeOne(ad)
		if n.WordCount < MinWordCount {
			slog.Debug("dropping short ad", "ad_id", ad.ID, "word_count", n.WordCount)
			continue
		}
		if _, dup := seen[n.DedupKey]; dup {
			slog.Debug("dropping duplicate ad", "ad_id", ad.ID)
			continue
		}
		seen[n.DedupKey] = struct{}{}
		out = append(out, n)
	}
	return out
}

// NormalizeOne cleans a single record without filtering it.
func NormalizeOne(ad creative.AdRecord) creative.NormalizedAd {
	ad.Headline = CleanText(ad.Headline)
	ad.PrimaryText = CleanText(ad.PrimaryText)
	ad.CallToAction = CleanText(ad.CallToAction)
	ad.Format = strings.ToLower(strings.TrimSpace(ad.Format))
	ad.DestinationURL = strings.TrimSpace(ad.DestinationURL)

	full := ad.Headline + "\n" + ad.PrimaryText
	return creative.NormalizedAd{
		AdRecord:  ad,
		FullText:  full,
		WordCount: len(Tokenize(full)),
		DedupKey:  prefix(ad.Headline, headlineKeyLen) + "\x00" + prefix(ad.PrimaryText, bodyKeyLen),
	}
}

// CleanText strips markup and control characters and collapses whitespace.
// Only HTML elements count as markup; "<SAVE20>" and similar stay in the text.
func CleanText(s string) string {
	if markupRe.MatchString(s) {
		if escaped, ok := escapeUnknownTags(s); ok {
			s = stripMarkup(escaped)
		}
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return ' '
		}
		if unicode.IsControl(r) || !unicode.IsPrint(r) {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// Tokenize returns the lowercase alphanumeric runs of s.
func Tokenize(s string) []string {
	return tokenRe.FindAllString(strings.ToLower(s), -1)
}

// htmlElements lists the tags scraped ad copy actually carries. Anything else
// in angle brackets is part of the copy.
var htmlElements = map[string]bool{
	"a": true, "abbr": true, "article": true, "b": true, "big": true, "blockquote": true,
	"body": true, "br": true, "caption": true, "center": true, "cite": true, "dd": true,
	"del": true, "div": true, "dl": true, "dt": true, "em": true, "figcaption": true,
	"figure": true, "font": true, "footer": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "head": true, "header": true, "hr": true,
	"html": true, "i": true, "iframe": true, "img": true, "ins": true, "li": true,
	"noscript": true, "ol": true, "p": true, "picture": true, "pre": true, "q": true,
	"s": true, "script": true, "section": true, "small": true, "span": true,
	"strike": true, "strong": true, "style": true, "sub": true, "sup": true,
	"svg": true, "table": true, "tbody": true, "td": true, "tfoot": true, "th": true,
	"thead": true, "tr": true, "u": true, "ul": true, "wbr": true,
}

// escapeUnknownTags escapes the '<' of every tag-like span that is not an
// HTML element, so the parser keeps it as text. ok is false when s holds no
// real markup at all.
func escapeUnknownTags(s string) (out string, ok bool) {
	out = markupRe.ReplaceAllStringFunc(s, func(tag string) string {
		if isHTMLTag(tag) {
			ok = true
			return tag
		}
		return "&lt;" + tag[1:]
	})
	return out, ok
}

func isHTMLTag(tag string) bool {
	name := strings.TrimPrefix(tag[1:], "/")
	if strings.HasPrefix(name, "!") {
		return true
	}
	if end := strings.IndexFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}); end >= 0 {
		name = name[:end]
	}
	return htmlElements[strings.ToLower(name)]
}

// stripMarkup returns the visible text of an HTML fragment. Scraped ad copy
// often arrives with inline tags and entities.
func stripMarkup(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return html.UnescapeString(markupRe.ReplaceAllString(s, " "))
	}
	var sb strings.Builder
	for _, n := range doc.Find("body").Nodes {
		writeText(&sb, n)
	}
	return sb.String()
}

var blockTags = map[string]bool{
	"br": true, "p": true, "div": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

func writeText(sb *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		return
	case html.ElementNode:
		if n.Data == "script" || n.Data == "style" {
			return
		}
	}
	block := n.Type == html.ElementNode && blockTags[n.Data]
	if block {
		sb.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(sb, c)
	}
	if block {
		sb.WriteByte(' ')
	}
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
