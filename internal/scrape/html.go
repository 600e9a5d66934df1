package scrape

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"
)

// DefaultMaxLinks is how many ranked result positions are considered.
const DefaultMaxLinks = 5

func parseHTML(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, eris.Wrap(err, "scrape: parse html")
	}
	return doc, nil
}

// CollectLinks returns hrefs from the first max positions matched by sel,
// in ranked order. Positions with no href, excluded paths and repeats are
// skipped; they still count toward max. Relative hrefs resolve against base.
func CollectLinks(html, sel, base string, max int, exclude *PathMatcher) ([]string, error) {
	if max <= 0 {
		max = DefaultMaxLinks
	}
	doc, err := parseHTML(html)
	if err != nil {
		return nil, err
	}

	baseURL, _ := url.Parse(base)

	var (
		links []string
		seen  = map[string]bool{}
	)
	doc.Find(sel).EachWithBreak(func(i int, s *goquery.Selection) bool {
		if i >= max {
			return false
		}
		href, ok := s.Attr("href")
		href = strings.TrimSpace(href)
		if !ok || href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return true
		}
		abs := resolveURL(baseURL, href)
		if abs == "" || seen[abs] || exclude.IsExcluded(abs) {
			return true
		}
		seen[abs] = true
		links = append(links, abs)
		return true
	})
	return links, nil
}

func resolveURL(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil && base.Scheme != "" {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}
	ref.Fragment = ""
	return ref.String()
}

// SelectText returns the cleaned text of the first element matching sel, or
// "" when nothing matches or the match is blank.
func SelectText(doc *goquery.Document, sel string) string {
	if doc == nil || sel == "" {
		return ""
	}
	return CleanText(doc.Find(sel).First().Text())
}

// HasSelector reports whether sel matches anything in html.
func HasSelector(html, sel string) bool {
	doc, err := parseHTML(html)
	if err != nil {
		return false
	}
	return doc.Find(sel).Length() > 0
}

var (
	inlineSpaceRe = regexp.MustCompile(`[^\S\n]+`)
	blankLinesRe  = regexp.MustCompile(`\n\s*\n`)
)

// CleanText normalizes extracted text to NFC, collapses runs of inline
// whitespace, keeps at most one blank line between paragraphs, and trims.
func CleanText(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = inlineSpaceRe.ReplaceAllString(s, " ")
	s = blankLinesRe.ReplaceAllString(s, "\n\n")

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// HTMLText converts an HTML fragment to cleaned text.
func HTMLText(fragment string) string {
	doc, err := parseHTML(fragment)
	if err != nil {
		return ""
	}
	doc.Find("script, style").Remove()
	return CleanText(doc.Text())
}
