package process

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"data-harvester/pkg/parse"
	"data-harvester/pkg/utils"
)

// ParseHTML builds a goquery document from page HTML.
func ParseHTML(r io.Reader) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: HTML document: %w", utils.ErrParsing, err)
	}
	return doc, nil
}

// ExtractLinks returns the normalized absolute http(s) targets of every <a href>
// in doc, in document order, with duplicates removed (first occurrence wins).
// Relative hrefs resolve against base.
func ExtractLinks(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]struct{})
	var links []string

	doc.Find("a[href]").Each(func(_ int, element *goquery.Selection) {
		href, exists := element.Attr("href")
		if !exists {
			return
		}
		normalized, ok := parse.NormalizeLink(base, href)
		if !ok {
			return
		}
		if _, dup := seen[normalized]; dup {
			return
		}
		seen[normalized] = struct{}{}
		links = append(links, normalized)
	})
	return links
}

// ExtractLinksFromHTML is ParseHTML followed by ExtractLinks.
func ExtractLinksFromHTML(html string, base *url.URL) ([]string, error) {
	doc, err := ParseHTML(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	return ExtractLinks(doc, base), nil
}
