package links

import (
	"net/url"

	"github.com/PuerkitoBio/goquery"
)

// Selector harvests the href of every element matched by a CSS selector,
// such as the post list or the pagination bar of a hub page.
type Selector string

// Links returns up to limit distinct links matched by s, resolved against
// base. A non-positive limit means no limit. An empty selector matches
// nothing.
func (s Selector) Links(doc *goquery.Document, base *url.URL, limit int) []string {
	if s == "" || doc == nil {
		return nil
	}
	c := newCollector(base)
	doc.Find(string(s)).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if href, ok := sel.Attr("href"); ok && href != "" {
			c.add(href)
		}
		return limit <= 0 || len(c.urls) < limit
	})
	return c.urls
}
