package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"mdcrawl/internal/crawl"
)

// harvestMetadata pulls descriptive metadata from the document head:
// title, meta description, language, canonical URL and Open Graph data.
func harvestMetadata(doc *goquery.Document, base *url.URL) crawl.PageMetadata {
	meta := crawl.PageMetadata{
		SourceURL: base.String(),
	}

	meta.Title = strings.TrimSpace(doc.Find("title").First().Text())
	if og := ogTitle(doc); meta.Title == "" && og != "" {
		meta.Title = og
	}

	if lang, ok := doc.Find("html").First().Attr("lang"); ok {
		lang = strings.ToLower(strings.TrimSpace(lang))
		if len(lang) > 5 {
			lang = lang[:5]
		}
		meta.Language = lang
	}

	doc.Find(`meta[name]`).Each(func(_ int, sel *goquery.Selection) {
		name, _ := sel.Attr("name")
		if strings.EqualFold(name, "description") && meta.Description == "" {
			content, _ := sel.Attr("content")
			meta.Description = strings.TrimSpace(content)
		}
	})

	if href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok {
		if resolved, err := base.Parse(strings.TrimSpace(href)); err == nil {
			meta.Canonical = resolved.String()
		}
	}

	og := make(map[string]string)
	doc.Find(`meta[property]`).Each(func(_ int, sel *goquery.Selection) {
		prop, _ := sel.Attr("property")
		if !strings.HasPrefix(strings.ToLower(prop), "og:") {
			return
		}
		content, _ := sel.Attr("content")
		key := strings.ToLower(prop[len("og:"):])
		og[key] = strings.TrimSpace(content)
	})
	if len(og) > 0 {
		meta.OpenGraph = og
	}

	return meta
}

func ogTitle(doc *goquery.Document) string {
	content, _ := doc.Find(`meta[property="og:title"]`).First().Attr("content")
	return strings.TrimSpace(content)
}
