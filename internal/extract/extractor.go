// Package extract turns raw HTML into structured, markdown-ready content.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	"mdcrawl/internal/crawl"
)

var multiBlankRe = regexp.MustCompile(`\n{3,}`)

// Extractor implements crawl.Extractor with a readability-style main
// content heuristic, link harvesting, and an optional structured block tree.
type Extractor struct {
	converter *md.Converter
	logger    *zap.Logger
}

// New builds an Extractor.
func New(logger *zap.Logger) *Extractor {
	return &Extractor{
		converter: md.NewConverter("", true, nil),
		logger:    logger,
	}
}

// Extract structures one page. exclude_tags removal runs first, then the
// main-content heuristic when requested, then markdown conversion. Links
// are always harvested from the full document so crawl discovery does not
// depend on the narrowed content. A malformed or empty document degrades
// to raw text extraction and reports an ExtractionError alongside the
// partial content; it never fails the page outright.
func (e *Extractor) Extract(rawHTML []byte, baseURL string, opts crawl.PageOptions) (crawl.ExtractedContent, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return crawl.ExtractedContent{}, &crawl.ExtractionError{URL: baseURL, Err: fmt.Errorf("parse base url: %w", err)}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(rawHTML))
	if err != nil {
		// The html5 parser is lenient; failure here means the input is not
		// HTML at all. Degrade to treating the bytes as plain text.
		text := strings.TrimSpace(string(rawHTML))
		return crawl.ExtractedContent{
			Markdown: text,
			Text:     text,
			Metadata: crawl.PageMetadata{SourceURL: baseURL},
		}, &crawl.ExtractionError{URL: baseURL, Err: fmt.Errorf("parse html: %w", err)}
	}

	for _, selector := range opts.ExcludeTags {
		doc.Find(selector).Remove()
	}

	meta := harvestMetadata(doc, base)
	links, records := harvestLinks(doc, base)

	content := e.selectContent(doc, base, opts)
	contentHTML, err := goquery.OuterHtml(content)
	if err != nil {
		contentHTML = ""
	}

	out := crawl.ExtractedContent{
		HTML:        contentHTML,
		Links:       links,
		LinkRecords: records,
		Metadata:    meta,
	}

	out.Text = collapseText(content.Text())

	markdown, convErr := e.converter.ConvertString(contentHTML)
	if convErr != nil || strings.TrimSpace(markdown) == "" {
		// Conversion failure still yields usable output via raw text.
		out.Markdown = out.Text
		if convErr != nil {
			return out, &crawl.ExtractionError{URL: baseURL, Err: fmt.Errorf("convert markdown: %w", convErr)}
		}
		return out, nil
	}
	out.Markdown = markdown

	if opts.StructuredJSON {
		out.Blocks = ParseBlocks(markdown)
	}
	return out, nil
}

// selectContent applies the main-content heuristic: readability extraction
// with a fall back to the document body when the heuristic found nothing.
func (e *Extractor) selectContent(doc *goquery.Document, base *url.URL, opts crawl.PageOptions) *goquery.Selection {
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	if !opts.ExtractMainContent {
		return body
	}

	html, err := goquery.OuterHtml(doc.Selection)
	if err != nil {
		return body
	}
	article, err := readability.FromReader(strings.NewReader(html), base)
	if err != nil || strings.TrimSpace(article.Content) == "" {
		e.logger.Debug("readability found no main content, using body",
			zap.String("url", base.String()),
		)
		return body
	}

	contentDoc, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
	if err != nil {
		return body
	}
	content := contentDoc.Find("body")
	if content.Length() == 0 {
		return body
	}
	return content
}

// harvestLinks resolves every anchor href against the base URL, keeping
// first-appearance order and dropping duplicates (after normalization).
func harvestLinks(doc *goquery.Document, base *url.URL) ([]string, []crawl.LinkRecord) {
	var (
		links   []string
		records []crawl.LinkRecord
	)
	seen := make(map[string]struct{})

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return
		}
		resolved, err := crawl.ResolveURL(base.String(), href)
		if err != nil {
			return
		}
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		links = append(links, resolved)

		rel, _ := sel.Attr("rel")
		records = append(records, crawl.LinkRecord{
			URL:      resolved,
			Text:     strings.TrimSpace(sel.Text()),
			NoFollow: strings.Contains(rel, "nofollow"),
		})
	})
	return links, records
}

func collapseText(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return multiBlankRe.ReplaceAllString(strings.Join(out, "\n"), "\n\n")
}
