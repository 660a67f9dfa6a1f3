package extract

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"mdcrawl/internal/crawl"
)

// ParseBlocks parses markdown into a flat tree of semantic blocks, enough
// to reconstruct the document without re-parsing HTML.
func ParseBlocks(markdown string) []crawl.Block {
	source := []byte(markdown)
	parser := goldmark.New(goldmark.WithExtensions(extension.Table)).Parser()
	doc := parser.Parse(text.NewReader(source))

	var blocks []crawl.Block
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		if b, ok := convertNode(node, source); ok {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

func convertNode(node ast.Node, source []byte) (crawl.Block, bool) {
	switch n := node.(type) {
	case *ast.Heading:
		return crawl.Block{Type: "heading", Level: n.Level, Text: nodeText(n, source)}, true
	case *ast.Paragraph:
		return crawl.Block{Type: "paragraph", Text: nodeText(n, source)}, true
	case *ast.List:
		b := crawl.Block{Type: "list", Ordered: n.IsOrdered()}
		for item := n.FirstChild(); item != nil; item = item.NextSibling() {
			b.Items = append(b.Items, nodeText(item, source))
		}
		return b, true
	case *ast.FencedCodeBlock:
		return crawl.Block{
			Type:     "code",
			Language: string(n.Language(source)),
			Text:     segmentText(n, source),
		}, true
	case *ast.CodeBlock:
		return crawl.Block{Type: "code", Text: segmentText(n, source)}, true
	case *ast.Blockquote:
		return crawl.Block{Type: "blockquote", Text: nodeText(n, source)}, true
	case *extast.Table:
		return convertTable(n, source), true
	default:
		return crawl.Block{}, false
	}
}

func convertTable(table *extast.Table, source []byte) crawl.Block {
	b := crawl.Block{Type: "table"}
	for row := table.FirstChild(); row != nil; row = row.NextSibling() {
		var cells []string
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, nodeText(cell, source))
		}
		b.Rows = append(b.Rows, cells)
	}
	return b
}

func nodeText(node ast.Node, source []byte) string {
	var buf bytes.Buffer
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, ok := n.(*ast.Text); ok {
			buf.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				buf.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(buf.String())
}

func segmentText(node ast.Node, source []byte) string {
	var buf bytes.Buffer
	lines := node.Lines()
	for i := range lines.Len() {
		seg := lines.At(i)
		buf.Write(seg.Value(source))
	}
	return strings.TrimRight(buf.String(), "\n")
}
