// Package markdown cleans extracted markdown into LLM-ready form.
package markdown

import (
	"fmt"
	"regexp"
	"strings"
)

// Normalizer applies the ordered cleanup rules. Normalize is pure and
// idempotent: Normalize(Normalize(x)) == Normalize(x).
type Normalizer struct{}

// New returns a Normalizer.
func New() *Normalizer {
	return &Normalizer{}
}

var (
	htmlCommentRe   = regexp.MustCompile(`(?s)<!--.*?-->`)
	blankRunRe      = regexp.MustCompile(`\n{4,}`)
	headerLineRe    = regexp.MustCompile(`^(#{1,6})\s*(.*?)[\s#]*$`)
	bulletItemRe    = regexp.MustCompile(`^(\s*)[-*+•◦▪]\s+(.*)$`)
	orderedItemRe   = regexp.MustCompile(`^(\s*)(\d+)[.)]\s+(.*)$`)
	trailingSpaceRe = regexp.MustCompile(`[ \t]+$`)
)

// Normalize runs the rule set in order. Later rules assume earlier ones ran:
// comments are stripped before line handling, line endings are unified before
// blank-line collapsing, and header/list normalization precedes block spacing.
func (Normalizer) Normalize(markdown string) string {
	s := htmlCommentRe.ReplaceAllString(markdown, "")
	s = normalizeLineEndings(s)
	s = trimTrailingWhitespace(s)
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	s = normalizeHeaderLevels(s)
	s = normalizeListItems(s)
	s = spaceBlocks(s)
	s = trimTrailingWhitespace(s)
	return strings.Trim(s, "\n")
}

func normalizeLineEndings(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

func trimTrailingWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = trailingSpaceRe.ReplaceAllString(line, "")
	}
	return strings.Join(lines, "\n")
}

// normalizeHeaderLevels shifts headers so the smallest level present becomes
// level 1 while relative nesting is preserved, and rewrites each header into
// canonical "# Title" form. Fenced code blocks are left untouched.
func normalizeHeaderLevels(s string) string {
	lines := strings.Split(s, "\n")

	minLevel := 0
	inFence := false
	for _, line := range lines {
		if isFenceDelimiter(line) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if m := headerLineRe.FindStringSubmatch(line); m != nil {
			level := len(m[1])
			if minLevel == 0 || level < minLevel {
				minLevel = level
			}
		}
	}
	if minLevel == 0 {
		return s
	}
	shift := minLevel - 1

	inFence = false
	for i, line := range lines {
		if isFenceDelimiter(line) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if m := headerLineRe.FindStringSubmatch(line); m != nil {
			level := len(m[1]) - shift
			lines[i] = fmt.Sprintf("%s %s", strings.Repeat("#", level), m[2])
		}
	}
	return strings.Join(lines, "\n")
}

// normalizeListItems rewrites bullet markers to "- " and ordered markers to
// "N. ", converting tab indentation to two spaces.
func normalizeListItems(s string) string {
	lines := strings.Split(s, "\n")
	inFence := false
	for i, line := range lines {
		if isFenceDelimiter(line) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if m := bulletItemRe.FindStringSubmatch(line); m != nil {
			lines[i] = normalizeIndent(m[1]) + "- " + m[2]
			continue
		}
		if m := orderedItemRe.FindStringSubmatch(line); m != nil {
			lines[i] = normalizeIndent(m[1]) + m[2] + ". " + m[3]
		}
	}
	return strings.Join(lines, "\n")
}

func normalizeIndent(indent string) string {
	return strings.ReplaceAll(indent, "\t", "  ")
}

type lineKind int

const (
	kindBlank lineKind = iota
	kindHeader
	kindList
	kindOther
)

func classifyLine(line string) lineKind {
	switch {
	case strings.TrimSpace(line) == "":
		return kindBlank
	case headerLineRe.MatchString(line):
		return kindHeader
	case bulletItemRe.MatchString(line) || orderedItemRe.MatchString(line):
		return kindList
	default:
		return kindOther
	}
}

type block struct {
	kind        lineKind
	lines       []string
	blanksAfter int
}

// spaceBlocks guarantees exactly one blank line before and after every
// header and every contiguous list block. Spacing between other blocks is
// preserved as-is. A fenced code block counts as a regular block.
func spaceBlocks(s string) string {
	blocks := groupBlocks(strings.Split(s, "\n"))
	if len(blocks) == 0 {
		return ""
	}

	var out []string
	for i, b := range blocks {
		out = append(out, b.lines...)
		if i == len(blocks)-1 {
			break
		}
		blanks := b.blanksAfter
		if b.kind == kindHeader || b.kind == kindList ||
			blocks[i+1].kind == kindHeader || blocks[i+1].kind == kindList {
			blanks = 1
		}
		for range blanks {
			out = append(out, "")
		}
	}
	return strings.Join(out, "\n")
}

// groupBlocks splits lines into maximal blocks of one kind, recording how
// many blank lines separated each block from the next.
func groupBlocks(lines []string) []block {
	var blocks []block
	inFence := false

	appendTo := func(kind lineKind, line string) {
		last := len(blocks) - 1
		if last >= 0 && blocks[last].kind == kind && blocks[last].blanksAfter == 0 && kind != kindHeader {
			blocks[last].lines = append(blocks[last].lines, line)
			return
		}
		blocks = append(blocks, block{kind: kind, lines: []string{line}})
	}

	for _, line := range lines {
		if isFenceDelimiter(line) {
			if inFence {
				// Closing delimiter joins the open fence block.
				blocks[len(blocks)-1].lines = append(blocks[len(blocks)-1].lines, line)
			} else {
				blocks = append(blocks, block{kind: kindOther, lines: []string{line}})
			}
			inFence = !inFence
			continue
		}
		if inFence {
			blocks[len(blocks)-1].lines = append(blocks[len(blocks)-1].lines, line)
			continue
		}
		kind := classifyLine(line)
		if kind == kindBlank {
			if len(blocks) > 0 {
				blocks[len(blocks)-1].blanksAfter++
			}
			continue
		}
		appendTo(kind, line)
	}
	return blocks
}

func isFenceDelimiter(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~")
}
