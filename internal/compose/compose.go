// Package compose turns freeform note text into the ordered block layout
// of a saved note page.
package compose

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/teemow/noted/internal/hierarchy"
	"github.com/teemow/noted/internal/notion"
)

const (
	sourcePrefix    = "🔗 Original Article: "
	savedAtLayout   = "January 02, 2006 at 03:04 PM"
	minSegmentRunes = 11
)

// Document is one note ready to be laid out.
type Document struct {
	Title     string
	SourceURL string
	Category  hierarchy.Category
	Segments  []string
}

// NewDocument segments content and normalizes category.
func NewDocument(title, sourceURL, category, content string) Document {
	return Document{
		Title:     strings.TrimSpace(title),
		SourceURL: strings.TrimSpace(sourceURL),
		Category:  hierarchy.Normalize(category),
		Segments:  Segment(content),
	}
}

// Title is the page title: the category glyph followed by the note title.
func Title(doc Document) string {
	return doc.Category.Glyph + " " + doc.Title
}

// Compose lays out doc in a fixed order: category callout, source link,
// divider, one paragraph per segment, divider, saved-at footer.
func Compose(doc Document, savedAt time.Time) []notion.Block {
	blocks := make([]notion.Block, 0, len(doc.Segments)+5)
	blocks = append(blocks,
		notion.CalloutBlock(notion.Emoji(doc.Category.Glyph), notion.ColorBlueBackground,
			notion.Plain("Category: "+doc.Category.Name)),
		notion.ParagraphBlock(notion.Plain(sourcePrefix), notion.Linked(doc.SourceURL, doc.SourceURL)),
		notion.DividerBlock(),
	)
	for _, seg := range doc.Segments {
		blocks = append(blocks, notion.ParagraphBlock(notion.PlainChunks(seg)...))
	}
	blocks = append(blocks,
		notion.DividerBlock(),
		notion.ParagraphBlock(notion.Italic("📅 Saved on "+savedAt.Format(savedAtLayout), notion.ColorGray)),
	)
	return blocks
}

var bulletPrefixes = []string{"• ", "- ", "* "}

// Segment splits content into paragraphs. It never returns an empty slice.
//
// Blank lines separate paragraphs. Without blank lines, lines are joined
// into sentences: list markers are stripped, and a paragraph ends at a
// line ending in '.', '!' or '?' or at an empty line. Paragraphs of ten
// characters or fewer are dropped as noise; when nothing survives, the
// whole trimmed content is the single paragraph.
func Segment(content string) []string {
	parts := strings.Split(content, "\n\n")
	if len(parts) == 1 {
		parts = joinLines(content)
	}

	var kept []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if utf8.RuneCountInString(p) >= minSegmentRunes {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return []string{strings.TrimSpace(content)}
	}
	return kept
}

func joinLines(content string) []string {
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			flush()
			continue
		}
		line = stripMarker(line)

		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(line)

		if strings.HasSuffix(line, ".") || strings.HasSuffix(line, "!") || strings.HasSuffix(line, "?") {
			flush()
		}
	}
	flush()
	return out
}

// stripMarker removes one leading bullet or "N. " marker (N in 1-9).
func stripMarker(line string) string {
	for _, p := range bulletPrefixes {
		if strings.HasPrefix(line, p) {
			return strings.TrimSpace(line[len(p):])
		}
	}
	if len(line) >= 3 && line[0] >= '1' && line[0] <= '9' && line[1] == '.' && line[2] == ' ' {
		return strings.TrimSpace(line[3:])
	}
	return line
}
