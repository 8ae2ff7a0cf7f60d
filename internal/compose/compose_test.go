package compose

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/noted/internal/notion"
)

func TestSegment(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name:    "blank line paragraphs",
			content: "Paragraph one.\n\nParagraph two.",
			want:    []string{"Paragraph one.", "Paragraph two."},
		},
		{
			name:    "short blank line paragraphs keep the whole text",
			content: "Para one.\n\nPara two.",
			want:    []string{"Para one.\n\nPara two."},
		},
		{
			name:    "short input falls back to whole",
			content: "short",
			want:    []string{"short"},
		},
		{
			name:    "noise dropped next to real paragraphs",
			content: "ok\n\nThis paragraph has real content.\n\n  \n\nAnother real paragraph here.",
			want:    []string{"This paragraph has real content.", "Another real paragraph here."},
		},
		{
			name:    "bullets are stripped and sentences flushed",
			content: "• First point is here.\n- Second point continues\nacross lines!\n* Third point asks why?",
			want:    []string{"First point is here.", "Second point continues across lines!", "Third point asks why?"},
		},
		{
			name:    "numbered markers",
			content: "1. Install the extension.\n2. Connect your workspace.\n9. Save your first note.",
			want:    []string{"Install the extension.", "Connect your workspace.", "Save your first note."},
		},
		{
			name:    "two digit numbers are not markers",
			content: "10. Ten is not a list marker here.",
			want:    []string{"10. Ten is not a list marker here."},
		},
		{
			name:    "trailing text without punctuation",
			content: "A complete sentence.\nand a dangling tail without end",
			want:    []string{"A complete sentence.", "and a dangling tail without end"},
		},
		{
			name:    "only short paragraphs keep the whole text",
			content: "Hi there.\n\nBye now.",
			want:    []string{"Hi there.\n\nBye now."},
		},
		{
			name:    "whitespace only",
			content: "   ",
			want:    []string{""},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Segment(tt.content))
		})
	}
}

func TestSegment_NeverEmpty(t *testing.T) {
	inputs := []string{"a", "\n\n", "x\n\ny", "- \n- ", "Hello world, this is a note"}
	for _, in := range inputs {
		assert.NotEmpty(t, Segment(in), "input %q", in)
	}
}

func TestTitle(t *testing.T) {
	doc := NewDocument("  My Article ", "https://example.com", "Science", "body")
	assert.Equal(t, "🔬 My Article", Title(doc))

	doc = NewDocument("Other", "https://example.com", "unknown", "body")
	assert.Equal(t, "📰 Other", Title(doc))
}

func TestCompose_BlockOrder(t *testing.T) {
	doc := NewDocument("Title", "https://example.com/a", "Technology & AI",
		"First paragraph with content.\n\nSecond paragraph with content.")
	savedAt := time.Date(2024, time.March, 5, 14, 7, 0, 0, time.UTC)

	blocks := Compose(doc, savedAt)

	types := make([]string, 0, len(blocks))
	for _, b := range blocks {
		types = append(types, b.Type)
	}
	assert.Equal(t, []string{
		notion.BlockCallout,
		notion.BlockParagraph,
		notion.BlockDivider,
		notion.BlockParagraph,
		notion.BlockParagraph,
		notion.BlockDivider,
		notion.BlockParagraph,
	}, types)

	callout := blocks[0].Callout
	require.NotNil(t, callout)
	assert.Equal(t, "Category: Technology & AI", blocks[0].Text())
	assert.Equal(t, "🤖", callout.Icon.Emoji)
	assert.Equal(t, notion.ColorBlueBackground, callout.Color)

	link := blocks[1].Paragraph.RichText
	require.Len(t, link, 2)
	assert.Equal(t, "🔗 Original Article: ", link[0].Text.Content)
	assert.Equal(t, "https://example.com/a", link[1].Text.Link.URL)

	assert.Equal(t, "First paragraph with content.", blocks[3].Text())
	assert.Equal(t, "Second paragraph with content.", blocks[4].Text())

	footer := blocks[6].Paragraph.RichText[0]
	assert.Equal(t, "📅 Saved on March 05, 2024 at 02:07 PM", footer.Text.Content)
	assert.True(t, footer.Annotations.Italic)
	assert.Equal(t, notion.ColorGray, footer.Annotations.Color)
}

func TestCompose_ChunksLongSegments(t *testing.T) {
	long := strings.Repeat("word ", 1000) + "end."
	doc := NewDocument("T", "https://example.com", "", long)

	blocks := Compose(doc, time.Now())
	require.Len(t, blocks, 6)
	runs := blocks[3].Paragraph.RichText
	assert.Len(t, runs, 3)
	for _, r := range runs {
		assert.LessOrEqual(t, len([]rune(r.Text.Content)), notion.MaxRichTextLength)
	}
	assert.Equal(t, strings.TrimSpace(long), blocks[3].Text())
}
