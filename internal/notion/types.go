package notion

import (
	"strings"
	"unicode/utf8"
)

// MaxRichTextLength is the per-object content limit of the Notion API.
const MaxRichTextLength = 2000

// Block types used by this package.
const (
	BlockParagraph = "paragraph"
	BlockHeading2  = "heading_2"
	BlockCallout   = "callout"
	BlockDivider   = "divider"
	BlockChildPage = "child_page"
)

// Color values accepted by rich text annotations and blocks.
const (
	ColorDefault        = "default"
	ColorGray           = "gray"
	ColorBlueBackground = "blue_background"
)

type Link struct {
	URL string `json:"url"`
}

type Text struct {
	Content string `json:"content"`
	Link    *Link  `json:"link,omitempty"`
}

type Annotations struct {
	Bold   bool   `json:"bold,omitempty"`
	Italic bool   `json:"italic,omitempty"`
	Color  string `json:"color,omitempty"`
}

// RichText is one styled run of text.
type RichText struct {
	Type        string       `json:"type"`
	Text        *Text        `json:"text,omitempty"`
	Annotations *Annotations `json:"annotations,omitempty"`
	PlainText   string       `json:"plain_text,omitempty"`
}

// Content returns the run's text, whichever field the server filled in.
func (r RichText) Content() string {
	if r.Text != nil && r.Text.Content != "" {
		return r.Text.Content
	}
	return r.PlainText
}

// Plain returns an unstyled text run.
func Plain(content string) RichText {
	return RichText{Type: "text", Text: &Text{Content: content}}
}

// Linked returns a text run that links to url.
func Linked(content, url string) RichText {
	return RichText{Type: "text", Text: &Text{Content: content, Link: &Link{URL: url}}}
}

// Italic returns an italic run in the given color.
func Italic(content, color string) RichText {
	rt := Plain(content)
	rt.Annotations = &Annotations{Italic: true, Color: color}
	return rt
}

// SplitText cuts s into runs of at most MaxRichTextLength characters,
// never splitting a UTF-8 sequence.
func SplitText(s string) []string {
	if utf8.RuneCountInString(s) <= MaxRichTextLength {
		return []string{s}
	}
	var parts []string
	for s != "" {
		n, i := 0, 0
		for i < len(s) && n < MaxRichTextLength {
			_, size := utf8.DecodeRuneInString(s[i:])
			i += size
			n++
		}
		parts = append(parts, s[:i])
		s = s[i:]
	}
	return parts
}

// PlainChunks returns s as unstyled runs that respect MaxRichTextLength.
func PlainChunks(s string) []RichText {
	parts := SplitText(s)
	out := make([]RichText, 0, len(parts))
	for _, p := range parts {
		out = append(out, Plain(p))
	}
	return out
}

type Icon struct {
	Type  string `json:"type"`
	Emoji string `json:"emoji,omitempty"`
}

// Emoji returns an emoji icon.
func Emoji(e string) *Icon {
	return &Icon{Type: "emoji", Emoji: e}
}

type TextBlock struct {
	RichText []RichText `json:"rich_text"`
	Color    string     `json:"color,omitempty"`
}

type Callout struct {
	RichText []RichText `json:"rich_text"`
	Icon     *Icon      `json:"icon,omitempty"`
	Color    string     `json:"color,omitempty"`
}

type ChildPage struct {
	Title string `json:"title"`
}

// Empty marshals as {} for blocks that carry no content.
type Empty struct{}

// Block is a content block. Exactly one of the typed fields is set,
// matching Type.
type Block struct {
	Object    string     `json:"object,omitempty"`
	ID        string     `json:"id,omitempty"`
	Type      string     `json:"type"`
	Paragraph *TextBlock `json:"paragraph,omitempty"`
	Heading2  *TextBlock `json:"heading_2,omitempty"`
	Callout   *Callout   `json:"callout,omitempty"`
	Divider   *Empty     `json:"divider,omitempty"`
	ChildPage *ChildPage `json:"child_page,omitempty"`
}

// Text returns the concatenated text of the block's rich text, or the
// title for child pages.
func (b Block) Text() string {
	var runs []RichText
	switch b.Type {
	case BlockParagraph:
		if b.Paragraph != nil {
			runs = b.Paragraph.RichText
		}
	case BlockHeading2:
		if b.Heading2 != nil {
			runs = b.Heading2.RichText
		}
	case BlockCallout:
		if b.Callout != nil {
			runs = b.Callout.RichText
		}
	case BlockChildPage:
		if b.ChildPage != nil {
			return b.ChildPage.Title
		}
	}
	return joinRuns(runs)
}

func ParagraphBlock(runs ...RichText) Block {
	return Block{Object: "block", Type: BlockParagraph, Paragraph: &TextBlock{RichText: runs}}
}

func CalloutBlock(icon *Icon, color string, runs ...RichText) Block {
	return Block{Object: "block", Type: BlockCallout, Callout: &Callout{RichText: runs, Icon: icon, Color: color}}
}

func DividerBlock() Block {
	return Block{Object: "block", Type: BlockDivider, Divider: &Empty{}}
}

// Parent locates a page in the workspace tree.
type Parent struct {
	Type      string `json:"type"`
	PageID    string `json:"page_id,omitempty"`
	Workspace bool   `json:"workspace,omitempty"`
}

// WorkspaceParent is the workspace root.
func WorkspaceParent() Parent {
	return Parent{Type: "workspace", Workspace: true}
}

// PageParent places a page under pageID.
func PageParent(pageID string) Parent {
	return Parent{Type: "page_id", PageID: pageID}
}

// Property is a page property. Only title properties are modelled.
type Property struct {
	Type  string     `json:"type,omitempty"`
	Title []RichText `json:"title,omitempty"`
}

// TitleProperties returns the properties map for a page titled title.
func TitleProperties(title string) map[string]Property {
	return map[string]Property{"title": {Type: "title", Title: PlainChunks(title)}}
}

// Page is a page object as returned by search, retrieve and create.
type Page struct {
	Object     string              `json:"object"`
	ID         string              `json:"id"`
	URL        string              `json:"url,omitempty"`
	Archived   bool                `json:"archived,omitempty"`
	InTrash    bool                `json:"in_trash,omitempty"`
	Parent     Parent              `json:"parent"`
	Icon       *Icon               `json:"icon,omitempty"`
	Properties map[string]Property `json:"properties,omitempty"`
}

// Title returns the plain title of the page.
func (p Page) Title() string {
	if prop, ok := p.Properties["title"]; ok {
		return joinRuns(prop.Title)
	}
	for _, prop := range p.Properties {
		if prop.Type == "title" {
			return joinRuns(prop.Title)
		}
	}
	return ""
}

// CreatePageRequest is the body of POST /pages.
type CreatePageRequest struct {
	Parent     Parent              `json:"parent"`
	Properties map[string]Property `json:"properties"`
	Children   []Block             `json:"children,omitempty"`
	Icon       *Icon               `json:"icon,omitempty"`
}

type Person struct {
	Email string `json:"email,omitempty"`
}

// User is the identity behind an access token.
type User struct {
	Object    string  `json:"object,omitempty"`
	ID        string  `json:"id"`
	Type      string  `json:"type,omitempty"`
	Name      string  `json:"name,omitempty"`
	AvatarURL string  `json:"avatar_url,omitempty"`
	Person    *Person `json:"person,omitempty"`
}

// Email returns the person's email, if the integration may read it.
func (u User) Email() string {
	if u.Person == nil {
		return ""
	}
	return u.Person.Email
}

type searchFilter struct {
	Property string `json:"property"`
	Value    string `json:"value"`
}

type searchRequest struct {
	Query       string        `json:"query"`
	Filter      *searchFilter `json:"filter,omitempty"`
	PageSize    int           `json:"page_size,omitempty"`
	StartCursor string        `json:"start_cursor,omitempty"`
}

type pageList struct {
	Results    []Page  `json:"results"`
	NextCursor *string `json:"next_cursor"`
	HasMore    bool    `json:"has_more"`
}

type blockList struct {
	Results    []Block `json:"results"`
	NextCursor *string `json:"next_cursor"`
	HasMore    bool    `json:"has_more"`
}

func joinRuns(runs []RichText) string {
	var b strings.Builder
	for _, r := range runs {
		b.WriteString(r.Content())
	}
	return b.String()
}
