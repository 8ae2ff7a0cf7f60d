package hierarchy

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/teemow/noted/internal/credential"
	"github.com/teemow/noted/internal/instrumentation"
	"github.com/teemow/noted/internal/logging"
	"github.com/teemow/noted/internal/notion"
)

// DefaultDashboardTitle is the title of the root node.
const DefaultDashboardTitle = "Noted Dashboard"

const (
	dashboardIntro = "Never lose a highlight — it’s Noted!"
	dashboardHint  = "📄 Each article note is saved as a separate page under this dashboard for easy reading and organization."

	rootParent = "workspace"
)

// Workspace is the subset of the Notion client the resolver needs.
type Workspace interface {
	Search(ctx context.Context, token, query string) ([]notion.Page, error)
	ListChildren(ctx context.Context, token, blockID string) ([]notion.Block, error)
	CreatePage(ctx context.Context, token string, req notion.CreatePageRequest) (*notion.Page, error)
}

// Resolution identifies the parent chain for a new note.
type Resolution struct {
	DashboardID      string
	CategoryID       string
	Category         Category
	DashboardCreated bool
	CategoryCreated  bool
}

// Resolver finds or creates Dashboard and Category nodes.
type Resolver struct {
	ws             Workspace
	locker         Locker
	group          singleflight.Group
	dashboardTitle string
	metrics        *instrumentation.Metrics
	logger         *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLocker replaces the in-process reservation with a shared one.
func WithLocker(l Locker) Option {
	return func(r *Resolver) { r.locker = l }
}

func WithDashboardTitle(title string) Option {
	return func(r *Resolver) {
		if strings.TrimSpace(title) != "" {
			r.dashboardTitle = title
		}
	}
}

func WithMetrics(m *instrumentation.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

func NewResolver(ws Workspace, opts ...Option) *Resolver {
	r := &Resolver{
		ws:             ws,
		locker:         NewMemoryLocker(),
		dashboardTitle: DefaultDashboardTitle,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DashboardTitle returns the configured root title.
func (r *Resolver) DashboardTitle() string {
	return r.dashboardTitle
}

// Resolve returns the Category node for category, creating it and the
// Dashboard as needed. Unknown categories resolve to General News.
// Identical concurrent calls in this process share one resolution. The
// shared work is detached from any single caller's cancellation and bounded
// by sharedResolveTimeout instead.
func (r *Resolver) Resolve(ctx context.Context, cred *credential.Credential, category string) (Resolution, error) {
	if cred == nil {
		return Resolution{}, errors.New("resolve: nil credential")
	}
	cat := Normalize(category)
	key := cred.WorkspaceID + "\x00" + cred.UserID + "\x00" + cat.Name

	ch := r.group.DoChan(key, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedResolveTimeout)
		defer cancel()
		return r.resolve(shared, cred, cat)
	})
	select {
	case <-ctx.Done():
		return Resolution{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Resolution{}, res.Err
		}
		out := res.Val.(Resolution)
		if res.Shared {
			// Only the caller that ran the resolution reports creations.
			out.DashboardCreated, out.CategoryCreated = false, false
		}
		return out, nil
	}
}

func (r *Resolver) resolve(ctx context.Context, cred *credential.Credential, cat Category) (Resolution, error) {
	ctx, span := instrumentation.StartSpan(ctx, "hierarchy.resolve",
		instrumentation.NewSpanAttributeBuilder().
			WithWorkspace(cred.WorkspaceID).
			WithCategory(cat.Name).
			Build()...)
	defer span.End()

	dashID, dashCreated, err := r.dashboard(ctx, cred)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return Resolution{}, err
	}
	catID, catCreated, err := r.category(ctx, cred, dashID, cat)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return Resolution{}, err
	}

	span.SetAttributes(
		attribute.String(instrumentation.SpanAttrNodeID, catID),
		attribute.Bool(instrumentation.SpanAttrCreated, dashCreated || catCreated),
	)
	instrumentation.SetSpanSuccess(span)
	return Resolution{
		DashboardID:      dashID,
		CategoryID:       catID,
		Category:         cat,
		DashboardCreated: dashCreated,
		CategoryCreated:  catCreated,
	}, nil
}

// sharedResolveTimeout covers a dashboard and a category search-then-create.
const sharedResolveTimeout = 2 * notion.DefaultTimeout

func lockKey(workspace, parent, title string) string {
	return workspace + "/" + parent + "/" + title
}

func (r *Resolver) dashboard(ctx context.Context, cred *credential.Credential) (string, bool, error) {
	unlock, err := r.locker.Lock(ctx, lockKey(cred.WorkspaceID, rootParent, r.dashboardTitle))
	if err != nil {
		return "", false, err
	}
	defer unlock()

	pages, err := r.ws.Search(ctx, cred.AccessToken, r.dashboardTitle)
	if err != nil {
		return "", false, err
	}
	for _, p := range pages {
		if p.Archived || p.InTrash {
			continue
		}
		if p.Title() == r.dashboardTitle {
			return p.ID, false, nil
		}
	}

	page, err := r.ws.CreatePage(ctx, cred.AccessToken, notion.CreatePageRequest{
		Parent:     notion.WorkspaceParent(),
		Properties: notion.TitleProperties(r.dashboardTitle),
		Children: []notion.Block{
			notion.ParagraphBlock(notion.Plain(dashboardIntro)),
			notion.ParagraphBlock(notion.Plain(dashboardHint)),
		},
	})
	if err != nil {
		return "", false, err
	}

	r.metrics.RecordNodeCreated(ctx, instrumentation.NodeKindDashboard)
	r.logger.Info("created dashboard", logging.Workspace(cred.WorkspaceID), logging.UserHash(cred.UserID))
	return page.ID, true, nil
}

func (r *Resolver) category(ctx context.Context, cred *credential.Credential, dashboardID string, cat Category) (string, bool, error) {
	title := cat.DisplayTitle()
	unlock, err := r.locker.Lock(ctx, lockKey(cred.WorkspaceID, dashboardID, title))
	if err != nil {
		return "", false, err
	}
	defer unlock()

	children, err := r.ws.ListChildren(ctx, cred.AccessToken, dashboardID)
	if err != nil {
		return "", false, err
	}
	if id, ok := matchCategory(children, cat); ok {
		return id, false, nil
	}

	page, err := r.ws.CreatePage(ctx, cred.AccessToken, notion.CreatePageRequest{
		Parent:     notion.PageParent(dashboardID),
		Properties: notion.TitleProperties(title),
		Children: []notion.Block{
			notion.ParagraphBlock(notion.Italic("Articles related to "+strings.ToLower(cat.Name)+" will appear below:", "")),
			notion.DividerBlock(),
		},
	})
	if err != nil {
		return "", false, err
	}

	r.metrics.RecordNodeCreated(ctx, instrumentation.NodeKindCategory)
	r.logger.Info("created category", logging.Workspace(cred.WorkspaceID), logging.Category(cat.Name))
	return page.ID, true, nil
}

// matchCategory prefers an exact display-title match and falls back to a
// child whose title without its leading glyph equals the category name.
func matchCategory(children []notion.Block, cat Category) (string, bool) {
	title := cat.DisplayTitle()
	for _, b := range children {
		if b.Type == notion.BlockChildPage && b.ChildPage != nil && b.ChildPage.Title == title {
			return b.ID, true
		}
	}
	for _, b := range children {
		if b.Type == notion.BlockChildPage && b.ChildPage != nil && StripGlyph(b.ChildPage.Title) == cat.Name {
			return b.ID, true
		}
	}
	return "", false
}
