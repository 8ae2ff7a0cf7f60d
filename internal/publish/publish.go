// Package publish saves a note into the user's workspace: credential
// lookup, hierarchy resolution, composition and leaf page creation.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/teemow/noted/internal/auth"
	"github.com/teemow/noted/internal/compose"
	"github.com/teemow/noted/internal/credential"
	"github.com/teemow/noted/internal/hierarchy"
	"github.com/teemow/noted/internal/instrumentation"
	"github.com/teemow/noted/internal/logging"
	"github.com/teemow/noted/internal/notion"
)

// Request is one save.
type Request struct {
	UserID    string `json:"user_id" validate:"required"`
	Title     string `json:"title" validate:"required"`
	Content   string `json:"content" validate:"required"`
	SourceURL string `json:"url" validate:"required,url"`
	Category  string `json:"category"`
}

// Result locates the created note.
type Result struct {
	URL      string `json:"url"`
	PageID   string `json:"page_id"`
	Category string `json:"category"`
}

// ValidationError reports a rejected request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Resolver finds the Category node a note goes under.
type Resolver interface {
	Resolve(ctx context.Context, cred *credential.Credential, category string) (hierarchy.Resolution, error)
}

// Pages creates the leaf page.
type Pages interface {
	CreatePage(ctx context.Context, token string, req notion.CreatePageRequest) (*notion.Page, error)
	AppendChildren(ctx context.Context, token, blockID string, blocks []notion.Block) error
}

// Coordinator runs the save pipeline.
type Coordinator struct {
	creds    credential.Store
	resolver Resolver
	pages    Pages
	validate *validator.Validate
	now      func() time.Time
	metrics  *instrumentation.Metrics
	logger   *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the time used for the saved-at footer.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithMetrics(m *instrumentation.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

func NewCoordinator(creds credential.Store, resolver Resolver, pages Pages, opts ...Option) *Coordinator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	c := &Coordinator{
		creds:    creds,
		resolver: resolver,
		pages:    pages,
		validate: v,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Publish saves req and returns the new page. The leaf is created last;
// Dashboard and Category nodes created along the way are kept if it fails.
func (c *Coordinator) Publish(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	category := hierarchy.Normalize(req.Category)

	ctx, span := instrumentation.StartSpan(ctx, "publish",
		instrumentation.NewSpanAttributeBuilder().
			WithUserHash(logging.AnonymizeUser(req.UserID)).
			WithCategory(category.Name).
			Build()...)
	defer span.End()

	res, err := c.publish(ctx, req)

	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
		c.logger.Warn("publish failed", logging.UserHash(req.UserID), logging.Category(category.Name), logging.Err(err))
	} else {
		instrumentation.SetSpanSuccess(span)
		c.logger.Info("published note", logging.UserHash(req.UserID), logging.Category(category.Name))
	}
	c.metrics.RecordPublish(ctx, category.Name, status, time.Since(start))
	return res, err
}

func (c *Coordinator) publish(ctx context.Context, req Request) (*Result, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.Title = strings.TrimSpace(req.Title)
	req.SourceURL = strings.TrimSpace(req.SourceURL)
	if strings.TrimSpace(req.Content) == "" {
		req.Content = ""
	}
	if err := c.check(req); err != nil {
		return nil, err
	}

	cred, err := c.creds.Get(ctx, req.UserID)
	if errors.Is(err, credential.ErrNotFound) {
		return nil, &auth.AuthError{Reason: auth.ReasonNoToken}
	}
	if err != nil {
		return nil, err
	}

	resolution, err := c.resolver.Resolve(ctx, cred, req.Category)
	if err != nil {
		return nil, err
	}

	doc := compose.Document{
		Title:     req.Title,
		SourceURL: req.SourceURL,
		Category:  resolution.Category,
		Segments:  compose.Segment(req.Content),
	}
	blocks := compose.Compose(doc, c.now())

	first := blocks
	var rest []notion.Block
	if len(blocks) > notion.MaxBlocksPerRequest {
		first, rest = blocks[:notion.MaxBlocksPerRequest], blocks[notion.MaxBlocksPerRequest:]
	}

	page, err := c.pages.CreatePage(ctx, cred.AccessToken, notion.CreatePageRequest{
		Parent:     notion.PageParent(resolution.CategoryID),
		Properties: notion.TitleProperties(compose.Title(doc)),
		Children:   first,
	})
	if err != nil {
		return nil, err
	}
	if len(rest) > 0 {
		if err := c.pages.AppendChildren(ctx, cred.AccessToken, page.ID, rest); err != nil {
			return nil, err
		}
	}

	return &Result{URL: page.URL, PageID: page.ID, Category: resolution.Category.Name}, nil
}

func (c *Coordinator) check(req Request) error {
	if err := c.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			msg := "must not be empty"
			if fe.Tag() == "url" {
				msg = "must be an absolute URL"
			}
			return &ValidationError{Field: fe.Field(), Message: msg}
		}
		return &ValidationError{Field: "request", Message: err.Error()}
	}

	u, err := url.Parse(req.SourceURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{Field: "url", Message: "must be an http or https URL"}
	}
	return nil
}
