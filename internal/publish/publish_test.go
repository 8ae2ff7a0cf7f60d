package publish

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/noted/internal/auth"
	"github.com/teemow/noted/internal/credential"
	"github.com/teemow/noted/internal/hierarchy"
	"github.com/teemow/noted/internal/instrumentation"
	"github.com/teemow/noted/internal/notion"
	"github.com/teemow/noted/internal/notion/notiontest"
)

var savedAt = time.Date(2024, time.March, 5, 14, 7, 0, 0, time.UTC)

type fixture struct {
	srv   *notiontest.Server
	creds *credential.MemoryStore
	coord *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := notiontest.NewServer(t)
	srv.AddUser("tok", notion.User{ID: "notion-user"})

	client := notion.NewClient(notion.WithBaseURL(srv.BaseURL()))
	creds := credential.NewMemoryStore()
	coord := NewCoordinator(creds, hierarchy.NewResolver(client), client,
		WithClock(func() time.Time { return savedAt }))
	return &fixture{srv: srv, creds: creds, coord: coord}
}

func (f *fixture) login(t *testing.T, user string) {
	t.Helper()
	require.NoError(t, f.creds.Store(context.Background(), user, "tok", "ws-1"))
}

func validRequest() Request {
	return Request{
		UserID:    "user-1",
		Title:     "Quantum chips",
		Content:   "First paragraph of the note.\n\nSecond paragraph of the note.",
		SourceURL: "https://example.com/article",
		Category:  "tech",
	}
}

func TestPublish_CreatesNoteUnderCategory(t *testing.T) {
	f := newFixture(t)
	f.login(t, "user-1")

	res, err := f.coord.Publish(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, "Technology & AI", res.Category)
	assert.NotEmpty(t, res.PageID)
	assert.True(t, strings.HasPrefix(res.URL, "https://www.notion.so/"))

	page, parent, blocks, ok := f.srv.Page(res.PageID)
	require.True(t, ok)
	assert.Equal(t, "🤖 Quantum chips", page.Title())
	assert.Equal(t, []string{"🤖 Technology & AI"}, f.srv.ChildTitles(f.srv.PagesTitled(hierarchy.DefaultDashboardTitle)[0]))
	assert.Equal(t, []string{"🤖 Quantum chips"}, f.srv.ChildTitles(parent))

	require.Len(t, blocks, 7)
	assert.Equal(t, notion.BlockCallout, blocks[0].Type)
	assert.Equal(t, "Category: Technology & AI", blocks[0].Text())
	assert.Equal(t, "🔗 Original Article: https://example.com/article", blocks[1].Text())
	assert.Equal(t, "First paragraph of the note.", blocks[3].Text())
	assert.Equal(t, "Second paragraph of the note.", blocks[4].Text())
	assert.Equal(t, "📅 Saved on March 05, 2024 at 02:07 PM", blocks[6].Text())
}

func TestPublish_ReusesHierarchy(t *testing.T) {
	f := newFixture(t)
	f.login(t, "user-1")
	ctx := context.Background()

	first, err := f.coord.Publish(ctx, validRequest())
	require.NoError(t, err)

	req := validRequest()
	req.Title = "Another one"
	second, err := f.coord.Publish(ctx, req)
	require.NoError(t, err)

	assert.NotEqual(t, first.PageID, second.PageID)
	assert.Len(t, f.srv.PagesTitled(hierarchy.DefaultDashboardTitle), 1)
	assert.Len(t, f.srv.PagesTitled("🤖 Technology & AI"), 1)
}

func TestPublish_UnknownCategoryFallsBackToGeneral(t *testing.T) {
	f := newFixture(t)
	f.login(t, "user-1")

	req := validRequest()
	req.Category = "underwater basket weaving"
	res, err := f.coord.Publish(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, hierarchy.DefaultCategory, res.Category)
}

func TestPublish_MissingCredentialMakesNoRemoteCalls(t *testing.T) {
	f := newFixture(t)

	_, err := f.coord.Publish(context.Background(), validRequest())
	var authErr *auth.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, auth.ReasonNoToken, authErr.Reason)
	assert.Equal(t, http.StatusUnauthorized, authErr.HTTPStatus())
	assert.Zero(t, f.srv.TotalCalls())
}

func TestPublish_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Request)
		field  string
	}{
		{"empty title", func(r *Request) { r.Title = "   " }, "title"},
		{"empty content", func(r *Request) { r.Content = "\n\n  " }, "content"},
		{"missing user", func(r *Request) { r.UserID = "" }, "user_id"},
		{"missing url", func(r *Request) { r.SourceURL = "" }, "url"},
		{"relative url", func(r *Request) { r.SourceURL = "/just/a/path" }, "url"},
		{"ftp url", func(r *Request) { r.SourceURL = "ftp://example.com/file" }, "url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.login(t, "user-1")
			req := validRequest()
			tt.mutate(&req)

			_, err := f.coord.Publish(context.Background(), req)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.Zero(t, f.srv.TotalCalls())
		})
	}
}

func TestPublish_RemoteErrorPropagates(t *testing.T) {
	f := newFixture(t)
	f.login(t, "user-1")
	f.srv.FailNext(instrumentation.OperationCreatePage, http.StatusBadRequest)

	_, err := f.coord.Publish(context.Background(), validRequest())
	var remote *notion.RemoteServiceError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusBadRequest, remote.Status)
}

func TestPublish_StorageErrorPropagates(t *testing.T) {
	srv := notiontest.NewServer(t)
	client := notion.NewClient(notion.WithBaseURL(srv.BaseURL()))
	coord := NewCoordinator(brokenStore{}, hierarchy.NewResolver(client), client)

	_, err := coord.Publish(context.Background(), validRequest())
	var storageErr *credential.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Zero(t, srv.TotalCalls())
}

func TestPublish_LongNoteIsAppendedInBatches(t *testing.T) {
	f := newFixture(t)
	f.login(t, "user-1")

	paragraphs := make([]string, 200)
	for i := range paragraphs {
		paragraphs[i] = fmt.Sprintf("Paragraph number %d of a long note.", i)
	}
	req := validRequest()
	req.Content = strings.Join(paragraphs, "\n\n")

	res, err := f.coord.Publish(context.Background(), req)
	require.NoError(t, err)

	_, _, blocks, ok := f.srv.Page(res.PageID)
	require.True(t, ok)
	require.Len(t, blocks, 205)
	assert.Equal(t, "Paragraph number 199 of a long note.", blocks[202].Text())
	assert.Equal(t, 2, f.srv.Calls(instrumentation.OperationAppendChildren))
}

// credStore aliases credential.Store so the embedded field is not named
// "Store", which would shadow the promoted Store method.
type credStore = credential.Store

type brokenStore struct{ credStore }

func (brokenStore) Get(context.Context, string) (*credential.Credential, error) {
	return nil, &credential.StorageError{Op: "get", Err: errors.New("disk on fire")}
}
