package hierarchy

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/noted/internal/credential"
	"github.com/teemow/noted/internal/instrumentation"
	"github.com/teemow/noted/internal/notion"
	"github.com/teemow/noted/internal/notion/notiontest"
)

func newTestWorkspace(t *testing.T, tokens ...string) (*notiontest.Server, *notion.Client) {
	t.Helper()
	srv := notiontest.NewServer(t)
	for i, tok := range tokens {
		srv.AddUser(tok, notion.User{ID: "user-" + string(rune('a'+i))})
	}
	client := notion.NewClient(
		notion.WithBaseURL(srv.BaseURL()),
		notion.WithRetry(2, func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }),
	)
	return srv, client
}

func cred(user, token string) *credential.Credential {
	return &credential.Credential{UserID: user, AccessToken: token, WorkspaceID: "ws-1"}
}

func TestResolve_CreatesDashboardThenCategory(t *testing.T) {
	srv, client := newTestWorkspace(t, "tok")
	r := NewResolver(client)

	res, err := r.Resolve(context.Background(), cred("u", "tok"), "Technology & AI")
	require.NoError(t, err)
	assert.True(t, res.DashboardCreated)
	assert.True(t, res.CategoryCreated)
	assert.Equal(t, "Technology & AI", res.Category.Name)

	require.Equal(t, []string{res.DashboardID}, srv.PagesTitled(DefaultDashboardTitle))
	assert.Equal(t, []string{"🤖 Technology & AI"}, srv.ChildTitles(res.DashboardID))

	page, parent, blocks, ok := srv.Page(res.DashboardID)
	require.True(t, ok)
	assert.Empty(t, parent)
	assert.True(t, page.Parent.Workspace)
	require.Len(t, blocks, 2)
	assert.Equal(t, "Never lose a highlight — it’s Noted!", blocks[0].Text())

	_, parent, blocks, ok = srv.Page(res.CategoryID)
	require.True(t, ok)
	assert.Equal(t, res.DashboardID, parent)
	require.Len(t, blocks, 2)
	assert.Equal(t, "Articles related to technology & ai will appear below:", blocks[0].Text())
	assert.True(t, blocks[0].Paragraph.RichText[0].Annotations.Italic)
	assert.Equal(t, notion.BlockDivider, blocks[1].Type)
}

func TestResolve_SecondCallCreatesNothing(t *testing.T) {
	srv, client := newTestWorkspace(t, "tok")
	r := NewResolver(client)
	ctx := context.Background()

	first, err := r.Resolve(ctx, cred("u", "tok"), "Sports")
	require.NoError(t, err)
	creates := srv.Calls(instrumentation.OperationCreatePage)
	assert.Equal(t, 2, creates)

	second, err := r.Resolve(ctx, cred("u", "tok"), "sports")
	require.NoError(t, err)
	assert.False(t, second.DashboardCreated)
	assert.False(t, second.CategoryCreated)
	assert.Equal(t, first.DashboardID, second.DashboardID)
	assert.Equal(t, first.CategoryID, second.CategoryID)
	assert.Equal(t, creates, srv.Calls(instrumentation.OperationCreatePage))
}

func TestResolve_ReusesExistingNodes(t *testing.T) {
	srv, client := newTestWorkspace(t, "tok")
	dash := srv.AddPage(DefaultDashboardTitle, "")
	srv.AddPage("Noted Dashboard (old)", "")
	legacy := srv.AddPage("📂 Science", dash)

	res, err := NewResolver(client).Resolve(context.Background(), cred("u", "tok"), "Science")
	require.NoError(t, err)
	assert.Equal(t, dash, res.DashboardID)
	assert.Equal(t, legacy, res.CategoryID, "glyph-less fallback should match the legacy title")
	assert.Zero(t, srv.Calls(instrumentation.OperationCreatePage))
}

func TestResolve_ExactTitleBeatsFallback(t *testing.T) {
	srv, client := newTestWorkspace(t, "tok")
	dash := srv.AddPage(DefaultDashboardTitle, "")
	srv.AddPage("📂 Sports", dash)
	exact := srv.AddPage("⚽ Sports", dash)

	res, err := NewResolver(client).Resolve(context.Background(), cred("u", "tok"), "Sports")
	require.NoError(t, err)
	assert.Equal(t, exact, res.CategoryID)
}

func TestResolve_UnknownCategoryFallsBackToGeneralNews(t *testing.T) {
	srv, client := newTestWorkspace(t, "tok")

	res, err := NewResolver(client).Resolve(context.Background(), cred("u", "tok"), "Gardening")
	require.NoError(t, err)
	assert.Equal(t, DefaultCategory, res.Category.Name)
	assert.Equal(t, []string{"📰 General News"}, srv.ChildTitles(res.DashboardID))
}

func TestResolve_CustomDashboardTitle(t *testing.T) {
	srv, client := newTestWorkspace(t, "tok")

	r := NewResolver(client, WithDashboardTitle("Reading Inbox"))
	_, err := r.Resolve(context.Background(), cred("u", "tok"), "Science")
	require.NoError(t, err)
	assert.Len(t, srv.PagesTitled("Reading Inbox"), 1)
	assert.Empty(t, srv.PagesTitled(DefaultDashboardTitle))
	assert.Equal(t, "Reading Inbox", r.DashboardTitle())
}

func TestResolve_ConcurrentCallsCreateOnce(t *testing.T) {
	tokens := []string{"tok-a", "tok-b", "tok-c", "tok-d"}

	lockerFactories := map[string]func(t *testing.T) Locker{
		"memory": func(t *testing.T) Locker { return NewMemoryLocker() },
		"redis": func(t *testing.T) Locker {
			l, _ := newRedisLocker(t)
			return l
		},
	}

	for name, newLocker := range lockerFactories {
		t.Run(name, func(t *testing.T) {
			srv, client := newTestWorkspace(t, tokens...)
			srv.SetCreateDelay(20 * time.Millisecond)
			r := NewResolver(client, WithLocker(newLocker(t)))

			var wg sync.WaitGroup
			results := make([]Resolution, 16)
			errs := make([]error, 16)
			for i := range results {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					tok := tokens[i%len(tokens)]
					results[i], errs[i] = r.Resolve(context.Background(), cred("user-"+tok, tok), "Business")
				}(i)
			}
			wg.Wait()

			for _, err := range errs {
				require.NoError(t, err)
			}
			dashboards := srv.PagesTitled(DefaultDashboardTitle)
			require.Len(t, dashboards, 1)
			assert.Equal(t, []string{"💼 Business & Finance"}, srv.ChildTitles(dashboards[0]))
			for _, res := range results {
				assert.Equal(t, dashboards[0], res.DashboardID)
				assert.Equal(t, results[0].CategoryID, res.CategoryID)
			}
		})
	}
}

func TestResolve_CancelledCallerDoesNotFailOthers(t *testing.T) {
	srv, client := newTestWorkspace(t, "tok")
	srv.SetCreateDelay(150 * time.Millisecond)
	r := NewResolver(client)
	c := cred("u", "tok")

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	errA := make(chan error, 1)
	go func() {
		_, err := r.Resolve(ctxA, c, "Science")
		errA <- err
	}()
	require.Eventually(t, func() bool {
		return srv.Calls(instrumentation.OperationCreatePage) > 0
	}, 2*time.Second, time.Millisecond)

	type outcome struct {
		res Resolution
		err error
	}
	doneB := make(chan outcome, 1)
	go func() {
		res, err := r.Resolve(context.Background(), c, "Science")
		doneB <- outcome{res, err}
	}()
	time.Sleep(20 * time.Millisecond)
	cancelA()

	assert.ErrorIs(t, <-errA, context.Canceled)
	b := <-doneB
	require.NoError(t, b.err)
	assert.NotEmpty(t, b.res.CategoryID)

	dashboards := srv.PagesTitled(DefaultDashboardTitle)
	require.Len(t, dashboards, 1)
	assert.Equal(t, []string{"🔬 Science"}, srv.ChildTitles(dashboards[0]))
}

func TestResolve_RemoteErrorsPropagate(t *testing.T) {
	srv, client := newTestWorkspace(t, "tok")
	srv.FailNext(instrumentation.OperationCreatePage, http.StatusForbidden)

	_, err := NewResolver(client).Resolve(context.Background(), cred("u", "tok"), "Science")
	var rse *notion.RemoteServiceError
	require.ErrorAs(t, err, &rse)
	assert.Equal(t, http.StatusForbidden, rse.Status)
	assert.Equal(t, 1, srv.Calls(instrumentation.OperationCreatePage))
}

func TestResolve_InvalidTokenIsRemoteError(t *testing.T) {
	srv, client := newTestWorkspace(t)

	_, err := NewResolver(client).Resolve(context.Background(), cred("u", "revoked"), "Science")
	assert.True(t, notion.IsUnauthorized(err))
	assert.Zero(t, srv.Calls(instrumentation.OperationCreatePage))
}

func TestMatchCategory_IgnoresNonPages(t *testing.T) {
	cat := Normalize("Sports")
	blocks := []notion.Block{
		notion.ParagraphBlock(notion.Plain("⚽ Sports")),
		{Type: notion.BlockChildPage, ID: "p1", ChildPage: &notion.ChildPage{Title: "⚽ Sports"}},
	}
	id, ok := matchCategory(blocks, cat)
	assert.True(t, ok)
	assert.Equal(t, "p1", id)

	_, ok = matchCategory(blocks[:1], cat)
	assert.False(t, ok)
}
