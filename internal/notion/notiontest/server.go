// Package notiontest provides an in-memory Notion workspace served over
// httptest for exercising the client and everything built on it.
package notiontest

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/teemow/noted/internal/instrumentation"
	"github.com/teemow/noted/internal/notion"
)

// OperationTokenExchange counts POST /oauth/token.
const OperationTokenExchange = instrumentation.OperationTokenExchange

// Grant is what the token endpoint returns for one authorization code.
type Grant struct {
	AccessToken   string
	WorkspaceID   string
	WorkspaceName string
	User          notion.User
}

type page struct {
	notion.Page
	parentID string
	blocks   []notion.Block
}

// Server is a fake Notion API. All methods are safe for concurrent use.
type Server struct {
	*httptest.Server

	mu           sync.Mutex
	pages        map[string]*page
	order        []string
	users        map[string]notion.User
	grants       map[string]Grant
	clientID     string
	clientSecret string
	calls        map[string]int
	failures     map[string][]int
	createDelay  time.Duration
	lastToken    map[string]any
}

// NewServer starts a fake workspace and closes it when t finishes.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		pages:    make(map[string]*page),
		users:    make(map[string]notion.User),
		grants:   make(map[string]Grant),
		calls:    make(map[string]int),
		failures: make(map[string][]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/search", s.authed(instrumentation.OperationSearch, s.handleSearch))
	mux.HandleFunc("GET /v1/blocks/{id}/children", s.authed(instrumentation.OperationListChildren, s.handleChildren))
	mux.HandleFunc("GET /v1/pages/{id}", s.authed(instrumentation.OperationGetPage, s.handleGetPage))
	mux.HandleFunc("POST /v1/pages", s.authed(instrumentation.OperationCreatePage, s.handleCreatePage))
	mux.HandleFunc("PATCH /v1/blocks/{id}/children", s.authed(instrumentation.OperationAppendChildren, s.handleAppend))
	mux.HandleFunc("GET /v1/users/me", s.authed(instrumentation.OperationGetSelf, s.handleMe))
	mux.HandleFunc("POST /v1/oauth/token", s.handleToken)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Server.Close)
	return s
}

// BaseURL is the API root to hand to notion.WithBaseURL.
func (s *Server) BaseURL() string {
	return s.URL + "/v1"
}

// TokenURL is the OAuth token endpoint.
func (s *Server) TokenURL() string {
	return s.URL + "/v1/oauth/token"
}

// AddUser makes token valid and binds it to user.
func (s *Server) AddUser(token string, user notion.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[token] = user
}

// RevokeToken makes token invalid.
func (s *Server) RevokeToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, token)
}

// SetClientCredentials sets the Basic auth pair the token endpoint expects.
func (s *Server) SetClientCredentials(id, secret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientID, s.clientSecret = id, secret
}

// AddGrant registers an authorization code. Redeeming it also makes the
// access token valid.
func (s *Server) AddGrant(code string, g Grant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[code] = g
}

// LastTokenRequest returns the decoded JSON body of the last token request.
func (s *Server) LastTokenRequest() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastToken
}

// AddPage inserts a page. An empty parentID places it at the workspace root.
func (s *Server) AddPage(title, parentID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	parent := notion.WorkspaceParent()
	if parentID != "" {
		parent = notion.PageParent(parentID)
	}
	return s.insertLocked(notion.CreatePageRequest{
		Parent:     parent,
		Properties: notion.TitleProperties(title),
	})
}

// FailNext makes the next len(statuses) calls to op answer with those
// status codes, in order.
func (s *Server) FailNext(op string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], statuses...)
}

// SetCreateDelay stalls page creation to widen race windows.
func (s *Server) SetCreateDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createDelay = d
}

// Calls returns how many requests reached op.
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// TotalCalls returns the number of requests across all operations.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// PagesTitled returns the ids of pages with exactly this title.
func (s *Server) PagesTitled(title string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, id := range s.order {
		if s.pages[id].Title() == title {
			ids = append(ids, id)
		}
	}
	return ids
}

// Page returns a stored page and its content blocks.
func (s *Server) Page(id string) (notion.Page, string, []notion.Block, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[id]
	if !ok {
		return notion.Page{}, "", nil, false
	}
	return p.Page, p.parentID, append([]notion.Block(nil), p.blocks...), true
}

// ChildTitles lists the titles of child pages under parentID in creation order.
func (s *Server) ChildTitles(parentID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, id := range s.order {
		if s.pages[id].parentID == parentID {
			out = append(out, s.pages[id].Title())
		}
	}
	return out
}

func (s *Server) insertLocked(req notion.CreatePageRequest) string {
	id := uuid.NewString()
	p := &page{
		Page: notion.Page{
			Object:     "page",
			ID:         id,
			URL:        "https://www.notion.so/" + strings.ReplaceAll(id, "-", ""),
			Parent:     req.Parent,
			Icon:       req.Icon,
			Properties: req.Properties,
		},
		parentID: req.Parent.PageID,
		blocks:   req.Children,
	}
	s.pages[id] = p
	s.order = append(s.order, id)
	return id
}

func (s *Server) authed(op string, next func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[op]++
		var status int
		if q := s.failures[op]; len(q) > 0 {
			status, s.failures[op] = q[0], q[1:]
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		_, valid := s.users[token]
		s.mu.Unlock()

		if status != 0 {
			writeError(w, status, "injected_failure", "injected failure")
			return
		}
		if r.Header.Get("Notion-Version") == "" {
			writeError(w, http.StatusBadRequest, "missing_version", "Notion-Version header is required")
			return
		}
		if !valid {
			writeError(w, http.StatusUnauthorized, "unauthorized", "API token is invalid.")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	s.mu.Lock()
	results := []notion.Page{}
	q := strings.ToLower(req.Query)
	for _, id := range s.order {
		p := s.pages[id]
		if strings.Contains(strings.ToLower(p.Title()), q) {
			results = append(results, p.Page)
		}
	}
	s.mu.Unlock()

	writeJSON(w, map[string]any{"object": "list", "results": results, "has_more": false, "next_cursor": nil})
}

func (s *Server) handleChildren(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	parent, ok := s.pages[id]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "object_not_found", "block not found")
		return
	}
	children := append([]notion.Block(nil), parent.blocks...)
	var subpages []*page
	for _, pid := range s.order {
		if s.pages[pid].parentID == id {
			subpages = append(subpages, s.pages[pid])
		}
	}
	s.mu.Unlock()

	for _, sp := range subpages {
		children = append(children, notion.Block{
			Object:    "block",
			ID:        sp.ID,
			Type:      notion.BlockChildPage,
			ChildPage: &notion.ChildPage{Title: sp.Title()},
		})
	}

	size := 100
	if v, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil && v > 0 {
		size = v
	}
	start := 0
	if v, err := strconv.Atoi(r.URL.Query().Get("start_cursor")); err == nil {
		start = v
	}
	if start > len(children) {
		start = len(children)
	}
	end := start + size
	if end > len(children) {
		end = len(children)
	}

	resp := map[string]any{"object": "list", "results": children[start:end], "has_more": end < len(children), "next_cursor": nil}
	if end < len(children) {
		resp["next_cursor"] = strconv.Itoa(end)
	}
	writeJSON(w, resp)
}

func (s *Server) handleGetPage(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	p, ok := s.pages[r.PathValue("id")]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "object_not_found", "page not found")
		return
	}
	writeJSON(w, p.Page)
}

func (s *Server) handleCreatePage(w http.ResponseWriter, r *http.Request) {
	var req notion.CreatePageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if len(req.Children) > notion.MaxBlocksPerRequest {
		writeError(w, http.StatusBadRequest, "validation_error", "body.children.length should be ≤ 100")
		return
	}

	s.mu.Lock()
	delay := s.createDelay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if req.Parent.PageID != "" {
		if _, ok := s.pages[req.Parent.PageID]; !ok {
			writeError(w, http.StatusNotFound, "object_not_found", "parent not found")
			return
		}
	}
	id := s.insertLocked(req)
	writeJSON(w, s.pages[id].Page)
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Children []notion.Block `json:"children"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if len(req.Children) > notion.MaxBlocksPerRequest {
		writeError(w, http.StatusBadRequest, "validation_error", "body.children.length should be ≤ 100")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "object_not_found", "block not found")
		return
	}
	p.blocks = append(p.blocks, req.Children...)
	writeJSON(w, map[string]any{"object": "list", "results": req.Children})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	u := s.users[token]
	s.mu.Unlock()
	writeJSON(w, u)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.calls[OperationTokenExchange]++
	wantID, wantSecret := s.clientID, s.clientSecret
	s.mu.Unlock()

	id, secret, ok := r.BasicAuth()
	if !ok || id != wantID || secret != wantSecret {
		writeError(w, http.StatusUnauthorized, "invalid_client", "bad client credentials")
		return
	}

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	s.mu.Lock()
	s.lastToken = body
	code, _ := body["code"].(string)
	g, found := s.grants[code]
	if found {
		delete(s.grants, code)
		s.users[g.AccessToken] = g.User
	}
	s.mu.Unlock()

	if !found || body["grant_type"] != "authorization_code" {
		writeError(w, http.StatusBadRequest, "invalid_grant", "unknown authorization code")
		return
	}

	resp := map[string]any{
		"access_token":   g.AccessToken,
		"token_type":     "bearer",
		"bot_id":         "bot-" + g.WorkspaceID,
		"workspace_name": g.WorkspaceName,
	}
	if g.WorkspaceID != "" {
		resp["workspace_id"] = g.WorkspaceID
	}
	writeJSON(w, resp)
}

// BasicAuthHeader builds an Authorization header value for assertions.
func BasicAuthHeader(id, secret string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(id+":"+secret))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"object":  "error",
		"status":  status,
		"code":    code,
		"message": msg,
	})
}
