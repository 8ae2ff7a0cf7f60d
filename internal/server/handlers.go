package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/teemow/noted/internal/auth"
	"github.com/teemow/noted/internal/hierarchy"
	"github.com/teemow/noted/internal/publish"
)

const (
	reasonValidToken  = "valid_token"
	actionClearClient = "clear_extension_storage"
	unknownWorkspace  = "Unknown"
)

func (s *Server) routes(mux *http.ServeMux) {
	s.validate.RegisterTagNameFunc(jsonFieldName)

	s.handle(mux, "GET /{$}", s.handleRoot)
	s.handle(mux, "GET /auth/notion/login", s.handleLogin)
	s.handle(mux, "GET /auth/notion/callback", s.handleCallback)
	s.handle(mux, "GET /oauth/check-completion", s.handleCheckCompletion)
	s.handle(mux, "POST /notion/save", s.handleSave)
	s.handle(mux, "POST /summarize", s.handleSummarize)
	s.handle(mux, "POST /summarize-and-categorize", s.handleSummarizeAndCategorize)
	s.handle(mux, "GET /categories", s.handleCategories)
	s.handle(mux, "GET /user/{id}/status", s.handleUserStatus)
	s.handle(mux, "DELETE /user/{id}", s.handleLogout)

	if s.cfg.MCPHandler != nil {
		mux.Handle("/mcp", s.withRateLimit(s.cfg.MCPHandler))
	}
}

func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, s.withRateLimit(h))
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Noted backend is running"})
}

// LoginResponse is returned by the login endpoint when JSON is requested.
type LoginResponse struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state"`
}

// handleLogin redirects to the consent page. With ?format=json it returns
// the URL and state instead, so the caller can poll for completion.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	authURL, state, err := s.sc.Broker().BeginLogin(r.Context())
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, LoginResponse{AuthURL: authURL, State: state})
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		renderErrorPage(w, http.StatusBadRequest, "Notion did not grant access: "+providerErr)
		return
	}
	code := q.Get("code")
	if code == "" {
		renderErrorPage(w, http.StatusBadRequest, "The callback is missing the authorization code.")
		return
	}

	state := q.Get("state")
	id, err := s.sc.Broker().CompleteLogin(r.Context(), state, code)
	if err != nil {
		status, body := classify(err)
		s.logger.Warn("login callback failed", "status", status, "reason", body.Error, "error", err.Error())
		renderErrorPage(w, status, body.Detail)
		return
	}
	renderSuccessPage(w, id.ID, id.WorkspaceName, state)
}

// CompletionResponse tells a polling client which user a login produced.
type CompletionResponse struct {
	HasUser bool    `json:"has_user"`
	UserID  *string `json:"user_id"`
}

func (s *Server) handleCheckCompletion(w http.ResponseWriter, r *http.Request) {
	userID, ok, err := s.sc.Broker().CompletedUser(r.Context(), r.URL.Query().Get("state"))
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	resp := CompletionResponse{HasUser: ok}
	if ok {
		resp.UserID = &userID
	}
	writeJSON(w, http.StatusOK, resp)
}

type saveRequest struct {
	UserID   string `json:"user_id" validate:"required"`
	Title    string `json:"title" validate:"required"`
	Summary  string `json:"summary"`
	Content  string `json:"content"`
	URL      string `json:"url" validate:"required"`
	Category string `json:"category"`
}

// SaveResponse locates the saved note.
type SaveResponse struct {
	PageURL  string `json:"page_url"`
	PageID   string `json:"page_id"`
	Category string `json:"category"`
}

// handleSave publishes a note. The text may be sent as "summary" or "content".
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var body saveRequest
	if err := s.decode(r, &body); err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	content := body.Summary
	if strings.TrimSpace(content) == "" {
		content = body.Content
	}

	res, err := s.sc.Publisher().Publish(r.Context(), publish.Request{
		UserID:    body.UserID,
		Title:     body.Title,
		Content:   content,
		SourceURL: body.URL,
		Category:  body.Category,
	})
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, SaveResponse{PageURL: res.URL, PageID: res.PageID, Category: res.Category})
}

type summarizeRequest struct {
	Content string `json:"content" validate:"required"`
	Title   string `json:"title"`
	APIKey  string `json:"openai_api_key" validate:"required"`
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	summarizer := s.sc.Summarizer()
	if summarizer == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: codeUnavailable, Detail: "summarization is not configured"})
		return
	}

	var body summarizeRequest
	if err := s.decode(r, &body); err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	summary, err := summarizer.Summarize(r.Context(), body.APIKey, body.Content)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

func (s *Server) handleSummarizeAndCategorize(w http.ResponseWriter, r *http.Request) {
	summarizer := s.sc.Summarizer()
	if summarizer == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: codeUnavailable, Detail: "summarization is not configured"})
		return
	}

	var body summarizeRequest
	if err := s.decode(r, &body); err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	res, err := summarizer.SummarizeAndCategorize(r.Context(), body.APIKey, body.Title, body.Content)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CategoriesResponse lists the catalog in display order.
type CategoriesResponse struct {
	Categories   []string          `json:"categories"`
	Descriptions map[string]string `json:"descriptions"`
}

func (s *Server) handleCategories(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ListCategories())
}

// ListCategories returns the catalog in display order.
func ListCategories() CategoriesResponse {
	cats := hierarchy.Categories()
	resp := CategoriesResponse{
		Categories:   make([]string, 0, len(cats)),
		Descriptions: make(map[string]string, len(cats)),
	}
	for _, c := range cats {
		resp.Categories = append(resp.Categories, c.Name)
		resp.Descriptions[c.Name] = c.Description
	}
	return resp
}

// StatusResponse reports whether a user's stored credential still works.
type StatusResponse struct {
	Connected     bool    `json:"connected"`
	Reason        string  `json:"reason"`
	Message       string  `json:"message"`
	Action        string  `json:"action,omitempty"`
	WorkspaceID   *string `json:"workspace_id"`
	WorkspaceName string  `json:"workspace_name,omitempty"`
}

// handleUserStatus validates the stored credential. A missing or rejected
// token is reported with 200 and connected=false; the client should then
// forget the user id. A failed check has already removed the credential.
func (s *Server) handleUserStatus(w http.ResponseWriter, r *http.Request) {
	status, err := CheckUserStatus(r.Context(), s.sc.Broker(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// CheckUserStatus reports whether userID's credential still works. Only
// storage failures and cancellation are returned as errors.
func CheckUserStatus(ctx context.Context, broker *auth.Broker, userID string) (*StatusResponse, error) {
	id, err := broker.Validate(ctx, userID)

	var authErr *auth.AuthError
	switch {
	case errors.As(err, &authErr):
		return &StatusResponse{
			Reason:  authErr.Reason,
			Message: authErr.Message(),
			Action:  actionClearClient,
		}, nil
	case err != nil:
		return nil, err
	}

	name := id.WorkspaceName
	if name == "" {
		name = id.Name
	}
	if name == "" {
		name = unknownWorkspace
	}
	workspaceID := id.WorkspaceID
	return &StatusResponse{
		Connected:     true,
		Reason:        reasonValidToken,
		Message:       "Token is valid and working",
		WorkspaceID:   &workspaceID,
		WorkspaceName: name,
	}, nil
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sc.Broker().Logout(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decode reads a JSON body into v and validates its struct tags.
func (s *Server) decode(r *http.Request, v any) error {
	if r.Body == nil {
		return &requestError{Message: "request body is required"}
	}
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return &requestError{Message: "request body too large"}
		case errors.Is(err, io.EOF):
			return &requestError{Message: "request body is required"}
		default:
			return &requestError{Message: "invalid JSON body"}
		}
	}

	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &requestError{Field: verrs[0].Field(), Message: "is required"}
		}
		return &requestError{Message: err.Error()}
	}
	return nil
}

func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return f.Name
	}
	return name
}
