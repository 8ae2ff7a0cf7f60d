package notes_tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/noted/internal/auth"
	"github.com/teemow/noted/internal/hierarchy"
	"github.com/teemow/noted/internal/publish"
	"github.com/teemow/noted/internal/server"
	"github.com/teemow/noted/internal/tools/batch"
	"github.com/teemow/noted/internal/tools/common"
)

// MaxBatchNotes caps notion_save_notes.
const MaxBatchNotes = 20

// RegisterNoteTools registers the note tools. In read-only mode the tools
// that write to the workspace or delete credentials are left out.
func RegisterNoteTools(s *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) error {
	listCategoriesTool := mcp.NewTool("notion_list_categories",
		mcp.WithDescription("List the categories notes are filed under, with a description of each"),
	)
	s.AddTool(listCategoriesTool, common.InstrumentedToolHandler("notion_list_categories", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleListCategories(ctx, request, sc)
		}))

	loginURLTool := mcp.NewTool("notion_login_url",
		mcp.WithDescription("Start a Notion login. Returns the URL the user must open and a state to poll with notion_check_login"),
	)
	s.AddTool(loginURLTool, common.InstrumentedToolHandler("notion_login_url", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleLoginURL(ctx, request, sc)
		}))

	checkLoginTool := mcp.NewTool("notion_check_login",
		mcp.WithDescription("Check whether the login started with notion_login_url has finished. Returns the user id once"),
		mcp.WithString("state",
			mcp.Required(),
			mcp.Description("The state returned by notion_login_url"),
		),
	)
	s.AddTool(checkLoginTool, common.InstrumentedToolHandler("notion_check_login", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleCheckLogin(ctx, request, sc)
		}))

	statusTool := mcp.NewTool("notion_user_status",
		mcp.WithDescription("Check whether a user's Notion connection still works"),
		mcp.WithString(common.ArgUserID,
			mcp.Required(),
			mcp.Description("The user id returned by the login flow"),
		),
	)
	s.AddTool(statusTool, common.InstrumentedToolHandler("notion_user_status", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleUserStatus(ctx, request, sc)
		}))

	if readOnly {
		return nil
	}

	saveNoteTool := mcp.NewTool("notion_save_note",
		mcp.WithDescription("Save a note to the user's Notion workspace under its category page"),
		mcp.WithString(common.ArgUserID,
			mcp.Required(),
			mcp.Description("The user id returned by the login flow"),
		),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Title of the source article"),
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("Note text. Blank lines separate paragraphs; list markers are dropped"),
		),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("URL of the source article"),
		),
		mcp.WithString("category",
			mcp.Description("Category name from notion_list_categories. Unknown names fall back to "+hierarchy.DefaultCategory),
		),
		mcp.WithString("openai_api_key",
			mcp.Description("When set, the content is summarized first and the category is chosen automatically unless given"),
		),
	)
	s.AddTool(saveNoteTool, common.InstrumentedToolHandler("notion_save_note", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleSaveNote(ctx, request, sc)
		}))

	saveNotesTool := mcp.NewTool("notion_save_notes",
		mcp.WithDescription(fmt.Sprintf("Save up to %d notes in one call. Each failure is reported per note", MaxBatchNotes)),
		mcp.WithString(common.ArgUserID,
			mcp.Required(),
			mcp.Description("The user id returned by the login flow"),
		),
		mcp.WithArray("notes",
			mcp.Required(),
			mcp.Description("Notes to save, each with title, content, url and an optional category"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":    map[string]any{"type": "string"},
					"content":  map[string]any{"type": "string"},
					"url":      map[string]any{"type": "string"},
					"category": map[string]any{"type": "string"},
				},
				"required": []string{"title", "content", "url"},
			}),
		),
	)
	s.AddTool(saveNotesTool, common.InstrumentedToolHandler("notion_save_notes", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleSaveNotes(ctx, request, sc)
		}))

	logoutTool := mcp.NewTool("notion_logout",
		mcp.WithDescription("Forget a user's Notion credential"),
		mcp.WithString(common.ArgUserID,
			mcp.Required(),
			mcp.Description("The user id returned by the login flow"),
		),
	)
	s.AddTool(logoutTool, common.InstrumentedToolHandler("notion_logout", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleLogout(ctx, request, sc)
		}))

	return nil
}

func handleListCategories(_ context.Context, _ mcp.CallToolRequest, _ *server.ServerContext) (*mcp.CallToolResult, error) {
	return jsonResult("Categories", server.ListCategories())
}

func handleLoginURL(ctx context.Context, _ mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	authURL, state, err := sc.Broker().BeginLogin(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start login: %v", err)), nil
	}
	return jsonResult("Open auth_url in a browser, then call notion_check_login with state", server.LoginResponse{
		AuthURL: authURL,
		State:   state,
	})
}

func handleCheckLogin(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	state, errResult := common.RequireString(request.GetArguments(), "state")
	if errResult != nil {
		return errResult, nil
	}

	userID, ok, err := sc.Broker().CompletedUser(ctx, state)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check login: %v", err)), nil
	}
	resp := server.CompletionResponse{HasUser: ok}
	if ok {
		resp.UserID = &userID
	}
	return jsonResult("Login status", resp)
}

func handleUserStatus(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	userID, errResult := common.RequireString(request.GetArguments(), common.ArgUserID)
	if errResult != nil {
		return errResult, nil
	}

	status, err := server.CheckUserStatus(ctx, sc.Broker(), userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check status: %v", err)), nil
	}
	return jsonResult("User status", status)
}

func handleSaveNote(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	req := noteRequest(common.UserIDFromArgs(args), args)

	if apiKey := common.StringArg(args, "openai_api_key"); apiKey != "" {
		summarizer := sc.Summarizer()
		if summarizer == nil {
			return mcp.NewToolResultError("Summarization is not configured on this server"), nil
		}
		res, err := summarizer.SummarizeAndCategorize(ctx, apiKey, req.Title, req.Content)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to summarize: %v", err)), nil
		}
		req.Content = res.Summary
		if req.Category == "" {
			req.Category = res.Category
		}
	}

	res, err := sc.Publisher().Publish(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(saveFailure(err)), nil
	}
	return jsonResult("Note saved", saveResponse(res))
}

func handleSaveNotes(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	userID, errResult := common.RequireString(args, common.ArgUserID)
	if errResult != nil {
		return errResult, nil
	}

	notes, err := batch.ParseObjectArray(args["notes"], "notes")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(notes) > MaxBatchNotes {
		return mcp.NewToolResultError(fmt.Sprintf("notes cannot contain more than %d items", MaxBatchNotes)), nil
	}

	// Notes sharing a category all resolve the same hierarchy node; the
	// resolver lock keeps that to a single create.
	results := batch.Process(ctx, notes, batch.DefaultConcurrency,
		func(i int, _ map[string]any) string { return strconv.Itoa(i) },
		func(ctx context.Context, note map[string]any) (any, error) {
			res, err := sc.Publisher().Publish(ctx, noteRequest(userID, note))
			if err != nil {
				return nil, errors.New(saveFailure(err))
			}
			return saveResponse(res), nil
		})

	out, err := batch.FormatResults(results)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to serialize results: %v", err)), nil
	}
	return mcp.NewToolResultText(out), nil
}

func handleLogout(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	userID, errResult := common.RequireString(request.GetArguments(), common.ArgUserID)
	if errResult != nil {
		return errResult, nil
	}
	if err := sc.Broker().Logout(ctx, userID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to log out: %v", err)), nil
	}
	return mcp.NewToolResultText("Logged out"), nil
}

func noteRequest(userID string, args map[string]any) publish.Request {
	return publish.Request{
		UserID:    userID,
		Title:     common.StringArg(args, "title"),
		Content:   common.StringArg(args, "content"),
		SourceURL: common.StringArg(args, "url"),
		Category:  common.StringArg(args, "category"),
	}
}

func saveResponse(res *publish.Result) server.SaveResponse {
	return server.SaveResponse{PageURL: res.URL, PageID: res.PageID, Category: res.Category}
}

// saveFailure phrases a publish error for an agent. Credential problems
// point back at the login tools.
func saveFailure(err error) string {
	var authErr *auth.AuthError
	if errors.As(err, &authErr) {
		return fmt.Sprintf("Failed to save note (%s): %s. Run notion_login_url to reconnect", authErr.Reason, authErr.Message())
	}
	return fmt.Sprintf("Failed to save note: %v", err)
}

func jsonResult(label string, v any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to serialize result: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s:\n%s", label, raw)), nil
}
