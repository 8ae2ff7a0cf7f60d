package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/noted/internal/server"
)

const (
	CategoriesURI      = "noted://categories"
	userStatusPrefix   = "noted://users/"
	userStatusSuffix   = "/status"
	UserStatusTemplate = userStatusPrefix + "{user_id}" + userStatusSuffix
)

// RegisterResources registers the catalog resource and the user status
// template.
func RegisterResources(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	categoriesResource := mcp.NewResource(
		CategoriesURI,
		"Note Categories",
		mcp.WithResourceDescription("Categories notes are filed under, with descriptions"),
		mcp.WithMIMEType("application/json"),
	)
	s.AddResource(categoriesResource, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return handleCategories(ctx, request)
	})

	statusTemplate := mcp.NewResourceTemplate(
		UserStatusTemplate,
		"User Connection Status",
		mcp.WithTemplateDescription("Whether a user's Notion connection still works"),
		mcp.WithTemplateMIMEType("application/json"),
	)
	s.AddResourceTemplate(statusTemplate, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return handleUserStatus(ctx, request, sc)
	})

	return nil
}

func handleCategories(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonContents(request.Params.URI, server.ListCategories())
}

func handleUserStatus(ctx context.Context, request mcp.ReadResourceRequest, sc *server.ServerContext) ([]mcp.ResourceContents, error) {
	userID, err := userIDFromURI(request.Params.URI)
	if err != nil {
		return nil, err
	}

	status, err := server.CheckUserStatus(ctx, sc.Broker(), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check user status: %w", err)
	}
	return jsonContents(request.Params.URI, status)
}

func userIDFromURI(uri string) (string, error) {
	rest, ok := strings.CutPrefix(uri, userStatusPrefix)
	if !ok {
		return "", fmt.Errorf("unexpected resource uri: %s", uri)
	}
	userID, ok := strings.CutSuffix(rest, userStatusSuffix)
	if !ok || userID == "" || strings.Contains(userID, "/") {
		return "", fmt.Errorf("unexpected resource uri: %s", uri)
	}
	return userID, nil
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}

	return []mcp.ResourceContents{
		&mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(jsonData),
		},
	}, nil
}
