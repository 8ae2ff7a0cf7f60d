package common

import (
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// ArgUserID is the tool argument carrying the workspace user id.
const ArgUserID = "user_id"

// UserIDFromArgs returns the trimmed user_id argument, or "" when it is
// missing or not a string.
func UserIDFromArgs(args map[string]any) string {
	return StringArg(args, ArgUserID)
}

// StringArg returns the named string argument with surrounding whitespace
// removed.
func StringArg(args map[string]any, name string) string {
	v, ok := args[name].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

// RequireString is StringArg that turns a missing value into a tool error
// result. The returned result is nil when the argument is present.
func RequireString(args map[string]any, name string) (string, *mcp.CallToolResult) {
	v := StringArg(args, name)
	if v == "" {
		return "", mcp.NewToolResultError(name + " is required")
	}
	return v, nil
}
