// Package notes_tools exposes note saving and account management as MCP
// tools. Every tool takes the workspace user id returned by the login flow;
// notion_login_url and notion_check_login are how an agent obtains one.
package notes_tools
