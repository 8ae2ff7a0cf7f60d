// Package batch runs one operation over many items for the MCP tools that
// accept lists, and reports partial failures in a single result document.
package batch
