// Package cmd implements the command-line interface for noted.
//
// This package provides the following commands:
//   - serve: Start the HTTP API, optionally with MCP tools
//   - credentials: List, expire or delete stored Notion credentials
//   - categories: Print the category catalog
//   - generate-docs: Generate markdown documentation for all MCP tools
//   - version: Display version information
//
// The serve command is the default command when no subcommand is specified.
package cmd
