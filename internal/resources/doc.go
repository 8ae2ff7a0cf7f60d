// Package resources exposes read-only noted data as MCP resources: the
// category catalog and, through a URI template, a user's connection status.
package resources
