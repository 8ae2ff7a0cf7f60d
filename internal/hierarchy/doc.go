// Package hierarchy keeps every saved note under the two-level tree
// Dashboard → Category → note.
//
// Nodes are discovered by searching the workspace on every call and created
// when missing. Discovery and creation of one node run under a reservation
// keyed by (workspace, parent, title), so concurrent saves into an empty
// workspace produce exactly one Dashboard and one page per Category.
package hierarchy
