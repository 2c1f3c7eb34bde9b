// Package discovery maintains the semantic index that turns a free-text goal
// into a ranked list of plugin candidates. It derives goal-pattern fragments
// from plugin descriptions, persists them together with usage statistics, and
// answers read-only ranked queries with a token-overlap fallback.
package discovery
