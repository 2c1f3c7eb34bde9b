// Package api exposes the orchestration engine over a JSON REST surface:
// candidate queries, chain build/run/status/cleanup and chain suggestions.
package api
