package discovery

import (
	"context"

	"Plugweave/pkg/plugin"
)

// Store abstracts the persistence backend for descriptors, goal-pattern
// fragments and usage statistics. All operations are upserts; the engine
// never issues destructive schema changes.
type Store interface {
	SaveDescriptor(ctx context.Context, desc plugin.Descriptor) error
	ReplaceFragments(ctx context.Context, identity string, fragments []Fragment) error
	UpsertStats(ctx context.Context, identity string, stats UsageStats) error
	LoadAll(ctx context.Context) (*Snapshot, error)
	Close() error
}
