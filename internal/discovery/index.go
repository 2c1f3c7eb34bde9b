package discovery

import (
	"context"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "Plugweave/internal/errors"
	"Plugweave/pkg/plugin"
)

const (
	// fuzzyRelevanceCap keeps fallback matches below every direct match.
	fuzzyRelevanceCap = 0.5
	// statAlpha is the weight of the newest observation in the moving averages.
	statAlpha = 0.3

	statShardCount = 16
)

type statShard struct {
	mu    sync.Mutex
	stats map[string]UsageStats
}

// Index answers ranked plugin queries for free-text goals. Descriptor and
// fragment data is read-mostly under a single RWMutex; usage statistics are
// sharded by identity so concurrent outcome recording for unrelated plugins
// does not serialize.
type Index struct {
	store Store

	mu          sync.RWMutex
	descriptors map[string]plugin.Descriptor
	fragments   map[string][]Fragment

	shards [statShardCount]statShard
}

// NewIndex constructs an Index backed by the given store.
func NewIndex(store Store) *Index {
	idx := &Index{
		store:       store,
		descriptors: make(map[string]plugin.Descriptor),
		fragments:   make(map[string][]Fragment),
	}
	for i := range idx.shards {
		idx.shards[i].stats = make(map[string]UsageStats)
	}
	return idx
}

// Load hydrates the in-memory working set from the persisted snapshot.
func (idx *Index) Load(ctx context.Context) error {
	if idx.store == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "discovery store not configured")
	}
	snapshot, err := idx.store.LoadAll(ctx)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "load discovery snapshot")
	}
	if snapshot == nil {
		return nil
	}
	idx.mu.Lock()
	for identity, desc := range snapshot.Descriptors {
		idx.descriptors[identity] = desc.Clone()
	}
	for identity, fragments := range snapshot.Fragments {
		idx.fragments[identity] = append([]Fragment(nil), fragments...)
	}
	idx.mu.Unlock()
	for identity, stats := range snapshot.Stats {
		shard := idx.shard(identity)
		shard.mu.Lock()
		shard.stats[identity] = stats
		shard.mu.Unlock()
	}
	return nil
}

// Register derives goal-pattern fragments for the descriptor and persists
// them. Re-registering the same identity replaces its previous entries, so
// indexing is idempotent.
func (idx *Index) Register(ctx context.Context, desc plugin.Descriptor) error {
	identity := strings.TrimSpace(desc.Identity)
	if identity == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "plugin identity cannot be empty")
	}
	fragments := deriveFragments(desc.Description, desc.Tags)

	if idx.store != nil {
		if err := idx.store.SaveDescriptor(ctx, desc); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "persist descriptor")
		}
		if err := idx.store.ReplaceFragments(ctx, identity, fragments); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "persist goal fragments")
		}
	}

	idx.mu.Lock()
	idx.descriptors[identity] = desc.Clone()
	idx.fragments[identity] = fragments
	idx.mu.Unlock()
	return nil
}

// Query returns up to limit candidates ranked for the goal text. Direct
// fragment matches always outrank fuzzy token-overlap fallbacks; within a
// tier the order is relevance desc, success rate desc, usage count desc.
// Query is read-only; outcomes are reported separately via RecordOutcome.
func (idx *Index) Query(ctx context.Context, goal string, limit int) []Candidate {
	_ = ctx
	if limit <= 0 {
		limit = 10
	}
	normalized := normalizeGoal(goal)
	if normalized == "" {
		return nil
	}

	idx.mu.RLock()
	candidates := idx.directMatches(normalized)
	if len(candidates) == 0 {
		candidates = idx.fuzzyMatches(normalized)
	}
	idx.mu.RUnlock()

	for i := range candidates {
		stats := idx.statsFor(candidates[i].Identity)
		candidates[i].SuccessRate = stats.SuccessRate
		candidates[i].UsageCount = stats.UsageCount
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Relevance != b.Relevance {
			return a.Relevance > b.Relevance
		}
		if a.SuccessRate != b.SuccessRate {
			return a.SuccessRate > b.SuccessRate
		}
		if a.UsageCount != b.UsageCount {
			return a.UsageCount > b.UsageCount
		}
		return a.Identity < b.Identity
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

// directMatches finds plugins whose indexed fragments overlap the goal as a
// substring in either direction. Caller holds the read lock.
func (idx *Index) directMatches(goal string) []Candidate {
	results := make([]Candidate, 0)
	for identity, fragments := range idx.fragments {
		best := 0.0
		for _, fragment := range fragments {
			if !strings.Contains(goal, fragment.Text) && !strings.Contains(fragment.Text, goal) {
				continue
			}
			if fragment.Relevance > best {
				best = fragment.Relevance
			}
		}
		if best > 0 {
			results = append(results, Candidate{Identity: identity, Relevance: best, Direct: true})
		}
	}
	return results
}

// fuzzyMatches scores token overlap against descriptions and tags. Every
// fuzzy result is capped below the weakest possible direct match tier so the
// fallback never outranks a direct hit. Caller holds the read lock.
func (idx *Index) fuzzyMatches(goal string) []Candidate {
	goalTokens := strings.Fields(goal)
	if len(goalTokens) == 0 {
		return nil
	}
	goalSet := make(map[string]struct{}, len(goalTokens))
	for _, token := range goalTokens {
		goalSet[token] = struct{}{}
	}

	results := make([]Candidate, 0)
	for identity, desc := range idx.descriptors {
		corpus := tokenize(desc.Description)
		for _, tag := range desc.Tags {
			corpus = append(corpus, tokenize(tag)...)
		}
		overlap := 0
		seen := make(map[string]struct{}, len(corpus))
		for _, token := range corpus {
			if _, dup := seen[token]; dup {
				continue
			}
			seen[token] = struct{}{}
			if _, ok := goalSet[token]; ok {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		score := fuzzyRelevanceCap * float64(overlap) / float64(len(goalSet))
		if score > fuzzyRelevanceCap {
			score = fuzzyRelevanceCap
		}
		results = append(results, Candidate{Identity: identity, Relevance: score})
	}
	return results
}

// RecordOutcome folds one execution result into the plugin's usage ledger.
// Unknown identities are ignored: outcomes may race ahead of indexing while
// the system is starting up.
func (idx *Index) RecordOutcome(ctx context.Context, identity string, success bool, elapsed time.Duration) error {
	idx.mu.RLock()
	_, known := idx.descriptors[identity]
	idx.mu.RUnlock()
	if !known {
		return nil
	}

	outcome := 0.0
	if success {
		outcome = 1.0
	}
	millis := float64(elapsed.Milliseconds())

	shard := idx.shard(identity)
	shard.mu.Lock()
	stats := shard.stats[identity]
	if stats.UsageCount == 0 {
		stats.SuccessRate = outcome
		stats.AvgExecMillis = millis
	} else {
		stats.SuccessRate = stats.SuccessRate*(1-statAlpha) + outcome*statAlpha
		stats.AvgExecMillis = stats.AvgExecMillis*(1-statAlpha) + millis*statAlpha
	}
	stats.UsageCount++
	shard.stats[identity] = stats
	shard.mu.Unlock()

	if idx.store != nil {
		if err := idx.store.UpsertStats(ctx, identity, stats); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "persist usage stats")
		}
	}
	return nil
}

// Descriptor returns the indexed descriptor for an identity.
func (idx *Index) Descriptor(identity string) (plugin.Descriptor, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	desc, ok := idx.descriptors[identity]
	if !ok {
		return plugin.Descriptor{}, false
	}
	return desc.Clone(), true
}

// Stats returns a copy of the usage ledger for an identity.
func (idx *Index) Stats(identity string) UsageStats {
	return idx.statsFor(identity)
}

func (idx *Index) statsFor(identity string) UsageStats {
	shard := idx.shard(identity)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	return shard.stats[identity]
}

func (idx *Index) shard(identity string) *statShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(identity))
	return &idx.shards[h.Sum32()%statShardCount]
}

// Close releases the backing store.
func (idx *Index) Close() error {
	if idx.store == nil {
		return nil
	}
	return idx.store.Close()
}
