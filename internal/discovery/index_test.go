package discovery

import (
	"context"
	"math"
	"reflect"
	"testing"
	"time"

	"Plugweave/pkg/plugin"
)

func newTestIndex(t *testing.T, descs ...plugin.Descriptor) *Index {
	t.Helper()
	idx := NewIndex(NewMemoryStore())
	for _, desc := range descs {
		if err := idx.Register(context.Background(), desc); err != nil {
			t.Fatalf("register %s: %v", desc.Identity, err)
		}
	}
	return idx
}

func analyzer(identity, description string) plugin.Descriptor {
	return plugin.Descriptor{Identity: identity, Name: identity, Description: description}
}

func TestQueryDirectMatch(t *testing.T) {
	idx := newTestIndex(t,
		analyzer("perf", "Analyze performance bottlenecks"),
		analyzer("logs", "Collect log files from servers"),
	)

	candidates := idx.Query(context.Background(), "analyze performance", 10)
	if len(candidates) != 1 {
		t.Fatalf("candidates = %+v, want only the direct match", candidates)
	}
	if candidates[0].Identity != "perf" || !candidates[0].Direct {
		t.Fatalf("candidate = %+v, want direct match on perf", candidates[0])
	}
}

func TestQueryFuzzyFallbackIsCapped(t *testing.T) {
	idx := newTestIndex(t,
		analyzer("profiler", "Inspects runtime hotspots and performance counters"),
	)

	// No fragment matches "performance counters overview"; the description
	// token overlap still surfaces the plugin, capped below any direct tier.
	candidates := idx.Query(context.Background(), "performance counters overview", 10)
	if len(candidates) != 1 {
		t.Fatalf("candidates = %+v, want one fuzzy match", candidates)
	}
	got := candidates[0]
	if got.Direct {
		t.Fatalf("candidate = %+v, want fuzzy", got)
	}
	if got.Relevance > 0.5 {
		t.Fatalf("fuzzy relevance %v exceeds the cap", got.Relevance)
	}
}

func TestQueryDirectNeverBelowFuzzy(t *testing.T) {
	idx := newTestIndex(t,
		analyzer("direct", "Analyze performance regressions"),
		analyzer("fuzzy", "Tracks performance counters over time"),
	)

	candidates := idx.Query(context.Background(), "analyze performance", 10)
	if len(candidates) == 0 || candidates[0].Identity != "direct" {
		t.Fatalf("candidates = %+v, want direct first", candidates)
	}
	for _, c := range candidates {
		if !c.Direct {
			t.Fatalf("fuzzy candidate %+v returned alongside direct matches", c)
		}
	}
}

func TestQueryUnmatchedGoalIsEmpty(t *testing.T) {
	idx := newTestIndex(t, analyzer("perf", "Analyze performance bottlenecks"))
	if got := idx.Query(context.Background(), "xyz_unmatched_goal", 5); len(got) != 0 {
		t.Fatalf("candidates = %+v, want empty", got)
	}
}

func TestQueryEmptyGoal(t *testing.T) {
	idx := newTestIndex(t, analyzer("perf", "Analyze performance bottlenecks"))
	if got := idx.Query(context.Background(), "  !! ", 5); got != nil {
		t.Fatalf("candidates = %+v, want nil", got)
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	desc := analyzer("perf", "Analyze performance bottlenecks")
	idx := newTestIndex(t, desc)
	first := idx.Query(context.Background(), "analyze performance", 10)

	if err := idx.Register(context.Background(), desc); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	second := idx.Query(context.Background(), "analyze performance", 10)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("ranking changed after re-registration: %v vs %v", first, second)
	}
}

func TestQueryLimit(t *testing.T) {
	idx := newTestIndex(t,
		analyzer("a", "Analyze data alpha"),
		analyzer("b", "Analyze data beta"),
		analyzer("c", "Analyze data gamma"),
	)
	if got := idx.Query(context.Background(), "analyze data", 2); len(got) != 2 {
		t.Fatalf("candidates = %+v, want 2", got)
	}
}

func TestRecordOutcomeMovingAverages(t *testing.T) {
	idx := newTestIndex(t, analyzer("perf", "Analyze performance bottlenecks"))
	ctx := context.Background()

	if err := idx.RecordOutcome(ctx, "perf", true, 100*time.Millisecond); err != nil {
		t.Fatalf("record: %v", err)
	}
	stats := idx.Stats("perf")
	if stats.UsageCount != 1 || stats.SuccessRate != 1 || stats.AvgExecMillis != 100 {
		t.Fatalf("stats after first outcome = %+v", stats)
	}

	if err := idx.RecordOutcome(ctx, "perf", false, 200*time.Millisecond); err != nil {
		t.Fatalf("record: %v", err)
	}
	stats = idx.Stats("perf")
	if stats.UsageCount != 2 {
		t.Fatalf("usage count = %d, want 2", stats.UsageCount)
	}
	if math.Abs(stats.SuccessRate-0.7) > 1e-9 {
		t.Fatalf("success rate = %v, want 0.7", stats.SuccessRate)
	}
	if math.Abs(stats.AvgExecMillis-130) > 1e-9 {
		t.Fatalf("avg exec = %v, want 130", stats.AvgExecMillis)
	}
}

func TestRecordOutcomeUnknownIdentity(t *testing.T) {
	idx := newTestIndex(t)
	if err := idx.RecordOutcome(context.Background(), "ghost", true, time.Millisecond); err != nil {
		t.Fatalf("record for unknown identity: %v", err)
	}
	if stats := idx.Stats("ghost"); stats.UsageCount != 0 {
		t.Fatalf("stats = %+v, want untouched", stats)
	}
}

func TestQueryRanksBySuccessRateWithinTier(t *testing.T) {
	idx := newTestIndex(t,
		analyzer("flaky", "Analyze data quality"),
		analyzer("solid", "Analyze data quality"),
	)
	ctx := context.Background()
	if err := idx.RecordOutcome(ctx, "solid", true, time.Millisecond); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := idx.RecordOutcome(ctx, "flaky", false, time.Millisecond); err != nil {
		t.Fatalf("record: %v", err)
	}

	candidates := idx.Query(ctx, "analyze data quality", 10)
	if len(candidates) != 2 || candidates[0].Identity != "solid" {
		t.Fatalf("candidates = %+v, want solid first", candidates)
	}
}

func TestLoadHydratesFromStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	seed := NewIndex(store)
	if err := seed.Register(ctx, analyzer("perf", "Analyze performance bottlenecks")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := seed.RecordOutcome(ctx, "perf", true, 50*time.Millisecond); err != nil {
		t.Fatalf("record: %v", err)
	}

	restored := NewIndex(store)
	if err := restored.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	candidates := restored.Query(ctx, "analyze performance", 10)
	if len(candidates) != 1 || candidates[0].Identity != "perf" {
		t.Fatalf("candidates after reload = %+v", candidates)
	}
	if stats := restored.Stats("perf"); stats.UsageCount != 1 || stats.AvgExecMillis != 50 {
		t.Fatalf("stats after reload = %+v", stats)
	}
}
