package admission

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"
)

const (
	// floorConfidence is the absolute admission floor. A user override can
	// waive risk-level blocking but never this threshold.
	floorConfidence = 0.3
	// warnConfidence is the tier below which execution proceeds with a
	// warning attached.
	warnConfidence = 0.6
	// defaultConfidence is assumed for plugins that were never scored.
	defaultConfidence = 0.5

	// errorWindow is the number of recent executions backing ErrorFrequency.
	errorWindow = 20
	// confidenceAlpha is how strongly recent outcomes pull the confidence
	// score towards the observed success fraction.
	confidenceAlpha = 0.2
	// latencyAlpha is the weight of the newest latency observation.
	latencyAlpha = 0.3

	maxAlternatives = 5
	// maxErrorSamples caps the distinct error messages kept per record.
	maxErrorSamples = 5

	gateShardCount = 16
)

type gateShard struct {
	mu      sync.RWMutex
	records map[string]*ConfidenceRecord
}

// Gate evaluates the admission policy. Records are sharded by identity so
// concurrent outcome recording for unrelated plugins does not contend on one
// lock.
type Gate struct {
	shards [gateShardCount]gateShard
}

// NewGate creates an empty Gate.
func NewGate() *Gate {
	g := &Gate{}
	for i := range g.shards {
		g.shards[i].records = make(map[string]*ConfidenceRecord)
	}
	return g
}

// ShouldBlock applies the blocking policy: blocking risk levels veto unless
// overridden, and a confidence score under the absolute floor always vetoes.
func ShouldBlock(risk RiskLevel, confidence float64, userOverride bool) bool {
	if confidence < floorConfidence {
		return true
	}
	if risk.Blocking() && !userOverride {
		return true
	}
	return false
}

// Score records the static analyzer's verdict for a plugin, transitioning it
// from unscored to scored. Re-registration overwrites the previous verdict
// but keeps accumulated execution statistics.
func (g *Gate) Score(identity string, result AnalysisResult) {
	if identity == "" {
		return
	}
	shard := g.shard(identity)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	record, ok := shard.records[identity]
	if !ok {
		record = &ConfidenceRecord{Identity: identity}
		shard.records[identity] = record
	}
	record.ConfidenceScore = clamp01(result.ConfidenceScore)
	record.RiskLevel = result.RiskLevel
	record.Recommendations = append([]string(nil), result.Recommendations...)
	record.Scored = true
}

// Check evaluates admission for one execution attempt. The decision is never
// cached: the confidence score moves with every recorded outcome, so each
// attempt re-reads the ledger. Plugins that were never scored are treated as
// mid-confidence, low-risk, which lands them in the warned tier.
func (g *Gate) Check(identity string, userOverride bool) Decision {
	confidence := defaultConfidence
	risk := RiskLow
	scored := false

	shard := g.shard(identity)
	shard.mu.RLock()
	if record, ok := shard.records[identity]; ok && record.Scored {
		confidence = record.ConfidenceScore
		risk = record.RiskLevel
		scored = true
	}
	shard.mu.RUnlock()

	decision := Decision{Identity: identity, ConfidenceScore: confidence, RiskLevel: risk}
	switch {
	case ShouldBlock(risk, confidence, userOverride):
		decision.Status = StatusBlocked
		if confidence < floorConfidence {
			decision.Reason = "confidence score below the admission floor"
		} else {
			decision.Reason = "risk level requires an explicit override"
		}
	case confidence < warnConfidence:
		decision.Status = StatusWarned
		if scored {
			decision.Reason = "confidence score in the warning tier"
		} else {
			decision.Reason = "plugin has not been scored yet"
		}
	default:
		decision.Status = StatusAllowed
	}
	return decision
}

// RecordExecution folds one execution outcome into the ledger: a weighted
// average of latency, a rolling error fraction over the recent window, and a
// confidence adjustment towards the observed success fraction. Callers run
// this in a deferred block so it applies even when the plugin call panics
// upstream.
func (g *Gate) RecordExecution(identity string, elapsed time.Duration, success bool, errInfo string) {
	if identity == "" {
		return
	}
	shard := g.shard(identity)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	record, ok := shard.records[identity]
	if !ok {
		record = &ConfidenceRecord{
			Identity:        identity,
			ConfidenceScore: defaultConfidence,
			RiskLevel:       RiskLow,
		}
		shard.records[identity] = record
	}

	millis := float64(elapsed.Milliseconds())
	if record.UsageCount == 0 {
		record.AvgExecMillis = millis
	} else {
		record.AvgExecMillis = record.AvgExecMillis*(1-latencyAlpha) + millis*latencyAlpha
	}
	record.UsageCount++

	record.recent = append(record.recent, !success)
	if len(record.recent) > errorWindow {
		record.recent = record.recent[len(record.recent)-errorWindow:]
	}
	failures := 0
	for _, failed := range record.recent {
		if failed {
			failures++
		}
	}
	record.ErrorFrequency = float64(failures) / float64(len(record.recent))

	observed := 1.0 - record.ErrorFrequency
	record.ConfidenceScore = clamp01(record.ConfidenceScore*(1-confidenceAlpha) + observed*confidenceAlpha)

	if !success && errInfo != "" && len(record.RecentErrors) < maxErrorSamples {
		record.RecentErrors = appendUnique(record.RecentErrors, errInfo)
	}
}

// RecommendAlternatives returns up to five plugins with strictly higher
// confidence and a non-blocking risk level, best first. Used when a
// build-time candidate is rejected.
func (g *Gate) RecommendAlternatives(identity string) []Alternative {
	baseline := 0.0
	shard := g.shard(identity)
	shard.mu.RLock()
	if record, ok := shard.records[identity]; ok {
		baseline = record.ConfidenceScore
	}
	shard.mu.RUnlock()

	alternatives := make([]Alternative, 0)
	for i := range g.shards {
		s := &g.shards[i]
		s.mu.RLock()
		for id, record := range s.records {
			if id == identity || !record.Scored {
				continue
			}
			if record.RiskLevel.Blocking() {
				continue
			}
			if record.ConfidenceScore <= baseline {
				continue
			}
			alternatives = append(alternatives, Alternative{
				Identity:        id,
				ConfidenceScore: record.ConfidenceScore,
				RiskLevel:       record.RiskLevel,
			})
		}
		s.mu.RUnlock()
	}

	sort.Slice(alternatives, func(i, j int) bool {
		if alternatives[i].ConfidenceScore != alternatives[j].ConfidenceScore {
			return alternatives[i].ConfidenceScore > alternatives[j].ConfidenceScore
		}
		return alternatives[i].Identity < alternatives[j].Identity
	})
	if len(alternatives) > maxAlternatives {
		alternatives = alternatives[:maxAlternatives]
	}
	return alternatives
}

// Record returns a copy of the ledger entry for an identity.
func (g *Gate) Record(identity string) (ConfidenceRecord, bool) {
	shard := g.shard(identity)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	record, ok := shard.records[identity]
	if !ok {
		return ConfidenceRecord{}, false
	}
	return record.snapshot(), true
}

func (g *Gate) shard(identity string) *gateShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(identity))
	return &g.shards[h.Sum32()%gateShardCount]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func appendUnique(values []string, value string) []string {
	for _, v := range values {
		if v == value {
			return values
		}
	}
	return append(values, value)
}
