package discovery

import "Plugweave/pkg/plugin"

// Fragment is one normalized goal-pattern phrase derived from a plugin's
// description or tags, together with its relevance weight.
type Fragment struct {
	Text      string
	Relevance float64
}

// UsageStats is the mutable per-plugin ledger biasing future rankings.
// SuccessRate and AvgExecMillis are weighted moving averages.
type UsageStats struct {
	UsageCount    int64
	SuccessRate   float64
	AvgExecMillis float64
}

// Candidate is one ranked query result.
type Candidate struct {
	Identity    string  `json:"identity"`
	Relevance   float64 `json:"relevance"`
	SuccessRate float64 `json:"success_rate"`
	UsageCount  int64   `json:"usage_count"`
	Direct      bool    `json:"direct"`
}

// Snapshot is the full persisted state of the index, loaded at startup.
type Snapshot struct {
	Descriptors map[string]plugin.Descriptor
	Fragments   map[string][]Fragment
	Stats       map[string]UsageStats
}
