package chain

import (
	"sync/atomic"
	"time"

	"Plugweave/internal/admission"
	"Plugweave/pkg/plugin"
)

// Mode selects the execution strategy for a chain.
type Mode string

const (
	ModeSequential Mode = "SEQUENTIAL"
	ModeParallel   Mode = "PARALLEL"
	ModeAdaptive   Mode = "ADAPTIVE"
)

// ParseMode maps a string onto a Mode, defaulting to ModeAdaptive.
func ParseMode(value string) Mode {
	switch Mode(value) {
	case ModeSequential, ModeParallel, ModeAdaptive:
		return Mode(value)
	default:
		return ModeAdaptive
	}
}

// Node is one scheduled plugin invocation. DependsOn only ever references
// nodes appearing earlier in the chain's node list; the builder guarantees
// this by construction. Outputs is written once by the runner after the
// node's level commits.
type Node struct {
	Identity   string            `json:"identity"`
	Descriptor plugin.Descriptor `json:"descriptor"`
	DependsOn  []string          `json:"depends_on,omitempty"`
	Relevance  float64           `json:"relevance"`
	Outputs    map[string]any    `json:"outputs,omitempty"`

	instance plugin.Plugin
	executed atomic.Bool
}

// Executed reports whether the node has completed successfully.
func (n *Node) Executed() bool { return n.executed.Load() }

// BlockedCandidate records a build-time rejection together with the safer
// substitutes offered instead.
type BlockedCandidate struct {
	Decision     admission.Decision      `json:"decision"`
	Alternatives []admission.Alternative `json:"alternatives,omitempty"`
}

// Chain is the execution plan for one goal. A chain is mutated only by the
// single runner invocation that executes it.
type Chain struct {
	ID        string               `json:"id"`
	Goal      string               `json:"goal"`
	Mode      Mode                 `json:"mode"`
	Origin    string               `json:"origin,omitempty"`
	Nodes     []*Node              `json:"nodes"`
	Input     map[string]any       `json:"input,omitempty"`
	Warnings  []admission.Decision `json:"warnings,omitempty"`
	Blocked   []BlockedCandidate   `json:"blocked,omitempty"`
	CreatedAt time.Time            `json:"created_at"`

	executed atomic.Int64
	running  atomic.Bool
}

// ExecutedNodes returns how many nodes have completed so far.
func (c *Chain) ExecutedNodes() int {
	return int(c.executed.Load())
}

// Node returns the node for an identity, or nil.
func (c *Chain) Node(identity string) *Node {
	for _, n := range c.Nodes {
		if n.Identity == identity {
			return n
		}
	}
	return nil
}

// Identities lists node identities in chain order.
func (c *Chain) Identities() []string {
	ids := make([]string, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		ids = append(ids, n.Identity)
	}
	return ids
}

func (c *Chain) hasDependencies() bool {
	for _, n := range c.Nodes {
		if len(n.DependsOn) > 0 {
			return true
		}
	}
	return false
}

// Status is a point-in-time progress report for a chain.
type Status struct {
	ChainID       string    `json:"chain_id"`
	Goal          string    `json:"goal"`
	Mode          Mode      `json:"mode"`
	TotalNodes    int       `json:"total_nodes"`
	ExecutedNodes int       `json:"executed_nodes"`
	Progress      float64   `json:"progress"`
	Running       bool      `json:"running"`
	CreatedAt     time.Time `json:"created_at"`
}

func (c *Chain) status() Status {
	executed := c.ExecutedNodes()
	progress := 0.0
	if len(c.Nodes) > 0 {
		progress = float64(executed) / float64(len(c.Nodes))
	}
	return Status{
		ChainID:       c.ID,
		Goal:          c.Goal,
		Mode:          c.Mode,
		TotalNodes:    len(c.Nodes),
		ExecutedNodes: executed,
		Progress:      progress,
		Running:       c.running.Load(),
		CreatedAt:     c.CreatedAt,
	}
}
