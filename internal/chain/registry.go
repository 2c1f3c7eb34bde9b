package chain

import (
	"fmt"
	"sync"
	"sync/atomic"

	xerrors "Plugweave/internal/errors"
)

// Registry keeps built chains in memory for the duration of execution plus a
// status-query window. Identifiers are monotonic within the process.
type Registry struct {
	mu     sync.RWMutex
	chains map[string]*Chain
	seq    atomic.Int64
}

// NewRegistry creates an empty chain registry.
func NewRegistry() *Registry {
	return &Registry{chains: make(map[string]*Chain)}
}

func (r *Registry) nextID() string {
	return fmt.Sprintf("chain-%d", r.seq.Add(1))
}

func (r *Registry) add(c *Chain) {
	r.mu.Lock()
	r.chains[c.ID] = c
	r.mu.Unlock()
}

// Get returns the chain for an identifier.
func (r *Registry) Get(chainID string) (*Chain, error) {
	r.mu.RLock()
	c, ok := r.chains[chainID]
	r.mu.RUnlock()
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "chain not found",
			xerrors.WithMetadata("chain_id", chainID))
	}
	return c, nil
}

// Status reports executed/total progress for a chain.
func (r *Registry) Status(chainID string) (Status, error) {
	c, err := r.Get(chainID)
	if err != nil {
		return Status{}, err
	}
	return c.status(), nil
}

// Cleanup removes a chain from the registry. Returns false when the
// identifier is unknown.
func (r *Registry) Cleanup(chainID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.chains[chainID]; !ok {
		return false
	}
	delete(r.chains, chainID)
	return true
}

// Len returns the number of retained chains.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chains)
}
