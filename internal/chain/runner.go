package chain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"Plugweave/internal/admission"
	xerrors "Plugweave/internal/errors"
	"Plugweave/internal/observability/metrics"
	"Plugweave/internal/outcome"
	"Plugweave/pkg/logger"
)

// Runner executes a built chain. Every node call is bracketed by a deferred
// gate update and a best-effort outcome event, so the ledgers move even when
// a plugin panics.
type Runner struct {
	gate     *admission.Gate
	outcomes outcome.Producer
	log      *slog.Logger
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithOutcomeProducer publishes per-node outcome events to the given queue.
func WithOutcomeProducer(p outcome.Producer) RunnerOption {
	return func(r *Runner) { r.outcomes = p }
}

// WithRunnerLogger overrides the default logger.
func WithRunnerLogger(log *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if log != nil {
			r.log = log
		}
	}
}

// NewRunner creates a Runner bound to the admission gate.
func NewRunner(gate *admission.Gate, opts ...RunnerOption) (*Runner, error) {
	if gate == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "admission gate is required")
	}
	r := &Runner{gate: gate, log: logger.Named("chain-runner")}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run executes the chain and returns the accumulated context. On failure the
// partial context is returned alongside the error: committed node outputs are
// never discarded. The context map belongs exclusively to this invocation; a
// chain refuses to run twice concurrently.
func (r *Runner) Run(ctx context.Context, c *Chain, initial map[string]any) (map[string]any, error) {
	if c == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "chain is nil")
	}
	if !c.running.CompareAndSwap(false, true) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "chain is already running",
			xerrors.WithMetadata("chain_id", c.ID))
	}
	defer c.running.Store(false)

	// Progress starts over on every invocation; a rerun must not report more
	// executed nodes than the chain has.
	c.executed.Store(0)
	for _, node := range c.Nodes {
		node.executed.Store(false)
	}

	data := make(map[string]any, len(c.Input)+len(initial))
	mergeInto(data, c.Input)
	mergeInto(data, initial)

	mode := c.Mode
	if mode == ModeAdaptive {
		if c.hasDependencies() {
			mode = ModeParallel
		} else {
			mode = ModeSequential
		}
	}

	start := time.Now()
	var err error
	switch mode {
	case ModeParallel:
		data, err = r.runParallel(ctx, c, data)
	default:
		data, err = r.runSequential(ctx, c, data)
	}
	metrics.ObserveChainExecution(string(mode), err == nil, time.Since(start))

	if err != nil {
		logger.Audit().Error("chain failed",
			"chain_id", c.ID,
			"goal", c.Goal,
			"mode", string(mode),
			"executed_nodes", c.ExecutedNodes(),
			"elapsed_ms", time.Since(start).Milliseconds(),
			"error", err)
		return data, err
	}
	logger.Audit().Info("chain completed",
		"chain_id", c.ID,
		"goal", c.Goal,
		"mode", string(mode),
		"nodes", len(c.Nodes),
		"elapsed_ms", time.Since(start).Milliseconds())
	return data, nil
}

// runSequential executes nodes strictly in list order, merging each node's
// outputs into the shared context before the next node starts.
func (r *Runner) runSequential(ctx context.Context, c *Chain, data map[string]any) (map[string]any, error) {
	for _, node := range c.Nodes {
		outputs, err := r.runNode(ctx, c, node, data)
		if err != nil {
			return data, xerrors.Wrap(xerrors.CodeExecutionFailure, err,
				fmt.Sprintf("chain node %s failed", node.Identity),
				xerrors.WithMetadata("chain_id", c.ID),
				xerrors.WithMetadata("plugin", node.Identity))
		}
		mergeInto(data, outputs)
	}
	return data, nil
}

// runParallel groups nodes into dependency levels and fans each level out
// onto goroutines. The whole level joins before its outputs are merged; a
// failing node aborts the chain and the half-finished level's outputs are
// not committed.
func (r *Runner) runParallel(ctx context.Context, c *Chain, data map[string]any) (map[string]any, error) {
	for _, level := range computeLevels(c) {
		results := make([]map[string]any, len(level))
		failures := make([]error, len(level))

		var wg sync.WaitGroup
		for i, node := range level {
			wg.Add(1)
			go func(i int, node *Node) {
				defer wg.Done()
				results[i], failures[i] = r.runNode(ctx, c, node, data)
			}(i, node)
		}
		wg.Wait()

		for i, err := range failures {
			if err != nil {
				return data, xerrors.Wrap(xerrors.CodeExecutionFailure, err,
					fmt.Sprintf("chain node %s failed", level[i].Identity),
					xerrors.WithMetadata("chain_id", c.ID),
					xerrors.WithMetadata("plugin", level[i].Identity))
			}
		}
		for _, outputs := range results {
			mergeInto(data, outputs)
		}
	}
	return data, nil
}

// computeLevels assigns level(n) = 0 for nodes without dependencies, else
// 1 + max(level of each dependency). Dependencies always point at earlier
// nodes, so one forward pass suffices.
func computeLevels(c *Chain) [][]*Node {
	levelOf := make(map[string]int, len(c.Nodes))
	maxLevel := 0
	for _, n := range c.Nodes {
		level := 0
		for _, dep := range n.DependsOn {
			if dl, ok := levelOf[dep]; ok && dl+1 > level {
				level = dl + 1
			}
		}
		levelOf[n.Identity] = level
		if level > maxLevel {
			maxLevel = level
		}
	}
	levels := make([][]*Node, maxLevel+1)
	for _, n := range c.Nodes {
		l := levelOf[n.Identity]
		levels[l] = append(levels[l], n)
	}
	return levels
}

// runNode invokes one plugin. The shared context is only read here; outputs
// are handed back to the caller, which merges them after the node (or its
// whole level) commits.
func (r *Runner) runNode(ctx context.Context, c *Chain, node *Node, data map[string]any) (outputs map[string]any, err error) {
	input := nodeInputFrom(node.Descriptor.InputTypes, data)
	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		errInfo := ""
		if err != nil {
			errInfo = err.Error()
		}
		r.gate.RecordExecution(node.Identity, elapsed, err == nil, errInfo)
		metrics.ObserveNodeExecution(node.Identity, err == nil, elapsed)
		r.publishOutcome(ctx, c.ID, node.Identity, elapsed, err)
	}()
	defer func() {
		if rec := recover(); rec != nil {
			outputs = nil
			err = xerrors.New(xerrors.CodeExecutionFailure, fmt.Sprintf("plugin panicked: %v", rec),
				xerrors.WithMetadata("plugin", node.Identity))
		}
	}()

	outputs, err = node.instance.Execute(ctx, c.Goal, input)
	if err != nil {
		return nil, err
	}
	node.Outputs = outputs
	node.executed.Store(true)
	c.executed.Add(1)
	return outputs, nil
}

func (r *Runner) publishOutcome(ctx context.Context, chainID, identity string, elapsed time.Duration, execErr error) {
	if r.outcomes == nil {
		return
	}
	errInfo := ""
	if execErr != nil {
		errInfo = execErr.Error()
	}
	event := outcome.NewEvent(identity, chainID, execErr == nil, elapsed, errInfo)
	// Survives cancellation of an aborted chain so failures still reach the
	// statistics pipeline.
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := r.outcomes.Publish(publishCtx, event); err != nil {
		r.log.Warn("outcome publish failed", "plugin", identity, "chain_id", chainID, "error", err)
	}
}

// nodeInputFrom projects the declared input types out of the shared context.
// Nodes that declare nothing receive a copy of the whole context.
func nodeInputFrom(inputTypes []string, data map[string]any) map[string]any {
	input := make(map[string]any)
	if len(inputTypes) == 0 {
		mergeInto(input, data)
		return input
	}
	for _, t := range inputTypes {
		if v, ok := data[t]; ok {
			input[t] = v
		}
	}
	return input
}

func mergeInto(dst map[string]any, src map[string]any) {
	for k, v := range src {
		dst[k] = v
	}
}
