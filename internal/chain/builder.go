package chain

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"Plugweave/internal/admission"
	"Plugweave/internal/discovery"
	xerrors "Plugweave/internal/errors"
	"Plugweave/pkg/logger"
	"Plugweave/pkg/plugin"
)

const defaultQueryLimit = 10

// Builder assembles chains from discovery candidates. It owns no mutable
// state of its own; every Build call reads the index, the gate and the plugin
// registry afresh.
type Builder struct {
	index      *discovery.Index
	gate       *admission.Gate
	plugins    *plugin.Registry
	chains     *Registry
	queryLimit int
	log        *slog.Logger
}

// BuilderOption customizes a Builder.
type BuilderOption func(*Builder)

// WithQueryLimit caps how many discovery candidates a build considers.
func WithQueryLimit(limit int) BuilderOption {
	return func(b *Builder) {
		if limit > 0 {
			b.queryLimit = limit
		}
	}
}

// WithBuilderLogger overrides the default logger.
func WithBuilderLogger(log *slog.Logger) BuilderOption {
	return func(b *Builder) {
		if log != nil {
			b.log = log
		}
	}
}

// NewBuilder wires the builder to its collaborators.
func NewBuilder(index *discovery.Index, gate *admission.Gate, plugins *plugin.Registry, chains *Registry, opts ...BuilderOption) (*Builder, error) {
	if index == nil || gate == nil || plugins == nil || chains == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "builder requires index, gate, plugin registry and chain registry")
	}
	b := &Builder{
		index:      index,
		gate:       gate,
		plugins:    plugins,
		chains:     chains,
		queryLimit: defaultQueryLimit,
		log:        logger.Named("chain-builder"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// BuildRequest carries the inputs of one chain build.
type BuildRequest struct {
	Goal         string
	Available    []string
	Input        map[string]any
	Mode         Mode
	Origin       string
	UserOverride bool
}

// Build assembles and registers a chain for the goal. An empty result is not
// an error: when discovery finds nothing, or the gate rejects everything, or
// no candidate ever becomes reachable, Build returns a nil chain and logs
// why. The caller decides whether that is a failure.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (*Chain, error) {
	if req.Goal == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "goal is required")
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeAdaptive
	}

	available := b.availableSet(req.Available)
	candidates := b.admittedCandidates(ctx, req, available)
	if len(candidates.admitted) == 0 {
		b.log.Info("chain build produced no admitted candidates",
			"goal", req.Goal,
			"blocked", len(candidates.blocked))
		return nil, nil
	}

	nodes := buildNodes(candidates.admitted)
	if len(nodes) == 0 {
		b.log.Info("chain build produced no reachable nodes", "goal", req.Goal)
		return nil, nil
	}

	chain := &Chain{
		ID:        b.chains.nextID(),
		Goal:      req.Goal,
		Mode:      mode,
		Origin:    req.Origin,
		Nodes:     nodes,
		Input:     req.Input,
		Warnings:  candidates.warnings,
		Blocked:   candidates.blocked,
		CreatedAt: time.Now(),
	}
	b.chains.add(chain)

	logger.Audit().Info("chain built",
		"chain_id", chain.ID,
		"goal", chain.Goal,
		"mode", string(chain.Mode),
		"nodes", chain.Identities(),
		"warnings", len(chain.Warnings),
		"blocked", len(chain.Blocked))
	return chain, nil
}

// nodeInput pairs a gate-admitted candidate with its resolved plugin.
type nodeInput struct {
	candidate  discovery.Candidate
	descriptor plugin.Descriptor
	instance   plugin.Plugin
}

type admissionOutcome struct {
	admitted []nodeInput
	warnings []admission.Decision
	blocked  []BlockedCandidate
}

func (b *Builder) availableSet(available []string) map[string]struct{} {
	ids := available
	if len(ids) == 0 {
		ids = b.plugins.Identities()
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// admittedCandidates runs discovery and filters the ranked list through the
// gate. Blocked candidates are dropped and recorded with their alternatives;
// warned candidates stay in the chain but are flagged in metadata.
func (b *Builder) admittedCandidates(ctx context.Context, req BuildRequest, available map[string]struct{}) admissionOutcome {
	var out admissionOutcome
	for _, candidate := range b.index.Query(ctx, req.Goal, b.queryLimit) {
		if _, ok := available[candidate.Identity]; !ok {
			continue
		}
		instance, ok := b.plugins.Resolve(candidate.Identity)
		if !ok {
			continue
		}
		decision := b.gate.Check(candidate.Identity, req.UserOverride)
		switch decision.Status {
		case admission.StatusBlocked:
			alternatives := b.gate.RecommendAlternatives(candidate.Identity)
			out.blocked = append(out.blocked, BlockedCandidate{Decision: decision, Alternatives: alternatives})
			b.log.Warn("candidate blocked at build time",
				"plugin", candidate.Identity,
				"risk_level", string(decision.RiskLevel),
				"confidence", decision.ConfidenceScore,
				"alternatives", len(alternatives))
			continue
		case admission.StatusWarned:
			out.warnings = append(out.warnings, decision)
		}
		desc, ok := b.plugins.Describe(candidate.Identity)
		if !ok {
			desc = instance.Describe()
		}
		out.admitted = append(out.admitted, nodeInput{
			candidate:  candidate,
			descriptor: desc,
			instance:   instance,
		})
	}
	return out
}

// buildNodes runs the greedy dependency construction. Seeds are candidates
// with no declared inputs or the auto-chain flag, taken by descending chain
// priority. A remaining candidate attaches once the accumulated output types
// intersect its declared inputs; whatever never attaches is dropped. The
// result is acyclic by construction because availableOutputs only grows and
// every dependency points at an already-placed node.
func buildNodes(inputs []nodeInput) []*Node {
	ordered := make([]nodeInput, len(inputs))
	copy(ordered, inputs)
	sortNodeInputs(ordered)

	var nodes []*Node
	availableOutputs := make(map[string]struct{})
	placed := make(map[string]bool, len(ordered))

	place := func(in nodeInput) {
		node := &Node{
			Identity:   in.descriptor.Identity,
			Descriptor: in.descriptor,
			DependsOn:  dependenciesFor(in.descriptor, nodes),
			Relevance:  in.candidate.Relevance,
			instance:   in.instance,
		}
		nodes = append(nodes, node)
		for _, out := range in.descriptor.OutputTypes {
			availableOutputs[out] = struct{}{}
		}
		placed[in.descriptor.Identity] = true
	}

	for _, in := range ordered {
		if !in.descriptor.HasInputs() || in.descriptor.AutoChainEligible {
			place(in)
		}
	}

	for {
		added := false
		for _, in := range ordered {
			if placed[in.descriptor.Identity] {
				continue
			}
			if satisfiable(in.descriptor.InputTypes, availableOutputs) {
				place(in)
				added = true
			}
		}
		if !added {
			break
		}
	}
	return nodes
}

// dependenciesFor lists earlier nodes whose outputs overlap the descriptor's
// declared inputs, in chain order.
func dependenciesFor(desc plugin.Descriptor, nodes []*Node) []string {
	if !desc.HasInputs() {
		return nil
	}
	needs := make(map[string]struct{}, len(desc.InputTypes))
	for _, in := range desc.InputTypes {
		needs[in] = struct{}{}
	}
	var deps []string
	for _, n := range nodes {
		for _, out := range n.Descriptor.OutputTypes {
			if _, ok := needs[out]; ok {
				deps = append(deps, n.Identity)
				break
			}
		}
	}
	return deps
}

func satisfiable(inputs []string, availableOutputs map[string]struct{}) bool {
	if len(inputs) == 0 {
		return true
	}
	for _, in := range inputs {
		if _, ok := availableOutputs[in]; ok {
			return true
		}
	}
	return false
}

func sortNodeInputs(inputs []nodeInput) {
	sort.SliceStable(inputs, func(i, j int) bool {
		a, b := inputs[i], inputs[j]
		if a.descriptor.ChainPriority != b.descriptor.ChainPriority {
			return a.descriptor.ChainPriority > b.descriptor.ChainPriority
		}
		if a.candidate.Relevance != b.candidate.Relevance {
			return a.candidate.Relevance > b.candidate.Relevance
		}
		return a.descriptor.Identity < b.descriptor.Identity
	})
}
