// Package engine assembles the discovery index, admission gate and chain
// scheduler behind one facade. The API server and the daemon only talk to
// this package.
package engine

import (
	"context"
	"log/slog"
	"time"

	"Plugweave/internal/admission"
	"Plugweave/internal/chain"
	"Plugweave/internal/discovery"
	xerrors "Plugweave/internal/errors"
	"Plugweave/internal/observability/alerting"
	"Plugweave/internal/outcome"
	"Plugweave/pkg/logger"
	"Plugweave/pkg/plugin"
)

// Engine owns the orchestration components and exposes the caller surface:
// query, build, run, suggest, status, cleanup.
type Engine struct {
	index    *discovery.Index
	gate     *admission.Gate
	plugins  *plugin.Registry
	chains   *chain.Registry
	builder  *chain.Builder
	runner   *chain.Runner
	analyzer admission.Analyzer
	alerts   alerting.Dispatcher
	outcomes outcome.Producer

	queryLimit int
	log        *slog.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithAnalyzer sets the static analyzer consulted at plugin registration.
func WithAnalyzer(a admission.Analyzer) Option {
	return func(e *Engine) {
		if a != nil {
			e.analyzer = a
		}
	}
}

// WithAlertDispatcher routes blocked plugins and terminal chain failures to
// the alerting fanout.
func WithAlertDispatcher(d alerting.Dispatcher) Option {
	return func(e *Engine) { e.alerts = d }
}

// WithOutcomeProducer publishes per-node execution outcomes to the queue.
func WithOutcomeProducer(p outcome.Producer) Option {
	return func(e *Engine) { e.outcomes = p }
}

// WithQueryLimit caps discovery results per query and per chain build.
func WithQueryLimit(limit int) Option {
	return func(e *Engine) {
		if limit > 0 {
			e.queryLimit = limit
		}
	}
}

// WithPluginRegistry substitutes a pre-populated plugin registry.
func WithPluginRegistry(r *plugin.Registry) Option {
	return func(e *Engine) {
		if r != nil {
			e.plugins = r
		}
	}
}

// New builds an Engine over the given index store and hydrates the index
// from it.
func New(ctx context.Context, store discovery.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "index store is required")
	}
	e := &Engine{
		index:      discovery.NewIndex(store),
		gate:       admission.NewGate(),
		plugins:    plugin.NewRegistry(),
		chains:     chain.NewRegistry(),
		analyzer:   admission.NeutralAnalyzer{},
		queryLimit: 10,
		log:        logger.Named("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.index.Load(ctx); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "hydrate discovery index")
	}

	var err error
	e.builder, err = chain.NewBuilder(e.index, e.gate, e.plugins, e.chains,
		chain.WithQueryLimit(e.queryLimit))
	if err != nil {
		return nil, err
	}
	runnerOpts := []chain.RunnerOption{}
	if e.outcomes != nil {
		runnerOpts = append(runnerOpts, chain.WithOutcomeProducer(e.outcomes))
	}
	e.runner, err = chain.NewRunner(e.gate, runnerOpts...)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// RegisterPlugin adds a plugin to the registry, indexes its descriptor and
// scores it through the static analyzer.
func (e *Engine) RegisterPlugin(ctx context.Context, p plugin.Plugin) error {
	if p == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "plugin is nil")
	}
	if err := e.plugins.Register(p); err != nil {
		return err
	}
	identity := p.Describe().Identity
	desc, _ := e.plugins.Describe(identity)
	if err := e.index.Register(ctx, desc); err != nil {
		return err
	}

	result, err := e.analyzer.Analyze(ctx, desc)
	if err != nil {
		// Analyzer trouble leaves the plugin unscored, which lands it in the
		// warned tier rather than refusing registration.
		e.log.Warn("analyzer failed, plugin stays unscored", "plugin", identity, "error", err)
	} else {
		e.gate.Score(identity, result)
	}

	logger.Audit().Info("plugin registered",
		"plugin", identity,
		"category", string(desc.Category),
		"scored", err == nil)
	return nil
}

// LoadManifest registers every enabled manifest entry, loading shared objects
// through the plugin registry's loader.
func (e *Engine) LoadManifest(ctx context.Context, manifest plugin.Manifest) error {
	if err := e.plugins.LoadManifest(manifest); err != nil {
		return err
	}
	for _, identity := range e.plugins.Identities() {
		desc, ok := e.plugins.Describe(identity)
		if !ok {
			continue
		}
		if err := e.index.Register(ctx, desc); err != nil {
			return err
		}
		if result, err := e.analyzer.Analyze(ctx, desc); err == nil {
			e.gate.Score(identity, result)
		}
	}
	return nil
}

// Query returns ranked candidates for a goal.
func (e *Engine) Query(ctx context.Context, goal string, limit int) []discovery.Candidate {
	if limit <= 0 {
		limit = e.queryLimit
	}
	return e.index.Query(ctx, goal, limit)
}

// BuildChain assembles a chain for the request. A build that yields no
// executable nodes returns a BUILD_FAILURE error.
func (e *Engine) BuildChain(ctx context.Context, req chain.BuildRequest) (*chain.Chain, error) {
	built, err := e.builder.Build(ctx, req)
	if err != nil {
		return nil, err
	}
	if built == nil {
		return nil, xerrors.New(xerrors.CodeBuildFailure, "no executable chain for goal",
			xerrors.WithMetadata("goal", req.Goal))
	}
	for _, blocked := range built.Blocked {
		e.alert(ctx, alerting.Event{
			Code:     xerrors.CodeBlocked,
			Message:  blocked.Decision.Reason,
			Severity: xerrors.SeverityWarning,
			PluginID: blocked.Decision.Identity,
			ChainID:  built.ID,
			Metadata: map[string]string{
				"risk_level": string(blocked.Decision.RiskLevel),
			},
			OccurredAt: time.Now(),
		})
	}
	return built, nil
}

// RunChain executes a previously built chain by identifier.
func (e *Engine) RunChain(ctx context.Context, chainID string, initial map[string]any) (map[string]any, error) {
	c, err := e.chains.Get(chainID)
	if err != nil {
		return nil, err
	}
	result, err := e.runner.Run(ctx, c, initial)
	if err != nil {
		e.alert(ctx, alerting.Event{
			Code:       xerrors.CodeOf(err),
			Message:    err.Error(),
			Severity:   xerrors.SeverityOf(err),
			ChainID:    chainID,
			OccurredAt: time.Now(),
		})
	}
	return result, err
}

// SuggestChains returns advisory chain proposals for free-form input.
func (e *Engine) SuggestChains(ctx context.Context, userInput string, available []string) []chain.Suggestion {
	return e.builder.Suggest(ctx, userInput, available)
}

// ChainStatus reports executed/total progress for a chain.
func (e *Engine) ChainStatus(chainID string) (chain.Status, error) {
	return e.chains.Status(chainID)
}

// CleanupChain removes a chain from the registry.
func (e *Engine) CleanupChain(chainID string) bool {
	return e.chains.Cleanup(chainID)
}

// Gate exposes the admission gate for read-side callers.
func (e *Engine) Gate() *admission.Gate { return e.gate }

// Index exposes the discovery index, mainly for the outcome recorder.
func (e *Engine) Index() *discovery.Index { return e.index }

// Plugins exposes the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

func (e *Engine) alert(ctx context.Context, event alerting.Event) {
	if e.alerts == nil {
		return
	}
	if err := e.alerts.Notify(ctx, event); err != nil {
		e.log.Warn("alert dispatch failed", "code", string(event.Code), "error", err)
	}
}
