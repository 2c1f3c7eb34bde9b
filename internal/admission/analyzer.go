package admission

import (
	"context"

	"Plugweave/pkg/plugin"
)

// AnalysisResult is the static analyzer's verdict for one plugin
// registration.
type AnalysisResult struct {
	ConfidenceScore float64
	RiskLevel       RiskLevel
	Recommendations []string
}

// Analyzer scores a plugin from its source and declared metadata. The
// implementation is an external collaborator; the engine only consumes the
// result, once per (re)registration.
type Analyzer interface {
	Analyze(ctx context.Context, desc plugin.Descriptor) (AnalysisResult, error)
}

// AnalyzerFunc adapts a plain function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, desc plugin.Descriptor) (AnalysisResult, error)

// Analyze implements Analyzer.
func (f AnalyzerFunc) Analyze(ctx context.Context, desc plugin.Descriptor) (AnalysisResult, error) {
	return f(ctx, desc)
}

// NeutralAnalyzer assigns every plugin a mid-range score. Deployments without
// a real analyzer fall back to it, which lands new plugins in the warned tier
// until outcomes accumulate.
type NeutralAnalyzer struct{}

// Analyze implements Analyzer.
func (NeutralAnalyzer) Analyze(_ context.Context, _ plugin.Descriptor) (AnalysisResult, error) {
	return AnalysisResult{ConfidenceScore: defaultConfidence, RiskLevel: RiskLow}, nil
}
