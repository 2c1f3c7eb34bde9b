package admission

import "strings"

// RiskLevel classifies the danger a plugin poses, produced by the external
// static analyzer.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Blocking reports whether the level vetoes execution without an override.
func (r RiskLevel) Blocking() bool {
	return r == RiskHigh || r == RiskCritical
}

// ParseRiskLevel normalizes a textual risk level; unknown values map to
// critical so a garbled analyzer result fails safe.
func ParseRiskLevel(raw string) RiskLevel {
	switch RiskLevel(strings.ToLower(strings.TrimSpace(raw))) {
	case RiskLow:
		return RiskLow
	case RiskMedium:
		return RiskMedium
	case RiskHigh:
		return RiskHigh
	case RiskCritical:
		return RiskCritical
	default:
		return RiskCritical
	}
}

// ConfidenceRecord is the per-plugin safety and performance ledger. It is
// owned exclusively by the Gate; other components only ever see copies.
type ConfidenceRecord struct {
	Identity        string    `json:"identity"`
	ConfidenceScore float64   `json:"confidence_score"`
	RiskLevel       RiskLevel `json:"risk_level"`
	AvgExecMillis   float64   `json:"avg_exec_ms"`
	ErrorFrequency  float64   `json:"error_frequency"`
	UsageCount      int64     `json:"usage_count"`
	Scored          bool      `json:"scored"`
	Recommendations []string  `json:"recommendations,omitempty"`
	RecentErrors    []string  `json:"recent_errors,omitempty"`

	// recent is a ring of the last errorWindow outcomes backing
	// ErrorFrequency. true marks a failure.
	recent []bool
}

func (r *ConfidenceRecord) snapshot() ConfidenceRecord {
	clone := *r
	clone.Recommendations = append([]string(nil), r.Recommendations...)
	clone.RecentErrors = append([]string(nil), r.RecentErrors...)
	clone.recent = nil
	return clone
}

// Status is the admission state of one execution attempt.
type Status string

const (
	StatusAllowed Status = "allowed"
	StatusWarned  Status = "warned"
	StatusBlocked Status = "blocked"
)

// Decision is the result of one admission check.
type Decision struct {
	Identity        string    `json:"identity"`
	Status          Status    `json:"status"`
	ConfidenceScore float64   `json:"confidence_score"`
	RiskLevel       RiskLevel `json:"risk_level"`
	Reason          string    `json:"reason,omitempty"`
}

// Blocked reports whether execution is vetoed.
func (d Decision) Blocked() bool { return d.Status == StatusBlocked }

// Alternative is a safer substitute offered for a rejected plugin.
type Alternative struct {
	Identity        string    `json:"identity"`
	ConfidenceScore float64   `json:"confidence_score"`
	RiskLevel       RiskLevel `json:"risk_level"`
}
