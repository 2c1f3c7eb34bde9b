package outcome

import (
	"time"

	"github.com/google/uuid"
)

// Event describes one completed plugin invocation.
type Event struct {
	ID             string `json:"id"`
	PluginIdentity string `json:"plugin_identity"`
	ChainID        string `json:"chain_id,omitempty"`
	Success        bool   `json:"success"`
	DurationMS     int64  `json:"duration_ms"`
	Error          string `json:"error,omitempty"`
	OccurredAt     int64  `json:"occurred_at"`
}

// NewEvent builds an Event with a fresh identifier and timestamp.
func NewEvent(pluginIdentity, chainID string, success bool, elapsed time.Duration, errInfo string) Event {
	return Event{
		ID:             uuid.NewString(),
		PluginIdentity: pluginIdentity,
		ChainID:        chainID,
		Success:        success,
		DurationMS:     elapsed.Milliseconds(),
		Error:          errInfo,
		OccurredAt:     time.Now().Unix(),
	}
}

// Duration returns the execution time as a time.Duration.
func (e Event) Duration() time.Duration {
	return time.Duration(e.DurationMS) * time.Millisecond
}
