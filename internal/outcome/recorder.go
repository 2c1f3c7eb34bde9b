package outcome

import (
	"context"
	"log/slog"

	"Plugweave/internal/discovery"
	xerrors "Plugweave/internal/errors"
	"Plugweave/pkg/logger"
)

// Recorder consumes outcome events and folds them into the discovery index.
type Recorder struct {
	index       *discovery.Index
	consumer    Consumer
	workerCount int
	log         *slog.Logger
}

// RecorderOption customizes a Recorder.
type RecorderOption func(*Recorder)

// WithWorkerCount sets how many consumer goroutines process events.
func WithWorkerCount(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.workerCount = n
		}
	}
}

// WithRecorderLogger overrides the default logger.
func WithRecorderLogger(log *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if log != nil {
			r.log = log
		}
	}
}

// NewRecorder wires a consumer to an index.
func NewRecorder(index *discovery.Index, consumer Consumer, opts ...RecorderOption) (*Recorder, error) {
	if index == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "discovery index is required")
	}
	if consumer == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "outcome consumer is required")
	}
	r := &Recorder{
		index:       index,
		consumer:    consumer,
		workerCount: 2,
		log:         logger.Named("outcome-recorder"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Start blocks consuming events until the context is cancelled.
func (r *Recorder) Start(ctx context.Context) error {
	r.log.Info("outcome recorder started", "workers", r.workerCount)
	return r.consumer.Consume(ctx, r.workerCount, r.handle)
}

func (r *Recorder) handle(ctx context.Context, event Event) error {
	if err := r.index.RecordOutcome(ctx, event.PluginIdentity, event.Success, event.Duration()); err != nil {
		r.log.Error("record outcome failed",
			"event_id", event.ID,
			"plugin", event.PluginIdentity,
			"error", err)
		return err
	}
	return nil
}
