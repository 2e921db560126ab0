package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sanjabh11/consultflow/model"
)

// Recorder builds audit entries and hands them to a Sink. A sink failure or
// panic never fails the mutation being audited: it is logged and counted.
type Recorder struct {
	sink     Sink
	logger   *zap.Logger
	failures prometheus.Counter
	now      func() time.Time
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithLogger sets the logger used for sink failures.
func WithLogger(logger *zap.Logger) RecorderOption {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithFailureCounter counts sink failures.
func WithFailureCounter(c prometheus.Counter) RecorderOption {
	return func(r *Recorder) { r.failures = c }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a Recorder. A nil sink discards entries.
func NewRecorder(sink Sink, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		sink:   sink,
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends an entry for action on workflowID. payload is marshalled
// to JSON; a payload that cannot be marshalled is recorded as null.
func (r *Recorder) Record(ctx context.Context, workflowID, action, actorID string, payload any) model.AuditEntry {
	entry := model.AuditEntry{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Action:     action,
		ActorID:    actorID,
		Timestamp:  r.now(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			r.logger.Warn("audit payload not serialisable",
				zap.String("workflow_id", workflowID),
				zap.String("action", action),
				zap.Error(err),
			)
		} else {
			entry.Payload = data
		}
	}

	if r.sink == nil {
		return entry
	}
	if err := r.appendSafe(ctx, entry); err != nil {
		r.logger.Warn("audit sink failed",
			zap.String("workflow_id", workflowID),
			zap.String("action", action),
			zap.Error(err),
		)
		if r.failures != nil {
			r.failures.Inc()
		}
	}
	return entry
}

// appendSafe hands entry to the sink, turning a sink panic into an error.
func (r *Recorder) appendSafe(ctx context.Context, entry model.AuditEntry) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("audit sink panicked: %v", rec)
		}
	}()
	return r.sink.Append(ctx, entry)
}
