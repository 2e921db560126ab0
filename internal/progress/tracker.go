package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sanjabh11/consultflow/internal/keylock"
	"github.com/sanjabh11/consultflow/internal/observability"
	"github.com/sanjabh11/consultflow/model"
)

var errTrackerClosed = errors.New("progress: tracker closed")

const (
	// DefaultInterval is the evaluation period of a tracked workflow.
	DefaultInterval = 30 * time.Minute

	defaultActivityLimit = 20
)

// WorkflowSource loads the current state of a workflow.
type WorkflowSource interface {
	Get(ctx context.Context, id string) (model.Workflow, error)
}

// Publisher delivers tracker events.
type Publisher interface {
	Publish(evt model.Event)
}

// TrackOptions configure one tracked workflow. Zero values take the
// tracker's defaults.
type TrackOptions struct {
	Interval   time.Duration
	Thresholds *model.Thresholds
}

// TrackedWorkflow describes an active tracking schedule.
type TrackedWorkflow struct {
	WorkflowID string           `json:"workflow_id"`
	Interval   time.Duration    `json:"interval"`
	Thresholds model.Thresholds `json:"thresholds"`
	StartedAt  time.Time        `json:"started_at"`
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithClock overrides the tracker's time source.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the tracker logger.
func WithLogger(l *zap.Logger) TrackerOption {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) TrackerOption {
	return func(t *Tracker) { t.metrics = m }
}

// WithPublisher publishes alert_raised events for every new alert.
func WithPublisher(p Publisher) TrackerOption {
	return func(t *Tracker) { t.bus = p }
}

// WithLimits overrides the retention limits.
func WithLimits(l Limits) TrackerOption {
	return func(t *Tracker) { t.limits = l }
}

// WithDefaults overrides the interval and thresholds used when
// StartTracking is called without them.
func WithDefaults(interval time.Duration, thresholds model.Thresholds) TrackerOption {
	return func(t *Tracker) {
		if interval > 0 {
			t.interval = interval
		}
		t.thresholds = thresholds
	}
}

type schedule struct {
	info   TrackedWorkflow
	cancel context.CancelFunc
}

// Tracker snapshots tracked workflows on a per-workflow ticker, evaluates
// alerts and keeps the history reports are built from.
type Tracker struct {
	source     WorkflowSource
	journal    *Journal
	bus        Publisher
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
	limits     Limits
	interval   time.Duration
	thresholds model.Thresholds

	mu        sync.Mutex
	schedules map[string]*schedule
	closed    bool
	root      context.Context
	stopAll   context.CancelFunc
	wg        sync.WaitGroup

	evalLocks keylock.Locks
}

// NewTracker creates a Tracker reading workflows from source.
func NewTracker(source WorkflowSource, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		source:     source,
		logger:     zap.NewNop(),
		now:        func() time.Time { return time.Now().UTC() },
		limits:     DefaultLimits(),
		interval:   DefaultInterval,
		thresholds: model.DefaultThresholds(),
		schedules:  make(map[string]*schedule),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.journal = NewJournal(t.limits)
	t.root, t.stopAll = context.WithCancel(context.Background())
	return t
}

// --- Scheduling ---

// StartTracking evaluates the workflow immediately and then on every
// interval until stopped. Starting an already tracked workflow replaces its
// schedule.
func (t *Tracker) StartTracking(ctx context.Context, id string, opts TrackOptions) (TrackedWorkflow, error) {
	info := TrackedWorkflow{
		WorkflowID: id,
		Interval:   opts.Interval,
		Thresholds: t.thresholds,
		StartedAt:  t.now(),
	}
	if info.Interval <= 0 {
		info.Interval = t.interval
	}
	if opts.Thresholds != nil {
		info.Thresholds = *opts.Thresholds
	}

	if _, _, err := t.evaluate(ctx, id, info.Thresholds); err != nil {
		return TrackedWorkflow{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return TrackedWorkflow{}, errTrackerClosed
	}
	if prev, ok := t.schedules[id]; ok {
		prev.cancel()
	}
	runCtx, cancel := context.WithCancel(t.root)
	s := &schedule{info: info, cancel: cancel}
	t.schedules[id] = s
	t.wg.Add(1)
	go t.run(runCtx, s)

	t.metrics.SetTrackedWorkflows(len(t.schedules))
	t.logger.Info("tracking started",
		zap.String("workflow_id", id),
		zap.Duration("interval", info.Interval),
	)
	return info, nil
}

func (t *Tracker) run(ctx context.Context, s *schedule) {
	defer t.wg.Done()

	ticker := time.NewTicker(s.info.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := t.evaluate(ctx, s.info.WorkflowID, s.info.Thresholds); err != nil {
				t.logger.Error("scheduled evaluation failed",
					zap.String("workflow_id", s.info.WorkflowID),
					zap.Error(err),
				)
			}
		}
	}
}

// StopTracking cancels the workflow's schedule. Stopping an untracked
// workflow is a no-op. An evaluation already in flight completes.
func (t *Tracker) StopTracking(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.schedules[id]
	if !ok {
		return
	}
	s.cancel()
	delete(t.schedules, id)
	t.metrics.SetTrackedWorkflows(len(t.schedules))
	t.logger.Info("tracking stopped", zap.String("workflow_id", id))
}

// IsTracked reports whether the workflow has an active schedule.
func (t *Tracker) IsTracked(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.schedules[id]
	return ok
}

// TrackedWorkflows lists the active schedules.
func (t *Tracker) TrackedWorkflows() []TrackedWorkflow {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TrackedWorkflow, 0, len(t.schedules))
	for _, s := range t.schedules {
		out = append(out, s.info)
	}
	return out
}

// Close stops every schedule and waits for the ticker goroutines to exit.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.schedules = make(map[string]*schedule)
	t.mu.Unlock()

	t.stopAll()
	t.wg.Wait()
	t.metrics.SetTrackedWorkflows(0)
}

// --- Evaluation ---

// snapshot takes and stores a snapshot. The caller holds the workflow's
// evaluation lock.
func (t *Tracker) snapshot(ctx context.Context, id string) (model.Snapshot, error) {
	w, err := t.source.Get(ctx, id)
	if err != nil {
		return model.Snapshot{}, err
	}
	snap := BuildSnapshot(&w, t.now(), t.journal.RecentActivities(id, snapshotActivityLimit))
	t.journal.AddSnapshot(snap)
	return snap, nil
}

func (t *Tracker) evaluate(ctx context.Context, id string, thresholds model.Thresholds) (_ model.Snapshot, _ []model.Alert, err error) {
	ctx, span := observability.StartSpan(ctx, "progress.evaluate", observability.AttrWorkflowID.String(id))
	start := time.Now()
	defer func() {
		t.metrics.RecordEvaluation(time.Since(start), err)
		observability.EndSpanWithError(span, err)
	}()

	defer t.evalLocks.Lock(id)()

	snap, err := t.snapshot(ctx, id)
	if err != nil {
		return model.Snapshot{}, nil, err
	}
	alerts := Evaluate(snap, thresholds, t.now())
	t.journal.AddAlerts(id, alerts)

	for _, a := range alerts {
		t.metrics.RecordAlert(string(a.Level), string(a.Category))
		if t.bus != nil {
			t.bus.Publish(model.Event{
				Type:       model.EventAlertRaised,
				WorkflowID: id,
				Data:       a,
				OccurredAt: a.Timestamp,
			})
		}
	}

	t.logger.Debug("workflow evaluated",
		zap.String("workflow_id", id),
		zap.String("status", string(snap.Status)),
		zap.Float64("progress_percent", snap.ProgressPercent),
		zap.Int("alerts", len(alerts)),
	)
	return snap, alerts, nil
}

// Evaluate takes a snapshot and evaluates alerts on demand with the
// thresholds of the workflow's schedule, or the defaults when untracked.
func (t *Tracker) Evaluate(ctx context.Context, id string) (model.Snapshot, []model.Alert, error) {
	thresholds := t.thresholds
	t.mu.Lock()
	if s, ok := t.schedules[id]; ok {
		thresholds = s.info.Thresholds
	}
	t.mu.Unlock()
	return t.evaluate(ctx, id, thresholds)
}

// --- Snapshots ---

// CreateSnapshot takes a snapshot of the workflow now.
func (t *Tracker) CreateSnapshot(ctx context.Context, id string) (model.Snapshot, error) {
	defer t.evalLocks.Lock(id)()
	return t.snapshot(ctx, id)
}

// CurrentSnapshot returns the latest snapshot, or NO_PROGRESS_DATA.
func (t *Tracker) CurrentSnapshot(id string) (model.Snapshot, error) {
	snap, ok := t.journal.LatestSnapshot(id)
	if !ok {
		return model.Snapshot{}, model.NewNoProgressDataError(id)
	}
	return snap, nil
}

// History returns the snapshots of the last days days, oldest first.
func (t *Tracker) History(id string, days int) []model.Snapshot {
	if days <= 0 {
		days = 7
	}
	out := t.journal.SnapshotsSince(id, t.now().Add(-time.Duration(days)*24*time.Hour))
	if out == nil {
		out = []model.Snapshot{}
	}
	return out
}

// --- Alerts ---

// Alerts returns the workflow's alerts, optionally including acknowledged
// ones.
func (t *Tracker) Alerts(id string, includeAcknowledged bool) []model.Alert {
	return t.journal.Alerts(id, includeAcknowledged)
}

// AcknowledgeAlert marks an alert acknowledged by userID.
func (t *Tracker) AcknowledgeAlert(id, alertID, userID string) (model.Alert, error) {
	return t.journal.Acknowledge(id, alertID, userID, t.now())
}

// --- Activity ---

// LogActivity appends an activity to the workflow's log, assigning its ID
// and timestamp when unset.
func (t *Tracker) LogActivity(workflowID string, a model.Activity) (model.Activity, error) {
	if !a.Type.Valid() {
		return model.Activity{}, model.NewValidationError([]model.FieldError{
			{Field: "type", Code: "INVALID", Message: fmt.Sprintf("unknown activity type %q", a.Type)},
		})
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = t.now()
	}
	t.journal.AddActivity(workflowID, a)
	return a, nil
}

// RecentActivity returns up to limit of the latest activities, oldest
// first. A non-positive limit means 20.
func (t *Tracker) RecentActivity(id string, limit int) []model.Activity {
	if limit <= 0 {
		limit = defaultActivityLimit
	}
	return t.journal.RecentActivities(id, limit)
}

// --- Reports ---

// GenerateReport builds and stores a report of type rt from the retained
// history.
func (t *Tracker) GenerateReport(ctx context.Context, id string, rt model.ReportType, generatedBy string) (model.Report, error) {
	if !rt.Valid() {
		return model.Report{}, model.NewBadRequestError(fmt.Sprintf("unknown report type %q", rt))
	}
	w, err := t.source.Get(ctx, id)
	if err != nil {
		return model.Report{}, err
	}
	report, err := BuildReport(ReportInput{
		Workflow:    &w,
		Type:        rt,
		Snapshots:   t.journal.Snapshots(id),
		Activities:  t.journal.RecentActivities(id, 0),
		GeneratedBy: generatedBy,
		Now:         t.now(),
	})
	if err != nil {
		return model.Report{}, err
	}
	t.journal.AddReport(report)
	t.metrics.RecordReport(string(rt))
	return report, nil
}

// Reports returns the workflow's generated reports, oldest first.
func (t *Tracker) Reports(id string) []model.Report {
	return t.journal.Reports(id)
}

// --- Retention ---

// ClearWorkflowData stops tracking the workflow and drops its history.
func (t *Tracker) ClearWorkflowData(id string) {
	t.StopTracking(id)
	unlock := t.evalLocks.Lock(id)
	t.journal.Clear(id)
	unlock()
	t.logger.Info("workflow progress data cleared", zap.String("workflow_id", id))
}

// Cleanup evicts snapshots and activities past their retention age.
func (t *Tracker) Cleanup() PruneResult {
	res := t.journal.Prune(t.now())
	if res.Snapshots > 0 || res.Activities > 0 {
		t.logger.Info("progress retention cleanup",
			zap.Int("snapshots_removed", res.Snapshots),
			zap.Int("activities_removed", res.Activities),
		)
	}
	return res
}

// RunCleanup calls Cleanup every interval until ctx is cancelled.
func (t *Tracker) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Cleanup()
		}
	}
}
