package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sanjabh11/consultflow/model"
)

// --- Fakes ---

type fakeSource struct {
	mu        sync.Mutex
	workflows map[string]model.Workflow
}

func newFakeSource(ws ...model.Workflow) *fakeSource {
	s := &fakeSource{workflows: make(map[string]model.Workflow)}
	for _, w := range ws {
		s.workflows[w.ID] = w
	}
	return s
}

func (s *fakeSource) Get(_ context.Context, id string) (model.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[id]
	if !ok {
		return model.Workflow{}, model.NewNotFoundError("workflow " + id + " not found")
	}
	return w.Clone(), nil
}

type eventLog struct {
	mu     sync.Mutex
	events []model.Event
}

func (l *eventLog) Publish(evt model.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
}

func (l *eventLog) all() []model.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.Event(nil), l.events...)
}

func newTestTracker(t *testing.T, src WorkflowSource, opts ...TrackerOption) *Tracker {
	t.Helper()
	opts = append([]TrackerOption{WithClock(func() time.Time { return baseTime })}, opts...)
	tr := NewTracker(src, opts...)
	t.Cleanup(tr.Close)
	return tr
}

// --- Tracking lifecycle ---

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %v", timeout)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartTracking_EvaluatesImmediately(t *testing.T) {
	w := testWorkflow("wf", 3, baseTime.Add(5*day))
	events := &eventLog{}
	tr := newTestTracker(t, newFakeSource(w), WithPublisher(events))

	info, err := tr.StartTracking(context.Background(), "wf", TrackOptions{})
	if err != nil {
		t.Fatalf("StartTracking error: %v", err)
	}
	if info.Interval != DefaultInterval {
		t.Errorf("Interval = %v, want %v", info.Interval, DefaultInterval)
	}
	if info.Thresholds != model.DefaultThresholds() {
		t.Errorf("Thresholds = %+v", info.Thresholds)
	}

	snap, err := tr.CurrentSnapshot("wf")
	if err != nil {
		t.Fatalf("CurrentSnapshot error: %v", err)
	}
	if snap.DaysToDeadline != 5 || snap.Status != model.ProgressDelayed {
		t.Errorf("snapshot = %d days, %s", snap.DaysToDeadline, snap.Status)
	}

	alerts := tr.Alerts("wf", false)
	deadline, ok := alertsBy(alerts)["Deadline Approaching"]
	if !ok {
		t.Fatalf("no deadline alert in %+v", alerts)
	}
	if deadline.Level != model.AlertCritical {
		t.Errorf("deadline level = %s, want critical", deadline.Level)
	}

	published := events.all()
	if len(published) != len(alerts) {
		t.Fatalf("published %d events for %d alerts", len(published), len(alerts))
	}
	for _, evt := range published {
		if evt.Type != model.EventAlertRaised || evt.WorkflowID != "wf" {
			t.Errorf("event = %s/%s", evt.Type, evt.WorkflowID)
		}
	}
	if !tr.IsTracked("wf") {
		t.Error("workflow not tracked")
	}
}

func TestStartTracking_NotFound(t *testing.T) {
	tr := newTestTracker(t, newFakeSource())

	_, err := tr.StartTracking(context.Background(), "missing", TrackOptions{})
	if !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
	if tr.IsTracked("missing") || len(tr.TrackedWorkflows()) != 0 {
		t.Error("missing workflow became tracked")
	}
}

func TestStartTracking_RestartReplacesSchedule(t *testing.T) {
	w := testWorkflow("wf", 2, baseTime.Add(90*day))
	tr := newTestTracker(t, newFakeSource(w))

	if _, err := tr.StartTracking(context.Background(), "wf", TrackOptions{Interval: time.Hour}); err != nil {
		t.Fatalf("StartTracking error: %v", err)
	}
	custom := model.Thresholds{DeadlineWarningDays: 120, RiskAlertLevel: model.LevelMedium}
	if _, err := tr.StartTracking(context.Background(), "wf", TrackOptions{Interval: 2 * time.Hour, Thresholds: &custom}); err != nil {
		t.Fatalf("restart error: %v", err)
	}

	tracked := tr.TrackedWorkflows()
	if len(tracked) != 1 {
		t.Fatalf("tracked = %d, want 1", len(tracked))
	}
	if tracked[0].Interval != 2*time.Hour || tracked[0].Thresholds != custom {
		t.Errorf("tracked = %+v", tracked[0])
	}
}

func TestStopTracking_Idempotent(t *testing.T) {
	w := testWorkflow("wf", 2, baseTime.Add(90*day))
	tr := newTestTracker(t, newFakeSource(w))

	if _, err := tr.StartTracking(context.Background(), "wf", TrackOptions{}); err != nil {
		t.Fatalf("StartTracking error: %v", err)
	}

	tr.StopTracking("wf")
	tr.StopTracking("wf")
	tr.StopTracking("never-tracked")

	if tr.IsTracked("wf") {
		t.Error("still tracked after stop")
	}
	if _, err := tr.CurrentSnapshot("wf"); err != nil {
		t.Errorf("history lost on stop: %v", err)
	}
	if n := tr.evalLocks.Len(); n != 0 {
		t.Errorf("evaluation locks held after stop = %d, want 0", n)
	}
}

func TestTracker_TickerTakesSnapshots(t *testing.T) {
	w := testWorkflow("wf", 2, baseTime.Add(90*day))
	tr := newTestTracker(t, newFakeSource(w))

	if _, err := tr.StartTracking(context.Background(), "wf", TrackOptions{Interval: 5 * time.Millisecond}); err != nil {
		t.Fatalf("StartTracking error: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return len(tr.journal.Snapshots("wf")) >= 3
	})

	tr.StopTracking("wf")
	time.Sleep(20 * time.Millisecond)
	settled := len(tr.journal.Snapshots("wf"))
	time.Sleep(30 * time.Millisecond)
	if got := len(tr.journal.Snapshots("wf")); got != settled {
		t.Errorf("snapshots after stop = %d, want %d", got, settled)
	}
}

func TestTracker_CloseStopsEverything(t *testing.T) {
	a := testWorkflow("a", 1, baseTime.Add(90*day))
	b := testWorkflow("b", 1, baseTime.Add(90*day))
	tr := NewTracker(newFakeSource(a, b), WithClock(func() time.Time { return baseTime }))

	for _, id := range []string{"a", "b"} {
		if _, err := tr.StartTracking(context.Background(), id, TrackOptions{Interval: time.Millisecond}); err != nil {
			t.Fatalf("StartTracking(%s) error: %v", id, err)
		}
	}

	tr.Close()
	if n := len(tr.TrackedWorkflows()); n != 0 {
		t.Errorf("tracked after close = %d", n)
	}
	if _, err := tr.StartTracking(context.Background(), "a", TrackOptions{}); !errors.Is(err, errTrackerClosed) {
		t.Errorf("err = %v, want %v", err, errTrackerClosed)
	}
}

// --- Snapshots and history ---

func TestCreateSnapshot(t *testing.T) {
	w := testWorkflow("wf", 4, baseTime.Add(90*day))
	tr := newTestTracker(t, newFakeSource(w))

	if _, err := tr.CurrentSnapshot("wf"); !model.IsCode(err, model.ErrNoProgressData) {
		t.Errorf("before snapshot err = %v, want NO_PROGRESS_DATA", err)
	}

	snap, err := tr.CreateSnapshot(context.Background(), "wf")
	if err != nil {
		t.Fatalf("CreateSnapshot error: %v", err)
	}
	if snap.TotalMilestones != 4 {
		t.Errorf("TotalMilestones = %d, want 4", snap.TotalMilestones)
	}
	if n := len(tr.Alerts("wf", true)); n != 0 {
		t.Errorf("on-demand snapshot raised %d alerts", n)
	}

	current, err := tr.CurrentSnapshot("wf")
	if err != nil || current.ID != snap.ID {
		t.Errorf("CurrentSnapshot = %s, %v, want %s", current.ID, err, snap.ID)
	}

	if _, err := tr.CreateSnapshot(context.Background(), "missing"); !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("missing err = %v, want NOT_FOUND", err)
	}
}

func TestHistory(t *testing.T) {
	now := baseTime
	tr := newTestTracker(t, newFakeSource(), WithClock(func() time.Time { return now }))
	tr.journal.AddSnapshot(snapAt("old", now.Add(-10*day), 0))
	tr.journal.AddSnapshot(snapAt("recent", now.Add(-2*day), 0))

	hist := tr.History("wf", 7)
	if len(hist) != 1 || hist[0].ID != "recent" {
		t.Errorf("History(7) = %+v", hist)
	}
	if n := len(tr.History("wf", 30)); n != 2 {
		t.Errorf("History(30) = %d, want 2", n)
	}
	if n := len(tr.History("unknown", 7)); n != 0 {
		t.Errorf("History(unknown) = %d, want 0", n)
	}
}

// --- Alerts, activity and reports ---

func TestAcknowledgeAlert(t *testing.T) {
	w := testWorkflow("wf", 1, baseTime.Add(3*day))
	tr := newTestTracker(t, newFakeSource(w))

	_, alerts, err := tr.Evaluate(context.Background(), "wf")
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if len(alerts) == 0 {
		t.Fatal("expected alerts near the deadline")
	}

	acked, err := tr.AcknowledgeAlert("wf", alerts[0].ID, "alice")
	if err != nil {
		t.Fatalf("AcknowledgeAlert error: %v", err)
	}
	if !acked.Acknowledged {
		t.Error("alert not acknowledged")
	}
	if n := len(tr.Alerts("wf", false)); n != len(alerts)-1 {
		t.Errorf("open alerts = %d, want %d", n, len(alerts)-1)
	}

	if _, err := tr.AcknowledgeAlert("wf", "nope", "alice"); !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("unknown alert err = %v", err)
	}
	if _, err := tr.AcknowledgeAlert("other", alerts[0].ID, "alice"); !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("other workflow err = %v", err)
	}
}

func TestLogActivity(t *testing.T) {
	tr := newTestTracker(t, newFakeSource())

	a, err := tr.LogActivity("wf", model.Activity{Type: model.ActivityMeetingHeld, Description: "Meeting held: Town hall"})
	if err != nil {
		t.Fatalf("LogActivity error: %v", err)
	}
	if a.ID == "" || !a.Timestamp.Equal(baseTime) {
		t.Errorf("activity = %+v", a)
	}

	if _, err := tr.LogActivity("wf", model.Activity{Type: "gossip"}); !model.IsCode(err, model.ErrValidationError) {
		t.Errorf("unknown type err = %v, want VALIDATION_ERROR", err)
	}

	for i := 0; i < 25; i++ {
		if _, err := tr.LogActivity("wf", model.Activity{Type: model.ActivityCommunicationSent}); err != nil {
			t.Fatalf("LogActivity %d error: %v", i, err)
		}
	}
	if n := len(tr.RecentActivity("wf", 0)); n != 20 {
		t.Errorf("RecentActivity(default) = %d, want 20", n)
	}
	if n := len(tr.RecentActivity("wf", 5)); n != 5 {
		t.Errorf("RecentActivity(5) = %d, want 5", n)
	}
}

func TestGenerateReport(t *testing.T) {
	w := testWorkflow("wf", 2, baseTime.Add(90*day))
	tr := newTestTracker(t, newFakeSource(w))
	ctx := context.Background()

	if _, err := tr.GenerateReport(ctx, "wf", model.ReportWeekly, "alice"); !model.IsCode(err, model.ErrNoProgressData) {
		t.Errorf("no data err = %v", err)
	}
	if _, err := tr.GenerateReport(ctx, "wf", "quarterly", "alice"); !model.IsCode(err, model.ErrBadRequest) {
		t.Errorf("bad type err = %v", err)
	}
	if _, err := tr.GenerateReport(ctx, "missing", model.ReportWeekly, "alice"); !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("missing err = %v", err)
	}

	if _, err := tr.CreateSnapshot(ctx, "wf"); err != nil {
		t.Fatalf("CreateSnapshot error: %v", err)
	}
	r, err := tr.GenerateReport(ctx, "wf", model.ReportDaily, "alice")
	if err != nil {
		t.Fatalf("GenerateReport error: %v", err)
	}
	if r.GeneratedBy != "alice" {
		t.Errorf("GeneratedBy = %q", r.GeneratedBy)
	}

	reports := tr.Reports("wf")
	if len(reports) != 1 || reports[0].ID != r.ID {
		t.Errorf("Reports = %+v", reports)
	}
}

// --- Retention ---

func TestClearWorkflowData(t *testing.T) {
	w := testWorkflow("wf", 2, baseTime.Add(3*day))
	tr := newTestTracker(t, newFakeSource(w))
	ctx := context.Background()

	if _, err := tr.StartTracking(ctx, "wf", TrackOptions{}); err != nil {
		t.Fatalf("StartTracking error: %v", err)
	}
	if _, err := tr.LogActivity("wf", model.Activity{Type: model.ActivityConsentGiven}); err != nil {
		t.Fatalf("LogActivity error: %v", err)
	}
	if _, err := tr.GenerateReport(ctx, "wf", model.ReportFinal, "alice"); err != nil {
		t.Fatalf("GenerateReport error: %v", err)
	}

	tr.ClearWorkflowData("wf")

	if tr.IsTracked("wf") {
		t.Error("still tracked")
	}
	if _, err := tr.CurrentSnapshot("wf"); !model.IsCode(err, model.ErrNoProgressData) {
		t.Errorf("snapshot err = %v, want NO_PROGRESS_DATA", err)
	}
	if len(tr.Alerts("wf", true)) != 0 || len(tr.RecentActivity("wf", 0)) != 0 || len(tr.Reports("wf")) != 0 {
		t.Error("workflow history survived clear")
	}
	if n := tr.evalLocks.Len(); n != 0 {
		t.Errorf("evaluation locks after clear = %d, want 0", n)
	}
}

func TestCleanup(t *testing.T) {
	tr := newTestTracker(t, newFakeSource())
	tr.journal.AddSnapshot(snapAt("ancient", baseTime.Add(-100*day), 0))
	if _, err := tr.LogActivity("wf", model.Activity{Type: model.ActivityMeetingHeld, Timestamp: baseTime.Add(-40 * day)}); err != nil {
		t.Fatalf("LogActivity error: %v", err)
	}

	if res := tr.Cleanup(); res != (PruneResult{Snapshots: 1, Activities: 1}) {
		t.Errorf("Cleanup = %+v, want 1 snapshot and 1 activity", res)
	}
}
