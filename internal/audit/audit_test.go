package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sanjabh11/consultflow/model"
)

type memorySink struct {
	entries []model.AuditEntry
	err     error
}

func (m *memorySink) Append(_ context.Context, e model.AuditEntry) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func fixedClock() time.Time {
	return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
}

// --- Recorder ---

func TestRecorder_Record(t *testing.T) {
	sink := &memorySink{}
	r := NewRecorder(sink, WithClock(fixedClock))

	entry := r.Record(context.Background(), "wf-1", model.AuditMilestoneCompleted, "user-alice",
		map[string]string{"from": "m1", "to": "m2"})

	if len(sink.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(sink.entries))
	}
	got := sink.entries[0]
	if got.ID == "" || got.ID != entry.ID {
		t.Errorf("ID = %q, returned %q", got.ID, entry.ID)
	}
	if got.Action != model.AuditMilestoneCompleted {
		t.Errorf("Action = %q", got.Action)
	}
	if got.ActorID != "user-alice" {
		t.Errorf("ActorID = %q", got.ActorID)
	}
	if string(got.Payload) != `{"from":"m1","to":"m2"}` {
		t.Errorf("Payload = %s", got.Payload)
	}
	if !got.Timestamp.Equal(fixedClock()) {
		t.Errorf("Timestamp = %v", got.Timestamp)
	}
}

func TestRecorder_Record_sinkFailureCounted(t *testing.T) {
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_audit_failures_total"})
	r := NewRecorder(&memorySink{err: errors.New("disk full")}, WithFailureCounter(counter))

	r.Record(context.Background(), "wf-1", model.AuditWorkflowCreated, "user-alice", nil)

	if got := testutil.ToFloat64(counter); got != 1 {
		t.Errorf("failures = %v, want 1", got)
	}
}

type panicSink struct{}

func (panicSink) Append(context.Context, model.AuditEntry) error {
	panic("sink exploded")
}

func TestRecorder_Record_sinkPanicRecovered(t *testing.T) {
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_audit_panics_total"})
	core, logs := observer.New(zap.WarnLevel)
	r := NewRecorder(panicSink{}, WithFailureCounter(counter), WithLogger(zap.New(core)))

	entry := r.Record(context.Background(), "wf-1", model.AuditConsentRecorded, "user-alice", nil)

	if entry.ID == "" || entry.WorkflowID != "wf-1" {
		t.Errorf("entry = %+v", entry)
	}
	if got := testutil.ToFloat64(counter); got != 1 {
		t.Errorf("failures = %v, want 1", got)
	}
	if logs.FilterMessage("audit sink failed").Len() != 1 {
		t.Errorf("logged %d sink failures, want 1", logs.FilterMessage("audit sink failed").Len())
	}
}

func TestRecorder_Record_unmarshalablePayload(t *testing.T) {
	sink := &memorySink{}
	r := NewRecorder(sink)

	r.Record(context.Background(), "wf-1", model.AuditWorkflowUpdated, "user-alice", func() {})

	if len(sink.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(sink.entries))
	}
	if sink.entries[0].Payload != nil {
		t.Errorf("Payload = %s, want nil", sink.entries[0].Payload)
	}
}

func TestRecorder_nilSink(t *testing.T) {
	r := NewRecorder(nil)
	entry := r.Record(context.Background(), "wf-1", model.AuditWorkflowCreated, "user-alice", nil)
	if entry.WorkflowID != "wf-1" {
		t.Errorf("WorkflowID = %q", entry.WorkflowID)
	}
}

// --- File sink ---

func TestFileSink_AppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.jsonl")
	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink error: %v", err)
	}

	for _, action := range []string{model.AuditWorkflowCreated, model.AuditConsentRecorded} {
		err := sink.Append(context.Background(), model.AuditEntry{
			ID: action, WorkflowID: "wf-1", Action: action, Timestamp: fixedClock(),
		})
		if err != nil {
			t.Fatalf("Append error: %v", err)
		}
	}

	// A corrupt line is skipped.
	f, _ := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	_, _ = f.WriteString("{not json\n")
	_ = f.Close()

	entries, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[1].Action != model.AuditConsentRecorded {
		t.Errorf("entries[1].Action = %q", entries[1].Action)
	}
}

func TestReadFile_missing(t *testing.T) {
	entries, err := ReadFile(filepath.Join(t.TempDir(), "absent.jsonl"))
	if err != nil || entries != nil {
		t.Errorf("ReadFile = %v, %v; want nil, nil", entries, err)
	}
}

func TestNewFileSink_emptyPath(t *testing.T) {
	if _, err := NewFileSink(""); err == nil {
		t.Error("expected error for empty path")
	}
}

// --- Multi sink ---

func TestMultiSink_attemptsEverySink(t *testing.T) {
	failing := &memorySink{err: errors.New("unavailable")}
	ok := &memorySink{}
	multi := MultiSink{failing, ok}

	err := multi.Append(context.Background(), model.AuditEntry{ID: "a1"})
	if err == nil {
		t.Fatal("expected joined error")
	}
	if len(ok.entries) != 1 {
		t.Errorf("second sink entries = %d, want 1", len(ok.entries))
	}
}

func TestStoreSink_forwards(t *testing.T) {
	var got model.AuditEntry
	store := appenderFunc(func(_ context.Context, e model.AuditEntry) error {
		got = e
		return nil
	})
	sink := NewStoreSink(store)
	_ = sink.Append(context.Background(), model.AuditEntry{ID: "a1", WorkflowID: "wf-1"})
	if got.ID != "a1" {
		t.Errorf("forwarded ID = %q", got.ID)
	}
}

type appenderFunc func(context.Context, model.AuditEntry) error

func (f appenderFunc) AppendAudit(ctx context.Context, e model.AuditEntry) error { return f(ctx, e) }
