package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/sanjabh11/consultflow/internal/audit"
	"github.com/sanjabh11/consultflow/internal/config"
	"github.com/sanjabh11/consultflow/internal/events"
	"github.com/sanjabh11/consultflow/internal/progress"
	"github.com/sanjabh11/consultflow/internal/workflow"
	"github.com/sanjabh11/consultflow/model"
)

func TestBuildWorkflowStore(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	t.Run("memory", func(t *testing.T) {
		store, health, closer, err := buildWorkflowStore(ctx, config.StoreConfig{Driver: "memory"}, logger)
		if err != nil {
			t.Fatalf("buildWorkflowStore error: %v", err)
		}
		if _, ok := store.(*workflow.MemoryWorkflowStore); !ok {
			t.Errorf("store = %T, want *workflow.MemoryWorkflowStore", store)
		}
		if health != nil || closer != nil {
			t.Error("memory store should have no health check or closer")
		}
	})

	t.Run("sqlite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "wf.db")
		store, health, closer, err := buildWorkflowStore(ctx, config.StoreConfig{Driver: "sqlite", SQLitePath: path}, logger)
		if err != nil {
			t.Fatalf("buildWorkflowStore error: %v", err)
		}
		if closer == nil || store == nil || health == nil {
			t.Fatalf("sqlite store = %v, health = %v, closer set = %v", store, health, closer != nil)
		}
		defer closer()
		if err := health.HealthCheck(ctx); err != nil {
			t.Errorf("HealthCheck error: %v", err)
		}
	})

	t.Run("postgres without DSN", func(t *testing.T) {
		t.Setenv("CONSULTD_TEST_DSN", "")
		_, _, _, err := buildWorkflowStore(ctx, config.StoreConfig{Driver: "postgres", DSNEnv: "CONSULTD_TEST_DSN"}, logger)
		if err == nil || !strings.Contains(err.Error(), "CONSULTD_TEST_DSN") {
			t.Errorf("err = %v, want missing CONSULTD_TEST_DSN", err)
		}
	})

	t.Run("unknown driver", func(t *testing.T) {
		if _, _, _, err := buildWorkflowStore(ctx, config.StoreConfig{Driver: "mongo"}, logger); err == nil {
			t.Error("unknown driver accepted")
		}
	})
}

func TestBuildAuditSink(t *testing.T) {
	store := workflow.NewMemoryWorkflowStore()
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	sink, err := buildAuditSink(config.AuditConfig{
		Sinks:    []string{"log", "store", "file"},
		FilePath: path,
	}, store, zap.NewNop())
	if err != nil {
		t.Fatalf("buildAuditSink error: %v", err)
	}

	if multi, ok := sink.(audit.MultiSink); !ok || len(multi) != 3 {
		t.Fatalf("sink = %T, want MultiSink of 3", sink)
	}

	entry := model.AuditEntry{ID: "a1", WorkflowID: "wf-1", Action: model.AuditWorkflowCreated, ActorID: "alice", Timestamp: time.Now()}
	if err := sink.Append(context.Background(), entry); err != nil {
		t.Fatalf("Append error: %v", err)
	}

	stored, err := store.ListAudit(context.Background(), "wf-1")
	if err != nil || len(stored) != 1 {
		t.Errorf("stored audit = %d entries, err %v", len(stored), err)
	}

	fromFile, err := audit.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if len(fromFile) != 1 || fromFile[0].ID != "a1" {
		t.Errorf("file audit = %+v", fromFile)
	}

	if _, err := buildAuditSink(config.AuditConfig{Sinks: []string{"kafka"}}, store, zap.NewNop()); err == nil {
		t.Error("unknown audit sink accepted")
	}
}

func TestBuildIdempotencyStore(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	t.Run("disabled", func(t *testing.T) {
		store, health, closer, err := buildIdempotencyStore(ctx, config.IdempotencyConfig{}, logger)
		if err != nil {
			t.Fatalf("buildIdempotencyStore error: %v", err)
		}
		if store != nil || health != nil || closer != nil {
			t.Error("disabled idempotency built a store")
		}
	})

	t.Run("memory", func(t *testing.T) {
		store, _, _, err := buildIdempotencyStore(ctx, config.IdempotencyConfig{Enabled: true, Driver: "memory"}, logger)
		if err != nil || store == nil {
			t.Fatalf("memory store = %v, err %v", store, err)
		}
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		t.Setenv("CONSULTD_TEST_REDIS", mr.Addr())

		store, health, closer, err := buildIdempotencyStore(ctx, config.IdempotencyConfig{
			Enabled: true, Driver: "redis", AddrEnv: "CONSULTD_TEST_REDIS",
		}, logger)
		if err != nil {
			t.Fatalf("buildIdempotencyStore error: %v", err)
		}
		if closer == nil || store == nil || health == nil {
			t.Fatalf("redis store = %v, health = %v, closer set = %v", store, health, closer != nil)
		}
		defer closer()
		if err := health.HealthCheck(ctx); err != nil {
			t.Errorf("HealthCheck error: %v", err)
		}
	})

	t.Run("redis without address", func(t *testing.T) {
		t.Setenv("CONSULTD_TEST_REDIS", "")
		_, _, _, err := buildIdempotencyStore(ctx, config.IdempotencyConfig{
			Enabled: true, Driver: "redis", AddrEnv: "CONSULTD_TEST_REDIS",
		}, logger)
		if err == nil {
			t.Error("redis without address accepted")
		}
	})
}

func TestBuildPolicy_allowAllWithoutFile(t *testing.T) {
	ev, sp, err := buildPolicy(config.PolicyConfig{}, zap.NewNop())
	if err != nil {
		t.Fatalf("buildPolicy error: %v", err)
	}
	if sp != nil {
		t.Error("static policy built without a file")
	}

	caps, err := ev.ResolveCapabilities(&model.RequestContext{SubjectID: "anyone"})
	if err != nil {
		t.Fatalf("ResolveCapabilities error: %v", err)
	}
	if !caps.Has(model.CapConsentFinalize) {
		t.Error("allow-all policy withheld consent finalization")
	}
}

func TestAutoTrack_startsTrackingCreatedWorkflows(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := workflow.NewMemoryWorkflowStore()
	bus := events.NewBus()
	engine := workflow.NewEngine(store, audit.NewRecorder(audit.NewStoreSink(store)), bus)
	tracker := progress.NewTracker(engine)
	defer tracker.Close()

	unsubscribe := bus.SubscribeAll(autoTrack(ctx, tracker, zap.NewNop()))
	defer unsubscribe()

	created, err := engine.Create(ctx, "alice", model.Workflow{
		Title:                "River crossing permit",
		Type:                 model.TypeInfrastructureProject,
		ConsensusMechanism:   model.ConsensusUnanimous,
		TargetCompletionDate: time.Now().Add(90 * 24 * time.Hour),
		Stakeholders: []model.Stakeholder{
			{ID: "p1", Name: "Party 1"},
			{ID: "p2", Name: "Party 2"},
		},
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !tracker.IsTracked(created.ID) {
		if time.Now().After(deadline) {
			t.Fatal("created workflow was never tracked")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
