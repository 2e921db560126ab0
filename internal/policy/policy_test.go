package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sanjabh11/consultflow/internal/observability"
	"github.com/sanjabh11/consultflow/model"
)

func testRctx(roles ...string) *model.RequestContext {
	return &model.RequestContext{SubjectID: "user-1", Roles: roles}
}

// --- StaticPolicy tests ---

func TestStaticPolicy_ResolveCapabilities(t *testing.T) {
	p, err := NewStaticPolicy("testdata/policies.yaml")
	if err != nil {
		t.Fatalf("NewStaticPolicy() error = %v", err)
	}

	caps, err := p.ResolveCapabilities(testRctx("viewer"))
	if err != nil {
		t.Fatalf("ResolveCapabilities() error = %v", err)
	}
	if !caps.Has(model.CapConsultationsRead) {
		t.Error("viewer should have consultations:read")
	}
	if caps.Has(model.CapConsultationsWrite) {
		t.Error("viewer should not have consultations:write")
	}
}

func TestStaticPolicy_Wildcards(t *testing.T) {
	p, _ := NewStaticPolicy("testdata/policies.yaml")

	caps, _ := p.ResolveCapabilities(testRctx("coordinator"))
	if !caps.HasAll(model.CapConsultationsRead, model.CapConsultationsWrite, model.CapConsentRecord) {
		t.Error("coordinator should have consultations:* and consent:record")
	}
	if caps.Has(model.CapConsentFinalize) {
		t.Error("coordinator should not finalize consent")
	}

	caps, _ = p.ResolveCapabilities(testRctx("coordinator", "governance"))
	if !caps.Has(model.CapConsentFinalize) {
		t.Error("governance role should add consent:finalize")
	}

	caps, _ = p.ResolveCapabilities(testRctx("admin"))
	if !caps.Has(model.CapReportsGenerate) {
		t.Error("admin should have every capability")
	}
}

func TestStaticPolicy_UnknownRole(t *testing.T) {
	p, _ := NewStaticPolicy("testdata/policies.yaml")
	caps, _ := p.ResolveCapabilities(testRctx("nonexistent"))
	if len(caps) != 0 {
		t.Errorf("unknown role should return empty capabilities, got %v", caps)
	}
}

func TestStaticPolicy_BadFiles(t *testing.T) {
	if _, err := NewStaticPolicy("testdata/nonexistent.yaml"); err == nil {
		t.Error("expected error for missing policy file")
	}
	if _, err := NewStaticPolicy("testdata/bad.yaml"); err == nil {
		t.Error("expected error for malformed policy file")
	}
}

func TestStaticPolicy_Sync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("roles:\n  viewer: [consultations:read]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err := NewStaticPolicy(path)
	if err != nil {
		t.Fatalf("NewStaticPolicy() error = %v", err)
	}

	if err := os.WriteFile(path, []byte("roles:\n  viewer: [consultations:read]\n  editor: [consultations:write]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := p.Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if p.Roles() != 2 {
		t.Errorf("Roles() = %d after sync, want 2", p.Roles())
	}

	if err := os.WriteFile(path, []byte("roles: [broken"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := p.Sync(); err == nil {
		t.Error("Sync() should fail on malformed file")
	}
	if p.Roles() != 2 {
		t.Error("failed sync should keep the previous policy")
	}
}

func TestAllowAll(t *testing.T) {
	caps, err := AllowAll{}.ResolveCapabilities(testRctx())
	if err != nil {
		t.Fatal(err)
	}
	if !caps.Has(model.CapConsentFinalize) {
		t.Error("AllowAll should grant everything")
	}
}

// --- Resolver tests ---

type countingEvaluator struct {
	calls int
}

func (c *countingEvaluator) ResolveCapabilities(*model.RequestContext) (model.CapabilitySet, error) {
	c.calls++
	return model.CapabilitySet{model.CapConsultationsRead: true}, nil
}

func TestResolver_Cache(t *testing.T) {
	ev := &countingEvaluator{}
	metrics := observability.InitMetrics(prometheus.NewRegistry())
	r := NewResolver(ev, 5*time.Minute, WithMetrics(metrics))

	for i := 0; i < 3; i++ {
		caps, err := r.Resolve(testRctx("viewer"))
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if !caps.Has(model.CapConsultationsRead) {
			t.Error("missing consultations:read")
		}
	}
	if ev.calls != 1 {
		t.Errorf("evaluator calls = %d, want 1", ev.calls)
	}
	if got := testutil.ToFloat64(metrics.CapabilityCacheHitsTotal); got != 2 {
		t.Errorf("cache hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.CapabilityCacheMissesTotal); got != 1 {
		t.Errorf("cache misses = %v, want 1", got)
	}
}

func TestResolver_RoleChangeMisses(t *testing.T) {
	ev := &countingEvaluator{}
	r := NewResolver(ev, 5*time.Minute)

	r.Resolve(testRctx("viewer"))
	r.Resolve(testRctx("viewer", "coordinator"))
	r.Resolve(testRctx("coordinator", "viewer"))
	if ev.calls != 2 {
		t.Errorf("evaluator calls = %d, want 2", ev.calls)
	}
}

func TestResolver_Invalidate(t *testing.T) {
	ev := &countingEvaluator{}
	r := NewResolver(ev, 5*time.Minute)

	r.Resolve(testRctx("viewer"))
	r.Invalidate("someone-else")
	r.Resolve(testRctx("viewer"))
	if ev.calls != 1 {
		t.Fatalf("calls = %d, want 1", ev.calls)
	}

	r.Invalidate("user-1")
	r.Resolve(testRctx("viewer"))
	if ev.calls != 2 {
		t.Fatalf("calls = %d after invalidate, want 2", ev.calls)
	}

	r.InvalidateAll()
	r.Resolve(testRctx("viewer"))
	if ev.calls != 3 {
		t.Fatalf("calls = %d after InvalidateAll, want 3", ev.calls)
	}
}

func TestResolver_TTLExpiry(t *testing.T) {
	ev := &countingEvaluator{}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewResolver(ev, time.Minute, WithClock(func() time.Time { return now }))

	r.Resolve(testRctx())
	now = now.Add(2 * time.Minute)
	r.Resolve(testRctx())
	if ev.calls != 2 {
		t.Fatalf("calls = %d, want 2 (TTL expired)", ev.calls)
	}
}
