package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sanjabh11/consultflow/model"
)

func testResponse() Response {
	return Response{
		Status:      201,
		ContentType: "application/json; charset=utf-8",
		Body:        []byte(`{"id":"wf-1"}`),
	}
}

func TestFormatKey(t *testing.T) {
	if got := FormatKey("consult:idem:", "officer-7", "abc"); got != "consult:idem:officer-7:abc" {
		t.Errorf("FormatKey = %q", got)
	}
}

func TestHashRequest(t *testing.T) {
	a := HashRequest("POST", "/v1/consultations", []byte(`{"a":1}`))
	if a != HashRequest("POST", "/v1/consultations", []byte(`{"a":1}`)) {
		t.Error("hash should be deterministic")
	}
	if a == HashRequest("POST", "/v1/consultations", []byte(`{"a":2}`)) {
		t.Error("different bodies should hash differently")
	}
	if a == HashRequest("POST", "/v1/consultations/x", []byte(`{"a":1}`)) {
		t.Error("different paths should hash differently")
	}
}

// --- MemoryStore ---

func TestMemoryStore_notFound(t *testing.T) {
	store := NewMemoryStore()
	resp, found, err := store.Check(context.Background(), "k", "h")
	if err != nil || found || resp != nil {
		t.Errorf("Check = (%v, %v, %v), want miss", resp, found, err)
	}
}

func TestMemoryStore_saveAndCheck(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Save(ctx, "k", "h", testResponse(), time.Minute); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	resp, found, err := store.Check(ctx, "k", "h")
	if err != nil || !found {
		t.Fatalf("Check = (%v, %v), want hit", found, err)
	}
	if resp.Status != 201 || string(resp.Body) != `{"id":"wf-1"}` {
		t.Errorf("resp = %+v", resp)
	}
}

func TestMemoryStore_conflictOnHashMismatch(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.Save(ctx, "k", "h1", testResponse(), time.Minute)

	_, found, err := store.Check(ctx, "k", "h2")
	if !found {
		t.Error("found = false, want true")
	}
	if !model.IsCode(err, model.ErrConflict) {
		t.Errorf("err = %v, want CONFLICT", err)
	}
}

func TestMemoryStore_expiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	store.Save(ctx, "k", "h", testResponse(), time.Minute)
	now = now.Add(2 * time.Minute)

	if _, found, _ := store.Check(ctx, "k", "h"); found {
		t.Error("expired entry should not be found")
	}
	if store.Len() != 0 {
		t.Errorf("Len = %d, want expired entry evicted", store.Len())
	}
}

// --- RedisStore ---

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisStore_saveAndCheck(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStore(client)
	ctx := context.Background()

	if err := store.Save(ctx, "consult:idem:u:k", "h", testResponse(), time.Minute); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if !mr.Exists("consult:idem:u:k") {
		t.Fatal("key not written to redis")
	}
	if ttl := mr.TTL("consult:idem:u:k"); ttl != time.Minute {
		t.Errorf("TTL = %v, want 1m", ttl)
	}

	resp, found, err := store.Check(ctx, "consult:idem:u:k", "h")
	if err != nil || !found {
		t.Fatalf("Check = (%v, %v), want hit", found, err)
	}
	if resp.ContentType != "application/json; charset=utf-8" || string(resp.Body) != `{"id":"wf-1"}` {
		t.Errorf("resp = %+v", resp)
	}
}

func TestRedisStore_notFound(t *testing.T) {
	_, client := newTestRedis(t)
	_, found, err := NewRedisStore(client).Check(context.Background(), "missing", "h")
	if err != nil || found {
		t.Errorf("Check = (%v, %v), want miss", found, err)
	}
}

func TestRedisStore_conflict(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisStore(client)
	ctx := context.Background()
	store.Save(ctx, "k", "h1", testResponse(), time.Minute)

	if _, _, err := store.Check(ctx, "k", "h2"); !model.IsCode(err, model.ErrConflict) {
		t.Errorf("err = %v, want CONFLICT", err)
	}
}

func TestRedisStore_expiry(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStore(client)
	ctx := context.Background()
	store.Save(ctx, "k", "h", testResponse(), time.Minute)

	mr.FastForward(2 * time.Minute)

	if _, found, _ := store.Check(ctx, "k", "h"); found {
		t.Error("expired entry should not be found")
	}
}

func TestRedisStore_corruptEntry(t *testing.T) {
	mr, client := newTestRedis(t)
	mr.Set("k", "not json")

	if _, _, err := NewRedisStore(client).Check(context.Background(), "k", "h"); err == nil {
		t.Error("expected unmarshal error")
	}
}

func TestRedisStore_HealthCheck(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStore(client)
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck error: %v", err)
	}
	mr.Close()
	if err := store.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck should fail once redis is down")
	}
}
