package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sanjabh11/consultflow/internal/config"
	"github.com/sanjabh11/consultflow/internal/openapi"
	"github.com/sanjabh11/consultflow/model"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

// --- Recovery ---

func TestRecovery_catchesPanic(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	handler := Recovery(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("ledger exploded")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500 after panic", w.Code)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Error("panic should be logged")
	}
}

func TestRecovery_passesThrough(t *testing.T) {
	w := httptest.NewRecorder()
	Recovery(zap.NewNop())(okHandler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

// --- CORS ---

func testCORS() config.CORSConfig {
	return config.CORSConfig{
		AllowedOrigins: []string{"https://app.example.com"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         3600,
	}
}

func TestCORS_preflight(t *testing.T) {
	handler := CORS(testCORS())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("handler should not be called for preflight")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := w.Header().Get("Access-Control-Expose-Headers"); !strings.Contains(got, "X-Idempotent-Replay") {
		t.Errorf("Expose-Headers = %q", got)
	}
}

func TestCORS_disallowedOrigin(t *testing.T) {
	called := false
	handler := CORS(testCORS())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !called {
		t.Error("handler should still be called for non-preflight")
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin should be empty for disallowed origin, got %q", got)
	}
}

func TestCORS_wildcard(t *testing.T) {
	cfg := testCORS()
	cfg.AllowedOrigins = []string{"*"}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://anything.example.org")
	w := httptest.NewRecorder()
	CORS(cfg)(okHandler).ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://anything.example.org" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

// --- RequestID / SecurityHeaders ---

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
	}{
		{name: "generated"},
		{name: "propagated", incoming: "corr-123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = CorrelationIDFrom(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set("X-Correlation-Id", tt.incoming)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if seen == "" {
				t.Fatal("correlation ID missing from context")
			}
			if tt.incoming != "" && seen != tt.incoming {
				t.Errorf("correlation ID = %q, want %q", seen, tt.incoming)
			}
			if got := w.Header().Get("X-Correlation-Id"); got != seen {
				t.Errorf("response X-Correlation-Id = %q, want %q", got, seen)
			}
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SecurityHeaders(okHandler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	expected := map[string]string{
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"Cache-Control":             "no-store",
		"Referrer-Policy":           "strict-origin-when-cross-origin",
	}
	for header, want := range expected {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}

// --- Request context and capabilities ---

func TestBuildRequestContext(t *testing.T) {
	claims := map[string]any{
		"sub":   "user-42",
		"email": "user@example.com",
		"roles": []any{"facilitator", "viewer"},
	}

	var rctx *model.RequestContext
	handler := RequestID(BuildRequestContext(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rctx = model.RequestContextFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithClaims(req.Context(), claims))
	req.Header.Set("X-Correlation-Id", "corr-9")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if rctx == nil {
		t.Fatal("RequestContext should be in context")
	}
	if rctx.SubjectID != "user-42" || rctx.Email != "user@example.com" {
		t.Errorf("rctx = %+v", rctx)
	}
	if len(rctx.Roles) != 2 || rctx.Roles[0] != "facilitator" {
		t.Errorf("Roles = %v", rctx.Roles)
	}
	if rctx.CorrelationID != "corr-9" {
		t.Errorf("CorrelationID = %q", rctx.CorrelationID)
	}
}

func TestBuildRequestContext_customPaths(t *testing.T) {
	claims := map[string]any{
		"user_id":      "user-99",
		"groups":       "consent-officer, viewer",
		"display_name": "Ada",
	}
	paths := map[string]string{
		"subject_id": "user_id",
		"roles":      "groups",
		"name":       "display_name",
	}

	var rctx *model.RequestContext
	handler := BuildRequestContext(paths)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rctx = model.RequestContextFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithClaims(req.Context(), claims))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if rctx.SubjectID != "user-99" || rctx.Name != "Ada" {
		t.Errorf("rctx = %+v", rctx)
	}
	if len(rctx.Roles) != 2 || rctx.Roles[0] != "consent-officer" {
		t.Errorf("Roles = %v", rctx.Roles)
	}
}

func TestBuildRequestContext_noSubject(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithClaims(req.Context(), map[string]any{"email": "x@example.com"}))
	w := httptest.NewRecorder()
	BuildRequestContext(nil)(okHandler).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestResolveCapabilities(t *testing.T) {
	resolver := &mockResolver{caps: model.CapabilitySet{"consent:*": true}}

	var caps model.CapabilitySet
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caps = CapabilitiesFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := BuildRequestContext(nil)(ResolveCapabilities(resolver, zap.NewNop())(inner))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithClaims(req.Context(), map[string]any{"sub": "user-1"}))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !caps.Has(model.CapConsentFinalize) {
		t.Errorf("caps = %v, want consent:finalize through wildcard", caps)
	}
}

func TestResolveCapabilities_errorLeavesNoCapabilities(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	resolver := &mockResolver{err: errTestResolver}

	var caps model.CapabilitySet
	handler := BuildRequestContext(nil)(ResolveCapabilities(resolver, zap.New(core))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caps = CapabilitiesFrom(r.Context())
			w.WriteHeader(http.StatusOK)
		})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithClaims(req.Context(), map[string]any{"sub": "user-1"}))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if caps != nil {
		t.Errorf("caps = %v, want none", caps)
	}
	if logs.Len() != 1 {
		t.Errorf("logged %d entries, want 1 warning", logs.Len())
	}
}

func TestRequireCapability(t *testing.T) {
	tests := []struct {
		name string
		caps model.CapabilitySet
		want int
	}{
		{"exact", model.CapabilitySet{model.CapReportsGenerate: true}, http.StatusOK},
		{"wildcard", model.CapabilitySet{"*": true}, http.StatusOK},
		{"other capability", model.CapabilitySet{model.CapConsultationsRead: true}, http.StatusForbidden},
		{"none", nil, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req = req.WithContext(WithCapabilities(req.Context(), tt.caps))
			w := httptest.NewRecorder()
			RequireCapability(model.CapReportsGenerate)(okHandler).ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

// --- Timeout and logging ---

func TestHandlerTimeout(t *testing.T) {
	tests := []struct {
		name         string
		timeout      time.Duration
		wantDeadline bool
	}{
		{"sets deadline", 100 * time.Millisecond, true},
		{"zero disables", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hasDeadline bool
			handler := HandlerTimeout(tt.timeout)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, hasDeadline = r.Context().Deadline()
				w.WriteHeader(http.StatusOK)
			}))
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
			if hasDeadline != tt.wantDeadline {
				t.Errorf("deadline = %v, want %v", hasDeadline, tt.wantDeadline)
			}
		})
	}
}

func TestRequestLogging_levels(t *testing.T) {
	tests := []struct {
		status int
		level  zapcore.Level
	}{
		{http.StatusOK, zapcore.InfoLevel},
		{http.StatusNotFound, zapcore.WarnLevel},
		{http.StatusBadGateway, zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			handler := RequestLogging(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/templates", nil))

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			entries := logs.FilterMessage("request").All()
			if len(entries) != 1 {
				t.Fatalf("entries = %d, want 1", len(entries))
			}
			if entries[0].Level != tt.level {
				t.Errorf("level = %v, want %v", entries[0].Level, tt.level)
			}
			if got := entries[0].ContextMap()["status"]; got != int64(tt.status) {
				t.Errorf("status field = %v", got)
			}
		})
	}
}

// --- Body validation ---

func TestValidateBody(t *testing.T) {
	doc, err := openapi.Load()
	if err != nil {
		t.Fatalf("openapi.Load: %v", err)
	}

	var received string
	handler := ValidateBody(doc, "addRisk")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var risk model.Risk
		if err := decodeJSON(w, r, &risk); err != nil {
			t.Errorf("decodeJSON after validation: %v", err)
		}
		received = risk.Title
		w.WriteHeader(http.StatusCreated)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":"Flood","probability":"high"}`)))
	if w.Code != http.StatusCreated || received != "Flood" {
		t.Errorf("valid body: status = %d, title = %q", w.Code, received)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":"Flood","probability":"apocalyptic"}`)))
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid body: status = %d, want 422", w.Code)
	}
	if got := decodeError(t, w); got.Code != model.ErrValidationError || len(got.Details) == 0 {
		t.Errorf("error = %+v", got)
	}
}

func TestValidateBody_nilDocument(t *testing.T) {
	w := httptest.NewRecorder()
	ValidateBody(nil, "addRisk")(okHandler).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"probability":1}`)))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 without a document", w.Code)
	}
}

func TestOriginPatterns(t *testing.T) {
	got := originPatterns([]string{"https://app.example.com", "*", "localhost:3000"})
	want := []string{"app.example.com", "*", "localhost:3000"}
	if len(got) != len(want) {
		t.Fatalf("patterns = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("patterns[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

// --- mocks ---

type testError string

func (e testError) Error() string { return string(e) }

const errTestResolver = testError("policy backend down")

type mockResolver struct {
	caps model.CapabilitySet
	err  error
}

func (m *mockResolver) Resolve(_ *model.RequestContext) (model.CapabilitySet, error) {
	return m.caps, m.err
}

func (m *mockResolver) Invalidate(string) {}
