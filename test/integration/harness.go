// Package integration provides a reusable test harness for end-to-end
// integration testing of the consultation server. It starts a full HTTP
// server with JWT identity, a static role policy, a SQLite workflow store,
// a Redis idempotency store and a file audit sink.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/sanjabh11/consultflow/internal/audit"
	"github.com/sanjabh11/consultflow/internal/config"
	"github.com/sanjabh11/consultflow/internal/events"
	"github.com/sanjabh11/consultflow/internal/idempotency"
	"github.com/sanjabh11/consultflow/internal/observability"
	"github.com/sanjabh11/consultflow/internal/openapi"
	"github.com/sanjabh11/consultflow/internal/policy"
	"github.com/sanjabh11/consultflow/internal/progress"
	"github.com/sanjabh11/consultflow/internal/template"
	"github.com/sanjabh11/consultflow/internal/transport"
	"github.com/sanjabh11/consultflow/internal/workflow"
	"github.com/sanjabh11/consultflow/model"
)

// TestHarness encapsulates a fully wired server for integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Store     workflow.WorkflowStore
	Engine    *workflow.Engine
	Tracker   *progress.Tracker
	Bus       *events.Bus
	Templates *template.Registry
	Redis     *miniredis.Miniredis
	Registry  *prometheus.Registry
	AuditFile string

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	policyFile     string
	memoryStore    bool
	handlerTimeout time.Duration
}

// WithPolicyFile sets the static policy YAML file for capability resolution.
func WithPolicyFile(path string) HarnessOption {
	return func(c *harnessConfig) {
		c.policyFile = path
	}
}

// WithMemoryStore replaces the SQLite workflow store with the in-memory one.
func WithMemoryStore() HarnessOption {
	return func(c *harnessConfig) {
		c.memoryStore = true
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// NewTestHarness creates and starts a full test instance. The server is
// automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		policyFile:     filepath.Join(testdataDir(), "policies.yaml"),
		handlerTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(hc)
	}

	ctx := context.Background()
	h := &TestHarness{t: t}

	// Step 1: Create JWT issuer.
	h.issuer = newTokenIssuer(t)

	// Step 2: Build config.
	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	h.cfg.Identity = config.IdentityConfig{
		Mode:          config.IdentityJWT,
		Issuer:        h.issuer.Issuer(),
		Audience:      h.issuer.Audience(),
		PublicKeyFile: h.issuer.publicKeyFile,
		Algorithms:    []string{"RS256"},
		Leeway:        5 * time.Second,
		ClaimPaths: map[string]string{
			"subject_id": "sub",
			"email":      "email",
			"name":       "name",
			"roles":      "roles",
		},
	}
	h.cfg.Idempotency.Enabled = true
	h.cfg.Idempotency.Driver = "redis"

	// Step 3: Templates and API description.
	templates, err := template.Load(nil)
	if err != nil {
		t.Fatalf("load templates: %v", err)
	}
	h.Templates = template.NewRegistry(templates)

	doc, err := openapi.Load()
	if err != nil {
		t.Fatalf("load API description: %v", err)
	}

	// Step 4: Build capability resolver.
	sp, err := policy.NewStaticPolicy(hc.policyFile)
	if err != nil {
		t.Fatalf("load policy file: %v", err)
	}
	resolver := policy.NewResolver(sp, 0) // no caching in tests

	// Step 5: Workflow store.
	var storeHealth observability.HealthChecker
	if hc.memoryStore {
		h.Store = workflow.NewMemoryWorkflowStore()
	} else {
		store, err := workflow.OpenSQLiteWorkflowStore(ctx, filepath.Join(t.TempDir(), "consult.db"))
		if err != nil {
			t.Fatalf("open sqlite store: %v", err)
		}
		t.Cleanup(func() { store.Close() })
		h.Store = store
		storeHealth = observability.PingFunc(store.Ping)
	}

	// Step 6: Audit sinks.
	h.AuditFile = filepath.Join(t.TempDir(), "audit", "audit.jsonl")
	fileSink, err := audit.NewFileSink(h.AuditFile)
	if err != nil {
		t.Fatalf("audit file sink: %v", err)
	}

	h.Registry = prometheus.NewRegistry()
	metrics := observability.InitMetrics(h.Registry)
	recorder := audit.NewRecorder(audit.MultiSink{audit.NewStoreSink(h.Store), fileSink},
		audit.WithFailureCounter(metrics.AuditFailures()),
	)

	// Step 7: Bus, engine, tracker.
	h.Bus = events.NewBus()
	h.Engine = workflow.NewEngine(h.Store, recorder, h.Bus,
		workflow.WithMilestonePlanner(h.Templates),
		workflow.WithMetrics(metrics),
	)
	h.Tracker = progress.NewTracker(h.Engine,
		progress.WithPublisher(h.Bus),
		progress.WithMetrics(metrics),
	)
	workflow.WithActivityLog(h.Tracker)(h.Engine)
	t.Cleanup(h.Tracker.Close)

	// Step 8: Redis idempotency store.
	h.Redis = miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: h.Redis.Addr()})
	t.Cleanup(func() { client.Close() })
	idem := idempotency.NewRedisStore(client)

	// Step 9: Build router with full middleware chain.
	authenticate, err := transport.NewAuthenticator(h.cfg.Identity)
	if err != nil {
		t.Fatalf("authenticator: %v", err)
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:             h.cfg,
		Engine:             h.Engine,
		Tracker:            h.Tracker,
		Templates:          h.Templates,
		Bus:                h.Bus,
		Authenticate:       authenticate,
		CapabilityResolver: resolver,
		Idempotency:        idem,
		Metrics:            metrics,
		Gatherer:           h.Registry,
		Readiness: observability.ReadinessChecks{
			TemplatesLoaded:  func() bool { return h.Templates.Len() > 0 },
			WorkflowStore:    storeHealth,
			IdempotencyStore: idem,
		},
		OpenAPI: doc,
	})

	// Step 10: Start test server.
	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.Do(http.MethodGet, path, nil, token, nil)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.Do(http.MethodPost, path, body, token, nil)
}

// PATCH performs an authenticated PATCH request with a JSON body.
func (h *TestHarness) PATCH(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.Do(http.MethodPatch, path, body, token, nil)
}

// DELETE performs an authenticated DELETE request.
func (h *TestHarness) DELETE(path, token string) *http.Response {
	h.t.Helper()
	return h.Do(http.MethodDelete, path, nil, token, nil)
}

// Do performs a request with optional body, token and extra headers.
func (h *TestHarness) Do(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// ReadBody reads and returns the response body as bytes.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// AssertErrorCode checks the status and the error envelope code.
func (h *TestHarness) AssertErrorCode(t *testing.T, resp *http.Response, status int, code string) model.ErrorEnvelope {
	t.Helper()
	var env model.ErrorEnvelope
	h.AssertJSON(t, resp, status, &env)
	if env.Code != code {
		t.Errorf("error code = %q, want %q (message %q)", env.Code, code, env.Message)
	}
	return env
}

// CreateConsultation creates an environmental assessment with three
// indigenous parties and returns it.
func (h *TestHarness) CreateConsultation(t *testing.T, token string, mechanism model.ConsensusMechanism) model.Workflow {
	t.Helper()
	resp := h.POST("/v1/consultations", ConsultationFixture(mechanism, time.Now().Add(180*24*time.Hour)), token)
	var wf model.Workflow
	h.AssertJSON(t, resp, http.StatusCreated, &wf)
	return wf
}

// --- Default test claims ---

// FacilitatorClaims returns TestClaims for a consultation facilitator.
func FacilitatorClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-facilitator",
		Email:     "facilitator@consult.example.com",
		Name:      "Fran Facilitator",
		Roles:     []string{"facilitator"},
	}
}

// CouncilClaims returns TestClaims for a council representative who records
// and finalizes consent.
func CouncilClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-council",
		Email:     "council@nation-a.example.com",
		Roles:     []string{"council"},
	}
}

// ViewerClaims returns TestClaims for a read-only observer.
func ViewerClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-viewer",
		Email:     "viewer@consult.example.com",
		Roles:     []string{"viewer"},
	}
}

// --- Helpers ---

// testdataDir returns the absolute path to the testdata directory.
func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}

// ConsultationFixture returns a create request body.
func ConsultationFixture(mechanism model.ConsensusMechanism, deadline time.Time) map[string]any {
	return map[string]any{
		"title":                  "Northern corridor transmission line",
		"type":                   "environmental_assessment",
		"consensus_mechanism":    mechanism,
		"target_completion_date": deadline.UTC().Format(time.RFC3339),
		"indigenous_parties": []map[string]any{
			{"id": "nation-a", "name": "Nation A"},
			{"id": "nation-b", "name": "Nation B"},
			{"id": "nation-c", "name": "Nation C"},
		},
	}
}

// FormatJSON converts a value to indented JSON for test output.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
