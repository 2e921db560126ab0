package transport

import (
	"bytes"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sanjabh11/consultflow/internal/config"
	"github.com/sanjabh11/consultflow/internal/events"
	"github.com/sanjabh11/consultflow/internal/idempotency"
	"github.com/sanjabh11/consultflow/internal/observability"
	"github.com/sanjabh11/consultflow/internal/openapi"
	"github.com/sanjabh11/consultflow/internal/progress"
	"github.com/sanjabh11/consultflow/internal/template"
	"github.com/sanjabh11/consultflow/internal/workflow"
	"github.com/sanjabh11/consultflow/model"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config             *config.Config
	Logger             *zap.Logger
	Engine             *workflow.Engine
	Tracker            *progress.Tracker
	Templates          *template.Registry
	Bus                *events.Bus
	Authenticate       func(http.Handler) http.Handler
	CapabilityResolver model.CapabilityResolver
	Idempotency        idempotency.Store
	Metrics            *observability.Metrics
	Gatherer           prometheus.Gatherer
	Readiness          observability.ReadinessChecks
	OpenAPI            *openapi.Document
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, metrics and the API description
// bypass authentication.
func NewRouter(deps Dependencies) chi.Router {
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &api{
		engine:    deps.Engine,
		tracker:   deps.Tracker,
		templates: deps.Templates,
		bus:       deps.Bus,
		logger:    logger,
		origins:   originPatterns(cfg.Server.CORS.AllowedOrigins),
	}

	r := chi.NewRouter()

	r.Use(Recovery(logger))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(CORS(cfg.Server.CORS))
	r.Use(observability.TracingMiddleware)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	// Public routes.
	r.Get("/healthz", observability.HandleHealth())
	r.Get("/readyz", observability.HandleReady(deps.Readiness))
	if cfg.Observability.Metrics.Enabled && deps.Gatherer != nil {
		r.Method(http.MethodGet, cfg.Observability.Metrics.Path, observability.Handler(deps.Gatherer))
	}
	if deps.OpenAPI != nil {
		doc := deps.OpenAPI.JSON()
		r.Get("/openapi.json", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(doc)
		})
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = HeaderAuthenticator
	}

	validate := func(operationID string) func(http.Handler) http.Handler {
		return ValidateBody(deps.OpenAPI, operationID)
	}
	read := RequireCapability(model.CapConsultationsRead)
	write := RequireCapability(model.CapConsultationsWrite)
	track := RequireCapability(model.CapTrackingManage)

	guarded := func(r chi.Router) {
		r.Use(HandlerTimeout(cfg.Server.HandlerTimeout))
		if cfg.Idempotency.Enabled {
			r.Use(Idempotency(deps.Idempotency, cfg.Idempotency.TTL, cfg.Idempotency.KeyPrefix, deps.Metrics, logger))
		}
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext(cfg.Identity.ClaimPaths))
		r.Use(ResolveCapabilities(deps.CapabilityResolver, logger))
		r.Use(RequestLogging(logger))

		r.Group(func(r chi.Router) {
			guarded(r)
			r.With(read).Get("/templates", a.listTemplates)
			r.With(read).Get("/tracking", a.listTracked)
			r.With(read).Get("/consultations", a.listConsultations)
			r.With(write, validate("createConsultation")).Post("/consultations", a.createConsultation)
		})

		r.Route("/consultations/{id}", func(r chi.Router) {
			// Long-lived, so outside the handler timeout.
			r.With(read).Get("/events", a.streamEvents)

			r.Group(func(r chi.Router) {
				guarded(r)

				r.With(read).Get("/", a.getConsultation)
				r.With(write, validate("updateConsultation")).Patch("/", a.updateConsultation)
				r.With(read).Get("/metrics", a.consultationMetrics)
				r.With(read).Get("/audit", a.consultationAudit)

				r.With(write).Post("/milestones/advance", a.advanceMilestone)
				r.With(RequireCapability(model.CapConsentRecord), validate("recordConsent")).Post("/consents", a.recordConsent)
				r.With(RequireCapability(model.CapConsentFinalize)).Post("/consents/finalize", a.finalizeConsent)

				r.With(write, validate("addCommunication")).Post("/communications", a.addCommunication)
				r.With(write, validate("addMeeting")).Post("/meetings", a.addMeeting)
				r.With(write, validate("addRisk")).Post("/risks", a.addRisk)
				r.With(write, validate("updateRisk")).Patch("/risks/{riskId}", a.updateRisk)
				r.With(write, validate("reportIssue")).Post("/issues", a.reportIssue)
				r.With(write, validate("resolveIssue")).Post("/issues/{issueId}/resolve", a.resolveIssue)

				r.With(track, validate("startTracking")).Post("/tracking", a.startTracking)
				r.With(track).Delete("/tracking", a.stopTracking)

				r.With(read).Get("/progress", a.currentProgress)
				r.With(track).Delete("/progress", a.clearProgress)
				r.With(track).Post("/progress/snapshots", a.createSnapshot)
				r.With(read).Get("/progress/history", a.progressHistory)

				r.With(read).Get("/alerts", a.listAlerts)
				r.With(RequireCapability(model.CapAlertsAcknowledge)).Post("/alerts/{alertId}/acknowledge", a.acknowledgeAlert)

				r.With(read).Get("/activities", a.listActivities)
				r.With(write, validate("logActivity")).Post("/activities", a.logActivity)

				r.With(read).Get("/reports", a.listReports)
				r.With(RequireCapability(model.CapReportsGenerate), validate("generateReport")).Post("/reports", a.generateReport)
			})
		})
	})

	return r
}

// ValidateBody rejects a request whose JSON body violates the request schema
// of the named operation with a 422 listing every violation.
func ValidateBody(doc *openapi.Document, operationID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if doc == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				WriteError(w, model.NewBadRequestError("request body too large"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if details := doc.ValidateBody(operationID, body); len(details) > 0 {
				WriteValidationError(w, details)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// originPatterns converts CORS origins into the host patterns the websocket
// handshake matches the Origin header against.
func originPatterns(origins []string) []string {
	var out []string
	for _, o := range origins {
		if o == "*" {
			out = append(out, "*")
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}
