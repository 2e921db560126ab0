package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sanjabh11/consultflow/internal/audit"
	"github.com/sanjabh11/consultflow/internal/consent"
	"github.com/sanjabh11/consultflow/internal/keylock"
	"github.com/sanjabh11/consultflow/internal/observability"
	"github.com/sanjabh11/consultflow/model"
)

// ActivityLogger receives the activities produced by engine mutations.
type ActivityLogger interface {
	LogActivity(workflowID string, activity model.Activity) (model.Activity, error)
}

// Publisher delivers events to subscribers. Publish is called while the
// workflow's lock is held, so subscribers must not mutate the same workflow
// synchronously.
type Publisher interface {
	Publish(evt model.Event)
}

// MilestonePlanner supplies default milestones for a consultation type.
type MilestonePlanner interface {
	Plan(t model.ConsultationType, start time.Time) ([]model.Milestone, bool)
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithActivityLog sets the activity logger.
func WithActivityLog(l ActivityLogger) EngineOption {
	return func(e *Engine) { e.activities = l }
}

// WithMilestonePlanner sets the planner used when a workflow is created
// without milestones.
func WithMilestonePlanner(p MilestonePlanner) EngineOption {
	return func(e *Engine) { e.planner = p }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// Engine owns every mutation of consultation workflows. Mutations of one
// workflow are serialised; the store update, audit entry, activity and
// event of one mutation happen in that order under the workflow's lock.
type Engine struct {
	store      WorkflowStore
	audit      *audit.Recorder
	bus        Publisher
	activities ActivityLogger
	planner    MilestonePlanner
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
	locks      keylock.Locks
}

// NewEngine creates a workflow engine. recorder and bus may be nil.
func NewEngine(store WorkflowStore, recorder *audit.Recorder, bus Publisher, opts ...EngineOption) *Engine {
	e := &Engine{
		store:  store,
		audit:  recorder,
		bus:    bus,
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.audit == nil {
		e.audit = audit.NewRecorder(nil)
	}
	return e
}

// --- Registry operations ---

// Create validates and persists a new workflow.
func (e *Engine) Create(ctx context.Context, actor string, w model.Workflow) (_ model.Workflow, err error) {
	ctx, done := e.begin(ctx, "create", "")
	defer func() { done(err) }()

	now := e.now()

	// 1. Structural validation.
	if errs := validateNew(&w); len(errs) > 0 {
		return model.Workflow{}, model.NewValidationError(errs)
	}

	// 2. Identity and defaults.
	w.ID = uuid.New().String()
	w.CreatedDate = now
	w.UpdatedAt = now
	w.Version = 1
	w.TargetCompletionDate = w.TargetCompletionDate.UTC()
	if w.Status == "" {
		w.Status = model.StatusDraft
	}
	if w.Phase == "" {
		w.Phase = model.PhaseIdentification
	}
	if w.Priority == "" {
		w.Priority = model.LevelMedium
	}

	// 3. Milestones: supplied, or planned from the type's template.
	if len(w.Milestones) == 0 && e.planner != nil {
		if planned, ok := e.planner.Plan(w.Type, now); ok {
			w.Milestones = planned
		}
	}
	if errs := normalizeMilestones(w.Milestones, now); len(errs) > 0 {
		return model.Workflow{}, model.NewValidationError(errs)
	}
	if w.CurrentMilestone != "" {
		if _, ok := w.Milestone(w.CurrentMilestone); !ok {
			return model.Workflow{}, model.NewValidationError([]model.FieldError{{
				Field: "current_milestone", Code: "UNKNOWN_MILESTONE",
				Message: fmt.Sprintf("milestone %q is not part of the workflow", w.CurrentMilestone),
			}})
		}
	}
	activateFirst(&w)

	// 4. Consent: one record per party, then the verdict. Derived fields are
	// never taken from the caller.
	for i := range w.ConsentStatus.PartyConsents {
		pc := &w.ConsentStatus.PartyConsents[i]
		if pc.ConsentGiven && pc.ConsentDate == nil {
			at := now
			pc.ConsentDate = &at
		}
		if pc.ConsentGiven && pc.RecordedBy == "" {
			pc.RecordedBy = actor
		}
	}
	w.ConsentStatus.PartyConsents = consent.Reconcile(w.ConsentStatus.PartyConsents, w.Parties())
	w.ConsentStatus.OverallConsent = model.ConsentNone
	w.ConsentStatus.ConsentDate = nil
	w.ConsentStatus.FinalizedBy = ""
	completed, err := settleConsent(&w, now)
	if err != nil {
		return model.Workflow{}, err
	}

	// 5. Persist, audit, notify.
	if err := e.store.Create(ctx, w); err != nil {
		return model.Workflow{}, err
	}
	e.audit.Record(ctx, w.ID, model.AuditWorkflowCreated, actor, map[string]any{
		"title":      w.Title,
		"type":       w.Type,
		"milestones": len(w.Milestones),
		"completed":  completed,
	})
	e.metrics.RecordWorkflowCreated(string(w.Type))
	e.publish(model.EventWorkflowCreated, w.ID, w.Clone())

	e.logger.Info("workflow created",
		zap.String("workflow_id", w.ID),
		zap.String("type", string(w.Type)),
		zap.Int("milestones", len(w.Milestones)),
	)
	return w, nil
}

// Update merges patch into the workflow.
func (e *Engine) Update(ctx context.Context, actor, id string, patch model.WorkflowPatch) (_ model.Workflow, err error) {
	ctx, done := e.begin(ctx, "update", id)
	defer func() { done(err) }()

	if errs := validatePatch(patch); len(errs) > 0 {
		return model.Workflow{}, model.NewValidationError(errs)
	}

	w, err := e.store.Get(ctx, id)
	if err != nil {
		return model.Workflow{}, err
	}
	now := e.now()

	mechanismBefore := w.ConsensusMechanism
	changed := applyPatch(&w, patch)

	if patch.Milestones != nil {
		if errs := normalizeMilestones(w.Milestones, now); len(errs) > 0 {
			return model.Workflow{}, model.NewValidationError(errs)
		}
		if _, ok := w.Milestone(w.CurrentMilestone); !ok && patch.CurrentMilestone == nil {
			w.CurrentMilestone = ""
			activateFirst(&w)
		}
	}
	if patch.CurrentMilestone != nil && w.CurrentMilestone != "" {
		if _, ok := w.Milestone(w.CurrentMilestone); !ok {
			return model.Workflow{}, model.NewValidationError([]model.FieldError{{
				Field: "current_milestone", Code: "UNKNOWN_MILESTONE",
				Message: fmt.Sprintf("milestone %q is not part of the workflow", w.CurrentMilestone),
			}})
		}
	}
	partiesChanged := patch.Stakeholders != nil || patch.IndigenousParties != nil
	if partiesChanged {
		if errs := validateParties(&w); len(errs) > 0 {
			return model.Workflow{}, model.NewValidationError(errs)
		}
		w.ConsentStatus.PartyConsents = consent.Reconcile(w.ConsentStatus.PartyConsents, w.Parties())
	}
	if partiesChanged || w.ConsensusMechanism != mechanismBefore {
		if _, err := settleConsent(&w, now); err != nil {
			return model.Workflow{}, err
		}
	}

	w.UpdatedAt = now
	if err := e.store.Update(ctx, &w); err != nil {
		return model.Workflow{}, err
	}
	e.audit.Record(ctx, id, model.AuditWorkflowUpdated, actor, map[string]any{"fields": changed})
	e.publish(model.EventWorkflowUpdated, id, w.Clone())
	return w, nil
}

// Get returns a workflow by ID.
func (e *Engine) Get(ctx context.Context, id string) (model.Workflow, error) {
	return e.store.Get(ctx, id)
}

// List returns the workflows matching filters, oldest first.
func (e *Engine) List(ctx context.Context, filters model.WorkflowFilters) ([]model.Workflow, error) {
	return e.store.List(ctx, filters)
}

// Audit returns a workflow's audit trail.
func (e *Engine) Audit(ctx context.Context, id string) ([]model.AuditEntry, error) {
	return e.store.ListAudit(ctx, id)
}

// Metrics returns the progress summary of a workflow.
func (e *Engine) Metrics(ctx context.Context, id string) (model.WorkflowMetrics, error) {
	w, err := e.store.Get(ctx, id)
	if err != nil {
		return model.WorkflowMetrics{}, err
	}
	return w.Metrics(e.now()), nil
}

// --- Milestones ---

// AdvanceMilestone completes the current milestone and activates the next
// one by order. On any error the workflow is unchanged.
func (e *Engine) AdvanceMilestone(ctx context.Context, actor, id string) (_ []model.Milestone, err error) {
	ctx, done := e.begin(ctx, "advance_milestone", id)
	defer func() {
		e.metrics.RecordMilestoneAdvance(resultOf(err))
		done(err)
	}()

	w, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := e.now()

	from, to, err := advanceMilestone(&w, now)
	if err != nil {
		return nil, err
	}

	w.UpdatedAt = now
	if err := e.store.Update(ctx, &w); err != nil {
		return nil, err
	}

	completed, _ := w.Milestone(from)
	e.audit.Record(ctx, id, model.AuditMilestoneCompleted, actor, map[string]string{"from": from, "to": to})
	e.logActivity(id, model.Activity{
		Type:        model.ActivityMilestoneCompleted,
		Description: fmt.Sprintf("Completed milestone: %s", completed.Title),
		UserID:      actor,
		Metadata:    map[string]any{"milestone_id": from, "next_milestone_id": to},
	})
	e.publish(model.EventMilestoneAdvanced, id, map[string]any{
		"from":       from,
		"to":         to,
		"milestones": cloneMilestones(w.Milestones),
	})
	return w.Milestones, nil
}

// --- Consent ---

// RecordConsent upserts one party's consent and recomputes the verdict. The
// first transition into full consent completes the workflow.
func (e *Engine) RecordConsent(ctx context.Context, actor, id string, pc model.PartyConsent) (_ model.ConsentStatus, err error) {
	ctx, done := e.begin(ctx, "record_consent", id)
	defer func() { done(err) }()

	if err := consent.Validate(pc); err != nil {
		return model.ConsentStatus{}, err
	}

	w, err := e.store.Get(ctx, id)
	if err != nil {
		return model.ConsentStatus{}, err
	}
	now := e.now()

	party, ok := findParty(&w, pc.PartyID)
	if !ok {
		return model.ConsentStatus{}, model.NewInvalidConsensusInputError(
			fmt.Sprintf("party %q is not consulted in workflow %s", pc.PartyID, id),
		)
	}
	if pc.PartyName == "" {
		pc.PartyName = party.Name
	}
	if pc.ConsentGiven && pc.ConsentDate == nil {
		at := now
		pc.ConsentDate = &at
	}
	if pc.RecordedBy == "" {
		pc.RecordedBy = actor
	}

	w.ConsentStatus.PartyConsents = consent.Reconcile(
		consent.Upsert(w.ConsentStatus.PartyConsents, pc), w.Parties(),
	)
	reachedFull, err := settleConsent(&w, now)
	if err != nil {
		return model.ConsentStatus{}, err
	}
	overall := w.ConsentStatus.OverallConsent

	w.UpdatedAt = now
	if err := e.store.Update(ctx, &w); err != nil {
		return model.ConsentStatus{}, err
	}

	e.metrics.RecordConsent(string(overall))
	e.audit.Record(ctx, id, model.AuditConsentRecorded, actor, map[string]any{
		"party_id":        pc.PartyID,
		"consent_given":   pc.ConsentGiven,
		"overall_consent": overall,
		"completed":       reachedFull,
	})
	if pc.ConsentGiven {
		e.logActivity(id, model.Activity{
			Type:        model.ActivityConsentGiven,
			Description: fmt.Sprintf("Consent given by %s", partyLabel(pc)),
			UserID:      actor,
			Metadata:    map[string]any{"party_id": pc.PartyID, "overall_consent": string(overall)},
		})
	}
	e.publish(model.EventConsentUpdated, id, w.ConsentStatus)
	return w.ConsentStatus, nil
}

// FinalizeConsent completes a majority workflow whose verdict is
// majority_consent. Majority workflows never complete on their own.
func (e *Engine) FinalizeConsent(ctx context.Context, actor, id string) (_ model.ConsentStatus, err error) {
	ctx, done := e.begin(ctx, "finalize_consent", id)
	defer func() { done(err) }()

	w, err := e.store.Get(ctx, id)
	if err != nil {
		return model.ConsentStatus{}, err
	}
	if w.ConsensusMechanism != model.ConsensusMajority {
		return model.ConsentStatus{}, model.NewInvalidTransitionError(
			fmt.Sprintf("workflow %s uses %s consensus and cannot be finalized explicitly", id, w.ConsensusMechanism),
		)
	}
	if w.ConsentStatus.OverallConsent != model.ConsentMajority {
		return model.ConsentStatus{}, model.NewInvalidTransitionError(
			fmt.Sprintf("workflow %s has %s, majority consent is required", id, w.ConsentStatus.OverallConsent),
		)
	}
	if w.ConsentStatus.FinalizedBy != "" {
		return model.ConsentStatus{}, model.NewInvalidTransitionError(
			fmt.Sprintf("workflow %s consent was already finalized by %s", id, w.ConsentStatus.FinalizedBy),
		)
	}

	now := e.now()
	at := now
	w.ConsentStatus.ConsentDate = &at
	w.ConsentStatus.FinalizedBy = actor
	w.Phase = model.PhaseImplementation
	w.Status = model.StatusCompleted
	w.UpdatedAt = now

	if err := e.store.Update(ctx, &w); err != nil {
		return model.ConsentStatus{}, err
	}
	e.metrics.RecordConsentFinalized()
	e.audit.Record(ctx, id, model.AuditConsentFinalized, actor, map[string]any{
		"consents_given": w.ConsentStatus.ConsentsGiven(),
		"total_parties":  w.TotalParties(),
	})
	e.publish(model.EventConsentFinalized, id, w.ConsentStatus)
	return w.ConsentStatus, nil
}

// --- Journals ---

// AddCommunication appends a communication and one follow-up milestone per
// follow-up action.
func (e *Engine) AddCommunication(ctx context.Context, actor, id string, c model.Communication) (_ model.Communication, err error) {
	ctx, done := e.begin(ctx, "add_communication", id)
	defer func() { done(err) }()

	if strings.TrimSpace(c.Subject) == "" {
		return model.Communication{}, model.NewValidationError([]model.FieldError{{
			Field: "subject", Code: "REQUIRED", Message: "subject is required",
		}})
	}

	w, err := e.store.Get(ctx, id)
	if err != nil {
		return model.Communication{}, err
	}
	now := e.now()

	c.ID = uuid.New().String()
	if c.DateSent.IsZero() {
		c.DateSent = now
	}
	if c.Sender == "" {
		c.Sender = actor
	}
	followUps := followUpMilestones(&w, c, now)
	w.Communications = append(w.Communications, c)
	w.Milestones = append(w.Milestones, followUps...)
	w.UpdatedAt = now

	if err := e.store.Update(ctx, &w); err != nil {
		return model.Communication{}, err
	}
	e.audit.Record(ctx, id, model.AuditCommunicationAdded, actor, map[string]any{
		"communication_id": c.ID,
		"subject":          c.Subject,
		"follow_ups":       len(followUps),
	})
	e.logActivity(id, model.Activity{
		Type:        model.ActivityCommunicationSent,
		Description: fmt.Sprintf("Communication sent: %s", c.Subject),
		UserID:      actor,
		Metadata:    map[string]any{"communication_id": c.ID, "recipients": len(c.Recipients)},
	})
	e.publish(model.EventCommunicationAdded, id, c)
	return c, nil
}

// AddMeetingRecord appends a meeting record.
func (e *Engine) AddMeetingRecord(ctx context.Context, actor, id string, m model.MeetingRecord) (_ model.MeetingRecord, err error) {
	ctx, done := e.begin(ctx, "add_meeting", id)
	defer func() { done(err) }()

	w, err := e.store.Get(ctx, id)
	if err != nil {
		return model.MeetingRecord{}, err
	}
	now := e.now()

	m.ID = uuid.New().String()
	if m.Date.IsZero() {
		m.Date = now
	}
	for i := range m.ActionItems {
		if m.ActionItems[i].ID == "" {
			m.ActionItems[i].ID = uuid.New().String()
		}
	}
	w.MeetingRecords = append(w.MeetingRecords, m)
	w.UpdatedAt = now

	if err := e.store.Update(ctx, &w); err != nil {
		return model.MeetingRecord{}, err
	}
	e.audit.Record(ctx, id, model.AuditMeetingAdded, actor, map[string]any{
		"meeting_id":   m.ID,
		"type":         m.Type,
		"participants": len(m.Participants),
	})
	e.logActivity(id, model.Activity{
		Type:        model.ActivityMeetingHeld,
		Description: fmt.Sprintf("Meeting held: %s", meetingLabel(m)),
		UserID:      actor,
		Metadata:    map[string]any{"meeting_id": m.ID, "consensus": m.Consensus},
	})
	e.publish(model.EventMeetingRecorded, id, m)
	return m, nil
}

// AddRisk adds an entry to the risk register.
func (e *Engine) AddRisk(ctx context.Context, actor, id string, r model.Risk) (_ model.Risk, err error) {
	ctx, done := e.begin(ctx, "add_risk", id)
	defer func() { done(err) }()

	var errs []model.FieldError
	if strings.TrimSpace(r.Title) == "" {
		errs = append(errs, model.FieldError{Field: "title", Code: "REQUIRED", Message: "title is required"})
	}
	if r.Probability.Rank() == 0 {
		errs = append(errs, model.FieldError{Field: "probability", Code: "INVALID", Message: "probability must be low, medium, high or critical"})
	}
	if r.Impact.Rank() == 0 {
		errs = append(errs, model.FieldError{Field: "impact", Code: "INVALID", Message: "impact must be low, medium, high or critical"})
	}
	if len(errs) > 0 {
		return model.Risk{}, model.NewValidationError(errs)
	}

	w, err := e.store.Get(ctx, id)
	if err != nil {
		return model.Risk{}, err
	}
	now := e.now()

	r.ID = uuid.New().String()
	if r.Status == "" {
		r.Status = model.RiskActive
	}
	if r.IdentifiedDate.IsZero() {
		r.IdentifiedDate = now
	}
	w.Risks = append(w.Risks, r)
	w.UpdatedAt = now

	if err := e.store.Update(ctx, &w); err != nil {
		return model.Risk{}, err
	}
	e.audit.Record(ctx, id, model.AuditRiskAdded, actor, map[string]any{
		"risk_id":     r.ID,
		"probability": r.Probability,
		"impact":      r.Impact,
	})
	e.logActivity(id, model.Activity{
		Type:        model.ActivityRiskIdentified,
		Description: fmt.Sprintf("Risk identified: %s", r.Title),
		UserID:      actor,
		Metadata:    map[string]any{"risk_id": r.ID, "category": string(r.Category)},
	})
	e.publish(model.EventRiskAdded, id, r)
	return r, nil
}

// UpdateRiskStatus changes the status of one risk.
func (e *Engine) UpdateRiskStatus(ctx context.Context, actor, id, riskID string, status model.RiskStatus) (_ model.Risk, err error) {
	ctx, done := e.begin(ctx, "update_risk", id)
	defer func() { done(err) }()

	switch status {
	case model.RiskActive, model.RiskMitigated, model.RiskRealized, model.RiskClosed:
	default:
		return model.Risk{}, model.NewValidationError([]model.FieldError{{
			Field: "status", Code: "INVALID", Message: "status must be active, mitigated, realized or closed",
		}})
	}

	w, err := e.store.Get(ctx, id)
	if err != nil {
		return model.Risk{}, err
	}
	var risk *model.Risk
	for i := range w.Risks {
		if w.Risks[i].ID == riskID {
			risk = &w.Risks[i]
			break
		}
	}
	if risk == nil {
		return model.Risk{}, model.NewNotFoundError(fmt.Sprintf("risk %q not found in workflow %s", riskID, id))
	}

	previous := risk.Status
	risk.Status = status
	updated := *risk
	w.UpdatedAt = e.now()

	if err := e.store.Update(ctx, &w); err != nil {
		return model.Risk{}, err
	}
	e.audit.Record(ctx, id, model.AuditRiskUpdated, actor, map[string]any{
		"risk_id": riskID,
		"from":    previous,
		"to":      status,
	})
	e.publish(model.EventRiskUpdated, id, updated)
	return updated, nil
}

// ReportIssue records a critical issue.
func (e *Engine) ReportIssue(ctx context.Context, actor, id string, issue model.CriticalIssue) (_ model.CriticalIssue, err error) {
	ctx, done := e.begin(ctx, "report_issue", id)
	defer func() { done(err) }()

	if strings.TrimSpace(issue.Title) == "" {
		return model.CriticalIssue{}, model.NewValidationError([]model.FieldError{{
			Field: "title", Code: "REQUIRED", Message: "title is required",
		}})
	}

	w, err := e.store.Get(ctx, id)
	if err != nil {
		return model.CriticalIssue{}, err
	}
	now := e.now()

	issue.ID = uuid.New().String()
	issue.Status = model.IssueOpen
	issue.ReportedDate = now
	if issue.ReportedBy == "" {
		issue.ReportedBy = actor
	}
	issue.Resolution = ""
	issue.ResolutionDate = nil
	w.CriticalIssues = append(w.CriticalIssues, issue)
	w.UpdatedAt = now

	if err := e.store.Update(ctx, &w); err != nil {
		return model.CriticalIssue{}, err
	}
	e.audit.Record(ctx, id, model.AuditIssueReported, actor, map[string]any{
		"issue_id": issue.ID,
		"severity": issue.Severity,
	})
	e.publish(model.EventIssueReported, id, issue)
	return issue, nil
}

// ResolveIssue marks an open issue as resolved.
func (e *Engine) ResolveIssue(ctx context.Context, actor, id, issueID, resolution string) (_ model.CriticalIssue, err error) {
	ctx, done := e.begin(ctx, "resolve_issue", id)
	defer func() { done(err) }()

	w, err := e.store.Get(ctx, id)
	if err != nil {
		return model.CriticalIssue{}, err
	}
	var issue *model.CriticalIssue
	for i := range w.CriticalIssues {
		if w.CriticalIssues[i].ID == issueID {
			issue = &w.CriticalIssues[i]
			break
		}
	}
	if issue == nil {
		return model.CriticalIssue{}, model.NewNotFoundError(fmt.Sprintf("issue %q not found in workflow %s", issueID, id))
	}
	if issue.Status == model.IssueResolved {
		return model.CriticalIssue{}, model.NewInvalidTransitionError(fmt.Sprintf("issue %s is already resolved", issueID))
	}

	now := e.now()
	at := now
	issue.Status = model.IssueResolved
	issue.Resolution = resolution
	issue.ResolutionDate = &at
	issue.ResolvedBy = actor
	resolved := *issue
	w.UpdatedAt = now

	if err := e.store.Update(ctx, &w); err != nil {
		return model.CriticalIssue{}, err
	}
	e.audit.Record(ctx, id, model.AuditIssueResolved, actor, map[string]any{"issue_id": issueID})
	e.logActivity(id, model.Activity{
		Type:        model.ActivityIssueResolved,
		Description: fmt.Sprintf("Issue resolved: %s", resolved.Title),
		UserID:      actor,
		Metadata:    map[string]any{"issue_id": issueID},
	})
	e.publish(model.EventIssueResolved, id, resolved)
	return resolved, nil
}

// --- Internals ---

// begin takes the workflow lock (when id is set) and opens a span. The
// returned function releases both and records the mutation outcome.
func (e *Engine) begin(ctx context.Context, operation, id string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "engine."+operation, observability.AttrWorkflowID.String(id))

	unlock := func() {}
	if id != "" {
		unlock = e.locks.Lock(id)
	}

	return ctx, func(err error) {
		unlock()
		e.metrics.RecordMutation(operation, resultOf(err), time.Since(start))
		observability.EndSpanWithError(span, err)
	}
}

func (e *Engine) logActivity(id string, a model.Activity) {
	if e.activities == nil {
		return
	}
	if _, err := e.activities.LogActivity(id, a); err != nil {
		e.logger.Warn("activity not recorded",
			zap.String("workflow_id", id),
			zap.String("activity_type", string(a.Type)),
			zap.Error(err),
		)
	}
}

func (e *Engine) publish(t model.EventType, id string, data any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(model.Event{Type: t, WorkflowID: id, Data: data, OccurredAt: e.now()})
}

// resultOf maps an error to a metric label.
func resultOf(err error) string {
	if err == nil {
		return "ok"
	}
	var ee *model.ErrorEnvelope
	if errors.As(err, &ee) {
		return ee.Code
	}
	return model.ErrInternalError
}

func validateNew(w *model.Workflow) []model.FieldError {
	var errs []model.FieldError
	if strings.TrimSpace(w.Title) == "" {
		errs = append(errs, model.FieldError{Field: "title", Code: "REQUIRED", Message: "title is required"})
	}
	if !w.Type.Valid() {
		errs = append(errs, model.FieldError{Field: "type", Code: "INVALID", Message: "unknown consultation type"})
	}
	if !w.ConsensusMechanism.Valid() {
		errs = append(errs, model.FieldError{Field: "consensus_mechanism", Code: "INVALID", Message: "consensus mechanism must be unanimous, majority or quasi_unanimous"})
	}
	if w.TargetCompletionDate.IsZero() {
		errs = append(errs, model.FieldError{Field: "target_completion_date", Code: "REQUIRED", Message: "target completion date is required"})
	}
	if w.Phase != "" && !validPhase(w.Phase) {
		errs = append(errs, model.FieldError{Field: "phase", Code: "INVALID", Message: "unknown phase"})
	}
	if w.Status != "" && !validStatus(w.Status) {
		errs = append(errs, model.FieldError{Field: "status", Code: "INVALID", Message: "unknown status"})
	}
	if w.Priority != "" && w.Priority.Rank() == 0 {
		errs = append(errs, model.FieldError{Field: "priority", Code: "INVALID", Message: "unknown priority"})
	}
	errs = append(errs, validateParties(w)...)
	seen := make(map[string]bool, len(w.ConsentStatus.PartyConsents))
	for i, pc := range w.ConsentStatus.PartyConsents {
		field := fmt.Sprintf("consent_status.party_consents[%d]", i)
		if err := consent.Validate(pc); err != nil {
			errs = append(errs, model.FieldError{Field: field, Code: "INVALID", Message: err.Error()})
			continue
		}
		if _, ok := findParty(w, pc.PartyID); !ok {
			errs = append(errs, model.FieldError{
				Field: field, Code: "UNKNOWN_PARTY",
				Message: fmt.Sprintf("party %q is not a stakeholder or indigenous party", pc.PartyID),
			})
		}
		if seen[pc.PartyID] {
			errs = append(errs, model.FieldError{
				Field: field, Code: "DUPLICATE",
				Message: fmt.Sprintf("party %q has more than one consent record", pc.PartyID),
			})
		}
		seen[pc.PartyID] = true
	}
	return errs
}

// validateParties requires every stakeholder and indigenous party to carry a
// distinct, non-empty ID.
func validateParties(w *model.Workflow) []model.FieldError {
	var errs []model.FieldError
	seen := make(map[string]bool, w.TotalParties())
	check := func(field, id string) {
		switch {
		case strings.TrimSpace(id) == "":
			errs = append(errs, model.FieldError{Field: field, Code: "REQUIRED", Message: "party id is required"})
		case seen[id]:
			errs = append(errs, model.FieldError{
				Field: field, Code: "DUPLICATE", Message: fmt.Sprintf("party id %q is used more than once", id),
			})
		}
		seen[id] = true
	}
	for i, s := range w.Stakeholders {
		check(fmt.Sprintf("stakeholders[%d].id", i), s.ID)
	}
	for i, p := range w.IndigenousParties {
		check(fmt.Sprintf("indigenous_parties[%d].id", i), p.ID)
	}
	return errs
}

func findParty(w *model.Workflow, id string) (model.Party, bool) {
	for _, p := range w.Parties() {
		if p.ID == id {
			return p, true
		}
	}
	return model.Party{}, false
}

// settleConsent recomputes the overall verdict from the party records. The
// first time the verdict reaches full consent the workflow completes; the
// result reports whether that happened.
func settleConsent(w *model.Workflow, now time.Time) (bool, error) {
	overall, err := consent.Calculate(w.ConsentStatus.PartyConsents, w.ConsensusMechanism)
	if err != nil {
		return false, err
	}
	previous := w.ConsentStatus.OverallConsent
	w.ConsentStatus.OverallConsent = overall
	if overall != model.ConsentFull || previous == model.ConsentFull || w.ConsentStatus.ConsentDate != nil {
		return false, nil
	}
	at := now
	w.ConsentStatus.ConsentDate = &at
	w.Phase = model.PhaseImplementation
	w.Status = model.StatusCompleted
	return true, nil
}

func cloneMilestones(ms []model.Milestone) []model.Milestone {
	out := make([]model.Milestone, len(ms))
	for i, m := range ms {
		out[i] = m.Clone()
	}
	return out
}

func partyLabel(pc model.PartyConsent) string {
	if pc.PartyName != "" {
		return pc.PartyName
	}
	return pc.PartyID
}

func meetingLabel(m model.MeetingRecord) string {
	if m.Type != "" {
		return m.Type
	}
	return m.Date.Format("2006-01-02")
}
