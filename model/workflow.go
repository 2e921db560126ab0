package model

import (
	"math"
	"time"
)

// ConsultationType classifies what a consultation is about.
type ConsultationType string

// Consultation types.
const (
	TypeEnvironmentalAssessment    ConsultationType = "environmental_assessment"
	TypeLandUsePlanning            ConsultationType = "land_use_planning"
	TypeNaturalResourceDevelopment ConsultationType = "natural_resource_development"
	TypeInfrastructureProject      ConsultationType = "infrastructure_project"
	TypePolicyDevelopment          ConsultationType = "policy_development"
)

// Valid reports whether t is a known consultation type.
func (t ConsultationType) Valid() bool {
	switch t {
	case TypeEnvironmentalAssessment, TypeLandUsePlanning, TypeNaturalResourceDevelopment,
		TypeInfrastructureProject, TypePolicyDevelopment:
		return true
	}
	return false
}

// Phase is the stage a consultation has reached. Phases advance in
// declaration order.
type Phase string

// Consultation phases.
const (
	PhaseIdentification           Phase = "identification"
	PhaseInformationDissemination Phase = "information_dissemination"
	PhaseEngagement               Phase = "engagement"
	PhaseNegotiation              Phase = "negotiation"
	PhaseConsent                  Phase = "consent"
	PhaseImplementation           Phase = "implementation"
)

// Status is the lifecycle status of a workflow.
type Status string

// Workflow statuses. Completed and cancelled are terminal.
const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Level is the four-step scale shared by priority, risk probability, risk
// impact and the derived workflow risk level.
type Level string

// Levels, lowest first.
const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Rank orders levels so thresholds can be compared. Unknown levels rank 0.
func (l Level) Rank() int {
	switch l {
	case LevelLow:
		return 1
	case LevelMedium:
		return 2
	case LevelHigh:
		return 3
	case LevelCritical:
		return 4
	}
	return 0
}

// ConsensusMechanism decides how party consents combine into one verdict.
type ConsensusMechanism string

// Consensus mechanisms.
const (
	ConsensusUnanimous      ConsensusMechanism = "unanimous"
	ConsensusMajority       ConsensusMechanism = "majority"
	ConsensusQuasiUnanimous ConsensusMechanism = "quasi_unanimous"
)

// Valid reports whether m is a known mechanism.
func (m ConsensusMechanism) Valid() bool {
	return m == ConsensusUnanimous || m == ConsensusMajority || m == ConsensusQuasiUnanimous
}

// OverallConsent is the verdict derived from all party consents.
type OverallConsent string

// Consent verdicts.
const (
	ConsentNone     OverallConsent = "none"
	ConsentPartial  OverallConsent = "partial"
	ConsentMajority OverallConsent = "majority_consent"
	ConsentFull     OverallConsent = "full_consent"
)

// MilestoneStatus is the status of a single milestone.
type MilestoneStatus string

// Milestone statuses.
const (
	MilestonePending    MilestoneStatus = "pending"
	MilestoneInProgress MilestoneStatus = "in_progress"
	MilestoneCompleted  MilestoneStatus = "completed"
	MilestoneCancelled  MilestoneStatus = "cancelled"
)

// RiskStatus is the status of a risk entry.
type RiskStatus string

// Risk statuses.
const (
	RiskActive    RiskStatus = "active"
	RiskMitigated RiskStatus = "mitigated"
	RiskRealized  RiskStatus = "realized"
	RiskClosed    RiskStatus = "closed"
)

// RiskCategory groups risks by what they threaten.
type RiskCategory string

// Risk categories.
const (
	RiskScheduleDelay       RiskCategory = "schedule_delay"
	RiskBudgetOverrun       RiskCategory = "budget_overrun"
	RiskConsentRevocation   RiskCategory = "consent_revocation"
	RiskEnvironmentalDamage RiskCategory = "environmental_damage"
	RiskCulturalHarm        RiskCategory = "cultural_harm"
	RiskLegalChallenge      RiskCategory = "legal_challenge"
)

// Workflow is the consultation aggregate root. All journals are append-only;
// entries are only ever individually status-mutated.
type Workflow struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Type        ConsultationType `json:"type"`
	Phase       Phase            `json:"phase"`
	Status      Status           `json:"status"`
	Priority    Level            `json:"priority"`

	InitiatingParty   InitiatingParty   `json:"initiating_party"`
	Stakeholders      []Stakeholder     `json:"stakeholders"`
	IndigenousParties []IndigenousParty `json:"indigenous_parties"`

	CreatedDate          time.Time   `json:"created_date"`
	TargetCompletionDate time.Time   `json:"target_completion_date"`
	Milestones           []Milestone `json:"milestones"`
	CurrentMilestone     string      `json:"current_milestone"`

	ConsentStatus      ConsentStatus      `json:"consent_status"`
	ConsensusMechanism ConsensusMechanism `json:"consensus_mechanism"`

	Communications []Communication `json:"communications"`
	MeetingRecords []MeetingRecord `json:"meeting_records"`
	CriticalIssues []CriticalIssue `json:"critical_issues"`
	Risks          []Risk          `json:"risks"`

	RegulatoryFramework []string `json:"regulatory_framework,omitempty"`
	AffectedTerritories []string `json:"affected_territories,omitempty"`
	AffectedPopulations int      `json:"affected_populations,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// Party is a consulted party referenced by consent records.
type Party struct {
	ID   string
	Name string
}

// Parties lists the stakeholders followed by the indigenous parties. Every
// entry is expected to hold one consent record.
func (w *Workflow) Parties() []Party {
	out := make([]Party, 0, w.TotalParties())
	for _, s := range w.Stakeholders {
		out = append(out, Party{ID: s.ID, Name: s.Name})
	}
	for _, p := range w.IndigenousParties {
		out = append(out, Party{ID: p.ID, Name: p.Name})
	}
	return out
}

// TotalParties is the number of stakeholders plus indigenous parties.
func (w *Workflow) TotalParties() int {
	return len(w.Stakeholders) + len(w.IndigenousParties)
}

// Milestone returns the milestone with the given id.
func (w *Workflow) Milestone(id string) (*Milestone, bool) {
	for i := range w.Milestones {
		if w.Milestones[i].ID == id {
			return &w.Milestones[i], true
		}
	}
	return nil, false
}

// DaysUntil returns the whole number of days from now until target, rounded
// up. A target equal to now yields 0; targets in the past are negative.
func DaysUntil(target, now time.Time) int {
	days := target.Sub(now).Hours() / 24
	return int(math.Ceil(days))
}

// Metrics computes the progress summary of w as of now.
func (w *Workflow) Metrics(now time.Time) WorkflowMetrics {
	m := WorkflowMetrics{
		TotalMilestones: len(w.Milestones),
		ConsentsGiven:   w.ConsentStatus.ConsentsGiven(),
		TotalParties:    w.TotalParties(),
		DaysToDeadline:  DaysUntil(w.TargetCompletionDate, now),
	}
	for _, ms := range w.Milestones {
		if ms.Status == MilestoneCompleted {
			m.MilestonesCompleted++
		}
	}
	if m.TotalMilestones > 0 {
		m.ProgressPercent = float64(m.MilestonesCompleted) / float64(m.TotalMilestones) * 100
	}
	for _, r := range w.Risks {
		if r.Status == RiskActive {
			m.RisksActive++
		}
	}
	return m
}

// ContactInfo is a way of reaching a party.
type ContactInfo struct {
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// ConsultationPreference captures how a party wants to be consulted.
type ConsultationPreference struct {
	PreferredMethods []string `json:"preferred_methods,omitempty"`
	Language         string   `json:"language,omitempty"`
	NoticePeriodDays int      `json:"notice_period_days,omitempty"`
	Accessibility    []string `json:"accessibility,omitempty"`
}

// InitiatingParty is the organisation that started the consultation.
type InitiatingParty struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Type        string        `json:"type"`
	ContactInfo []ContactInfo `json:"contact_info,omitempty"`
}

// Stakeholder is a consulted party other than an indigenous nation.
type Stakeholder struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	Organization  string                 `json:"organization,omitempty"`
	Type          string                 `json:"type,omitempty"`
	ContactInfo   []ContactInfo          `json:"contact_info,omitempty"`
	Preferences   ConsultationPreference `json:"preferences"`
	InterestAreas []string               `json:"interest_areas,omitempty"`
}

// IndigenousParty is a rights-holding nation or community.
type IndigenousParty struct {
	ID                   string                 `json:"id"`
	Name                 string                 `json:"name"`
	Nation               string                 `json:"nation,omitempty"`
	TraditionalTerritory []string               `json:"traditional_territory,omitempty"`
	ContactInfo          []ContactInfo          `json:"contact_info,omitempty"`
	Preferences          ConsultationPreference `json:"preferences"`
	FPICRequired         bool                   `json:"fpic_required"`
}

// Milestone is one ordered, prerequisite-gated step of a workflow.
type Milestone struct {
	ID                   string          `json:"id"`
	Title                string          `json:"title"`
	Description          string          `json:"description,omitempty"`
	Phase                Phase           `json:"phase,omitempty"`
	Order                int             `json:"order"`
	RequiredTasks        []string        `json:"required_tasks,omitempty"`
	CompletionCriteria   []string        `json:"completion_criteria,omitempty"`
	Status               MilestoneStatus `json:"status"`
	TargetCompletionDate time.Time       `json:"target_completion_date"`
	ActualCompletionDate *time.Time      `json:"actual_completion_date,omitempty"`
	AssignedTo           []string        `json:"assigned_to,omitempty"`
	Prerequisites        []string        `json:"prerequisites,omitempty"`
	Deliverables         []string        `json:"deliverables,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

// PartyConsent is one party's consent record.
type PartyConsent struct {
	PartyID       string     `json:"party_id"`
	PartyName     string     `json:"party_name,omitempty"`
	ConsentGiven  bool       `json:"consent_given"`
	ConsentDate   *time.Time `json:"consent_date,omitempty"`
	Conditions    []string   `json:"conditions,omitempty"`
	Authorization string     `json:"authorization,omitempty"`
	RecordedBy    string     `json:"recorded_by,omitempty"`
}

// ConsentStatus aggregates party consents. OverallConsent is only ever
// written by the consent aggregator.
type ConsentStatus struct {
	OverallConsent OverallConsent `json:"overall_consent"`
	PartyConsents  []PartyConsent `json:"party_consents"`
	ConsentDate    *time.Time     `json:"consent_date,omitempty"`
	Conditions     []string       `json:"conditions,omitempty"`
	FinalizedBy    string         `json:"finalized_by,omitempty"`
}

// ConsentsGiven counts parties whose consent is given.
func (cs ConsentStatus) ConsentsGiven() int {
	n := 0
	for _, pc := range cs.PartyConsents {
		if pc.ConsentGiven {
			n++
		}
	}
	return n
}

// Communication is a message exchanged with parties.
type Communication struct {
	ID               string    `json:"id"`
	Type             string    `json:"type"`
	Subject          string    `json:"subject"`
	Content          string    `json:"content,omitempty"`
	Sender           string    `json:"sender"`
	Recipients       []string  `json:"recipients,omitempty"`
	DateSent         time.Time `json:"date_sent"`
	ResponseRequired bool      `json:"response_required"`
	FollowUpActions  []string  `json:"follow_up_actions,omitempty"`
}

// MeetingRecord records a consultation meeting.
type MeetingRecord struct {
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	Date         time.Time     `json:"date"`
	Location     string        `json:"location,omitempty"`
	Participants []Participant `json:"participants,omitempty"`
	Agenda       []string      `json:"agenda,omitempty"`
	Notes        string        `json:"notes,omitempty"`
	Decisions    []string      `json:"decisions,omitempty"`
	ActionItems  []ActionItem  `json:"action_items,omitempty"`
	Consensus    bool          `json:"consensus"`
}

// Participant attended (or missed) a meeting.
type Participant struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Role         string `json:"role,omitempty"`
	Organization string `json:"organization,omitempty"`
	Attendance   string `json:"attendance,omitempty"`
}

// ActionItem is a task agreed in a meeting.
type ActionItem struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	AssignedTo  []string  `json:"assigned_to,omitempty"`
	Priority    Level     `json:"priority,omitempty"`
	Deadline    time.Time `json:"deadline"`
	Status      string    `json:"status,omitempty"`
}

// Issue statuses.
const (
	IssueOpen     = "open"
	IssueResolved = "resolved"
	IssueDeferred = "deferred"
)

// CriticalIssue is a blocking concern raised during consultation.
type CriticalIssue struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Category       string     `json:"category,omitempty"`
	Severity       string     `json:"severity,omitempty"`
	Status         string     `json:"status"`
	ReportedDate   time.Time  `json:"reported_date"`
	ReportedBy     string     `json:"reported_by,omitempty"`
	Resolution     string     `json:"resolution,omitempty"`
	ResolutionDate *time.Time `json:"resolution_date,omitempty"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`
}

// Risk is a probability × impact entry in the risk register.
type Risk struct {
	ID                 string       `json:"id"`
	Title              string       `json:"title"`
	Description        string       `json:"description,omitempty"`
	Category           RiskCategory `json:"category,omitempty"`
	Probability        Level        `json:"probability"`
	Impact             Level        `json:"impact"`
	Status             RiskStatus   `json:"status"`
	MitigationStrategy string       `json:"mitigation_strategy,omitempty"`
	IdentifiedDate     time.Time    `json:"identified_date"`
}

// WorkflowFilters selects workflows by attribute. An empty slice places no
// constraint on that dimension.
type WorkflowFilters struct {
	Status   []Status           `json:"status,omitempty"`
	Type     []ConsultationType `json:"type,omitempty"`
	Phase    []Phase            `json:"phase,omitempty"`
	Priority []Level            `json:"priority,omitempty"`
}

// Match reports whether w satisfies every dimension of f.
func (f WorkflowFilters) Match(w *Workflow) bool {
	return matchAny(f.Status, w.Status) &&
		matchAny(f.Type, w.Type) &&
		matchAny(f.Phase, w.Phase) &&
		matchAny(f.Priority, w.Priority)
}

func matchAny[T comparable](allowed []T, v T) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == v {
			return true
		}
	}
	return false
}

// WorkflowPatch carries a partial update. Nil fields are left untouched.
type WorkflowPatch struct {
	Title                *string             `json:"title,omitempty"`
	Description          *string             `json:"description,omitempty"`
	Phase                *Phase              `json:"phase,omitempty"`
	Status               *Status             `json:"status,omitempty"`
	Priority             *Level              `json:"priority,omitempty"`
	TargetCompletionDate *time.Time          `json:"target_completion_date,omitempty"`
	ConsensusMechanism   *ConsensusMechanism `json:"consensus_mechanism,omitempty"`
	InitiatingParty      *InitiatingParty    `json:"initiating_party,omitempty"`
	Stakeholders         *[]Stakeholder      `json:"stakeholders,omitempty"`
	IndigenousParties    *[]IndigenousParty  `json:"indigenous_parties,omitempty"`
	Milestones           *[]Milestone        `json:"milestones,omitempty"`
	CurrentMilestone     *string             `json:"current_milestone,omitempty"`
	RegulatoryFramework  *[]string           `json:"regulatory_framework,omitempty"`
	AffectedTerritories  *[]string           `json:"affected_territories,omitempty"`
	AffectedPopulations  *int                `json:"affected_populations,omitempty"`
}

// WorkflowMetrics is the point-in-time progress summary of a workflow.
type WorkflowMetrics struct {
	ProgressPercent     float64 `json:"progress_percent"`
	MilestonesCompleted int     `json:"milestones_completed"`
	TotalMilestones     int     `json:"total_milestones"`
	ConsentsGiven       int     `json:"consents_given"`
	TotalParties        int     `json:"total_parties"`
	RisksActive         int     `json:"risks_active"`
	DaysToDeadline      int     `json:"days_to_deadline"`
}
