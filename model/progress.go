package model

import "time"

// ProgressStatus is the schedule health derived for a snapshot.
type ProgressStatus string

// Progress statuses.
const (
	ProgressOnTrack  ProgressStatus = "on_track"
	ProgressDelayed  ProgressStatus = "delayed"
	ProgressCritical ProgressStatus = "critical"
)

// Snapshot is an immutable, timestamped computation of a workflow's progress,
// deadline and risk metrics.
type Snapshot struct {
	ID                      string         `json:"id"`
	Timestamp               time.Time      `json:"timestamp"`
	WorkflowID              string         `json:"workflow_id"`
	ProgressPercent         float64        `json:"progress_percent"`
	ExpectedProgressPercent float64        `json:"expected_progress_percent"`
	MilestonesCompleted     int            `json:"milestones_completed"`
	TotalMilestones         int            `json:"total_milestones"`
	ConsentsGiven           int            `json:"consents_given"`
	TotalParties            int            `json:"total_parties"`
	DaysToDeadline          int            `json:"days_to_deadline"`
	Status                  ProgressStatus `json:"status"`
	RiskLevel               Level          `json:"risk_level"`
	NextCriticalMilestone   *Milestone     `json:"next_critical_milestone,omitempty"`
	OverdueMilestones       []Milestone    `json:"overdue_milestones"`
	RecentActivity          []Activity     `json:"recent_activity"`
}

// ActivityType classifies activity log entries.
type ActivityType string

// Activity types.
const (
	ActivityMilestoneCompleted ActivityType = "milestone_completed"
	ActivityConsentGiven       ActivityType = "consent_given"
	ActivityCommunicationSent  ActivityType = "communication_sent"
	ActivityMeetingHeld        ActivityType = "meeting_held"
	ActivityRiskIdentified     ActivityType = "risk_identified"
	ActivityIssueResolved      ActivityType = "issue_resolved"
)

// Valid reports whether t is a known activity type.
func (t ActivityType) Valid() bool {
	switch t {
	case ActivityMilestoneCompleted, ActivityConsentGiven, ActivityCommunicationSent,
		ActivityMeetingHeld, ActivityRiskIdentified, ActivityIssueResolved:
		return true
	}
	return false
}

// Activity is an immutable log entry describing a significant action.
type Activity struct {
	ID          string         `json:"id"`
	Type        ActivityType   `json:"type"`
	Description string         `json:"description"`
	Timestamp   time.Time      `json:"timestamp"`
	UserID      string         `json:"user_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// AlertLevel is the severity of an alert.
type AlertLevel string

// Alert levels.
const (
	AlertInfo     AlertLevel = "info"
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// AlertCategory is what an alert is about.
type AlertCategory string

// Alert categories.
const (
	AlertDeadline      AlertCategory = "deadline"
	AlertMilestone     AlertCategory = "milestone"
	AlertConsent       AlertCategory = "consent"
	AlertRisk          AlertCategory = "risk"
	AlertCommunication AlertCategory = "communication"
)

// Alert is raised by evaluating a snapshot against thresholds. Acknowledged
// is only ever set by an explicit acknowledgement.
type Alert struct {
	ID             string        `json:"id"`
	WorkflowID     string        `json:"workflow_id"`
	SnapshotID     string        `json:"snapshot_id,omitempty"`
	Level          AlertLevel    `json:"level"`
	Category       AlertCategory `json:"category"`
	Title          string        `json:"title"`
	Message        string        `json:"message"`
	Timestamp      time.Time     `json:"timestamp"`
	Acknowledged   bool          `json:"acknowledged"`
	AcknowledgedBy string        `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time    `json:"acknowledged_at,omitempty"`
}

// Thresholds configure alert evaluation.
type Thresholds struct {
	DeadlineWarningDays       int     `json:"deadline_warning_days" yaml:"deadline_warning_days"`
	ProgressionWarningPercent float64 `json:"progression_warning_percent" yaml:"progression_warning_percent"`
	RiskAlertLevel            Level   `json:"risk_alert_level" yaml:"risk_alert_level"`
}

// DefaultThresholds returns the thresholds applied when tracking starts
// without explicit configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DeadlineWarningDays:       30,
		ProgressionWarningPercent: 10,
		RiskAlertLevel:            LevelHigh,
	}
}

// ReportType selects the reporting period.
type ReportType string

// Report types.
const (
	ReportDaily     ReportType = "daily"
	ReportWeekly    ReportType = "weekly"
	ReportMonthly   ReportType = "monthly"
	ReportMilestone ReportType = "milestone"
	ReportFinal     ReportType = "final"
)

// Valid reports whether t is a known report type.
func (t ReportType) Valid() bool {
	switch t {
	case ReportDaily, ReportWeekly, ReportMonthly, ReportMilestone, ReportFinal:
		return true
	}
	return false
}

// ReportPeriod is the inclusive time window a report covers.
type ReportPeriod struct {
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// Contains reports whether t falls inside the period.
func (p ReportPeriod) Contains(t time.Time) bool {
	return !t.Before(p.StartDate) && !t.After(p.EndDate)
}

// ReportSummary holds the headline numbers of a report.
type ReportSummary struct {
	ProgressPercent     float64 `json:"progress_percent"`
	ChangeFromPrevious  float64 `json:"change_from_previous"`
	BaselineSnapshotID  string  `json:"baseline_snapshot_id,omitempty"`
	MilestonesCompleted int     `json:"milestones_completed"`
	MilestonesAdded     int     `json:"milestones_added"`
	ConsentsGiven       int     `json:"consents_given"`
	CommunicationsSent  int     `json:"communications_sent"`
	MeetingsHeld        int     `json:"meetings_held"`
}

// Report is a structured period aggregate of snapshots and activity.
type Report struct {
	ID              string        `json:"id"`
	WorkflowID      string        `json:"workflow_id"`
	ReportType      ReportType    `json:"report_type"`
	Period          ReportPeriod  `json:"period"`
	Summary         ReportSummary `json:"summary"`
	Highlights      []Activity    `json:"highlights"`
	Risks           []Risk        `json:"risks"`
	Recommendations []string      `json:"recommendations"`
	NextSteps       []string      `json:"next_steps"`
	GeneratedBy     string        `json:"generated_by"`
	GeneratedAt     time.Time     `json:"generated_at"`
}
