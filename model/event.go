package model

import (
	"encoding/json"
	"time"
)

// EventType names a state change published on the event bus.
type EventType string

// Event types.
const (
	EventWorkflowCreated    EventType = "workflow_created"
	EventWorkflowUpdated    EventType = "workflow_updated"
	EventMilestoneAdvanced  EventType = "milestone_advanced"
	EventConsentUpdated     EventType = "consent_updated"
	EventConsentFinalized   EventType = "consent_finalized"
	EventCommunicationAdded EventType = "communication_added"
	EventMeetingRecorded    EventType = "meeting_recorded"
	EventRiskAdded          EventType = "risk_added"
	EventRiskUpdated        EventType = "risk_updated"
	EventIssueReported      EventType = "issue_reported"
	EventIssueResolved      EventType = "issue_resolved"
	EventAlertRaised        EventType = "alert_raised"
)

// Event is delivered to bus listeners. Data holds the payload specific to
// the event type (usually the updated workflow).
type Event struct {
	Type       EventType `json:"type"`
	WorkflowID string    `json:"workflow_id"`
	Data       any       `json:"data,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Audit actions written by the engine.
const (
	AuditWorkflowCreated    = "workflow_created"
	AuditWorkflowUpdated    = "workflow_updated"
	AuditMilestoneCompleted = "milestone_completed"
	AuditConsentRecorded    = "consent_recorded"
	AuditConsentFinalized   = "consent_finalized"
	AuditCommunicationAdded = "communication_added"
	AuditMeetingAdded       = "meeting_added"
	AuditRiskAdded          = "risk_added"
	AuditRiskUpdated        = "risk_updated"
	AuditIssueReported      = "issue_reported"
	AuditIssueResolved      = "issue_resolved"
)

// AuditEntry is one append-only record of a mutation.
type AuditEntry struct {
	ID         string          `json:"id"`
	WorkflowID string          `json:"workflow_id"`
	Action     string          `json:"action"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}
