package workflow

import (
	"strings"

	"github.com/sanjabh11/consultflow/model"
)

func validStatus(s model.Status) bool {
	switch s {
	case model.StatusDraft, model.StatusActive, model.StatusPaused, model.StatusCompleted, model.StatusCancelled:
		return true
	}
	return false
}

func validPhase(p model.Phase) bool {
	switch p {
	case model.PhaseIdentification, model.PhaseInformationDissemination, model.PhaseEngagement,
		model.PhaseNegotiation, model.PhaseConsent, model.PhaseImplementation:
		return true
	}
	return false
}

// validatePatch checks the fields a patch sets.
func validatePatch(p model.WorkflowPatch) []model.FieldError {
	var errs []model.FieldError
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		errs = append(errs, model.FieldError{Field: "title", Code: "REQUIRED", Message: "title must not be blank"})
	}
	if p.Phase != nil && !validPhase(*p.Phase) {
		errs = append(errs, model.FieldError{Field: "phase", Code: "INVALID", Message: "unknown phase"})
	}
	if p.Status != nil && !validStatus(*p.Status) {
		errs = append(errs, model.FieldError{Field: "status", Code: "INVALID", Message: "unknown status"})
	}
	if p.Priority != nil && p.Priority.Rank() == 0 {
		errs = append(errs, model.FieldError{Field: "priority", Code: "INVALID", Message: "unknown priority"})
	}
	if p.ConsensusMechanism != nil && !p.ConsensusMechanism.Valid() {
		errs = append(errs, model.FieldError{Field: "consensus_mechanism", Code: "INVALID", Message: "unknown consensus mechanism"})
	}
	if p.TargetCompletionDate != nil && p.TargetCompletionDate.IsZero() {
		errs = append(errs, model.FieldError{Field: "target_completion_date", Code: "REQUIRED", Message: "target completion date must be set"})
	}
	return errs
}

// applyPatch merges the non-nil fields of p into w and returns the names of
// the fields it changed.
func applyPatch(w *model.Workflow, p model.WorkflowPatch) []string {
	var changed []string
	set := func(name string, apply func()) {
		apply()
		changed = append(changed, name)
	}
	if p.Title != nil {
		set("title", func() { w.Title = *p.Title })
	}
	if p.Description != nil {
		set("description", func() { w.Description = *p.Description })
	}
	if p.Phase != nil {
		set("phase", func() { w.Phase = *p.Phase })
	}
	if p.Status != nil {
		set("status", func() { w.Status = *p.Status })
	}
	if p.Priority != nil {
		set("priority", func() { w.Priority = *p.Priority })
	}
	if p.TargetCompletionDate != nil {
		set("target_completion_date", func() { w.TargetCompletionDate = p.TargetCompletionDate.UTC() })
	}
	if p.ConsensusMechanism != nil {
		set("consensus_mechanism", func() { w.ConsensusMechanism = *p.ConsensusMechanism })
	}
	if p.InitiatingParty != nil {
		set("initiating_party", func() { w.InitiatingParty = *p.InitiatingParty })
	}
	if p.Stakeholders != nil {
		set("stakeholders", func() { w.Stakeholders = *p.Stakeholders })
	}
	if p.IndigenousParties != nil {
		set("indigenous_parties", func() { w.IndigenousParties = *p.IndigenousParties })
	}
	if p.Milestones != nil {
		set("milestones", func() { w.Milestones = *p.Milestones })
	}
	if p.CurrentMilestone != nil {
		set("current_milestone", func() { w.CurrentMilestone = *p.CurrentMilestone })
	}
	if p.RegulatoryFramework != nil {
		set("regulatory_framework", func() { w.RegulatoryFramework = *p.RegulatoryFramework })
	}
	if p.AffectedTerritories != nil {
		set("affected_territories", func() { w.AffectedTerritories = *p.AffectedTerritories })
	}
	if p.AffectedPopulations != nil {
		set("affected_populations", func() { w.AffectedPopulations = *p.AffectedPopulations })
	}
	return changed
}
