package model

import "time"

// Clone returns a deep copy of w. Stores hand out clones so that callers can
// never mutate stored state in place.
func (w *Workflow) Clone() Workflow {
	c := *w
	c.InitiatingParty.ContactInfo = cloneSlice(w.InitiatingParty.ContactInfo, nil)
	c.Stakeholders = cloneSlice(w.Stakeholders, func(s Stakeholder) Stakeholder {
		s.ContactInfo = cloneSlice(s.ContactInfo, nil)
		s.Preferences = s.Preferences.clone()
		s.InterestAreas = cloneSlice(s.InterestAreas, nil)
		return s
	})
	c.IndigenousParties = cloneSlice(w.IndigenousParties, func(p IndigenousParty) IndigenousParty {
		p.TraditionalTerritory = cloneSlice(p.TraditionalTerritory, nil)
		p.ContactInfo = cloneSlice(p.ContactInfo, nil)
		p.Preferences = p.Preferences.clone()
		return p
	})
	c.Milestones = cloneSlice(w.Milestones, Milestone.Clone)
	c.ConsentStatus = w.ConsentStatus.clone()
	c.Communications = cloneSlice(w.Communications, func(m Communication) Communication {
		m.Recipients = cloneSlice(m.Recipients, nil)
		m.FollowUpActions = cloneSlice(m.FollowUpActions, nil)
		return m
	})
	c.MeetingRecords = cloneSlice(w.MeetingRecords, func(m MeetingRecord) MeetingRecord {
		m.Participants = cloneSlice(m.Participants, nil)
		m.Agenda = cloneSlice(m.Agenda, nil)
		m.Decisions = cloneSlice(m.Decisions, nil)
		m.ActionItems = cloneSlice(m.ActionItems, func(a ActionItem) ActionItem {
			a.AssignedTo = cloneSlice(a.AssignedTo, nil)
			return a
		})
		return m
	})
	c.CriticalIssues = cloneSlice(w.CriticalIssues, func(i CriticalIssue) CriticalIssue {
		i.ResolutionDate = cloneTime(i.ResolutionDate)
		return i
	})
	c.Risks = cloneSlice(w.Risks, nil)
	c.RegulatoryFramework = cloneSlice(w.RegulatoryFramework, nil)
	c.AffectedTerritories = cloneSlice(w.AffectedTerritories, nil)
	return c
}

// Clone returns a deep copy of m.
func (m Milestone) Clone() Milestone {
	m.RequiredTasks = cloneSlice(m.RequiredTasks, nil)
	m.CompletionCriteria = cloneSlice(m.CompletionCriteria, nil)
	m.ActualCompletionDate = cloneTime(m.ActualCompletionDate)
	m.AssignedTo = cloneSlice(m.AssignedTo, nil)
	m.Prerequisites = cloneSlice(m.Prerequisites, nil)
	m.Deliverables = cloneSlice(m.Deliverables, nil)
	return m
}

func (cs ConsentStatus) clone() ConsentStatus {
	cs.PartyConsents = cloneSlice(cs.PartyConsents, func(pc PartyConsent) PartyConsent {
		pc.ConsentDate = cloneTime(pc.ConsentDate)
		pc.Conditions = cloneSlice(pc.Conditions, nil)
		return pc
	})
	cs.ConsentDate = cloneTime(cs.ConsentDate)
	cs.Conditions = cloneSlice(cs.Conditions, nil)
	return cs
}

func (p ConsultationPreference) clone() ConsultationPreference {
	p.PreferredMethods = cloneSlice(p.PreferredMethods, nil)
	p.Accessibility = cloneSlice(p.Accessibility, nil)
	return p
}

func cloneSlice[T any](s []T, deep func(T) T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	for i, v := range s {
		if deep != nil {
			v = deep(v)
		}
		out[i] = v
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
