package transport

import (
	"net/http"

	"github.com/sanjabh11/consultflow/model"
)

func (a *api) createConsultation(w http.ResponseWriter, r *http.Request) {
	var body model.Workflow
	if err := decodeJSON(w, r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	created, err := a.engine.Create(r.Context(), actor(r), body)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/consultations/"+created.ID)
	WriteJSON(w, http.StatusCreated, created)
}

func (a *api) listConsultations(w http.ResponseWriter, r *http.Request) {
	filters := model.WorkflowFilters{
		Status:   convertList[model.Status](queryList(r, "status")),
		Type:     convertList[model.ConsultationType](queryList(r, "type")),
		Phase:    convertList[model.Phase](queryList(r, "phase")),
		Priority: convertList[model.Level](queryList(r, "priority")),
	}
	list, err := a.engine.List(r.Context(), filters)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if list == nil {
		list = []model.Workflow{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"data":        list,
		"total_count": len(list),
	})
}

func (a *api) getConsultation(w http.ResponseWriter, r *http.Request) {
	wf, err := a.engine.Get(r.Context(), workflowID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, wf)
}

func (a *api) updateConsultation(w http.ResponseWriter, r *http.Request) {
	var patch model.WorkflowPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		a.fail(w, r, err)
		return
	}
	wf, err := a.engine.Update(r.Context(), actor(r), workflowID(r), patch)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, wf)
}

func (a *api) consultationMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := a.engine.Metrics(r.Context(), workflowID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, m)
}

func (a *api) consultationAudit(w http.ResponseWriter, r *http.Request) {
	id := workflowID(r)
	if _, err := a.engine.Get(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	entries, err := a.engine.Audit(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"data": entries})
}

func (a *api) advanceMilestone(w http.ResponseWriter, r *http.Request) {
	milestones, err := a.engine.AdvanceMilestone(r.Context(), actor(r), workflowID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"milestones": milestones})
}

// --- Consent ---

func (a *api) recordConsent(w http.ResponseWriter, r *http.Request) {
	var pc model.PartyConsent
	if err := decodeJSON(w, r, &pc); err != nil {
		a.fail(w, r, err)
		return
	}
	if pc.RecordedBy == "" {
		pc.RecordedBy = actor(r)
	}
	status, err := a.engine.RecordConsent(r.Context(), actor(r), workflowID(r), pc)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

func (a *api) finalizeConsent(w http.ResponseWriter, r *http.Request) {
	status, err := a.engine.FinalizeConsent(r.Context(), actor(r), workflowID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// --- Journals ---

func (a *api) addCommunication(w http.ResponseWriter, r *http.Request) {
	var c model.Communication
	if err := decodeJSON(w, r, &c); err != nil {
		a.fail(w, r, err)
		return
	}
	created, err := a.engine.AddCommunication(r.Context(), actor(r), workflowID(r), c)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, created)
}

func (a *api) addMeeting(w http.ResponseWriter, r *http.Request) {
	var m model.MeetingRecord
	if err := decodeJSON(w, r, &m); err != nil {
		a.fail(w, r, err)
		return
	}
	created, err := a.engine.AddMeetingRecord(r.Context(), actor(r), workflowID(r), m)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, created)
}

func (a *api) addRisk(w http.ResponseWriter, r *http.Request) {
	var risk model.Risk
	if err := decodeJSON(w, r, &risk); err != nil {
		a.fail(w, r, err)
		return
	}
	created, err := a.engine.AddRisk(r.Context(), actor(r), workflowID(r), risk)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, created)
}

func (a *api) updateRisk(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status model.RiskStatus `json:"status"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	updated, err := a.engine.UpdateRiskStatus(r.Context(), actor(r), workflowID(r), chiParam(r, "riskId"), body.Status)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, updated)
}

func (a *api) reportIssue(w http.ResponseWriter, r *http.Request) {
	var issue model.CriticalIssue
	if err := decodeJSON(w, r, &issue); err != nil {
		a.fail(w, r, err)
		return
	}
	created, err := a.engine.ReportIssue(r.Context(), actor(r), workflowID(r), issue)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, created)
}

func (a *api) resolveIssue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Resolution string `json:"resolution"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	resolved, err := a.engine.ResolveIssue(r.Context(), actor(r), workflowID(r), chiParam(r, "issueId"), body.Resolution)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, resolved)
}
