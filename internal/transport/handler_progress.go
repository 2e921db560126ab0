package transport

import (
	"net/http"
	"time"

	"github.com/sanjabh11/consultflow/internal/progress"
	"github.com/sanjabh11/consultflow/model"
)

// --- Tracking ---

type startTrackingRequest struct {
	// Interval is a Go duration string such as "30m".
	Interval   string            `json:"interval,omitempty"`
	Thresholds *model.Thresholds `json:"thresholds,omitempty"`
}

func (a *api) startTracking(w http.ResponseWriter, r *http.Request) {
	var body startTrackingRequest
	if err := decodeJSON(w, r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	opts := progress.TrackOptions{Thresholds: body.Thresholds}
	if body.Interval != "" {
		d, err := time.ParseDuration(body.Interval)
		if err != nil || d <= 0 {
			WriteValidationError(w, []model.FieldError{{
				Field:   "interval",
				Code:    "INVALID",
				Message: "interval must be a positive duration such as 30m",
			}})
			return
		}
		opts.Interval = d
	}

	tracked, err := a.tracker.StartTracking(r.Context(), workflowID(r), opts)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, tracked)
}

func (a *api) stopTracking(w http.ResponseWriter, r *http.Request) {
	a.tracker.StopTracking(workflowID(r))
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) listTracked(w http.ResponseWriter, _ *http.Request) {
	tracked := a.tracker.TrackedWorkflows()
	if tracked == nil {
		tracked = []progress.TrackedWorkflow{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"data": tracked})
}

// --- Snapshots ---

func (a *api) currentProgress(w http.ResponseWriter, r *http.Request) {
	snap, err := a.tracker.CurrentSnapshot(workflowID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, snap)
}

func (a *api) createSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := a.tracker.CreateSnapshot(r.Context(), workflowID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, snap)
}

func (a *api) progressHistory(w http.ResponseWriter, r *http.Request) {
	history := a.tracker.History(workflowID(r), queryInt(r, "days", 7))
	if history == nil {
		history = []model.Snapshot{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"data": history})
}

func (a *api) clearProgress(w http.ResponseWriter, r *http.Request) {
	a.tracker.ClearWorkflowData(workflowID(r))
	w.WriteHeader(http.StatusNoContent)
}

// --- Alerts ---

func (a *api) listAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := a.tracker.Alerts(workflowID(r), queryBool(r, "include_acknowledged"))
	WriteJSON(w, http.StatusOK, map[string]any{"data": alerts})
}

func (a *api) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := a.tracker.AcknowledgeAlert(workflowID(r), chiParam(r, "alertId"), actor(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, alert)
}

// --- Activities ---

func (a *api) logActivity(w http.ResponseWriter, r *http.Request) {
	id := workflowID(r)
	if _, err := a.engine.Get(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	var act model.Activity
	if err := decodeJSON(w, r, &act); err != nil {
		a.fail(w, r, err)
		return
	}
	if act.UserID == "" {
		act.UserID = actor(r)
	}
	logged, err := a.tracker.LogActivity(id, act)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, logged)
}

func (a *api) listActivities(w http.ResponseWriter, r *http.Request) {
	acts := a.tracker.RecentActivity(workflowID(r), queryInt(r, "limit", 20))
	if acts == nil {
		acts = []model.Activity{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"data": acts})
}

// --- Reports ---

func (a *api) generateReport(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type model.ReportType `json:"type"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	if body.Type == "" {
		body.Type = model.ReportWeekly
	}
	report, err := a.tracker.GenerateReport(r.Context(), workflowID(r), body.Type, actor(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, report)
}

func (a *api) listReports(w http.ResponseWriter, r *http.Request) {
	reports := a.tracker.Reports(workflowID(r))
	if reports == nil {
		reports = []model.Report{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"data": reports})
}

// --- Templates ---

func (a *api) listTemplates(w http.ResponseWriter, _ *http.Request) {
	all := a.templates.All()
	if all == nil {
		all = []model.Template{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"data":     all,
		"checksum": a.templates.Checksum(),
	})
}
