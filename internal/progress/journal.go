package progress

import (
	"sync"
	"time"

	"github.com/sanjabh11/consultflow/model"
)

// Limits bound the per-workflow history kept by a Journal. A zero cap or
// age disables that bound.
type Limits struct {
	MaxSnapshots      int
	MaxAlerts         int
	MaxActivities     int
	MaxReports        int
	SnapshotRetention time.Duration
	ActivityRetention time.Duration
}

// DefaultLimits returns the retention applied when none is configured.
func DefaultLimits() Limits {
	return Limits{
		MaxSnapshots:      100,
		MaxAlerts:         50,
		MaxActivities:     1000,
		MaxReports:        20,
		SnapshotRetention: 90 * 24 * time.Hour,
		ActivityRetention: 30 * 24 * time.Hour,
	}
}

// Journal holds the bounded snapshot, alert, activity and report history of
// every workflow. All entries are kept oldest first. Safe for concurrent use.
type Journal struct {
	limits Limits

	mu         sync.RWMutex
	snapshots  map[string][]model.Snapshot
	alerts     map[string][]model.Alert
	activities map[string][]model.Activity
	reports    map[string][]model.Report
}

// NewJournal creates an empty Journal.
func NewJournal(limits Limits) *Journal {
	return &Journal{
		limits:     limits,
		snapshots:  make(map[string][]model.Snapshot),
		alerts:     make(map[string][]model.Alert),
		activities: make(map[string][]model.Activity),
		reports:    make(map[string][]model.Report),
	}
}

// capped drops the oldest entries of s beyond max.
func capped[T any](s []T, max int) []T {
	if max > 0 && len(s) > max {
		s = append([]T(nil), s[len(s)-max:]...)
	}
	return s
}

// --- Snapshots ---

// AddSnapshot appends s to its workflow's history.
func (j *Journal) AddSnapshot(s model.Snapshot) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.snapshots[s.WorkflowID] = capped(append(j.snapshots[s.WorkflowID], s), j.limits.MaxSnapshots)
}

// Snapshots returns a copy of the workflow's snapshot history.
func (j *Journal) Snapshots(workflowID string) []model.Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return append([]model.Snapshot(nil), j.snapshots[workflowID]...)
}

// LatestSnapshot returns the most recent snapshot, if any.
func (j *Journal) LatestSnapshot(workflowID string) (model.Snapshot, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	s := j.snapshots[workflowID]
	if len(s) == 0 {
		return model.Snapshot{}, false
	}
	return s[len(s)-1], true
}

// SnapshotsSince returns the snapshots taken at or after since.
func (j *Journal) SnapshotsSince(workflowID string, since time.Time) []model.Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var out []model.Snapshot
	for _, s := range j.snapshots[workflowID] {
		if !s.Timestamp.Before(since) {
			out = append(out, s)
		}
	}
	return out
}

// --- Alerts ---

// AddAlerts appends alerts to their workflow's history.
func (j *Journal) AddAlerts(workflowID string, alerts []model.Alert) {
	if len(alerts) == 0 {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.alerts[workflowID] = capped(append(j.alerts[workflowID], alerts...), j.limits.MaxAlerts)
}

// Alerts returns the workflow's alerts. Acknowledged alerts are included only
// when includeAcknowledged is set.
func (j *Journal) Alerts(workflowID string, includeAcknowledged bool) []model.Alert {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := []model.Alert{}
	for _, a := range j.alerts[workflowID] {
		if includeAcknowledged || !a.Acknowledged {
			out = append(out, a)
		}
	}
	return out
}

// Acknowledge marks one alert as acknowledged by userID. Acknowledging an
// already acknowledged alert keeps the original acknowledgement.
func (j *Journal) Acknowledge(workflowID, alertID, userID string, now time.Time) (model.Alert, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	alerts, ok := j.alerts[workflowID]
	if !ok {
		return model.Alert{}, model.NewNotFoundError("no alerts for workflow " + workflowID)
	}
	for i := range alerts {
		if alerts[i].ID != alertID {
			continue
		}
		if !alerts[i].Acknowledged {
			at := now
			alerts[i].Acknowledged = true
			alerts[i].AcknowledgedBy = userID
			alerts[i].AcknowledgedAt = &at
		}
		return alerts[i], nil
	}
	return model.Alert{}, model.NewNotFoundError("alert " + alertID + " not found")
}

// --- Activities ---

// AddActivity appends a to the workflow's activity log.
func (j *Journal) AddActivity(workflowID string, a model.Activity) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.activities[workflowID] = capped(append(j.activities[workflowID], a), j.limits.MaxActivities)
}

// RecentActivities returns up to limit of the latest activities, oldest
// first. A non-positive limit returns them all.
func (j *Journal) RecentActivities(workflowID string, limit int) []model.Activity {
	j.mu.RLock()
	defer j.mu.RUnlock()
	a := j.activities[workflowID]
	if limit > 0 && len(a) > limit {
		a = a[len(a)-limit:]
	}
	return append([]model.Activity{}, a...)
}

// --- Reports ---

// AddReport appends r to the workflow's report history.
func (j *Journal) AddReport(r model.Report) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.reports[r.WorkflowID] = capped(append(j.reports[r.WorkflowID], r), j.limits.MaxReports)
}

// Reports returns the workflow's generated reports, oldest first.
func (j *Journal) Reports(workflowID string) []model.Report {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return append([]model.Report{}, j.reports[workflowID]...)
}

// --- Lifecycle ---

// Clear drops every entry recorded for the workflow.
func (j *Journal) Clear(workflowID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.snapshots, workflowID)
	delete(j.alerts, workflowID)
	delete(j.activities, workflowID)
	delete(j.reports, workflowID)
}

// PruneResult counts the entries removed by Prune.
type PruneResult struct {
	Snapshots  int
	Activities int
}

// Prune evicts snapshots and activities older than their retention age.
func (j *Journal) Prune(now time.Time) PruneResult {
	j.mu.Lock()
	defer j.mu.Unlock()

	var res PruneResult
	if j.limits.SnapshotRetention > 0 {
		cutoff := now.Add(-j.limits.SnapshotRetention)
		for id, snaps := range j.snapshots {
			kept := snaps[:0:0]
			for _, s := range snaps {
				if s.Timestamp.Before(cutoff) {
					res.Snapshots++
					continue
				}
				kept = append(kept, s)
			}
			j.snapshots[id] = kept
		}
	}
	if j.limits.ActivityRetention > 0 {
		cutoff := now.Add(-j.limits.ActivityRetention)
		for id, acts := range j.activities {
			kept := acts[:0:0]
			for _, a := range acts {
				if a.Timestamp.Before(cutoff) {
					res.Activities++
					continue
				}
				kept = append(kept, a)
			}
			j.activities[id] = kept
		}
	}
	return res
}
