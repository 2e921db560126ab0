// Package progress snapshots workflow progress on a schedule, raises alerts
// against thresholds and builds period reports from the retained history.
package progress

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/sanjabh11/consultflow/model"
)

const (
	// delayedWithinDays marks a workflow delayed when its deadline is this
	// close.
	delayedWithinDays = 7

	// snapshotActivityLimit is the number of recent activities copied into
	// a snapshot.
	snapshotActivityLimit = 10
)

// BuildSnapshot computes the progress of w as of now. recent holds the
// workflow's latest activities, oldest first.
func BuildSnapshot(w *model.Workflow, now time.Time, recent []model.Activity) model.Snapshot {
	m := w.Metrics(now)
	overdue := OverdueMilestones(w, now)

	if len(recent) > snapshotActivityLimit {
		recent = recent[len(recent)-snapshotActivityLimit:]
	}
	activity := make([]model.Activity, len(recent))
	copy(activity, recent)

	return model.Snapshot{
		ID:                      uuid.New().String(),
		Timestamp:               now,
		WorkflowID:              w.ID,
		ProgressPercent:         m.ProgressPercent,
		ExpectedProgressPercent: ExpectedProgress(w, now),
		MilestonesCompleted:     m.MilestonesCompleted,
		TotalMilestones:         m.TotalMilestones,
		ConsentsGiven:           m.ConsentsGiven,
		TotalParties:            m.TotalParties,
		DaysToDeadline:          m.DaysToDeadline,
		Status:                  Status(m.DaysToDeadline, overdue),
		RiskLevel:               RiskLevel(w.Risks),
		NextCriticalMilestone:   NextCriticalMilestone(w),
		OverdueMilestones:       overdue,
		RecentActivity:          activity,
	}
}

// Status is critical past the deadline, delayed when the deadline is less
// than a week away or a milestone is overdue, and on track otherwise.
func Status(daysToDeadline int, overdue []model.Milestone) model.ProgressStatus {
	switch {
	case daysToDeadline < 0:
		return model.ProgressCritical
	case daysToDeadline < delayedWithinDays || len(overdue) > 0:
		return model.ProgressDelayed
	default:
		return model.ProgressOnTrack
	}
}

// OverdueMilestones returns the in-progress milestones whose target date
// has passed.
func OverdueMilestones(w *model.Workflow, now time.Time) []model.Milestone {
	overdue := []model.Milestone{}
	for _, m := range w.Milestones {
		if m.Status == model.MilestoneInProgress && m.TargetCompletionDate.Before(now) {
			overdue = append(overdue, m.Clone())
		}
	}
	return overdue
}

// RiskLevel derives the workflow risk level from its register.
func RiskLevel(risks []model.Risk) model.Level {
	has := func(match func(model.Risk) bool) bool {
		for _, r := range risks {
			if match(r) {
				return true
			}
		}
		return false
	}
	switch {
	case has(func(r model.Risk) bool { return r.Status == model.RiskRealized && r.Impact == model.LevelCritical }):
		return model.LevelCritical
	case has(func(r model.Risk) bool { return r.Status == model.RiskRealized && r.Impact == model.LevelHigh }):
		return model.LevelHigh
	case has(func(r model.Risk) bool { return r.Status == model.RiskActive && r.Probability == model.LevelHigh }):
		return model.LevelMedium
	default:
		return model.LevelLow
	}
}

// NextCriticalMilestone is the pending milestone with the earliest target
// date, or nil.
func NextCriticalMilestone(w *model.Workflow) *model.Milestone {
	var pending []model.Milestone
	for _, m := range w.Milestones {
		if m.Status == model.MilestonePending {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].TargetCompletionDate.Before(pending[j].TargetCompletionDate)
	})
	next := pending[0].Clone()
	return &next
}

// ExpectedProgress is the share of the created-to-target window that has
// elapsed, as a percentage in [0, 100].
func ExpectedProgress(w *model.Workflow, now time.Time) float64 {
	total := w.TargetCompletionDate.Sub(w.CreatedDate)
	if total <= 0 {
		return 100
	}
	elapsed := now.Sub(w.CreatedDate)
	switch {
	case elapsed <= 0:
		return 0
	case elapsed >= total:
		return 100
	}
	return float64(elapsed) / float64(total) * 100
}
