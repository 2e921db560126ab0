package progress

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sanjabh11/consultflow/model"
)

// criticalWithinDays upgrades a deadline alert to critical.
const criticalWithinDays = 7

// Evaluate raises the alerts a snapshot warrants under t. Every evaluation
// raises its alerts afresh; repeated conditions are not deduplicated.
func Evaluate(snap model.Snapshot, t model.Thresholds, now time.Time) []model.Alert {
	var alerts []model.Alert
	raise := func(level model.AlertLevel, category model.AlertCategory, title, message string) {
		alerts = append(alerts, model.Alert{
			ID:         uuid.New().String(),
			WorkflowID: snap.WorkflowID,
			SnapshotID: snap.ID,
			Level:      level,
			Category:   category,
			Title:      title,
			Message:    message,
			Timestamp:  now,
		})
	}

	if snap.DaysToDeadline <= t.DeadlineWarningDays {
		level := model.AlertWarning
		if snap.DaysToDeadline < criticalWithinDays {
			level = model.AlertCritical
		}
		raise(level, model.AlertDeadline, "Deadline Approaching",
			fmt.Sprintf("Project deadline is in %d days. Consider acceleration planning.", snap.DaysToDeadline))
	}

	if n := len(snap.OverdueMilestones); n > 0 {
		raise(model.AlertCritical, model.AlertMilestone, "Overdue Milestones",
			fmt.Sprintf("%d milestones are overdue and require immediate attention.", n))
	}

	if riskExceeds(snap.RiskLevel, t.RiskAlertLevel) {
		level := model.AlertWarning
		if snap.RiskLevel == model.LevelCritical {
			level = model.AlertCritical
		}
		raise(level, model.AlertRisk, "Risk Level Alert",
			fmt.Sprintf("Project risk level is %s. Review risk mitigation strategy.", snap.RiskLevel))
	}

	if t.ProgressionWarningPercent > 0 {
		if gap := snap.ExpectedProgressPercent - snap.ProgressPercent; gap > t.ProgressionWarningPercent {
			raise(model.AlertWarning, model.AlertMilestone, "Progress Behind Schedule",
				fmt.Sprintf("Progress is %.0f%% against an expected %.0f%%. Review milestone planning.",
					snap.ProgressPercent, snap.ExpectedProgressPercent))
		}
	}

	return alerts
}

func riskExceeds(level, threshold model.Level) bool {
	if level == model.LevelCritical {
		return true
	}
	if threshold.Rank() == 0 {
		threshold = model.LevelHigh
	}
	return level.Rank() >= threshold.Rank()
}
