package progress

import (
	"testing"

	"github.com/sanjabh11/consultflow/model"
)

// alertsBy indexes alerts by title.
func alertsBy(alerts []model.Alert) map[string]model.Alert {
	out := make(map[string]model.Alert, len(alerts))
	for _, a := range alerts {
		out[a.Title] = a
	}
	return out
}

func healthySnapshot() model.Snapshot {
	return model.Snapshot{
		ID:                      "snap-1",
		WorkflowID:              "wf",
		DaysToDeadline:          90,
		RiskLevel:               model.LevelLow,
		ProgressPercent:         50,
		ExpectedProgressPercent: 50,
	}
}

func TestEvaluate_Healthy(t *testing.T) {
	if alerts := Evaluate(healthySnapshot(), model.DefaultThresholds(), baseTime); len(alerts) != 0 {
		t.Errorf("healthy snapshot raised %+v", alerts)
	}
}

func TestEvaluate_Deadline(t *testing.T) {
	tests := []struct {
		name  string
		days  int
		want  model.AlertLevel
		raise bool
	}{
		{"five days is critical", 5, model.AlertCritical, true},
		{"seven days is warning", 7, model.AlertWarning, true},
		{"at threshold", 30, model.AlertWarning, true},
		{"beyond threshold", 31, "", false},
		{"overdue", -2, model.AlertCritical, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := healthySnapshot()
			snap.DaysToDeadline = tt.days

			got := alertsBy(Evaluate(snap, model.DefaultThresholds(), baseTime))
			a, ok := got["Deadline Approaching"]
			if ok != tt.raise {
				t.Fatalf("raised = %v, want %v", ok, tt.raise)
			}
			if !tt.raise {
				return
			}
			if a.Level != tt.want || a.Category != model.AlertDeadline {
				t.Errorf("alert = %s/%s, want %s/%s", a.Level, a.Category, tt.want, model.AlertDeadline)
			}
			if a.SnapshotID != "snap-1" || !a.Timestamp.Equal(baseTime) || a.Acknowledged {
				t.Errorf("alert = %+v", a)
			}
		})
	}
}

func TestEvaluate_FiveDayDeadlineMessage(t *testing.T) {
	snap := healthySnapshot()
	snap.DaysToDeadline = 5

	alerts := Evaluate(snap, model.DefaultThresholds(), baseTime)
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	if alerts[0].Level != model.AlertCritical {
		t.Errorf("Level = %s, want critical", alerts[0].Level)
	}
	if want := "Project deadline is in 5 days. Consider acceleration planning."; alerts[0].Message != want {
		t.Errorf("Message = %q, want %q", alerts[0].Message, want)
	}
}

func TestEvaluate_Overdue(t *testing.T) {
	snap := healthySnapshot()
	snap.OverdueMilestones = []model.Milestone{{ID: "m1"}, {ID: "m2"}}

	a, ok := alertsBy(Evaluate(snap, model.DefaultThresholds(), baseTime))["Overdue Milestones"]
	if !ok {
		t.Fatal("no overdue alert")
	}
	if a.Level != model.AlertCritical || a.Category != model.AlertMilestone {
		t.Errorf("alert = %s/%s", a.Level, a.Category)
	}
	if want := "2 milestones are overdue and require immediate attention."; a.Message != want {
		t.Errorf("Message = %q, want %q", a.Message, want)
	}
}

func TestEvaluate_Risk(t *testing.T) {
	tests := []struct {
		name      string
		level     model.Level
		threshold model.Level
		want      model.AlertLevel
		raise     bool
	}{
		{"high at high threshold", model.LevelHigh, model.LevelHigh, model.AlertWarning, true},
		{"critical always", model.LevelCritical, model.LevelCritical, model.AlertCritical, true},
		{"medium below high", model.LevelMedium, model.LevelHigh, "", false},
		{"medium at medium threshold", model.LevelMedium, model.LevelMedium, model.AlertWarning, true},
		{"unset threshold means high", model.LevelMedium, "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := healthySnapshot()
			snap.RiskLevel = tt.level
			th := model.DefaultThresholds()
			th.RiskAlertLevel = tt.threshold

			a, ok := alertsBy(Evaluate(snap, th, baseTime))["Risk Level Alert"]
			if ok != tt.raise {
				t.Fatalf("raised = %v, want %v", ok, tt.raise)
			}
			if tt.raise && (a.Level != tt.want || a.Category != model.AlertRisk) {
				t.Errorf("alert = %s/%s, want %s/%s", a.Level, a.Category, tt.want, model.AlertRisk)
			}
		})
	}
}

func TestEvaluate_Progression(t *testing.T) {
	snap := healthySnapshot()
	snap.ExpectedProgressPercent = 70
	snap.ProgressPercent = 50

	a, ok := alertsBy(Evaluate(snap, model.DefaultThresholds(), baseTime))["Progress Behind Schedule"]
	if !ok {
		t.Fatal("no progression alert")
	}
	if a.Level != model.AlertWarning || a.Category != model.AlertMilestone {
		t.Errorf("alert = %s/%s", a.Level, a.Category)
	}

	snap.ExpectedProgressPercent = 60
	if _, ok := alertsBy(Evaluate(snap, model.DefaultThresholds(), baseTime))["Progress Behind Schedule"]; ok {
		t.Error("a gap equal to the threshold raised an alert")
	}

	th := model.DefaultThresholds()
	th.ProgressionWarningPercent = 0
	snap.ExpectedProgressPercent = 100
	if _, ok := alertsBy(Evaluate(snap, th, baseTime))["Progress Behind Schedule"]; ok {
		t.Error("a zero threshold still raised an alert")
	}
}

func TestEvaluate_NoDeduplication(t *testing.T) {
	snap := healthySnapshot()
	snap.DaysToDeadline = 3

	first := Evaluate(snap, model.DefaultThresholds(), baseTime)
	second := Evaluate(snap, model.DefaultThresholds(), baseTime)
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("alerts = %d and %d, want 1 each", len(first), len(second))
	}
	if first[0].ID == second[0].ID {
		t.Errorf("repeated evaluation reused alert ID %s", first[0].ID)
	}
}
