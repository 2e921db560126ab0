package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/sanjabh11/consultflow/internal/progress"
	"github.com/sanjabh11/consultflow/model"
)

const dateLayout = "2006-01-02"

// render prints v as indented JSON when --json is set, otherwise calls
// tables.
func (a *app) render(v any, tables func()) error {
	if a.v.GetBool("json") {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	tables()
	return nil
}

func (a *app) newTable(title string) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(a.out)
	if title != "" {
		tw.SetTitle(title)
	}
	return tw
}

func (a *app) workflowTable(ws []model.Workflow) {
	tw := a.newTable("")
	tw.AppendHeader(table.Row{"ID", "Title", "Type", "Phase", "Status", "Priority", "Consent", "Target"})
	for _, w := range ws {
		tw.AppendRow(table.Row{
			w.ID, w.Title, w.Type, w.Phase, w.Status, w.Priority,
			w.ConsentStatus.OverallConsent, w.TargetCompletionDate.Format(dateLayout),
		})
	}
	tw.AppendFooter(table.Row{"", "", "", "", "", "", "Total", len(ws)})
	tw.Render()
}

func (a *app) workflowDetail(w model.Workflow) {
	tw := a.newTable(w.Title)
	tw.AppendRows([]table.Row{
		{"ID", w.ID},
		{"Type", w.Type},
		{"Phase", w.Phase},
		{"Status", w.Status},
		{"Priority", w.Priority},
		{"Consensus", w.ConsensusMechanism},
		{"Consent", fmt.Sprintf("%s (%d/%d)", w.ConsentStatus.OverallConsent, w.ConsentStatus.ConsentsGiven(), w.TotalParties())},
		{"Current milestone", w.CurrentMilestone},
		{"Target", w.TargetCompletionDate.Format(dateLayout)},
		{"Version", w.Version},
	})
	tw.Render()
}

func (a *app) milestoneTable(ms []model.Milestone) {
	tw := a.newTable("Milestones")
	tw.AppendHeader(table.Row{"#", "ID", "Title", "Status", "Target", "Completed"})
	for _, m := range ms {
		completed := ""
		if m.ActualCompletionDate != nil {
			completed = m.ActualCompletionDate.Format(dateLayout)
		}
		tw.AppendRow(table.Row{m.Order, m.ID, m.Title, m.Status, m.TargetCompletionDate.Format(dateLayout), completed})
	}
	tw.Render()
}

func (a *app) consentTable(cs model.ConsentStatus) {
	tw := a.newTable(fmt.Sprintf("Consent: %s", cs.OverallConsent))
	tw.AppendHeader(table.Row{"Party", "Name", "Given", "Conditions", "Recorded by"})
	for _, pc := range cs.PartyConsents {
		tw.AppendRow(table.Row{pc.PartyID, pc.PartyName, pc.ConsentGiven, strings.Join(pc.Conditions, "; "), pc.RecordedBy})
	}
	tw.Render()
}

func (a *app) trackedTable(ts []progress.TrackedWorkflow) {
	tw := a.newTable("")
	tw.AppendHeader(table.Row{"Workflow", "Interval", "Deadline warning (days)", "Started"})
	for _, t := range ts {
		tw.AppendRow(table.Row{t.WorkflowID, t.Interval, t.Thresholds.DeadlineWarningDays, t.StartedAt.Format(time.RFC3339)})
	}
	tw.Render()
}

func (a *app) snapshotTable(s model.Snapshot) {
	tw := a.newTable("Snapshot " + s.ID)
	tw.AppendRows([]table.Row{
		{"Status", s.Status},
		{"Progress", fmt.Sprintf("%.1f%% (expected %.1f%%)", s.ProgressPercent, s.ExpectedProgressPercent)},
		{"Milestones", fmt.Sprintf("%d/%d", s.MilestonesCompleted, s.TotalMilestones)},
		{"Consents", fmt.Sprintf("%d/%d", s.ConsentsGiven, s.TotalParties)},
		{"Days to deadline", s.DaysToDeadline},
		{"Risk level", s.RiskLevel},
		{"Overdue milestones", len(s.OverdueMilestones)},
	})
	if s.NextCriticalMilestone != nil {
		tw.AppendRow(table.Row{"Next critical milestone", s.NextCriticalMilestone.Title})
	}
	tw.Render()
}

func (a *app) alertTable(alerts []model.Alert) {
	tw := a.newTable("")
	tw.AppendHeader(table.Row{"ID", "Level", "Category", "Title", "Raised", "Acknowledged"})
	for _, al := range alerts {
		ack := ""
		if al.Acknowledged {
			ack = al.AcknowledgedBy
		}
		tw.AppendRow(table.Row{al.ID, al.Level, al.Category, al.Title, al.Timestamp.Format(time.RFC3339), ack})
	}
	tw.Render()
}

func (a *app) reportView(r model.Report) {
	tw := a.newTable(fmt.Sprintf("%s report %s to %s", r.ReportType,
		r.Period.StartDate.Format(dateLayout), r.Period.EndDate.Format(dateLayout)))
	tw.AppendRows([]table.Row{
		{"Progress", fmt.Sprintf("%.1f%% (%+.1f)", r.Summary.ProgressPercent, r.Summary.ChangeFromPrevious)},
		{"Milestones completed", r.Summary.MilestonesCompleted},
		{"Consents given", r.Summary.ConsentsGiven},
		{"Communications sent", r.Summary.CommunicationsSent},
		{"Meetings held", r.Summary.MeetingsHeld},
		{"Open risks", len(r.Risks)},
	})
	tw.Render()

	if len(r.Recommendations) > 0 {
		fmt.Fprintln(a.out, "Recommendations:")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(a.out, "  - %s\n", rec)
		}
	}
	if len(r.NextSteps) > 0 {
		fmt.Fprintln(a.out, "Next steps:")
		for _, step := range r.NextSteps {
			fmt.Fprintf(a.out, "  - %s\n", step)
		}
	}
}
