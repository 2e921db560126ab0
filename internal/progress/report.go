package progress

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/sanjabh11/consultflow/model"
)

const (
	highlightLimit = 5
	staleMeeting   = 30 * 24 * time.Hour
)

var significantActivity = map[model.ActivityType]bool{
	model.ActivityMilestoneCompleted: true,
	model.ActivityConsentGiven:       true,
	model.ActivityMeetingHeld:        true,
}

// ReportInput is everything BuildReport reads. Snapshots and Activities
// are ordered oldest first.
type ReportInput struct {
	Workflow    *model.Workflow
	Type        model.ReportType
	Snapshots   []model.Snapshot
	Activities  []model.Activity
	GeneratedBy string
	Now         time.Time
}

// BuildReport aggregates the period's snapshots and activity into a report.
// It fails with NO_PROGRESS_DATA when no snapshot has been taken.
func BuildReport(in ReportInput) (model.Report, error) {
	w := in.Workflow
	if len(in.Snapshots) == 0 {
		return model.Report{}, model.NewNoProgressDataError(w.ID)
	}
	if !in.Type.Valid() {
		return model.Report{}, model.NewBadRequestError(fmt.Sprintf("unknown report type %q", in.Type))
	}

	current := in.Snapshots[len(in.Snapshots)-1]
	period := PeriodFor(in.Type, in.Snapshots, in.Now)
	baseline := Baseline(in.Snapshots, period.StartDate)

	summary := model.ReportSummary{
		ProgressPercent:    current.ProgressPercent,
		ChangeFromPrevious: current.ProgressPercent - baseline.ProgressPercent,
		BaselineSnapshotID: baseline.ID,
	}
	for _, m := range w.Milestones {
		if m.Status == model.MilestoneCompleted && m.ActualCompletionDate != nil && period.Contains(*m.ActualCompletionDate) {
			summary.MilestonesCompleted++
		}
		if period.Contains(m.CreatedAt) {
			summary.MilestonesAdded++
		}
	}
	for _, pc := range w.ConsentStatus.PartyConsents {
		if pc.ConsentGiven && pc.ConsentDate != nil && period.Contains(*pc.ConsentDate) {
			summary.ConsentsGiven++
		}
	}
	for _, c := range w.Communications {
		if period.Contains(c.DateSent) {
			summary.CommunicationsSent++
		}
	}
	for _, m := range w.MeetingRecords {
		if period.Contains(m.Date) {
			summary.MeetingsHeld++
		}
	}

	risks := []model.Risk{}
	for _, r := range w.Risks {
		if r.Status == model.RiskActive {
			risks = append(risks, r)
		}
	}

	return model.Report{
		ID:              uuid.New().String(),
		WorkflowID:      w.ID,
		ReportType:      in.Type,
		Period:          period,
		Summary:         summary,
		Highlights:      highlights(in.Activities, period),
		Risks:           risks,
		Recommendations: Recommendations(current),
		NextSteps:       NextSteps(w, in.Now),
		GeneratedBy:     in.GeneratedBy,
		GeneratedAt:     in.Now,
	}, nil
}

// PeriodFor returns the window a report of type t covers, ending at now.
//
//   - daily: the current UTC day, from 00:00 UTC of now's UTC date,
//     whatever now's location.
//   - weekly and monthly: the last 7 and 30 days.
//   - milestone and final: the retained history, from the oldest snapshot.
func PeriodFor(t model.ReportType, snapshots []model.Snapshot, now time.Time) model.ReportPeriod {
	var start time.Time
	switch t {
	case model.ReportDaily:
		u := now.UTC()
		start = time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	case model.ReportWeekly:
		start = now.Add(-7 * 24 * time.Hour)
	case model.ReportMonthly:
		start = now.Add(-30 * 24 * time.Hour)
	default:
		start = now
		if len(snapshots) > 0 {
			start = snapshots[0].Timestamp
		}
	}
	return model.ReportPeriod{StartDate: start, EndDate: now}
}

// Baseline picks the snapshot whose timestamp is nearest to start. On a tie
// the older snapshot wins.
func Baseline(snapshots []model.Snapshot, start time.Time) model.Snapshot {
	best := snapshots[0]
	bestDist := absDuration(best.Timestamp.Sub(start))
	for _, s := range snapshots[1:] {
		if d := absDuration(s.Timestamp.Sub(start)); d < bestDist {
			best, bestDist = s, d
		}
	}
	return best
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// highlights returns the significant activities of the period, most recent
// first.
func highlights(activities []model.Activity, period model.ReportPeriod) []model.Activity {
	out := []model.Activity{}
	for _, a := range activities {
		if significantActivity[a.Type] && period.Contains(a.Timestamp) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > highlightLimit {
		out = out[:highlightLimit]
	}
	return out
}

// Recommendations derives rule-based advice from the latest snapshot.
func Recommendations(s model.Snapshot) []string {
	var recs []string
	if s.Status == model.ProgressDelayed {
		recs = append(recs, "Increase resource allocation to address project delay")
	}
	if s.DaysToDeadline < 30 {
		recs = append(recs, "Consider requesting deadline extension if necessary")
	}
	if s.MilestonesCompleted > 0 && s.TotalMilestones > 0 &&
		float64(s.MilestonesCompleted)/float64(s.TotalMilestones) < 0.5 {
		recs = append(recs, "Schedule stakeholder meeting to address outstanding milestones")
	}
	if s.RiskLevel == model.LevelHigh || s.RiskLevel == model.LevelCritical {
		recs = append(recs, "Review and address identified risks immediately")
	}
	if float64(s.ConsentsGiven) < float64(s.TotalParties)/2 {
		recs = append(recs, "Accelerate consultations to obtain more consents")
	}
	if len(recs) == 0 {
		return []string{"Project is progressing well, continue current course"}
	}
	return recs
}

// NextSteps lists the immediate actions for w: the next pending milestone
// and its tasks, outstanding consents and a stale meeting check.
func NextSteps(w *model.Workflow, now time.Time) []string {
	var steps []string

	ordered := append([]model.Milestone(nil), w.Milestones...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })
	for _, m := range ordered {
		if m.Status != model.MilestonePending {
			continue
		}
		steps = append(steps, "Complete "+m.Title)
		for _, task := range m.RequiredTasks {
			steps = append(steps, "• "+task)
		}
		break
	}

	outstanding := w.ConsentStatus.ConsentsGiven() < w.TotalParties()
	for _, pc := range w.ConsentStatus.PartyConsents {
		if !pc.ConsentGiven {
			outstanding = true
		}
	}
	if outstanding {
		steps = append(steps, "Obtain consents from remaining stakeholders")
	}

	if n := len(w.MeetingRecords); n == 0 || w.MeetingRecords[n-1].Date.Before(now.Add(-staleMeeting)) {
		steps = append(steps, "Schedule next stakeholder consultation meeting")
	}

	if len(steps) == 0 {
		return []string{"No immediate next steps identified"}
	}
	return steps
}
