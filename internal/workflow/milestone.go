package workflow

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/sanjabh11/consultflow/model"
)

// followUpDue is how long after a communication its follow-up milestones
// are due.
const followUpDue = 7 * 24 * time.Hour

// orderedIndexes returns the indexes of w.Milestones sorted by Order. Equal
// orders keep their slice position.
func orderedIndexes(w *model.Workflow) []int {
	idx := make([]int, len(w.Milestones))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return w.Milestones[idx[a]].Order < w.Milestones[idx[b]].Order
	})
	return idx
}

// missingPrerequisites lists the prerequisites of m that are not completed.
// done is treated as completed even if its status has not been written yet.
func missingPrerequisites(w *model.Workflow, m *model.Milestone, done string) []string {
	var missing []string
	for _, pre := range m.Prerequisites {
		if pre == done {
			continue
		}
		p, ok := w.Milestone(pre)
		if !ok || p.Status != model.MilestoneCompleted {
			missing = append(missing, pre)
		}
	}
	return missing
}

// advanceMilestone completes the current milestone and activates the next
// one by order. It validates everything before writing, so on error w is
// untouched. to is empty when the completed milestone was the last one.
func advanceMilestone(w *model.Workflow, now time.Time) (from, to string, err error) {
	if w.CurrentMilestone == "" {
		return "", "", model.NewNotFoundError(fmt.Sprintf("workflow %s has no current milestone", w.ID))
	}
	order := orderedIndexes(w)
	pos := -1
	for i, idx := range order {
		if w.Milestones[idx].ID == w.CurrentMilestone {
			pos = i
			break
		}
	}
	if pos < 0 {
		return "", "", model.NewNotFoundError(
			fmt.Sprintf("current milestone %q not found in workflow %s", w.CurrentMilestone, w.ID),
		)
	}

	current := &w.Milestones[order[pos]]
	var next *model.Milestone
	if pos+1 < len(order) {
		next = &w.Milestones[order[pos+1]]
	}

	if next == nil && current.Status == model.MilestoneCompleted {
		return "", "", model.NewInvalidTransitionError(
			fmt.Sprintf("milestone %s is the last milestone and is already completed", current.ID),
		)
	}
	if next != nil {
		if missing := missingPrerequisites(w, next, current.ID); len(missing) > 0 {
			return "", "", model.NewPrerequisitesNotMetError(next.ID, missing)
		}
	}

	if current.Status == model.MilestonePending || current.Status == model.MilestoneInProgress {
		current.Status = model.MilestoneCompleted
		completed := now
		current.ActualCompletionDate = &completed
	}
	if next == nil {
		return current.ID, "", nil
	}

	if next.Status == model.MilestonePending {
		next.Status = model.MilestoneInProgress
	}
	w.CurrentMilestone = next.ID
	return current.ID, next.ID, nil
}

// activateFirst points CurrentMilestone at the first milestone by order and
// starts it when its prerequisites allow.
func activateFirst(w *model.Workflow) {
	if w.CurrentMilestone != "" || len(w.Milestones) == 0 {
		return
	}
	first := &w.Milestones[orderedIndexes(w)[0]]
	w.CurrentMilestone = first.ID
	if first.Status == model.MilestonePending && len(missingPrerequisites(w, first, "")) == 0 {
		first.Status = model.MilestoneInProgress
	}
}

// normalizeMilestones assigns missing IDs and statuses and checks that
// prerequisites reference milestones of the same workflow.
func normalizeMilestones(ms []model.Milestone, now time.Time) []model.FieldError {
	var errs []model.FieldError
	ids := make(map[string]bool, len(ms))
	for i := range ms {
		m := &ms[i]
		if m.ID == "" {
			m.ID = uuid.New().String()
		}
		if ids[m.ID] {
			errs = append(errs, model.FieldError{
				Field: fmt.Sprintf("milestones[%d].id", i), Code: "DUPLICATE",
				Message: fmt.Sprintf("milestone id %q is used more than once", m.ID),
			})
		}
		ids[m.ID] = true
		if m.Status == "" {
			m.Status = model.MilestonePending
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		if m.Title == "" {
			errs = append(errs, model.FieldError{
				Field: fmt.Sprintf("milestones[%d].title", i), Code: "REQUIRED",
				Message: "milestone title is required",
			})
		}
	}
	for i, m := range ms {
		for _, pre := range m.Prerequisites {
			if !ids[pre] {
				errs = append(errs, model.FieldError{
					Field: fmt.Sprintf("milestones[%d].prerequisites", i), Code: "UNKNOWN_MILESTONE",
					Message: fmt.Sprintf("prerequisite %q is not a milestone of this workflow", pre),
				})
			}
		}
	}
	return errs
}

// followUpMilestones builds one pending milestone per follow-up action of c.
func followUpMilestones(w *model.Workflow, c model.Communication, now time.Time) []model.Milestone {
	out := make([]model.Milestone, 0, len(c.FollowUpActions))
	next := len(w.Milestones) + 1
	for _, action := range c.FollowUpActions {
		m := model.Milestone{
			ID:                   uuid.New().String(),
			Title:                "Follow-up: " + action,
			Description:          fmt.Sprintf("Follow-up action from communication %q", c.Subject),
			Phase:                w.Phase,
			Order:                next,
			RequiredTasks:        []string{action},
			Status:               model.MilestonePending,
			TargetCompletionDate: now.Add(followUpDue),
			CreatedAt:            now,
		}
		if c.Sender != "" {
			m.AssignedTo = []string{c.Sender}
		}
		out = append(out, m)
		next++
	}
	return out
}
