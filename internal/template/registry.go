package template

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sanjabh11/consultflow/model"
)

// snapshot is an immutable collection of templates indexed by ID and type.
type snapshot struct {
	byID     map[string]model.Template
	byType   map[model.ConsultationType]model.Template
	checksum string
}

// Registry is a read-optimized, thread-safe store of loaded templates. It
// uses atomic pointer swap for lock-free concurrent reads.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given templates.
func NewRegistry(templates []model.Template) *Registry {
	r := &Registry{}
	r.Replace(templates)
	return r
}

// Replace atomically swaps the registry contents.
func (r *Registry) Replace(templates []model.Template) {
	s := &snapshot{
		byID:   make(map[string]model.Template, len(templates)),
		byType: make(map[model.ConsultationType]model.Template, len(templates)),
	}

	var checksumParts []string
	for _, t := range templates {
		s.byID[t.ID] = t
		s.byType[t.Type] = t
		checksumParts = append(checksumParts, t.ID+"="+t.Checksum)
	}

	sort.Strings(checksumParts)
	combined := strings.Join(checksumParts, ":")
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// Get returns the template with the given ID.
func (r *Registry) Get(id string) (model.Template, bool) {
	t, ok := r.current().byID[id]
	return t, ok
}

// ForType returns the template serving a consultation type.
func (r *Registry) ForType(ct model.ConsultationType) (model.Template, bool) {
	t, ok := r.current().byType[ct]
	return t, ok
}

// All returns every template sorted by ID.
func (r *Registry) All() []model.Template {
	s := r.current()
	out := make([]model.Template, 0, len(s.byID))
	for _, t := range s.byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of loaded templates.
func (r *Registry) Len() int {
	return len(r.current().byID)
}

// Checksum returns the combined checksum of all loaded templates.
func (r *Registry) Checksum() string {
	return r.current().checksum
}

// Plan instantiates the milestones of the template for ct, with target dates
// offset from start. It returns false when no template serves ct.
func (r *Registry) Plan(ct model.ConsultationType, start time.Time) ([]model.Milestone, bool) {
	t, ok := r.ForType(ct)
	if !ok {
		return nil, false
	}
	return Instantiate(t, start), true
}

// Instantiate turns template milestones into pending workflow milestones.
// Prerequisite keys are rewritten to the generated milestone IDs.
func Instantiate(t model.Template, start time.Time) []model.Milestone {
	ids := make(map[string]string, len(t.Milestones))
	for _, mt := range t.Milestones {
		ids[mt.Key] = uuid.New().String()
	}

	out := make([]model.Milestone, len(t.Milestones))
	for i, mt := range t.Milestones {
		var prereqs []string
		for _, p := range mt.Prerequisites {
			if id, ok := ids[p]; ok {
				prereqs = append(prereqs, id)
			}
		}
		out[i] = model.Milestone{
			ID:                   ids[mt.Key],
			Title:                mt.Title,
			Description:          mt.Description,
			Phase:                mt.Phase,
			Order:                i + 1,
			RequiredTasks:        append([]string(nil), mt.RequiredTasks...),
			CompletionCriteria:   append([]string(nil), mt.CompletionCriteria...),
			Deliverables:         append([]string(nil), mt.Deliverables...),
			Prerequisites:        prereqs,
			Status:               model.MilestonePending,
			TargetCompletionDate: start.AddDate(0, 0, mt.OffsetDays),
			CreatedAt:            start,
		}
	}
	return out
}
