package template

import (
	"fmt"
	"strings"

	"github.com/sanjabh11/consultflow/model"
)

// VError describes a single validation error in a template.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors is returned by Load when templates fail validation.
type ValidationErrors []VError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return "invalid templates: " + strings.Join(msgs, "; ")
}

var validPhases = map[model.Phase]bool{
	model.PhaseIdentification:           true,
	model.PhaseInformationDissemination: true,
	model.PhaseEngagement:               true,
	model.PhaseNegotiation:              true,
	model.PhaseConsent:                  true,
	model.PhaseImplementation:           true,
}

// Validator checks templates structurally and referentially.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks every template. At most one template may exist per
// consultation type.
func (v *Validator) Validate(templates []model.Template) []VError {
	var errs []VError
	byType := make(map[model.ConsultationType]string)

	for i, t := range templates {
		prefix := fmt.Sprintf("templates[%d]", i)
		errs = append(errs, v.validateTemplate(prefix, t)...)

		if t.Type == "" {
			continue
		}
		if other, dup := byType[t.Type]; dup {
			errs = append(errs, VError{
				Path:    prefix + ".type",
				Code:    "DUPLICATE_TYPE",
				Message: fmt.Sprintf("type %q already served by template %q", t.Type, other),
			})
			continue
		}
		byType[t.Type] = t.ID
	}
	return errs
}

func (v *Validator) validateTemplate(prefix string, t model.Template) []VError {
	var errs []VError

	if t.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if t.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "name is required"})
	}
	if t.Type == "" {
		errs = append(errs, VError{Path: prefix + ".type", Code: "REQUIRED", Message: "type is required"})
	} else if !t.Type.Valid() {
		errs = append(errs, VError{Path: prefix + ".type", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid consultation type %q", t.Type)})
	}
	if len(t.Milestones) == 0 {
		errs = append(errs, VError{Path: prefix + ".milestones", Code: "REQUIRED", Message: "at least one milestone is required"})
	}

	keys := make(map[string]bool, len(t.Milestones))
	for i, m := range t.Milestones {
		mp := fmt.Sprintf("%s.milestones[%d]", prefix, i)
		switch {
		case m.Key == "":
			errs = append(errs, VError{Path: mp + ".key", Code: "REQUIRED", Message: "milestone key is required"})
		case keys[m.Key]:
			errs = append(errs, VError{Path: mp + ".key", Code: "DUPLICATE_KEY", Message: fmt.Sprintf("duplicate milestone key %q", m.Key)})
		}
		keys[m.Key] = true

		if m.Title == "" {
			errs = append(errs, VError{Path: mp + ".title", Code: "REQUIRED", Message: "milestone title is required"})
		}
		if m.Phase != "" && !validPhases[m.Phase] {
			errs = append(errs, VError{Path: mp + ".phase", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid phase %q", m.Phase)})
		}
		if m.OffsetDays < 0 {
			errs = append(errs, VError{Path: mp + ".offset_days", Code: "INVALID", Message: "offset_days must not be negative"})
		}
	}

	// Prerequisites must name keys of the same template.
	for i, m := range t.Milestones {
		for _, p := range m.Prerequisites {
			if !keys[p] {
				errs = append(errs, VError{
					Path:    fmt.Sprintf("%s.milestones[%d].prerequisites", prefix, i),
					Code:    "REF_NOT_FOUND",
					Message: fmt.Sprintf("prerequisite %q not found", p),
				})
			}
		}
	}

	if cycle := findCycle(t.Milestones); cycle != nil {
		errs = append(errs, VError{
			Path:    prefix + ".milestones",
			Code:    "CYCLE",
			Message: "prerequisite cycle: " + strings.Join(cycle, " -> "),
		})
	}

	return errs
}

// findCycle returns the keys of one prerequisite cycle, or nil.
func findCycle(ms []model.MilestoneTemplate) []string {
	deps := make(map[string][]string, len(ms))
	for _, m := range ms {
		deps[m.Key] = m.Prerequisites
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(ms))
	var path []string

	var visit func(key string) []string
	visit = func(key string) []string {
		switch state[key] {
		case done:
			return nil
		case visiting:
			for i, k := range path {
				if k == key {
					return append(append([]string(nil), path[i:]...), key)
				}
			}
		}
		state[key] = visiting
		path = append(path, key)
		for _, dep := range deps[key] {
			if _, known := deps[dep]; !known {
				continue
			}
			if c := visit(dep); c != nil {
				return c
			}
		}
		path = path[:len(path)-1]
		state[key] = done
		return nil
	}

	for _, m := range ms {
		if c := visit(m.Key); c != nil {
			return c
		}
	}
	return nil
}
