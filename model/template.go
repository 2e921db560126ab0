package model

// Template is the default milestone plan for one consultation type.
type Template struct {
	ID         string              `yaml:"id" json:"id"`
	Name       string              `yaml:"name" json:"name"`
	Type       ConsultationType    `yaml:"type" json:"type"`
	Milestones []MilestoneTemplate `yaml:"milestones" json:"milestones"`
	Checksum   string              `yaml:"-" json:"checksum,omitempty"`
	SourceFile string              `yaml:"-" json:"source_file,omitempty"`
}

// MilestoneTemplate describes a milestone relative to the workflow start.
// Prerequisites reference other keys of the same template.
type MilestoneTemplate struct {
	Key                string   `yaml:"key" json:"key"`
	Title              string   `yaml:"title" json:"title"`
	Description        string   `yaml:"description" json:"description,omitempty"`
	Phase              Phase    `yaml:"phase" json:"phase"`
	OffsetDays         int      `yaml:"offset_days" json:"offset_days"`
	RequiredTasks      []string `yaml:"required_tasks" json:"required_tasks,omitempty"`
	CompletionCriteria []string `yaml:"completion_criteria" json:"completion_criteria,omitempty"`
	Deliverables       []string `yaml:"deliverables" json:"deliverables,omitempty"`
	Prerequisites      []string `yaml:"prerequisites" json:"prerequisites,omitempty"`
}

// TemplateFile is the on-disk layout of a template YAML file.
type TemplateFile struct {
	Templates []Template `yaml:"templates"`
}
