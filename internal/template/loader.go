// Package template loads milestone templates from YAML, validates them and
// serves them from a registry with atomic pointer swap.
package template

import (
	"crypto/sha256"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sanjabh11/consultflow/model"
)

//go:embed defaults/*.yaml
var defaultsFS embed.FS

// Loader scans directories for YAML template files, parses them, and
// records the SHA-256 checksum of each source file.
type Loader struct{}

// NewLoader creates a new template Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadDefaults parses the templates compiled into the binary.
func (l *Loader) LoadDefaults() ([]model.Template, error) {
	var out []model.Template
	err := fs.WalkDir(defaultsFS, "defaults", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := defaultsFS.ReadFile(path)
		if err != nil {
			return err
		}
		ts, err := l.parse(path, data)
		if err != nil {
			return err
		}
		out = append(out, ts...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading embedded templates: %w", err)
	}
	return out, nil
}

// LoadAll recursively scans directories for *.yaml and *.yml files and
// parses the templates in each.
func (l *Loader) LoadAll(directories []string) ([]model.Template, error) {
	var out []model.Template

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			ts, err := l.LoadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			out = append(out, ts...)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return out, nil
}

// LoadFile loads and parses a single YAML template file.
func (l *Loader) LoadFile(path string) ([]model.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return l.parse(path, data)
}

func (l *Loader) parse(path string, data []byte) ([]model.Template, error) {
	var file model.TemplateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	checksum := fmt.Sprintf("%x", sha256.Sum256(data))
	for i := range file.Templates {
		file.Templates[i].Checksum = checksum
		file.Templates[i].SourceFile = path
	}
	return file.Templates, nil
}

// Merge overlays templates onto base by ID. The result is sorted by ID.
func Merge(base []model.Template, overlays ...[]model.Template) []model.Template {
	byID := make(map[string]model.Template, len(base))
	for _, t := range base {
		byID[t.ID] = t
	}
	for _, set := range overlays {
		for _, t := range set {
			byID[t.ID] = t
		}
	}
	out := make([]model.Template, 0, len(byID))
	for _, t := range byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Load reads the embedded defaults, overlays the templates found in
// directories and validates the result.
func Load(directories []string) ([]model.Template, error) {
	l := NewLoader()
	defaults, err := l.LoadDefaults()
	if err != nil {
		return nil, err
	}
	custom, err := l.LoadAll(directories)
	if err != nil {
		return nil, err
	}
	templates := Merge(defaults, custom)
	if verrs := NewValidator().Validate(templates); len(verrs) > 0 {
		return nil, ValidationErrors(verrs)
	}
	return templates, nil
}
