package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/GriffinCanCode/filer/internal/job"
	"github.com/GriffinCanCode/filer/internal/shared/paths"
)

// Preferences are the user choices jobs consult. It implements
// job.Preferences.
type Preferences struct {
	// Policy answers conflicts without asking unless it is "ask"
	Policy string `envconfig:"FILER_CONFLICT_POLICY" default:"ask" json:"conflict_policy"`

	// PermanentDelete lets a trash job delete outright when the trash is
	// unavailable; PermanentDeletePaths narrows that to these trees
	PermanentDelete      bool     `envconfig:"FILER_PERMANENT_DELETE" default:"false" json:"permanent_delete"`
	PermanentDeletePaths []string `envconfig:"FILER_PERMANENT_DELETE_PATHS" json:"permanent_delete_paths,omitempty"`

	// Confirmations a view layer should ask for before submitting
	ConfirmDelete bool `envconfig:"FILER_CONFIRM_DELETE" default:"true" json:"confirm_delete"`
	ConfirmTrash  bool `envconfig:"FILER_CONFIRM_TRASH" default:"false" json:"confirm_trash"`

	// File is an optional YAML file overriding the values above
	File string `envconfig:"FILER_PREFERENCES_FILE" json:"-"`
}

// ConflictPolicy implements job.Preferences
func (p Preferences) ConflictPolicy() job.Policy {
	policy, err := job.ParsePolicy(p.Policy)
	if err != nil {
		return job.PolicyAsk
	}
	return policy
}

// AllowPermanentDelete implements job.Preferences
func (p Preferences) AllowPermanentDelete(path string) bool {
	if !p.PermanentDelete {
		return false
	}
	if len(p.PermanentDeletePaths) == 0 {
		return true
	}
	for _, root := range p.PermanentDeletePaths {
		norm, err := paths.Normalize(root)
		if err != nil {
			continue
		}
		if path == norm || paths.IsAncestor(norm, path) {
			return true
		}
	}
	return false
}

// preferencesFile mirrors Preferences with optional fields so a file only
// overrides what it sets
type preferencesFile struct {
	ConflictPolicy       *string   `yaml:"conflict_policy"`
	PermanentDelete      *bool     `yaml:"permanent_delete"`
	PermanentDeletePaths *[]string `yaml:"permanent_delete_paths"`
	ConfirmDelete        *bool     `yaml:"confirm_delete"`
	ConfirmTrash         *bool     `yaml:"confirm_trash"`
}

// LoadPreferencesFile overlays the YAML file at path onto p
func LoadPreferencesFile(path string, p *Preferences) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read preferences: %w", err)
	}
	var f preferencesFile
	if err := yaml.UnmarshalWithOptions(data, &f, yaml.DisallowUnknownField()); err != nil {
		return fmt.Errorf("failed to parse preferences %s: %w", path, err)
	}

	if f.ConflictPolicy != nil {
		p.Policy = *f.ConflictPolicy
	}
	if f.PermanentDelete != nil {
		p.PermanentDelete = *f.PermanentDelete
	}
	if f.PermanentDeletePaths != nil {
		p.PermanentDeletePaths = *f.PermanentDeletePaths
	}
	if f.ConfirmDelete != nil {
		p.ConfirmDelete = *f.ConfirmDelete
	}
	if f.ConfirmTrash != nil {
		p.ConfirmTrash = *f.ConfirmTrash
	}
	return nil
}

// SavePreferencesFile writes p to path as YAML
func SavePreferencesFile(path string, p Preferences) error {
	f := preferencesFile{
		ConflictPolicy:       &p.Policy,
		PermanentDelete:      &p.PermanentDelete,
		PermanentDeletePaths: &p.PermanentDeletePaths,
		ConfirmDelete:        &p.ConfirmDelete,
		ConfirmTrash:         &p.ConfirmTrash,
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	return nil
}
