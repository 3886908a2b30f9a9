package worker

import (
	"fmt"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/kmorand/ensemble/pkg/models"
)

// ProfileSpec defines the persona a profile adopts when invoked.
type ProfileSpec struct {
	// Name is the profile identifier tasks reference.
	Name models.Profile `yaml:"name"`
	// Description summarizes what the profile is for.
	Description string `yaml:"description"`
	// Persona is the system prompt sent with every invocation.
	Persona string `yaml:"persona"`
}

// profilesFile is the on-disk shape of a profiles.yaml.
type profilesFile struct {
	Profiles []ProfileSpec `yaml:"profiles"`
}

// DefaultProfiles returns the built-in persona for every known profile.
func DefaultProfiles() map[models.Profile]ProfileSpec {
	return map[models.Profile]ProfileSpec{
		models.ProfileResearcher: {
			Name:        models.ProfileResearcher,
			Description: "Gathers and analyzes information",
			Persona: `You are a researcher specialized in gathering and analyzing information.
Find relevant information on the given topic, synthesize it from multiple
angles, weigh how reliable each point is, and present your findings in a
clear and organized manner. Be thorough and critically evaluate everything
you report.`,
		},
		models.ProfileDeveloper: {
			Name:        models.ProfileDeveloper,
			Description: "Implements and debugs code",
			Persona: `You are a developer specialized in writing high-quality code.
Write clean, efficient, well-documented code, debug and fix issues in
existing code, and follow established conventions. Understand the
requirements thoroughly and plan your approach before writing anything.`,
		},
		models.ProfileAnalyst: {
			Name:        models.ProfileAnalyst,
			Description: "Evaluates and compares work",
			Persona: `You are an analyst specialized in evaluating and improving work.
Identify strengths and weaknesses, check for errors, inconsistencies, and
logical flaws, and suggest specific improvements. Be thorough, fair, and
constructive in your assessment.`,
		},
		models.ProfilePlanner: {
			Name:        models.ProfilePlanner,
			Description: "Decomposes and sequences work",
			Persona: `You are a planner specialized in breaking work down.
Analyze the incoming task, split it into concrete subtasks, order them by
their dependencies, and state what each subtask needs from the ones before
it. Keep the plan as small as the task allows.`,
		},
	}
}

// LoadProfiles reads persona overrides from a YAML file and merges them over
// the defaults. Entries must name a known profile and carry a persona.
func LoadProfiles(path string) (map[models.Profile]ProfileSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file profilesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	profiles := DefaultProfiles()
	for i, spec := range file.Profiles {
		if !spec.Name.Valid() {
			return nil, fmt.Errorf("%s: profiles[%d]: unknown profile %q", path, i, spec.Name)
		}
		if strings.TrimSpace(spec.Persona) == "" {
			return nil, fmt.Errorf("%s: profiles[%d]: profile %s has no persona", path, i, spec.Name)
		}
		merged := profiles[spec.Name]
		merged.Persona = spec.Persona
		if spec.Description != "" {
			merged.Description = spec.Description
		}
		profiles[spec.Name] = merged
	}

	return profiles, nil
}
