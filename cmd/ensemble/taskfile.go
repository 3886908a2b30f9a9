package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kmorand/ensemble/pkg/models"
)

// taskEntry is one task in an ensemble.yaml task file.
type taskEntry struct {
	// ID names the task; generated from its position when omitted.
	ID string `yaml:"id"`
	// Profile selects the worker; inferred from instructions when omitted.
	Profile string `yaml:"profile"`
	// Instructions is the work description. Required.
	Instructions string `yaml:"instructions"`
	// Priority orders dispatch within a wave; higher runs first.
	Priority int `yaml:"priority"`
	// DependsOn lists task IDs that must complete first.
	DependsOn []string `yaml:"depends_on"`
	// Timeout overrides the per-task timeout, as a duration string.
	Timeout string `yaml:"timeout"`
}

// taskFile is the on-disk shape of a task file.
type taskFile struct {
	Tasks []taskEntry `yaml:"tasks"`
}

// loadTaskFile parses a YAML task file into tasks ready for submission.
// Missing ids become positional (task-1, task-2, ...); missing profiles
// stay empty for the manager to infer.
func loadTaskFile(path string) ([]*models.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading task file: %w", err)
	}

	var file taskFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(file.Tasks) == 0 {
		return nil, fmt.Errorf("%s: no tasks defined", path)
	}

	tasks := make([]*models.Task, 0, len(file.Tasks))
	for i, entry := range file.Tasks {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			id = fmt.Sprintf("task-%d", i+1)
		}
		if strings.TrimSpace(entry.Instructions) == "" {
			return nil, fmt.Errorf("%s: task %s has no instructions", path, id)
		}

		profile := models.Profile(entry.Profile)
		if entry.Profile != "" && !profile.Valid() {
			return nil, fmt.Errorf("%s: task %s: unknown profile %q", path, id, entry.Profile)
		}

		var timeout time.Duration
		if entry.Timeout != "" {
			timeout, err = time.ParseDuration(entry.Timeout)
			if err != nil {
				return nil, fmt.Errorf("%s: task %s: invalid timeout %q", path, id, entry.Timeout)
			}
		}

		tasks = append(tasks, &models.Task{
			ID:           id,
			Profile:      profile,
			Instructions: entry.Instructions,
			Priority:     entry.Priority,
			DependsOn:    entry.DependsOn,
			Timeout:      timeout,
		})
	}
	return tasks, nil
}
