package io

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/slok/agentbox/internal/model"
)

// PlanYAMLRepository loads plans from YAML files.
type PlanYAMLRepository struct {
	fs fs.FS
}

// NewPlanYAMLRepository creates a new YAML plan repository.
func NewPlanYAMLRepository(filesystem fs.FS) *PlanYAMLRepository {
	return &PlanYAMLRepository{fs: filesystem}
}

// GetPlan loads a plan from a YAML file and returns a validated domain model.
func (r *PlanYAMLRepository) GetPlan(ctx context.Context, path string) (model.Plan, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return model.Plan{}, fmt.Errorf("reading plan file: %w", err)
	}

	if ctx.Err() != nil {
		return model.Plan{}, ctx.Err()
	}

	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return model.Plan{}, fmt.Errorf("parsing YAML: %w", err)
	}

	plan, err := p.toModel()
	if err != nil {
		return model.Plan{}, fmt.Errorf("invalid plan: %w", err)
	}

	if err := plan.Validate(); err != nil {
		return model.Plan{}, fmt.Errorf("invalid plan: %w", err)
	}

	return plan, nil
}

// Plan represents the YAML structure of a plan.
type Plan struct {
	Project     string     `yaml:"project"`
	MaxAttempts int        `yaml:"max_attempts"`
	Steps       []PlanStep `yaml:"steps"`
}

// PlanStep represents the YAML structure of a plan step.
type PlanStep struct {
	ID         string            `yaml:"id"`
	Command    string            `yaml:"command"`
	DependsOn  []string          `yaml:"depends_on"`
	WorkingDir string            `yaml:"working_dir"`
	Env        map[string]string `yaml:"env"`
	// Timeout uses Go duration format (e.g. 10m).
	Timeout string `yaml:"timeout"`
}

func (p Plan) toModel() (model.Plan, error) {
	plan := model.Plan{
		ProjectID:   p.Project,
		MaxAttempts: p.MaxAttempts,
	}

	for _, s := range p.Steps {
		var timeout time.Duration
		if s.Timeout != "" {
			d, err := time.ParseDuration(s.Timeout)
			if err != nil {
				return model.Plan{}, fmt.Errorf("step %s timeout: %w", s.ID, err)
			}
			timeout = d
		}

		plan.Steps = append(plan.Steps, model.PlanStep{
			ID:         s.ID,
			Command:    s.Command,
			DependsOn:  s.DependsOn,
			WorkingDir: s.WorkingDir,
			Env:        s.Env,
			Timeout:    timeout,
		})
	}

	return plan, nil
}
