package model

import (
	"fmt"
	"time"
)

// Plan is a set of dependent commands to run in a project sandbox.
type Plan struct {
	ProjectID string
	// MaxAttempts is the number of recoveries allowed per step, 0 means the default.
	MaxAttempts int
	Steps       []PlanStep
}

// PlanStep is a single command of a plan.
type PlanStep struct {
	ID         string
	Command    string
	DependsOn  []string
	WorkingDir string
	Env        map[string]string
	Timeout    time.Duration
}

// Tasks returns the pending tasks of the plan steps.
func (p Plan) Tasks() []Task {
	tasks := make([]Task, 0, len(p.Steps))
	for _, s := range p.Steps {
		tasks = append(tasks, Task{
			ID:           s.ID,
			Dependencies: append([]string(nil), s.DependsOn...),
			Status:       TaskStatusPending,
		})
	}
	return tasks
}

// Step returns the step with the ID.
func (p Plan) Step(id string) (PlanStep, bool) {
	for _, s := range p.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return PlanStep{}, false
}

// Validate validates the plan model. Dependency structure is validated by the task graph.
func (p Plan) Validate() error {
	if err := ValidateProjectID(p.ProjectID); err != nil {
		return err
	}

	if p.MaxAttempts < 0 {
		return fmt.Errorf("max attempts can't be negative: %w", ErrNotValid)
	}

	if len(p.Steps) == 0 {
		return fmt.Errorf("at least one step is required: %w", ErrNotValid)
	}

	seen := map[string]bool{}
	for _, s := range p.Steps {
		if s.ID == "" {
			return fmt.Errorf("step id is required: %w", ErrNotValid)
		}
		if seen[s.ID] {
			return fmt.Errorf("step %s is duplicated: %w", s.ID, ErrNotValid)
		}
		seen[s.ID] = true

		if s.Command == "" {
			return fmt.Errorf("step %s command is required: %w", s.ID, ErrNotValid)
		}
		if s.Timeout < 0 {
			return fmt.Errorf("step %s timeout can't be negative: %w", s.ID, ErrNotValid)
		}
	}

	return nil
}
