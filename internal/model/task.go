package model

import (
	"fmt"
	"time"
)

// TaskStatus represents the state of a task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in-progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	// TaskStatusBlocked marks a task that failed before and is not eligible
	// for an automatic retry without explicit intervention.
	TaskStatusBlocked TaskStatus = "blocked"
)

// Valid returns true if the status is a known one.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusFailed, TaskStatusBlocked:
		return true
	}
	return false
}

// Task represents a single step in a multi-step plan.
type Task struct {
	ID           string
	Dependencies []string
	Status       TaskStatus
	Error        string
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// Copy returns a deep copy of the task.
func (t Task) Copy() Task {
	c := t
	if t.Dependencies != nil {
		c.Dependencies = append([]string(nil), t.Dependencies...)
	}
	if t.StartedAt != nil {
		ts := *t.StartedAt
		c.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	return c
}

// Validate validates the task model.
func (t Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task id is required: %w", ErrNotValid)
	}

	if t.Status != "" && !t.Status.Valid() {
		return fmt.Errorf("task %s has unknown status %q: %w", t.ID, t.Status, ErrNotValid)
	}

	for _, dep := range t.Dependencies {
		if dep == t.ID {
			return fmt.Errorf("task %s depends on itself: %w", t.ID, ErrNotValid)
		}
	}

	return nil
}
