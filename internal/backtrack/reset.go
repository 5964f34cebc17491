package backtrack

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/taskgraph"
)

// ResetTask resets a task to pending and, when cascade is set, every task that
// depends on it transitively. Returns the reset tasks.
func ResetTask(graph *taskgraph.Graph, taskID string, cascade bool) ([]string, error) {
	if err := graph.Reset(taskID); err != nil {
		return nil, fmt.Errorf("could not reset task: %w", err)
	}
	reset := []string{taskID}

	if !cascade {
		return reset, nil
	}

	dependents, err := graph.Dependents(taskID)
	if err != nil {
		return nil, fmt.Errorf("could not get dependents: %w", err)
	}
	for _, id := range dependents {
		if err := graph.Reset(id); err != nil {
			return nil, fmt.Errorf("could not reset task: %w", err)
		}
	}

	return append(reset, dependents...), nil
}

// ResetFrom resets the task and every task after it in topological order.
// Returns the reset tasks in that order.
func ResetFrom(graph *taskgraph.Graph, taskID string) ([]string, error) {
	if !graph.Has(taskID) {
		return nil, fmt.Errorf("task %s: %w", taskID, model.ErrNotFound)
	}

	order := graph.TopologicalOrder()
	start := 0
	for i, id := range order {
		if id == taskID {
			start = i
			break
		}
	}

	reset := append([]string(nil), order[start:]...)
	for _, id := range reset {
		if err := graph.Reset(id); err != nil {
			return nil, fmt.Errorf("could not reset task: %w", err)
		}
	}

	return reset, nil
}

// Checkpoint is an externally supplied checkpoint of an agent run.
type Checkpoint struct {
	ID             string
	TaskID         string
	CompletedTasks []string
	FailedTasks    []string
	Timestamp      time.Time
	Reason         string
}

var errFailedBefore = errors.New("failed in a previous run")

// FromCheckpoint converts a checkpoint into a backtrack point using the template
// graph structure. Completed tasks are marked completed, failed tasks are marked
// blocked so they are not retried blindly, and the rest are pending. A checkpoint
// without timestamp is stamped with now.
func FromCheckpoint(cp Checkpoint, template *taskgraph.Graph, now time.Time) (*Point, error) {
	g := template.Clone()
	for _, id := range g.IDs() {
		if err := g.Reset(id); err != nil {
			return nil, err
		}
	}

	for _, id := range cp.CompletedTasks {
		if !g.Has(id) {
			return nil, fmt.Errorf("completed task %s is not in the graph: %w", id, model.ErrNotValid)
		}
		if err := g.Complete(id); err != nil {
			return nil, err
		}
	}

	for _, id := range cp.FailedTasks {
		if !g.Has(id) {
			return nil, fmt.Errorf("failed task %s is not in the graph: %w", id, model.ErrNotValid)
		}
		if err := g.Block(id, errFailedBefore); err != nil {
			return nil, err
		}
	}

	p := &Point{
		ID:        cp.ID,
		TaskID:    cp.TaskID,
		Timestamp: cp.Timestamp,
		Graph:     g,
		Reason:    cp.Reason,
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = now.UTC()
	}
	if p.ID == "" {
		p.ID = ulid.MustNew(ulid.Timestamp(p.Timestamp), rand.Reader).String()
	}
	if p.Reason == "" {
		p.Reason = "restored from checkpoint"
	}

	return p, nil
}
