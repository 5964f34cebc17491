// Package taskgraph implements the dependency ordered set of tasks an agent run executes.
//
// A Graph is a DAG: every dependency must reference an existing task and
// cycles are rejected when the graph is built, so closure queries always terminate.
package taskgraph

import (
	"fmt"
	"sort"
	"time"

	"github.com/slok/agentbox/internal/model"
)

// Graph is a set of tasks with dependency edges.
// It is not safe for concurrent use, it is owned by a single agent run.
type Graph struct {
	tasks     map[string]*model.Task
	UpdatedAt time.Time

	timeNow func() time.Time
}

// Option configures a graph.
type Option func(*Graph)

// WithTimeNow sets the clock used to stamp tasks and updates.
func WithTimeNow(f func() time.Time) Option {
	return func(g *Graph) { g.timeNow = f }
}

// New returns a validated graph with the tasks.
// Tasks without status are set as pending.
func New(tasks []model.Task, opts ...Option) (*Graph, error) {
	g := &Graph{
		tasks:   make(map[string]*model.Task, len(tasks)),
		timeNow: time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}

	for _, t := range tasks {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, ok := g.tasks[t.ID]; ok {
			return nil, fmt.Errorf("task %s: %w", t.ID, model.ErrAlreadyExists)
		}
		t := t.Copy()
		if t.Status == "" {
			t.Status = model.TaskStatusPending
		}
		g.tasks[t.ID] = &t
	}

	for _, t := range g.tasks {
		for _, dep := range t.Dependencies {
			if _, ok := g.tasks[dep]; !ok {
				return nil, fmt.Errorf("task %s depends on unknown task %s: %w", t.ID, dep, model.ErrNotValid)
			}
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, fmt.Errorf("dependency cycle %v: %w", cycle, model.ErrNotValid)
	}

	g.touch()
	return g, nil
}

// AddTask adds a new task, its dependencies must already exist.
// A new task can't close a cycle because nothing can depend on it yet.
func (g *Graph) AddTask(t model.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if _, ok := g.tasks[t.ID]; ok {
		return fmt.Errorf("task %s: %w", t.ID, model.ErrAlreadyExists)
	}
	for _, dep := range t.Dependencies {
		if _, ok := g.tasks[dep]; !ok {
			return fmt.Errorf("task %s depends on unknown task %s: %w", t.ID, dep, model.ErrNotValid)
		}
	}

	t = t.Copy()
	if t.Status == "" {
		t.Status = model.TaskStatusPending
	}
	g.tasks[t.ID] = &t
	g.touch()

	return nil
}

// Len returns the number of tasks.
func (g *Graph) Len() int { return len(g.tasks) }

// Has returns true if the task exists.
func (g *Graph) Has(id string) bool {
	_, ok := g.tasks[id]
	return ok
}

// Task returns a copy of a task.
func (g *Graph) Task(id string) (model.Task, error) {
	t, ok := g.tasks[id]
	if !ok {
		return model.Task{}, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}
	return t.Copy(), nil
}

// Status returns the status of a task, empty if it doesn't exist.
func (g *Graph) Status(id string) model.TaskStatus {
	t, ok := g.tasks[id]
	if !ok {
		return ""
	}
	return t.Status
}

// IDs returns the task IDs sorted.
func (g *Graph) IDs() []string {
	ids := make([]string, 0, len(g.tasks))
	for id := range g.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Tasks returns a copy of all the tasks sorted by ID.
func (g *Graph) Tasks() []model.Task {
	tasks := make([]model.Task, 0, len(g.tasks))
	for _, id := range g.IDs() {
		tasks = append(tasks, g.tasks[id].Copy())
	}
	return tasks
}

// Statuses returns the status of every task.
func (g *Graph) Statuses() map[string]model.TaskStatus {
	statuses := make(map[string]model.TaskStatus, len(g.tasks))
	for id, t := range g.tasks {
		statuses[id] = t.Status
	}
	return statuses
}

// SetStatus sets the status of a task. Moving to in-progress stamps the start time,
// moving to completed or failed stamps the completion time. taskErr is only
// kept for failed tasks.
func (g *Graph) SetStatus(id string, status model.TaskStatus, taskErr error) error {
	if !status.Valid() {
		return fmt.Errorf("unknown status %q: %w", status, model.ErrNotValid)
	}
	t, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}

	now := g.timeNow().UTC()
	t.Status = status
	t.Error = ""

	switch status {
	case model.TaskStatusPending:
		t.StartedAt = nil
		t.CompletedAt = nil
	case model.TaskStatusInProgress:
		t.StartedAt = &now
		t.CompletedAt = nil
	case model.TaskStatusCompleted:
		t.CompletedAt = &now
	case model.TaskStatusFailed:
		t.CompletedAt = &now
		if taskErr != nil {
			t.Error = taskErr.Error()
		}
	case model.TaskStatusBlocked:
		if taskErr != nil {
			t.Error = taskErr.Error()
		}
	}

	g.touch()
	return nil
}

// Start marks a task in progress.
func (g *Graph) Start(id string) error {
	return g.SetStatus(id, model.TaskStatusInProgress, nil)
}

// Complete marks a task completed.
func (g *Graph) Complete(id string) error {
	return g.SetStatus(id, model.TaskStatusCompleted, nil)
}

// Fail marks a task failed with the error.
func (g *Graph) Fail(id string, taskErr error) error {
	return g.SetStatus(id, model.TaskStatusFailed, taskErr)
}

// Block marks a task blocked.
func (g *Graph) Block(id string, reason error) error {
	return g.SetStatus(id, model.TaskStatusBlocked, reason)
}

// Reset sets a task back to pending dropping its error and timestamps.
func (g *Graph) Reset(id string) error {
	return g.SetStatus(id, model.TaskStatusPending, nil)
}

// Clone returns a deep copy of the graph that doesn't share any mutable state.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		tasks:     make(map[string]*model.Task, len(g.tasks)),
		UpdatedAt: g.UpdatedAt,
		timeNow:   g.timeNow,
	}
	for id, t := range g.tasks {
		tc := t.Copy()
		c.tasks[id] = &tc
	}
	return c
}

// Dependencies returns the direct dependencies of a task sorted.
func (g *Graph) Dependencies(id string) ([]string, error) {
	t, ok := g.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}

	deps := append([]string(nil), t.Dependencies...)
	sort.Strings(deps)
	return deps, nil
}

// Dependents returns every task that depends on the task directly or transitively, sorted.
func (g *Graph) Dependents(id string) ([]string, error) {
	if _, ok := g.tasks[id]; !ok {
		return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}

	reverse := g.reverseEdges()
	visited := map[string]bool{id: true}
	queue := []string{id}
	var dependents []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, d := range reverse[current] {
			if visited[d] {
				continue
			}
			visited[d] = true
			dependents = append(dependents, d)
			queue = append(queue, d)
		}
	}

	sort.Strings(dependents)
	return dependents, nil
}

// TopologicalOrder returns the task IDs with every task after its dependencies.
// Ties are broken by ID so the order is deterministic.
func (g *Graph) TopologicalOrder() []string {
	inDegree := make(map[string]int, len(g.tasks))
	for id, t := range g.tasks {
		inDegree[id] = len(t.Dependencies)
	}
	reverse := g.reverseEdges()

	var ready []string
	for id, d := range inDegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.tasks))
	for len(ready) > 0 {
		current := ready[0]
		ready = ready[1:]
		order = append(order, current)

		var unlocked []string
		for _, d := range reverse[current] {
			inDegree[d]--
			if inDegree[d] == 0 {
				unlocked = append(unlocked, d)
			}
		}
		ready = append(ready, unlocked...)
		sort.Strings(ready)
	}

	return order
}

// Ready returns the pending tasks whose dependencies are all completed, in topological order.
func (g *Graph) Ready() []string {
	var ready []string
	for _, id := range g.TopologicalOrder() {
		t := g.tasks[id]
		if t.Status != model.TaskStatusPending {
			continue
		}
		if g.dependenciesCompleted(t) {
			ready = append(ready, id)
		}
	}
	return ready
}

// Done returns true when every task is completed.
func (g *Graph) Done() bool {
	for _, t := range g.tasks {
		if t.Status != model.TaskStatusCompleted {
			return false
		}
	}
	return true
}

func (g *Graph) dependenciesCompleted(t *model.Task) bool {
	for _, dep := range t.Dependencies {
		if g.tasks[dep].Status != model.TaskStatusCompleted {
			return false
		}
	}
	return true
}

// reverseEdges maps each task to the tasks that depend on it directly.
func (g *Graph) reverseEdges() map[string][]string {
	reverse := make(map[string][]string, len(g.tasks))
	for _, id := range g.IDs() {
		for _, dep := range g.tasks[id].Dependencies {
			reverse[dep] = append(reverse[dep], id)
		}
	}
	return reverse
}

// findCycle returns the tasks of a dependency cycle or nil if the graph is acyclic.
func (g *Graph) findCycle() []string {
	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int, len(g.tasks))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		state[id] = visiting
		stack = append(stack, id)
		for _, dep := range g.tasks[id].Dependencies {
			switch state[dep] {
			case visiting:
				for i, s := range stack {
					if s == dep {
						return append(append([]string(nil), stack[i:]...), dep)
					}
				}
			case unvisited:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = visited
		return nil
	}

	for _, id := range g.IDs() {
		if state[id] == unvisited {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func (g *Graph) touch() {
	g.UpdatedAt = g.timeNow().UTC()
}
