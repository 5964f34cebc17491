// Package backtrack implements the checkpoint history of an agent run and the
// recovery engine that rolls the task graph back when a task fails.
//
// The history is a single branch linear undo list: adding a point after moving
// the cursor backwards discards every point after the cursor.
package backtrack

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/taskgraph"
)

const (
	// DefaultMaxPoints is the number of points retained by default.
	DefaultMaxPoints = 10
	// DefaultMaxAttempts is the default number of recoveries allowed per task.
	DefaultMaxAttempts = 3
)

var (
	// ErrRecoveryExhausted is returned when a task already used all its recovery attempts.
	ErrRecoveryExhausted = errors.New("recovery attempts exhausted")
	// ErrNoBacktrackPoint is returned when there is no point to roll back to.
	ErrNoBacktrackPoint = errors.New("no backtrack point")
)

// Point is a saved copy of the task graph.
type Point struct {
	ID        string
	TaskID    string
	Timestamp time.Time
	Graph     *taskgraph.Graph
	Reason    string
	// Attempt is the number of recoveries the task had used when the point was recorded.
	Attempt int
}

func (p Point) clone() Point {
	c := p
	if p.Graph != nil {
		c.Graph = p.Graph.Clone()
	}
	return c
}

// HistoryConfig is the configuration of a History.
type HistoryConfig struct {
	// MaxPoints is the number of points retained, the oldest ones are dropped first.
	MaxPoints int
	TimeNow   func() time.Time
	Logger    log.Logger
}

func (c *HistoryConfig) defaults() error {
	if c.MaxPoints < 0 {
		return fmt.Errorf("max points can't be negative")
	}
	if c.MaxPoints == 0 {
		c.MaxPoints = DefaultMaxPoints
	}
	if c.TimeNow == nil {
		c.TimeNow = time.Now
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "backtrack.History"})
	return nil
}

// History is the ordered list of backtrack points with a cursor.
// It is not safe for concurrent use, it is owned by a single agent run.
type History struct {
	points    []Point
	cursor    int
	maxPoints int
	attempts  map[string]int
	timeNow   func() time.Time
	logger    log.Logger
}

// NewHistory returns an empty history.
func NewHistory(cfg HistoryConfig) (*History, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &History{
		cursor:    -1,
		maxPoints: cfg.MaxPoints,
		attempts:  map[string]int{},
		timeNow:   cfg.TimeNow,
		logger:    cfg.Logger,
	}, nil
}

// Len returns the number of points.
func (h *History) Len() int { return len(h.points) }

// CurrentIndex returns the cursor position, -1 when the history is empty.
func (h *History) CurrentIndex() int { return h.cursor }

// Current returns a copy of the point at the cursor, nil when the history is empty.
func (h *History) Current() *Point {
	if h.cursor < 0 {
		return nil
	}
	p := h.points[h.cursor].clone()
	return &p
}

// Points returns a copy of all the points, oldest first.
func (h *History) Points() []Point {
	points := make([]Point, 0, len(h.points))
	for _, p := range h.points {
		points = append(points, p.clone())
	}
	return points
}

// AddPoint records a copy of the graph.
func (h *History) AddPoint(taskID string, graph *taskgraph.Graph, reason string) Point {
	p := Point{
		ID:        ulid.MustNew(ulid.Timestamp(h.timeNow()), rand.Reader).String(),
		TaskID:    taskID,
		Timestamp: h.timeNow().UTC(),
		Graph:     graph.Clone(),
		Reason:    reason,
		Attempt:   h.attempts[taskID],
	}
	h.append(p)

	return p.clone()
}

// Import appends an already built point, like the ones returned by FromCheckpoint.
func (h *History) Import(p Point) {
	if p.Graph == nil {
		return
	}
	h.append(p.clone())
}

func (h *History) append(p Point) {
	// A new point after an undo abandons the old future.
	if h.cursor < len(h.points)-1 {
		discarded := len(h.points) - 1 - h.cursor
		h.points = h.points[:h.cursor+1]
		h.logger.Debugf("Discarded %d points after cursor", discarded)
	}

	h.points = append(h.points, p)
	if len(h.points) > h.maxPoints {
		h.points = append([]Point(nil), h.points[len(h.points)-h.maxPoints:]...)
	}
	h.cursor = len(h.points) - 1

	h.logger.Debugf("Added backtrack point %s for task %q: %s", p.ID, p.TaskID, p.Reason)
}

// CanBacktrack returns true if there is a point before the cursor.
func (h *History) CanBacktrack() bool { return h.cursor > 0 }

// CanForward returns true if there is a point after the cursor.
func (h *History) CanForward() bool { return h.cursor >= 0 && h.cursor < len(h.points)-1 }

// BacktrackOnce moves the cursor one point back and returns a copy of its graph.
func (h *History) BacktrackOnce() *taskgraph.Graph {
	return h.BacktrackSteps(1)
}

// BacktrackSteps moves the cursor n points back and returns a copy of its graph.
// Moving past the first point is a no-op that returns nil.
func (h *History) BacktrackSteps(n int) *taskgraph.Graph {
	if n <= 0 || h.cursor-n < 0 {
		return nil
	}
	return h.moveTo(h.cursor - n)
}

// Forward moves the cursor one point forward and returns a copy of its graph.
// Moving past the last point is a no-op that returns nil.
func (h *History) Forward() *taskgraph.Graph {
	if !h.CanForward() {
		return nil
	}
	return h.moveTo(h.cursor + 1)
}

// BacktrackTo moves the cursor to the point with the ID, nil if it doesn't exist.
func (h *History) BacktrackTo(pointID string) *taskgraph.Graph {
	for i, p := range h.points {
		if p.ID == pointID {
			return h.moveTo(i)
		}
	}
	return nil
}

// BacktrackToStart moves the cursor to the first point, nil if the history is empty.
func (h *History) BacktrackToStart() *taskgraph.Graph {
	if len(h.points) == 0 {
		return nil
	}
	return h.moveTo(0)
}

func (h *History) moveTo(i int) *taskgraph.Graph {
	h.cursor = i
	return h.points[i].Graph.Clone()
}

// FindPoint returns the point to roll back to after the task failed:
// the newest point where the task was still pending, otherwise the newest point
// where one of its direct dependencies was pending, otherwise the first point.
// Returns nil only when the history is empty.
func (h *History) FindPoint(failedTaskID string, graph *taskgraph.Graph) *Point {
	i := h.findPointIndex(failedTaskID, graph)
	if i < 0 {
		return nil
	}
	p := h.points[i].clone()
	return &p
}

func (h *History) findPointIndex(failedTaskID string, graph *taskgraph.Graph) int {
	if len(h.points) == 0 {
		return -1
	}

	for i := len(h.points) - 1; i >= 0; i-- {
		if h.points[i].Graph.Status(failedTaskID) == model.TaskStatusPending {
			return i
		}
	}

	var deps []string
	if graph != nil {
		deps, _ = graph.Dependencies(failedTaskID)
	}
	for i := len(h.points) - 1; i >= 0; i-- {
		for _, dep := range deps {
			if h.points[i].Graph.Status(dep) == model.TaskStatusPending {
				return i
			}
		}
	}

	return 0
}

// RecoveryResult is the outcome of a successful recovery.
type RecoveryResult struct {
	// RestoredFrom is the point the graph was rolled back to.
	RestoredFrom Point
	// Recorded is the new point recorded for this recovery attempt.
	Recorded Point
	// Graph is the restored graph, ready to continue the execution.
	Graph *taskgraph.Graph
	// TasksReset are the tasks whose status changed with the rollback, sorted.
	TasksReset []string
	// Attempt is the recovery attempt number of the failed task, starting at 1.
	Attempt int
}

// AttemptRecovery rolls the graph back to the point chosen by FindPoint and records
// a new point for the recovery itself. Once the task has used maxAttempts recoveries
// it returns ErrRecoveryExhausted without mutating the history.
func (h *History) AttemptRecovery(graph *taskgraph.Graph, failedTaskID string, maxAttempts int) (*RecoveryResult, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	if used := h.attempts[failedTaskID]; used >= maxAttempts {
		return nil, fmt.Errorf("task %s already used %d of %d recovery attempts: %w", failedTaskID, used, maxAttempts, ErrRecoveryExhausted)
	}

	i := h.findPointIndex(failedTaskID, graph)
	if i < 0 {
		return nil, fmt.Errorf("task %s: %w", failedTaskID, ErrNoBacktrackPoint)
	}
	target := h.points[i].clone()

	restored := target.Graph.Clone()
	// Nothing keeps running after a rollback.
	for id, status := range restored.Statuses() {
		if status == model.TaskStatusFailed || status == model.TaskStatusInProgress {
			_ = restored.Reset(id)
		}
	}

	tasksReset := diffStatuses(graph, restored)

	h.cursor = i
	h.attempts[failedTaskID]++
	attempt := h.attempts[failedTaskID]
	recorded := h.AddPoint(failedTaskID, restored, fmt.Sprintf("recovery %d of %d for failed task %s", attempt, maxAttempts, failedTaskID))

	h.logger.Infof("Recovered task %s rolling back to point %s (attempt %d/%d, reset: %v)", failedTaskID, target.ID, attempt, maxAttempts, tasksReset)

	return &RecoveryResult{
		RestoredFrom: target,
		Recorded:     recorded,
		Graph:        restored,
		TasksReset:   tasksReset,
		Attempt:      attempt,
	}, nil
}

// Attempts returns the number of recoveries used by a task.
func (h *History) Attempts(taskID string) int { return h.attempts[taskID] }

// TaskFrequencies returns how many retained points each task triggered.
func (h *History) TaskFrequencies() map[string]int {
	freqs := map[string]int{}
	for _, p := range h.points {
		if p.TaskID != "" {
			freqs[p.TaskID]++
		}
	}
	return freqs
}

// UnstableTasks returns the tasks that triggered at least threshold points,
// most frequent first. A chronically unstable task usually means the plan is wrong.
func (h *History) UnstableTasks(threshold int) []string {
	freqs := h.TaskFrequencies()

	var tasks []string
	for id, n := range freqs {
		if n >= threshold {
			tasks = append(tasks, id)
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		if freqs[tasks[i]] != freqs[tasks[j]] {
			return freqs[tasks[i]] > freqs[tasks[j]]
		}
		return tasks[i] < tasks[j]
	})

	return tasks
}

// Stats is a summary of the history state.
type Stats struct {
	Points       int
	CurrentIndex int
	CanBacktrack bool
	CanForward   bool
	Frequencies  map[string]int
	Attempts     map[string]int
}

// Stats returns a summary of the history state.
func (h *History) Stats() Stats {
	attempts := make(map[string]int, len(h.attempts))
	for k, v := range h.attempts {
		attempts[k] = v
	}

	return Stats{
		Points:       len(h.points),
		CurrentIndex: h.cursor,
		CanBacktrack: h.CanBacktrack(),
		CanForward:   h.CanForward(),
		Frequencies:  h.TaskFrequencies(),
		Attempts:     attempts,
	}
}

func diffStatuses(current, restored *taskgraph.Graph) []string {
	var changed []string
	if current == nil {
		return changed
	}

	restoredStatuses := restored.Statuses()
	for _, id := range current.IDs() {
		rs, ok := restoredStatuses[id]
		if ok && rs != current.Status(id) {
			changed = append(changed, id)
		}
	}
	return changed
}
