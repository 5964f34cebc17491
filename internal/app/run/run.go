package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/slok/agentbox/internal/backtrack"
	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox"
	"github.com/slok/agentbox/internal/taskgraph"
)

// SessionAcquirer returns a live sandbox for a project.
type SessionAcquirer interface {
	Acquire(ctx context.Context, projectID string) (sandbox.Sandbox, error)
}

// ServiceConfig is the configuration for the run service.
type ServiceConfig struct {
	Sessions SessionAcquirer
	// MaxPoints is the number of backtrack points kept per run.
	MaxPoints int
	// UnstableThreshold is the number of backtrack points after which a step is reported as unstable.
	UnstableThreshold int
	TimeNow           func() time.Time
	Logger            log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Sessions == nil {
		return fmt.Errorf("sessions is required")
	}

	if c.MaxPoints == 0 {
		c.MaxPoints = backtrack.DefaultMaxPoints
	}

	if c.UnstableThreshold == 0 {
		c.UnstableThreshold = 2
	}

	if c.TimeNow == nil {
		c.TimeNow = time.Now
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Run"})

	return nil
}

// Service runs plans in project sandboxes, rolling back and retrying failed steps.
type Service struct {
	sessions          SessionAcquirer
	maxPoints         int
	unstableThreshold int
	timeNow           func() time.Time
	logger            log.Logger
}

// NewService creates a new run service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		sessions:          cfg.Sessions,
		maxPoints:         cfg.MaxPoints,
		unstableThreshold: cfg.UnstableThreshold,
		timeNow:           cfg.TimeNow,
		logger:            cfg.Logger,
	}, nil
}

// Request represents a plan run request.
type Request struct {
	Plan model.Plan
	// Checkpoint resumes a previous run, its completed steps are not run again
	// and its failed steps are blocked.
	Checkpoint *backtrack.Checkpoint
	// Stdout and Stderr receive the output of the steps (optional).
	Stdout io.Writer
	Stderr io.Writer
}

// StepResult is the final state of a plan step.
type StepResult struct {
	ID       string
	Status   model.TaskStatus
	Runs     int
	ExitCode int
	Error    string
}

// Result is the outcome of a plan run.
type Result struct {
	// Success is true when every step completed.
	Success bool
	// FailedStep is the step that exhausted its recoveries or was left blocked.
	FailedStep string
	Recoveries int
	// Steps are sorted in execution order.
	Steps []StepResult
	// Unstable are the steps that needed repeated rollbacks, most unstable first.
	Unstable []string
	History  backtrack.Stats
	// Checkpoint can be used to resume the run.
	Checkpoint backtrack.Checkpoint
}

// Run executes the plan steps in dependency order. A failed step rolls the plan back
// to the last point where it could be retried, until the step runs out of recoveries.
//
// The returned error is only used for failures outside the plan steps, like not
// being able to get a sandbox.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	plan := req.Plan
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}

	graph, err := taskgraph.New(plan.Tasks(), taskgraph.WithTimeNow(s.timeNow))
	if err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}

	history, err := backtrack.NewHistory(backtrack.HistoryConfig{
		MaxPoints: s.maxPoints,
		TimeNow:   s.timeNow,
		Logger:    s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create history: %w", err)
	}

	if req.Checkpoint != nil {
		p, err := backtrack.FromCheckpoint(*req.Checkpoint, graph, s.timeNow())
		if err != nil {
			return nil, fmt.Errorf("invalid checkpoint: %w", err)
		}
		history.Import(*p)
		graph = p.Graph.Clone()
		s.logger.Infof("Resuming plan from checkpoint with %d completed steps", len(req.Checkpoint.CompletedTasks))
	}

	logger := s.logger.WithValues(log.Kv{"project-id": plan.ProjectID})
	ex := execution{
		runs:      map[string]int{},
		exitCodes: map[string]int{},
	}
	res := &Result{}

	for !graph.Done() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ready := graph.Ready()
		if len(ready) == 0 {
			res.FailedStep = firstNotCompleted(graph)
			logger.Warningf("Plan can't continue, step %s is blocked", res.FailedStep)
			break
		}

		id := ready[0]
		step, _ := plan.Step(id)
		history.AddPoint(id, graph, fmt.Sprintf("before step %s", id))

		stepErr, err := s.runStep(ctx, plan.ProjectID, step, graph, &ex, req)
		if err != nil {
			return nil, err
		}
		if stepErr == nil {
			continue
		}

		recovery, err := history.AttemptRecovery(graph, id, plan.MaxAttempts)
		if err != nil {
			if errors.Is(err, backtrack.ErrRecoveryExhausted) {
				logger.Errorf("Step %s is unrecoverable by backtracking: %s", id, stepErr)
				res.FailedStep = id
				break
			}
			return nil, fmt.Errorf("could not recover step %s: %w", id, err)
		}

		res.Recoveries++
		graph = recovery.Graph
		logger.Warningf("Step %s failed, rolled back (attempt %d, reset: %v)", id, recovery.Attempt, recovery.TasksReset)
	}

	res.Success = graph.Done()
	res.Steps = ex.stepResults(graph)
	res.History = history.Stats()
	res.Unstable = history.UnstableTasks(s.unstableThreshold)
	res.Checkpoint = checkpointOf(graph, res.FailedStep, s.timeNow())

	if res.Success {
		logger.Infof("Plan completed with %d recoveries", res.Recoveries)
	}

	return res, nil
}

type execution struct {
	runs      map[string]int
	exitCodes map[string]int
}

// runStep runs a single step marking its result in the graph. The first returned
// error is the step failure, the second one a fatal error.
func (s *Service) runStep(ctx context.Context, projectID string, step model.PlanStep, graph *taskgraph.Graph, ex *execution, req Request) (stepErr error, err error) {
	if err := graph.Start(step.ID); err != nil {
		return nil, err
	}
	ex.runs[step.ID]++

	// Always acquire, the sandbox may have been recycled between steps.
	sb, err := s.sessions.Acquire(ctx, projectID)
	if err != nil {
		_ = graph.Fail(step.ID, err)
		return nil, fmt.Errorf("could not acquire sandbox: %w", err)
	}

	timeout := step.Timeout
	if timeout == 0 {
		timeout = model.DefaultCommandTimeout
	}

	s.logger.Infof("Running step %s: %s", step.ID, step.Command)
	out, err := sb.Run(ctx, step.Command, model.RunOpts{
		WorkingDir: step.WorkingDir,
		Env:        step.Env,
		Stdout:     req.Stdout,
		Stderr:     req.Stderr,
		Timeout:    timeout,
	})
	switch {
	case err != nil:
		stepErr = err
		ex.exitCodes[step.ID] = -1
	case !out.Succeeded():
		stepErr = fmt.Errorf("exit code %d", out.ExitCode)
		ex.exitCodes[step.ID] = out.ExitCode
	default:
		ex.exitCodes[step.ID] = 0
	}

	if stepErr != nil {
		if err := graph.Fail(step.ID, stepErr); err != nil {
			return nil, err
		}
		return stepErr, nil
	}

	if err := graph.Complete(step.ID); err != nil {
		return nil, err
	}
	return nil, nil
}

func (e execution) stepResults(graph *taskgraph.Graph) []StepResult {
	var steps []StepResult
	for _, id := range graph.TopologicalOrder() {
		t, _ := graph.Task(id)
		steps = append(steps, StepResult{
			ID:       id,
			Status:   t.Status,
			Runs:     e.runs[id],
			ExitCode: e.exitCodes[id],
			Error:    t.Error,
		})
	}
	return steps
}

func firstNotCompleted(graph *taskgraph.Graph) string {
	for _, id := range graph.TopologicalOrder() {
		if graph.Status(id) != model.TaskStatusCompleted {
			return id
		}
	}
	return ""
}

func checkpointOf(graph *taskgraph.Graph, failedStep string, now time.Time) backtrack.Checkpoint {
	cp := backtrack.Checkpoint{
		TaskID:    failedStep,
		Timestamp: now.UTC(),
		Reason:    "end of run",
	}
	for _, id := range graph.TopologicalOrder() {
		switch graph.Status(id) {
		case model.TaskStatusCompleted:
			cp.CompletedTasks = append(cp.CompletedTasks, id)
		case model.TaskStatusFailed, model.TaskStatusBlocked:
			cp.FailedTasks = append(cp.FailedTasks, id)
		}
	}
	return cp
}
