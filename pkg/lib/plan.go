package lib

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/slok/agentbox/internal/app/run"
	"github.com/slok/agentbox/internal/backtrack"
	"github.com/slok/agentbox/internal/model"
)

// Plan is a set of steps run in a project sandbox in dependency order.
type Plan struct {
	ProjectID string
	// MaxAttempts is the number of rollbacks allowed per step, 0 means 3.
	MaxAttempts int
	Steps       []PlanStep
}

// PlanStep is a shell command that runs after its dependencies completed.
type PlanStep struct {
	ID         string
	Command    string
	DependsOn  []string
	WorkingDir string
	Env        map[string]string
	Timeout    time.Duration
}

// RunPlanOpts configures a plan run.
type RunPlanOpts struct {
	// CompletedSteps are not run again, they come from a previous run.
	CompletedSteps []string
	// FailedSteps are blocked, the steps that depend on them won't run.
	FailedSteps []string
	// Stdout and Stderr receive the output of the steps.
	Stdout io.Writer
	Stderr io.Writer
}

// StepResult is the outcome of a plan step.
type StepResult struct {
	ID string
	// Status is one of pending, in-progress, completed, failed or blocked.
	Status   string
	Runs     int
	ExitCode int
	Error    string
}

// PlanResult is the outcome of a plan run.
type PlanResult struct {
	Success bool
	// FailedStep is the step that couldn't be recovered.
	FailedStep string
	Recoveries int
	Steps      []StepResult
	// UnstableSteps are the steps that were rolled back repeatedly.
	UnstableSteps []string
	// CompletedSteps and FailedSteps can be passed to a new run to resume it.
	CompletedSteps []string
	FailedSteps    []string
}

// RunPlan runs the plan steps in the project sandbox rolling back failed steps.
// A plan that fails is not an error, check [PlanResult.Success].
func (c *Client) RunPlan(ctx context.Context, plan Plan, opts *RunPlanOpts) (*PlanResult, error) {
	svc, err := run.NewService(run.ServiceConfig{Sessions: c.sessions, Logger: c.logger})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	if opts == nil {
		opts = &RunPlanOpts{}
	}

	req := run.Request{
		Plan:   toModelPlan(plan),
		Stdout: opts.Stdout,
		Stderr: opts.Stderr,
	}
	if len(opts.CompletedSteps) > 0 || len(opts.FailedSteps) > 0 {
		req.Checkpoint = &backtrack.Checkpoint{
			CompletedTasks: opts.CompletedSteps,
			FailedTasks:    opts.FailedSteps,
		}
	}

	res, err := svc.Run(ctx, req)
	if err != nil {
		return nil, mapError(err)
	}

	return fromRunResult(*res), nil
}

func toModelPlan(p Plan) model.Plan {
	steps := make([]model.PlanStep, 0, len(p.Steps))
	for _, s := range p.Steps {
		steps = append(steps, model.PlanStep{
			ID:         s.ID,
			Command:    s.Command,
			DependsOn:  s.DependsOn,
			WorkingDir: s.WorkingDir,
			Env:        s.Env,
			Timeout:    s.Timeout,
		})
	}

	return model.Plan{
		ProjectID:   p.ProjectID,
		MaxAttempts: p.MaxAttempts,
		Steps:       steps,
	}
}

func fromRunResult(r run.Result) *PlanResult {
	res := &PlanResult{
		Success:        r.Success,
		FailedStep:     r.FailedStep,
		Recoveries:     r.Recoveries,
		UnstableSteps:  r.Unstable,
		CompletedSteps: r.Checkpoint.CompletedTasks,
		FailedSteps:    r.Checkpoint.FailedTasks,
	}
	for _, s := range r.Steps {
		res.Steps = append(res.Steps, StepResult{
			ID:       s.ID,
			Status:   string(s.Status),
			Runs:     s.Runs,
			ExitCode: s.ExitCode,
			Error:    s.Error,
		})
	}
	return res
}
