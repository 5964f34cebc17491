package run_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/agentbox/internal/app/run"
	"github.com/slok/agentbox/internal/backtrack"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox"
	"github.com/slok/agentbox/internal/sandbox/fake"
)

type acquirerFunc func(ctx context.Context, projectID string) (sandbox.Sandbox, error)

func (f acquirerFunc) Acquire(ctx context.Context, projectID string) (sandbox.Sandbox, error) {
	return f(ctx, projectID)
}

func testPlan(maxAttempts int) model.Plan {
	return model.Plan{
		ProjectID:   "my-app",
		MaxAttempts: maxAttempts,
		Steps: []model.PlanStep{
			{ID: "install", Command: "npm install"},
			{ID: "build", Command: "npm run build", DependsOn: []string{"install"}},
			{ID: "test", Command: "npm test", DependsOn: []string{"build"}},
		},
	}
}

// failing returns a run handler that fails the command the first n times.
func failing(command string, n int) fake.RunHandler {
	calls := 0
	return func(sandboxID, cmd string, opts model.RunOpts) (*model.RunResult, error) {
		if cmd != command {
			return nil, nil
		}
		calls++
		if n < 0 || calls <= n {
			return &model.RunResult{ExitCode: 2, Stderr: "failed"}, nil
		}
		return nil, nil
	}
}

func statuses(res *run.Result) map[string]model.TaskStatus {
	m := map[string]model.TaskStatus{}
	for _, s := range res.Steps {
		m[s.ID] = s.Status
	}
	return m
}

func runs(res *run.Result) map[string]int {
	m := map[string]int{}
	for _, s := range res.Steps {
		m[s.ID] = s.Runs
	}
	return m
}

func TestServiceRun(t *testing.T) {
	tests := map[string]struct {
		req         run.Request
		runHandler  fake.RunHandler
		acquireErr  error
		expSuccess  bool
		expFailed   string
		expRecovers int
		expStatuses map[string]model.TaskStatus
		expRuns     map[string]int
		expUnstable []string
		expCommands []string
		expCP       backtrack.Checkpoint
		expErr      bool
	}{
		"A plan without failures should complete every step once.": {
			req:        run.Request{Plan: testPlan(0)},
			expSuccess: true,
			expStatuses: map[string]model.TaskStatus{
				"install": model.TaskStatusCompleted,
				"build":   model.TaskStatusCompleted,
				"test":    model.TaskStatusCompleted,
			},
			expRuns:     map[string]int{"install": 1, "build": 1, "test": 1},
			expCommands: []string{"npm install", "npm run build", "npm test"},
			expCP:       backtrack.Checkpoint{CompletedTasks: []string{"install", "build", "test"}},
		},

		"A flaky step should be rolled back and retried.": {
			req:         run.Request{Plan: testPlan(0)},
			runHandler:  failing("npm run build", 1),
			expSuccess:  true,
			expRecovers: 1,
			expStatuses: map[string]model.TaskStatus{
				"install": model.TaskStatusCompleted,
				"build":   model.TaskStatusCompleted,
				"test":    model.TaskStatusCompleted,
			},
			expRuns:     map[string]int{"install": 1, "build": 2, "test": 1},
			expUnstable: []string{"build"},
			expCommands: []string{"npm install", "npm run build", "npm run build", "npm test"},
			expCP:       backtrack.Checkpoint{CompletedTasks: []string{"install", "build", "test"}},
		},

		"A permanently broken step should stop the plan when its recoveries are exhausted.": {
			req:         run.Request{Plan: testPlan(2)},
			runHandler:  failing("npm run build", -1),
			expSuccess:  false,
			expFailed:   "build",
			expRecovers: 2,
			expStatuses: map[string]model.TaskStatus{
				"install": model.TaskStatusCompleted,
				"build":   model.TaskStatusFailed,
				"test":    model.TaskStatusPending,
			},
			expRuns:     map[string]int{"install": 1, "build": 3, "test": 0},
			expUnstable: []string{"build"},
			expCommands: []string{"npm install", "npm run build", "npm run build", "npm run build"},
			expCP: backtrack.Checkpoint{
				TaskID:         "build",
				CompletedTasks: []string{"install"},
				FailedTasks:    []string{"build"},
			},
		},

		"Resuming from a checkpoint should not run the completed steps.": {
			req: run.Request{
				Plan:       testPlan(0),
				Checkpoint: &backtrack.Checkpoint{CompletedTasks: []string{"install"}},
			},
			expSuccess: true,
			expStatuses: map[string]model.TaskStatus{
				"install": model.TaskStatusCompleted,
				"build":   model.TaskStatusCompleted,
				"test":    model.TaskStatusCompleted,
			},
			expRuns:     map[string]int{"install": 0, "build": 1, "test": 1},
			expCommands: []string{"npm run build", "npm test"},
			expCP:       backtrack.Checkpoint{CompletedTasks: []string{"install", "build", "test"}},
		},

		"Resuming from a checkpoint with a failed step should leave it blocked.": {
			req: run.Request{
				Plan: testPlan(0),
				Checkpoint: &backtrack.Checkpoint{
					CompletedTasks: []string{"install"},
					FailedTasks:    []string{"build"},
				},
			},
			expSuccess: false,
			expFailed:  "build",
			expStatuses: map[string]model.TaskStatus{
				"install": model.TaskStatusCompleted,
				"build":   model.TaskStatusBlocked,
				"test":    model.TaskStatusPending,
			},
			expRuns: map[string]int{"install": 0, "build": 0, "test": 0},
			expCP: backtrack.Checkpoint{
				TaskID:         "build",
				CompletedTasks: []string{"install"},
				FailedTasks:    []string{"build"},
			},
		},

		"A sandbox that can't be acquired should fail the run.": {
			req:        run.Request{Plan: testPlan(0)},
			acquireErr: errors.New("quota exceeded"),
			expErr:     true,
		},

		"A cyclic plan should fail.": {
			req: run.Request{Plan: model.Plan{
				ProjectID: "my-app",
				Steps: []model.PlanStep{
					{ID: "a", Command: "true", DependsOn: []string{"b"}},
					{ID: "b", Command: "true", DependsOn: []string{"a"}},
				},
			}},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			p, err := fake.NewProvider(fake.ProviderConfig{RunHandler: test.runHandler})
			require.NoError(err)
			sb, err := p.Create(context.TODO(), "")
			require.NoError(err)

			acquirer := acquirerFunc(func(ctx context.Context, projectID string) (sandbox.Sandbox, error) {
				if test.acquireErr != nil {
					return nil, test.acquireErr
				}
				return sb, nil
			})

			now := time.Date(2026, 1, 30, 10, 0, 0, 0, time.UTC)
			svc, err := run.NewService(run.ServiceConfig{
				Sessions: acquirer,
				TimeNow:  func() time.Time { return now },
			})
			require.NoError(err)

			res, err := svc.Run(context.TODO(), test.req)
			if test.expErr {
				assert.Error(err)
				return
			}
			require.NoError(err)

			assert.Equal(test.expSuccess, res.Success)
			assert.Equal(test.expFailed, res.FailedStep)
			assert.Equal(test.expRecovers, res.Recoveries)
			assert.Equal(test.expStatuses, statuses(res))
			assert.Equal(test.expRuns, runs(res))
			assert.Equal(test.expUnstable, res.Unstable)
			assert.Equal(test.expCommands, p.Commands(sb.ID()))

			test.expCP.Timestamp = now
			test.expCP.Reason = "end of run"
			assert.Equal(test.expCP, res.Checkpoint)
		})
	}
}

func TestServiceRunCancelled(t *testing.T) {
	p, err := fake.NewProvider(fake.ProviderConfig{})
	require.NoError(t, err)
	sb, err := p.Create(context.TODO(), "")
	require.NoError(t, err)

	svc, err := run.NewService(run.ServiceConfig{
		Sessions: acquirerFunc(func(ctx context.Context, projectID string) (sandbox.Sandbox, error) { return sb, nil }),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.Run(ctx, run.Request{Plan: testPlan(0)})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, p.Commands(sb.ID()))
}

func TestNewService(t *testing.T) {
	_, err := run.NewService(run.ServiceConfig{})
	assert.Error(t, err)
}
