package lib

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/slok/agentbox/internal/app/exec"
	"github.com/slok/agentbox/internal/app/list"
	"github.com/slok/agentbox/internal/app/pause"
	"github.com/slok/agentbox/internal/app/remove"
	"github.com/slok/agentbox/internal/model"
)

// ExecOpts configures a command execution.
type ExecOpts struct {
	// WorkingDir is the directory to run the command in.
	WorkingDir string
	// Env contains additional environment variables.
	Env map[string]string
	// Stdout and Stderr receive the command output as it is produced.
	Stdout io.Writer
	Stderr io.Writer
	// Timeout bounds the command, 0 means 5 minutes.
	Timeout time.Duration
}

// ExecResult is the result of a finished command.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Session is a project session.
type Session struct {
	ProjectID string
	SandboxID string
	// State is one of active, paused or stored.
	State             string
	LastActivity      time.Time
	BackgroundProcess string
}

// PausedSession is a session whose sandbox has been suspended.
type PausedSession struct {
	ProjectID string
	SandboxID string
	PausedAt  time.Time
}

// Exec runs a command in the project sandbox and waits for it.
// A non zero exit code is not an error.
func (c *Client) Exec(ctx context.Context, projectID, command string, opts *ExecOpts) (*ExecResult, error) {
	svc, err := exec.NewService(exec.ServiceConfig{Sessions: c.sessions, Logger: c.logger})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	res, err := svc.Run(ctx, exec.Request{
		ProjectID: projectID,
		Command:   command,
		Opts:      toRunOpts(opts),
	})
	if err != nil {
		return nil, mapError(err)
	}

	return &ExecResult{
		ExitCode: res.Run.ExitCode,
		Stdout:   res.Run.Stdout,
		Stderr:   res.Run.Stderr,
	}, nil
}

// StartBackground starts a long running command, like a dev server, and returns its process ID.
// Only the last started process of a project is tracked. Starting another one doesn't
// stop the previous one, it keeps running untracked until the sandbox is released.
func (c *Client) StartBackground(ctx context.Context, projectID, command string, opts *ExecOpts) (string, error) {
	svc, err := exec.NewService(exec.ServiceConfig{Sessions: c.sessions, Logger: c.logger})
	if err != nil {
		return "", fmt.Errorf("could not create service: %w", err)
	}

	res, err := svc.Run(ctx, exec.Request{
		ProjectID:  projectID,
		Command:    command,
		Opts:       toRunOpts(opts),
		Background: true,
	})
	if err != nil {
		return "", mapError(err)
	}

	return res.ProcessID, nil
}

// KillBackground kills the project background process, it returns false if there was none.
func (c *Client) KillBackground(ctx context.Context, projectID string) (bool, error) {
	killed, err := c.sessions.KillBackground(ctx, projectID)
	return killed, mapError(err)
}

// Pause suspends the project sandbox, the next use of the project resumes it.
func (c *Client) Pause(ctx context.Context, projectID string) (*PausedSession, error) {
	svc, err := pause.NewService(pause.ServiceConfig{Sessions: c.sessions, Logger: c.logger})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	ps, err := svc.Run(ctx, pause.Request{ProjectID: projectID})
	if err != nil {
		return nil, mapError(err)
	}

	return &PausedSession{ProjectID: ps.ProjectID, SandboxID: ps.SandboxID, PausedAt: ps.PausedAt}, nil
}

// CloseSession destroys the project sandbox and forgets the session.
// With force, projects without session are not an error.
func (c *Client) CloseSession(ctx context.Context, projectID string, force bool) error {
	svc, err := remove.NewService(remove.ServiceConfig{Sessions: c.sessions, Logger: c.logger})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	return mapError(svc.Run(ctx, remove.Request{ProjectID: projectID, Force: force}))
}

// ListSessions returns the known sessions sorted by project.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	svc, err := list.NewService(list.ServiceConfig{Sessions: c.sessions, Registry: c.repo, Logger: c.logger})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	infos, err := svc.Run(ctx, list.Request{})
	if err != nil {
		return nil, mapError(err)
	}

	sessions := make([]Session, 0, len(infos))
	for _, i := range infos {
		sessions = append(sessions, fromSessionInfo(i))
	}
	return sessions, nil
}

func fromSessionInfo(i model.SessionInfo) Session {
	return Session{
		ProjectID:         i.ProjectID,
		SandboxID:         i.SandboxID,
		State:             string(i.State),
		LastActivity:      i.LastActivity,
		BackgroundProcess: i.BackgroundProcess,
	}
}

func toRunOpts(opts *ExecOpts) model.RunOpts {
	if opts == nil {
		return model.RunOpts{}
	}
	return model.RunOpts{
		WorkingDir: opts.WorkingDir,
		Env:        opts.Env,
		Stdout:     opts.Stdout,
		Stderr:     opts.Stderr,
		Timeout:    opts.Timeout,
	}
}
