package exec

import (
	"context"
	"fmt"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox"
)

// SessionManager is the part of the session manager used to run commands.
type SessionManager interface {
	Acquire(ctx context.Context, projectID string) (sandbox.Sandbox, error)
	StartBackground(ctx context.Context, projectID, command string, opts model.RunOpts) (sandbox.Process, error)
}

// ServiceConfig is the configuration for the exec service.
type ServiceConfig struct {
	Sessions SessionManager
	Logger   log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Sessions == nil {
		return fmt.Errorf("sessions is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Exec"})
	return nil
}

// Service handles command execution in project sandboxes.
type Service struct {
	sessions SessionManager
	logger   log.Logger
}

// NewService creates a new exec service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		sessions: cfg.Sessions,
		logger:   cfg.Logger,
	}, nil
}

// Request contains the parameters for executing a command.
type Request struct {
	ProjectID string
	Command   string
	Opts      model.RunOpts
	// Background starts the command without waiting for it.
	Background bool
}

// Result is the result of an execution. Only one of the fields is set.
type Result struct {
	Run       *model.RunResult
	ProcessID string
}

// Run executes a command in the project sandbox.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Command == "" {
		return nil, fmt.Errorf("command cannot be empty: %w", model.ErrNotValid)
	}

	if req.Background {
		proc, err := s.sessions.StartBackground(ctx, req.ProjectID, req.Command, req.Opts)
		if err != nil {
			return nil, fmt.Errorf("could not start command: %w", err)
		}
		return &Result{ProcessID: proc.ID()}, nil
	}

	sb, err := s.sessions.Acquire(ctx, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("could not acquire sandbox: %w", err)
	}

	opts := req.Opts
	if opts.Timeout == 0 {
		opts.Timeout = model.DefaultCommandTimeout
	}

	result, err := sb.Run(ctx, req.Command, opts)
	if err != nil {
		return nil, fmt.Errorf("could not execute command: %w", err)
	}

	s.logger.Debugf("Executed command in sandbox %s: exit code %d", sb.ID(), result.ExitCode)

	return &Result{Run: result}, nil
}
