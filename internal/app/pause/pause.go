package pause

import (
	"context"
	"fmt"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox"
)

// SessionManager is the part of the session manager used to pause sessions.
type SessionManager interface {
	Acquire(ctx context.Context, projectID string) (sandbox.Sandbox, error)
	Pause(ctx context.Context, projectID string) (*model.PausedSession, error)
}

// ServiceConfig is the configuration for the pause service.
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
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Pause"})

	return nil
}

// Service suspends project sandboxes.
type Service struct {
	sessions SessionManager
	logger   log.Logger
}

// NewService creates a new pause service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		sessions: cfg.Sessions,
		logger:   cfg.Logger,
	}, nil
}

// Request represents a pause request.
type Request struct {
	ProjectID string
}

// Run pauses the project sandbox. The session is acquired first so sessions
// created by other processes can be paused too.
func (s *Service) Run(ctx context.Context, req Request) (*model.PausedSession, error) {
	if err := model.ValidateProjectID(req.ProjectID); err != nil {
		return nil, err
	}

	if _, err := s.sessions.Acquire(ctx, req.ProjectID); err != nil {
		return nil, fmt.Errorf("could not acquire sandbox: %w", err)
	}

	ps, err := s.sessions.Pause(ctx, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("could not pause session: %w", err)
	}

	s.logger.Infof("Paused project %s sandbox %s", req.ProjectID, ps.SandboxID)

	return ps, nil
}
