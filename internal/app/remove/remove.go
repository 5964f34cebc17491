package remove

import (
	"context"
	"errors"
	"fmt"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
)

// SessionCloser releases project sessions.
type SessionCloser interface {
	Close(ctx context.Context, projectID string) error
}

// ServiceConfig is the configuration for the remove service.
type ServiceConfig struct {
	Sessions SessionCloser
	Logger   log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Sessions == nil {
		return fmt.Errorf("sessions is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Service removes project sessions releasing their sandboxes.
type Service struct {
	sessions SessionCloser
	logger   log.Logger
}

// NewService creates a new remove service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		sessions: cfg.Sessions,
		logger:   cfg.Logger,
	}, nil
}

// Request represents the remove request parameters.
type Request struct {
	ProjectID string
	// Force ignores projects without session.
	Force bool
}

// Run closes the project session destroying its sandbox.
func (s *Service) Run(ctx context.Context, req Request) error {
	if err := model.ValidateProjectID(req.ProjectID); err != nil {
		return err
	}

	s.logger.Debugf("removing session: %s (force: %v)", req.ProjectID, req.Force)

	err := s.sessions.Close(ctx, req.ProjectID)
	if err != nil {
		if req.Force && errors.Is(err, model.ErrNotFound) {
			s.logger.Debugf("session %s not found, ignoring", req.ProjectID)
			return nil
		}
		return fmt.Errorf("could not close session: %w", err)
	}

	return nil
}
