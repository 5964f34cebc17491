package list

import (
	"context"
	"fmt"
	"sort"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/storage"
)

// SessionLister returns the sessions tracked in memory.
type SessionLister interface {
	Sessions() []model.SessionInfo
}

// ServiceConfig is the configuration for the list service.
type ServiceConfig struct {
	Sessions SessionLister
	Registry storage.SessionRegistry
	Logger   log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Sessions == nil {
		return fmt.Errorf("sessions is required")
	}

	if c.Registry == nil {
		return fmt.Errorf("registry is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Service lists project sessions with optional filtering.
type Service struct {
	sessions SessionLister
	registry storage.SessionRegistry
	logger   log.Logger
}

// NewService creates a new list service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		sessions: cfg.Sessions,
		registry: cfg.Registry,
		logger:   cfg.Logger,
	}, nil
}

// Request represents the list request parameters.
type Request struct {
	// StateFilter is an optional filter to only show sessions in this state.
	StateFilter *model.SessionState
}

// Run lists the sessions tracked in memory plus the ones only known by the registry,
// optionally filtered by state.
func (s *Service) Run(ctx context.Context, req Request) ([]model.SessionInfo, error) {
	s.logger.Debugf("listing sessions with filter: %v", req.StateFilter)

	records, err := s.registry.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list sessions: %w", err)
	}

	sessions := s.sessions.Sessions()
	tracked := map[string]bool{}
	for _, si := range sessions {
		tracked[si.ProjectID] = true
	}
	for _, r := range records {
		if tracked[r.ProjectID] {
			continue
		}
		sessions = append(sessions, model.SessionInfo{
			ProjectID:    r.ProjectID,
			SandboxID:    r.SandboxID,
			State:        model.SessionStateStored,
			LastActivity: r.LastActivity,
		})
	}

	if req.StateFilter != nil {
		filtered := make([]model.SessionInfo, 0, len(sessions))
		for _, si := range sessions {
			if si.State == *req.StateFilter {
				filtered = append(filtered, si)
			}
		}
		sessions = filtered
	}

	sort.SliceStable(sessions, func(i, j int) bool { return sessions[i].ProjectID < sessions[j].ProjectID })

	s.logger.Debugf("found %d sessions", len(sessions))
	return sessions, nil
}
