package snapshotshow

import (
	"context"
	"fmt"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/storage"
)

// ServiceConfig is the configuration for the snapshot show service.
type ServiceConfig struct {
	Repository storage.SnapshotRepository
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Service gets project snapshots.
type Service struct {
	repo   storage.SnapshotRepository
	logger log.Logger
}

// NewService creates a new snapshot show service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// Request represents a snapshot show request.
type Request struct {
	ProjectID string
}

// Run returns the project snapshot.
func (s *Service) Run(ctx context.Context, req Request) (*model.FileSnapshot, error) {
	if err := model.ValidateProjectID(req.ProjectID); err != nil {
		return nil, err
	}

	snapshot, err := s.repo.GetSnapshot(ctx, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("could not get snapshot: %w", err)
	}

	return snapshot, nil
}
