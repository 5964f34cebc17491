package snapshotcreate

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/storage"
	storageio "github.com/slok/agentbox/internal/storage/io"
)

// ServiceConfig is the configuration for the snapshot create service.
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

	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.SnapshotCreate"})
	return nil
}

// Service creates project snapshots from local directories.
type Service struct {
	repo   storage.SnapshotRepository
	logger log.Logger
}

// NewService creates a new snapshot create service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// Request represents a snapshot creation request.
type Request struct {
	ProjectID string
	// Source is the project directory.
	Source fs.FS
	// IgnoredDirs replaces the default ignored directories when set.
	IgnoredDirs []string
}

// Run reads the project directory and stores it as the project snapshot,
// replacing the previous one.
func (s *Service) Run(ctx context.Context, req Request) (*model.FileSnapshot, error) {
	if err := model.ValidateProjectID(req.ProjectID); err != nil {
		return nil, err
	}
	if req.Source == nil {
		return nil, fmt.Errorf("source is required: %w", model.ErrNotValid)
	}

	snapshot, err := storageio.NewDirSnapshotRepository(req.Source, req.IgnoredDirs).GetSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not read project directory: %w", err)
	}

	if err := s.repo.SaveSnapshot(ctx, req.ProjectID, snapshot); err != nil {
		return nil, fmt.Errorf("could not store snapshot: %w", err)
	}

	s.logger.Infof("Snapshot stored for project %s with %d files and %d dependencies", req.ProjectID, len(snapshot.Files), len(snapshot.Dependencies))

	// Return the stored version, the repository stamps it.
	stored, err := s.repo.GetSnapshot(ctx, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("could not get stored snapshot: %w", err)
	}

	return stored, nil
}
