package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/storage"
)

// RepositoryConfig is the configuration for the memory repository.
type RepositoryConfig struct {
	TimeNow func() time.Time
	Logger  log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.TimeNow == nil {
		c.TimeNow = time.Now
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.Memory"})
	return nil
}

// Repository is an in-memory implementation of storage.SessionRegistry and storage.SnapshotRepository.
type Repository struct {
	sessions  map[string]model.SessionRecord
	snapshots map[string]model.FileSnapshot
	timeNow   func() time.Time
	mu        sync.RWMutex
	logger    log.Logger
}

var (
	_ storage.SessionRegistry    = &Repository{}
	_ storage.SnapshotRepository = &Repository{}
)

// NewRepository creates a new memory repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Repository{
		sessions:  make(map[string]model.SessionRecord),
		snapshots: make(map[string]model.FileSnapshot),
		timeNow:   cfg.TimeNow,
		logger:    cfg.Logger,
	}, nil
}

// GetSandboxID returns the last known sandbox ID of a project.
func (r *Repository) GetSandboxID(ctx context.Context, projectID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.sessions[projectID]
	if !ok {
		return "", fmt.Errorf("session for project %s: %w", projectID, model.ErrNotFound)
	}

	return rec.SandboxID, nil
}

// SetSandboxID upserts the project session record.
func (r *Repository) SetSandboxID(ctx context.Context, projectID, sandboxID string) error {
	if err := model.ValidateProjectID(projectID); err != nil {
		return err
	}
	if sandboxID == "" {
		return fmt.Errorf("sandbox id is required: %w", model.ErrNotValid)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[projectID] = model.SessionRecord{
		ProjectID:    projectID,
		SandboxID:    sandboxID,
		LastActivity: r.timeNow().UTC(),
	}
	r.logger.Debugf("Set sandbox %s for project %s", sandboxID, projectID)

	return nil
}

// TouchSession updates the last activity of the project session record.
func (r *Repository) TouchSession(ctx context.Context, projectID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.sessions[projectID]
	if !ok {
		return fmt.Errorf("session for project %s: %w", projectID, model.ErrNotFound)
	}
	rec.LastActivity = at.UTC()
	r.sessions[projectID] = rec

	return nil
}

// ClearSandboxID removes the project session record.
func (r *Repository) ClearSandboxID(ctx context.Context, projectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, projectID)
	r.logger.Debugf("Cleared session for project %s", projectID)

	return nil
}

// ListSessions returns all session records sorted by project.
func (r *Repository) ListSessions(ctx context.Context) ([]model.SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]model.SessionRecord, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ProjectID < sessions[j].ProjectID })

	return sessions, nil
}

// GetSnapshot retrieves the snapshot of a project.
func (r *Repository) GetSnapshot(ctx context.Context, projectID string) (*model.FileSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap, ok := r.snapshots[projectID]
	if !ok {
		return nil, fmt.Errorf("snapshot for project %s: %w", projectID, model.ErrNotFound)
	}

	// Return a copy
	snapCopy := copySnapshot(snap)
	return &snapCopy, nil
}

// SaveSnapshot replaces the snapshot of a project.
func (r *Repository) SaveSnapshot(ctx context.Context, projectID string, snapshot model.FileSnapshot) error {
	if err := model.ValidateProjectID(projectID); err != nil {
		return err
	}
	if err := snapshot.Validate(); err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	snap := copySnapshot(snapshot)
	snap.UpdatedAt = r.timeNow().UTC()
	r.snapshots[projectID] = snap
	r.logger.Debugf("Saved snapshot for project %s (%d files)", projectID, len(snap.Files))

	return nil
}

func copySnapshot(s model.FileSnapshot) model.FileSnapshot {
	c := model.FileSnapshot{
		Files:        make(map[string]string, len(s.Files)),
		Dependencies: make(map[string]string, len(s.Dependencies)),
		UpdatedAt:    s.UpdatedAt,
	}
	for k, v := range s.Files {
		c.Files[k] = v
	}
	for k, v := range s.Dependencies {
		c.Dependencies[k] = v
	}
	return c
}
