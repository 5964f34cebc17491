package lib

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"github.com/slok/agentbox/internal/app/snapshotcreate"
	"github.com/slok/agentbox/internal/app/snapshotshow"
	"github.com/slok/agentbox/internal/model"
)

// Snapshot is the stored file set of a project.
type Snapshot struct {
	// Files maps a project relative path to its content.
	Files map[string]string
	// Dependencies maps a package name to its version.
	Dependencies map[string]string
	UpdatedAt    time.Time
}

// SaveSnapshot reads the project directory and replaces the project snapshot with it.
// The .git, node_modules and .next directories are skipped.
func (c *Client) SaveSnapshot(ctx context.Context, projectID string, dir fs.FS) (*Snapshot, error) {
	svc, err := snapshotcreate.NewService(snapshotcreate.ServiceConfig{Repository: c.repo, Logger: c.logger})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	s, err := svc.Run(ctx, snapshotcreate.Request{ProjectID: projectID, Source: dir})
	if err != nil {
		return nil, mapError(err)
	}

	return fromSnapshot(*s), nil
}

// GetSnapshot returns the project snapshot, [ErrNotFound] if none was saved.
func (c *Client) GetSnapshot(ctx context.Context, projectID string) (*Snapshot, error) {
	svc, err := snapshotshow.NewService(snapshotshow.ServiceConfig{Repository: c.repo, Logger: c.logger})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	s, err := svc.Run(ctx, snapshotshow.Request{ProjectID: projectID})
	if err != nil {
		return nil, mapError(err)
	}

	return fromSnapshot(*s), nil
}

func fromSnapshot(s model.FileSnapshot) *Snapshot {
	return &Snapshot{
		Files:        s.Files,
		Dependencies: s.Dependencies,
		UpdatedAt:    s.UpdatedAt,
	}
}
