package storage

import (
	"context"
	"time"

	"github.com/slok/agentbox/internal/model"
)

// SessionRegistry persists the last known sandbox of each project.
type SessionRegistry interface {
	// GetSandboxID returns model.ErrNotFound when the project has no sandbox.
	GetSandboxID(ctx context.Context, projectID string) (string, error)
	// SetSandboxID upserts the project session record.
	SetSandboxID(ctx context.Context, projectID, sandboxID string) error
	// ClearSandboxID removes the project session record, missing records are ignored.
	ClearSandboxID(ctx context.Context, projectID string) error
	// TouchSession updates the last activity of the project session record. Returns
	// model.ErrNotFound when the project has no record.
	TouchSession(ctx context.Context, projectID string, at time.Time) error
	ListSessions(ctx context.Context) ([]model.SessionRecord, error)
}

// SnapshotRepository persists the file snapshots of projects.
type SnapshotRepository interface {
	// GetSnapshot returns model.ErrNotFound when the project has no snapshot.
	GetSnapshot(ctx context.Context, projectID string) (*model.FileSnapshot, error)
	// SaveSnapshot replaces the project snapshot wholesale.
	SaveSnapshot(ctx context.Context, projectID string, snapshot model.FileSnapshot) error
}
