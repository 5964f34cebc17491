package model

import (
	"fmt"
	"time"
)

// SessionRecord is the persisted association between a project and its last known sandbox.
// There is exactly one per project, upserted in place.
type SessionRecord struct {
	ProjectID    string
	SandboxID    string
	LastActivity time.Time
}

// PausedSession is a session whose sandbox has been suspended instead of destroyed.
type PausedSession struct {
	ProjectID string
	SandboxID string
	PausedAt  time.Time
}

// SessionState is the in-memory state of a project session.
type SessionState string

const (
	// SessionStateActive means the session has a live cached sandbox handle.
	SessionStateActive SessionState = "active"
	// SessionStatePaused means the session sandbox is suspended.
	SessionStatePaused SessionState = "paused"
	// SessionStateStored means the session is only known by the registry.
	SessionStateStored SessionState = "stored"
)

// SessionInfo is a read only view of a session tracked by the session manager.
type SessionInfo struct {
	ProjectID         string
	SandboxID         string
	State             SessionState
	LastActivity      time.Time
	BackgroundProcess string
}

// ValidateProjectID validates a project identifier.
func ValidateProjectID(id string) error {
	if id == "" {
		return fmt.Errorf("project id is required: %w", ErrNotValid)
	}

	return nil
}
