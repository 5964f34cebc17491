package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/storage"
	"github.com/slok/agentbox/internal/storage/sqlite/migrations"
)

// RepositoryConfig is the configuration for the SQLite repository.
type RepositoryConfig struct {
	DBPath  string
	TimeNow func() time.Time
	Logger  log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if c.TimeNow == nil {
		c.TimeNow = time.Now
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.SQLite"})
	return nil
}

// Repository is a SQLite implementation of storage.SessionRegistry and storage.SnapshotRepository.
type Repository struct {
	db      *sql.DB
	timeNow func() time.Time
	logger  log.Logger
}

var (
	_ storage.SessionRegistry    = &Repository{}
	_ storage.SnapshotRepository = &Repository{}
)

// NewRepository creates a new SQLite repository.
func NewRepository(ctx context.Context, cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	migrator, err := migrations.NewMigrator(db, cfg.Logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create migrator: %w", err)
	}
	if err := migrator.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}

	cfg.Logger.Debugf("SQLite repository initialized at %s", cfg.DBPath)

	return &Repository{db: db, timeNow: cfg.TimeNow, logger: cfg.Logger}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error { return r.db.Close() }

// GetSandboxID returns the last known sandbox ID of a project.
func (r *Repository) GetSandboxID(ctx context.Context, projectID string) (string, error) {
	query := `SELECT sandbox_id FROM sessions WHERE project_id = ?`

	var sandboxID string
	if err := r.db.QueryRowContext(ctx, query, projectID).Scan(&sandboxID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("session for project %s: %w", projectID, model.ErrNotFound)
		}
		return "", fmt.Errorf("could not query session: %w", err)
	}

	return sandboxID, nil
}

// SetSandboxID upserts the project session record.
func (r *Repository) SetSandboxID(ctx context.Context, projectID, sandboxID string) error {
	if err := model.ValidateProjectID(projectID); err != nil {
		return err
	}
	if sandboxID == "" {
		return fmt.Errorf("sandbox id is required: %w", model.ErrNotValid)
	}

	query := `
		INSERT INTO sessions (project_id, sandbox_id, last_activity)
		VALUES (?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			sandbox_id = excluded.sandbox_id,
			last_activity = excluded.last_activity
	`

	if _, err := r.db.ExecContext(ctx, query, projectID, sandboxID, r.timeNow().UTC().Unix()); err != nil {
		return fmt.Errorf("could not upsert session: %w", err)
	}

	r.logger.Debugf("Set sandbox %s for project %s", sandboxID, projectID)
	return nil
}

// TouchSession updates the last activity of the project session record.
func (r *Repository) TouchSession(ctx context.Context, projectID string, at time.Time) error {
	query := `UPDATE sessions SET last_activity = ? WHERE project_id = ?`

	result, err := r.db.ExecContext(ctx, query, at.UTC().Unix(), projectID)
	if err != nil {
		return fmt.Errorf("could not update session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session for project %s: %w", projectID, model.ErrNotFound)
	}

	return nil
}

// ClearSandboxID removes the project session record.
func (r *Repository) ClearSandboxID(ctx context.Context, projectID string) error {
	query := `DELETE FROM sessions WHERE project_id = ?`

	result, err := r.db.ExecContext(ctx, query, projectID)
	if err != nil {
		return fmt.Errorf("could not delete session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}

	r.logger.Debugf("Cleared %d sessions for project %s", rows, projectID)
	return nil
}

// ListSessions returns all session records sorted by project.
func (r *Repository) ListSessions(ctx context.Context) ([]model.SessionRecord, error) {
	query := `
		SELECT project_id, sandbox_id, last_activity
		FROM sessions
		ORDER BY project_id ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("could not query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []model.SessionRecord{}
	for rows.Next() {
		var s model.SessionRecord
		var lastActivity int64
		if err := rows.Scan(&s.ProjectID, &s.SandboxID, &lastActivity); err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		s.LastActivity = time.Unix(lastActivity, 0).UTC()
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return sessions, nil
}

// GetSnapshot retrieves the snapshot of a project.
func (r *Repository) GetSnapshot(ctx context.Context, projectID string) (*model.FileSnapshot, error) {
	var updatedAt int64
	err := r.db.QueryRowContext(ctx, `SELECT updated_at FROM snapshots WHERE project_id = ?`, projectID).Scan(&updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("snapshot for project %s: %w", projectID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query snapshot: %w", err)
	}

	snap := &model.FileSnapshot{
		Files:        map[string]string{},
		Dependencies: map[string]string{},
		UpdatedAt:    time.Unix(updatedAt, 0).UTC(),
	}

	if err := r.scanPairs(ctx, `SELECT path, content FROM snapshot_files WHERE project_id = ?`, projectID, snap.Files); err != nil {
		return nil, fmt.Errorf("could not query snapshot files: %w", err)
	}
	if err := r.scanPairs(ctx, `SELECT name, version FROM snapshot_dependencies WHERE project_id = ?`, projectID, snap.Dependencies); err != nil {
		return nil, fmt.Errorf("could not query snapshot dependencies: %w", err)
	}

	return snap, nil
}

// SaveSnapshot replaces the snapshot of a project in a single transaction.
func (r *Repository) SaveSnapshot(ctx context.Context, projectID string, snapshot model.FileSnapshot) error {
	if err := model.ValidateProjectID(projectID); err != nil {
		return err
	}
	if err := snapshot.Validate(); err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Files and dependencies are removed by the cascade.
	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("could not delete previous snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO snapshots (project_id, updated_at) VALUES (?, ?)`, projectID, r.timeNow().UTC().Unix()); err != nil {
		return fmt.Errorf("could not insert snapshot: %w", err)
	}

	fileStmt, err := tx.PrepareContext(ctx, `INSERT INTO snapshot_files (project_id, path, content) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("could not prepare statement: %w", err)
	}
	defer fileStmt.Close()
	for _, p := range snapshot.Paths() {
		if _, err := fileStmt.ExecContext(ctx, projectID, p, []byte(snapshot.Files[p])); err != nil {
			return fmt.Errorf("could not insert snapshot file %s: %w", p, err)
		}
	}

	depStmt, err := tx.PrepareContext(ctx, `INSERT INTO snapshot_dependencies (project_id, name, version) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("could not prepare statement: %w", err)
	}
	defer depStmt.Close()
	for name, version := range snapshot.Dependencies {
		if _, err := depStmt.ExecContext(ctx, projectID, name, version); err != nil {
			return fmt.Errorf("could not insert snapshot dependency %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	r.logger.Debugf("Saved snapshot for project %s (%d files, %d dependencies)", projectID, len(snapshot.Files), len(snapshot.Dependencies))
	return nil
}

func (r *Repository) scanPairs(ctx context.Context, query, projectID string, dst map[string]string) error {
	rows, err := r.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return fmt.Errorf("could not scan row: %w", err)
		}
		dst[k] = string(v)
	}

	return rows.Err()
}
