package lib

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/restore"
	"github.com/slok/agentbox/internal/sandbox"
	"github.com/slok/agentbox/internal/sandbox/docker"
	"github.com/slok/agentbox/internal/sandbox/fake"
	"github.com/slok/agentbox/internal/session"
	"github.com/slok/agentbox/internal/storage/sqlite"
)

const (
	defaultDataDir = ".agentbox"
	defaultDBFile  = "agentbox.db"
)

// ProviderType is the sandbox provider used by the client.
type ProviderType string

const (
	// ProviderDocker runs sandboxes as Docker containers.
	ProviderDocker ProviderType = "docker"
	// ProviderFake keeps sandboxes in memory, for tests.
	ProviderFake ProviderType = "fake"
)

// Config configures the SDK client.
//
// All fields are optional, an empty Config{} uses ~/.agentbox/agentbox.db
// for storage and the Docker provider.
type Config struct {
	// DBPath is the SQLite database path.
	// Default: ~/.agentbox/agentbox.db.
	DBPath string

	// Provider selects the sandbox provider.
	// Default: [ProviderDocker].
	Provider ProviderType

	// Image is the sandbox template image.
	// Default: node:20-bookworm.
	Image string

	// ProjectDir is the absolute directory inside the sandbox where the project is restored.
	// Default: /home/user/project.
	ProjectDir string

	// InactivityTTL is the time without use after which a session is released.
	// Default: 30m.
	InactivityTTL time.Duration

	// RestoreOnReconnect restores the snapshot after reconnecting to an existing sandbox.
	RestoreOnReconnect bool

	// Logger receives log output from the SDK.
	// Default: noop (silent). See the log sub-package for the interface.
	Logger log.Logger
}

func (c *Config) defaults() error {
	if c.DBPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("could not get user home dir: %w", err)
		}
		c.DBPath = filepath.Join(home, defaultDataDir, defaultDBFile)
	}

	if c.Provider == "" {
		c.Provider = ProviderDocker
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Client is the main SDK entry point.
//
// Create a Client with [New] and release its resources with [Client.Close].
// A Client is safe for concurrent use, concurrent calls for the same project
// share a single sandbox.
type Client struct {
	repo     *sqlite.Repository
	sessions *session.Manager
	logger   log.Logger
}

// New creates a new SDK client backed by a SQLite database.
//
// The caller must call [Client.Close] when done:
//
//	client, err := lib.New(ctx, lib.Config{})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	provider, err := newProvider(cfg)
	if err != nil {
		return nil, mapError(err)
	}

	restorer, err := restore.NewService(restore.ServiceConfig{
		ProjectDir: cfg.ProjectDir,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create restorer: %w", err)
	}

	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: cfg.DBPath,
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create repository: %w", err)
	}

	mgr, err := session.NewManager(session.ManagerConfig{
		Provider:           provider,
		Registry:           repo,
		Snapshots:          repo,
		Restorer:           restorer,
		Template:           cfg.Image,
		InactivityTTL:      cfg.InactivityTTL,
		RestoreOnReconnect: cfg.RestoreOnReconnect,
		Logger:             cfg.Logger,
	})
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("could not create session manager: %w", err)
	}

	return &Client{
		repo:     repo,
		sessions: mgr,
		logger:   cfg.Logger,
	}, nil
}

// Close releases the database connection. Sandboxes are kept, use
// [Client.CloseSession] to destroy them.
func (c *Client) Close() error {
	return c.repo.Close()
}

// RunSweeper releases inactive sessions periodically until the context is cancelled.
func (c *Client) RunSweeper(ctx context.Context) error {
	return c.sessions.Run(ctx)
}

func newProvider(cfg Config) (sandbox.Provider, error) {
	switch cfg.Provider {
	case ProviderDocker:
		return docker.NewProvider(docker.ProviderConfig{
			DefaultImage: cfg.Image,
			Logger:       cfg.Logger,
		})
	case ProviderFake:
		return fake.NewProvider(fake.ProviderConfig{
			Logger: cfg.Logger,
		})
	default:
		return nil, fmt.Errorf("unsupported provider type: %s: %w", cfg.Provider, ErrNotValid)
	}
}
