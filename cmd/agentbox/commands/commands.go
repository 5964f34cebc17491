package commands

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"k8s.io/client-go/util/homedir"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/printer"
	"github.com/slok/agentbox/internal/restore"
	"github.com/slok/agentbox/internal/sandbox/docker"
	"github.com/slok/agentbox/internal/session"
	"github.com/slok/agentbox/internal/storage/sqlite"
)

const (
	// LoggerTypeDefault is the logger default type.
	LoggerTypeDefault = "default"
	// LoggerTypeJSON is the logger json type.
	LoggerTypeJSON = "json"

	formatTable = "table"
	formatJSON  = "json"
)

// Command represents an application command, all commands that want to be executed
// should implement and setup on main.
type Command interface {
	Name() string
	Run(ctx context.Context) error
}

// RootCommand represents the root command configuration and global configuration
// for all the commands.
type RootCommand struct {
	// Global flags.
	Debug      bool
	NoLog      bool
	NoColor    bool
	LoggerType string
	DBPath     string

	// Sandbox flags.
	Image              string
	CPUs               float64
	MemoryMB           int
	SkipPull           bool
	ProjectDir         string
	SandboxTimeout     time.Duration
	InactivityTTL      time.Duration
	RestoreOnReconnect bool

	// Global instances.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger log.Logger
}

// NewRootCommand initializes the main root configuration.
func NewRootCommand(app *kingpin.Application) *RootCommand {
	c := &RootCommand{}

	app.Flag("debug", "Enable debug mode.").BoolVar(&c.Debug)
	app.Flag("no-log", "Disable logger.").BoolVar(&c.NoLog)
	app.Flag("no-color", "Disable logger color.").BoolVar(&c.NoColor)
	app.Flag("logger", "Selects the logger type.").Default(LoggerTypeDefault).EnumVar(&c.LoggerType, LoggerTypeDefault, LoggerTypeJSON)

	defaultDBPath := filepath.Join(homedir.HomeDir(), ".agentbox", "agentbox.db")
	app.Flag("db-path", "Path to the SQLite database file.").Envar("AGENTBOX_DB_PATH").Default(defaultDBPath).StringVar(&c.DBPath)

	app.Flag("image", "Container image used as the sandbox template.").Default("node:20-bookworm").StringVar(&c.Image)
	app.Flag("cpu", "Sandbox vCPUs, 0 means no limit.").Default("0").Float64Var(&c.CPUs)
	app.Flag("mem", "Sandbox memory in MB, 0 means no limit.").Default("0").IntVar(&c.MemoryMB)
	app.Flag("skip-pull", "Don't pull the sandbox image before creating sandboxes.").BoolVar(&c.SkipPull)
	app.Flag("project-dir", "Absolute directory where the project files are restored inside the sandbox.").Default(restore.DefaultProjectDir).StringVar(&c.ProjectDir)
	app.Flag("sandbox-timeout", "Lifetime extension requested on every sandbox liveness probe.").Default("30m").DurationVar(&c.SandboxTimeout)
	app.Flag("inactivity-ttl", "Time without use after which a session is released.").Default("30m").DurationVar(&c.InactivityTTL)
	app.Flag("restore-on-reconnect", "Restore the project snapshot after reconnecting to an existing sandbox.").BoolVar(&c.RestoreOnReconnect)

	return c
}

// deps are the shared instances most commands need.
type deps struct {
	repo     *sqlite.Repository
	sessions *session.Manager
}

func (d deps) Close() error { return d.repo.Close() }

// newDeps wires the storage, sandbox provider, restorer and session manager.
func (c RootCommand) newDeps(ctx context.Context) (*deps, error) {
	logger := c.Logger

	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: c.DBPath,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create repository: %w", err)
	}

	provider, err := docker.NewProvider(docker.ProviderConfig{
		DefaultImage: c.Image,
		SkipPull:     c.SkipPull,
		Resources:    model.Resources{VCPUs: c.CPUs, MemoryMB: c.MemoryMB},
		Logger:       logger,
	})
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("could not create sandbox provider: %w", err)
	}

	restorer, err := restore.NewService(restore.ServiceConfig{
		ProjectDir: c.ProjectDir,
		Logger:     logger,
	})
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("could not create restorer: %w", err)
	}

	mgr, err := session.NewManager(session.ManagerConfig{
		Provider:           provider,
		Registry:           repo,
		Snapshots:          repo,
		Restorer:           restorer,
		Template:           c.Image,
		SandboxTimeout:     c.SandboxTimeout,
		InactivityTTL:      c.InactivityTTL,
		RestoreOnReconnect: c.RestoreOnReconnect,
		Logger:             logger,
	})
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("could not create session manager: %w", err)
	}

	return &deps{repo: repo, sessions: mgr}, nil
}

func (c RootCommand) printer(format string) printer.Printer {
	if format == formatJSON {
		return printer.NewJSONPrinter(c.Stdout)
	}
	return printer.NewTablePrinter(c.Stdout)
}
