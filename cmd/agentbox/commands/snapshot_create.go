package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/agentbox/internal/app/snapshotcreate"
	"github.com/slok/agentbox/internal/storage/sqlite"
)

// SnapshotCreateCommand stores a local project directory as the project snapshot.
type SnapshotCreateCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	projectID   string
	dir         string
	ignoredDirs []string
	format      string
}

// NewSnapshotCreateCommand returns the snapshot create command.
func NewSnapshotCreateCommand(rootCmd *RootCommand, snapshotCmd *kingpin.CmdClause) *SnapshotCreateCommand {
	c := &SnapshotCreateCommand{rootCmd: rootCmd}

	c.Cmd = snapshotCmd.Command("create", "Create the project snapshot from a local directory, replacing the previous one.")
	c.Cmd.Arg("project", "Project ID.").Required().StringVar(&c.projectID)
	c.Cmd.Arg("dir", "Project directory.").Default(".").ExistingDirVar(&c.dir)
	c.Cmd.Flag("ignore", "Directory name to skip, replaces the defaults. Can be repeated.").StringsVar(&c.ignoredDirs)
	c.Cmd.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c SnapshotCreateCommand) Name() string { return c.Cmd.FullCommand() }

func (c SnapshotCreateCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	// Snapshots don't need a sandbox, only storage.
	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: c.rootCmd.DBPath,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("could not create repository: %w", err)
	}
	defer repo.Close()

	svc, err := snapshotcreate.NewService(snapshotcreate.ServiceConfig{
		Repository: repo,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	snapshot, err := svc.Run(ctx, snapshotcreate.Request{
		ProjectID:   c.projectID,
		Source:      os.DirFS(c.dir),
		IgnoredDirs: c.ignoredDirs,
	})
	if err != nil {
		return fmt.Errorf("could not create snapshot: %w", err)
	}

	if err := c.rootCmd.printer(c.format).PrintSnapshot(*snapshot); err != nil {
		return fmt.Errorf("could not print snapshot: %w", err)
	}

	return nil
}
