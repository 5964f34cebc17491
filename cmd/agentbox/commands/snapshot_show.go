package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/agentbox/internal/app/snapshotshow"
	"github.com/slok/agentbox/internal/storage/sqlite"
)

type SnapshotShowCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	projectID string
	format    string
}

// NewSnapshotShowCommand returns the snapshot show command.
func NewSnapshotShowCommand(rootCmd *RootCommand, snapshotCmd *kingpin.CmdClause) *SnapshotShowCommand {
	c := &SnapshotShowCommand{rootCmd: rootCmd}

	c.Cmd = snapshotCmd.Command("show", "Show the project snapshot.")
	c.Cmd.Arg("project", "Project ID.").Required().StringVar(&c.projectID)
	c.Cmd.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c SnapshotShowCommand) Name() string { return c.Cmd.FullCommand() }

func (c SnapshotShowCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: c.rootCmd.DBPath,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("could not create repository: %w", err)
	}
	defer repo.Close()

	svc, err := snapshotshow.NewService(snapshotshow.ServiceConfig{
		Repository: repo,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	snapshot, err := svc.Run(ctx, snapshotshow.Request{ProjectID: c.projectID})
	if err != nil {
		return fmt.Errorf("could not get snapshot: %w", err)
	}

	if err := c.rootCmd.printer(c.format).PrintSnapshot(*snapshot); err != nil {
		return fmt.Errorf("could not print snapshot: %w", err)
	}

	return nil
}
