package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/agentbox/internal/app/pause"
)

type PauseCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	projectID string
	format    string
}

// NewPauseCommand returns the pause command.
func NewPauseCommand(rootCmd *RootCommand, app *kingpin.Application) *PauseCommand {
	c := &PauseCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("pause", "Pause the project sandbox, the next use resumes it.")
	c.Cmd.Arg("project", "Project ID.").Required().StringVar(&c.projectID)
	c.Cmd.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c PauseCommand) Name() string { return c.Cmd.FullCommand() }

func (c PauseCommand) Run(ctx context.Context) error {
	d, err := c.rootCmd.newDeps(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	svc, err := pause.NewService(pause.ServiceConfig{
		Sessions: d.sessions,
		Logger:   c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	ps, err := svc.Run(ctx, pause.Request{ProjectID: c.projectID})
	if err != nil {
		return fmt.Errorf("could not pause session: %w", err)
	}

	if err := c.rootCmd.printer(c.format).PrintPaused(*ps); err != nil {
		return fmt.Errorf("could not print session: %w", err)
	}

	return nil
}
