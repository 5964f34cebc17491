package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/agentbox/internal/app/remove"
)

type SessionRmCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	projectID string
	force     bool
}

// NewSessionRmCommand returns the session rm command.
func NewSessionRmCommand(rootCmd *RootCommand, sessionCmd *kingpin.CmdClause) *SessionRmCommand {
	c := &SessionRmCommand{rootCmd: rootCmd}

	c.Cmd = sessionCmd.Command("rm", "Close a project session destroying its sandbox.")
	c.Cmd.Arg("project", "Project ID.").Required().StringVar(&c.projectID)
	c.Cmd.Flag("force", "Don't fail when the project has no session.").BoolVar(&c.force)

	return c
}

func (c SessionRmCommand) Name() string { return c.Cmd.FullCommand() }

func (c SessionRmCommand) Run(ctx context.Context) error {
	d, err := c.rootCmd.newDeps(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	svc, err := remove.NewService(remove.ServiceConfig{
		Sessions: d.sessions,
		Logger:   c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	err = svc.Run(ctx, remove.Request{
		ProjectID: c.projectID,
		Force:     c.force,
	})
	if err != nil {
		return fmt.Errorf("could not remove session: %w", err)
	}

	return c.rootCmd.printer(formatTable).PrintMessage(fmt.Sprintf("Removed session: %s", c.projectID))
}
