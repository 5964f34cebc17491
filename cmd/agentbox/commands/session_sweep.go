package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"
)

type SessionSweepCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
}

// NewSessionSweepCommand returns the session sweep command.
func NewSessionSweepCommand(rootCmd *RootCommand, sessionCmd *kingpin.CmdClause) *SessionSweepCommand {
	c := &SessionSweepCommand{rootCmd: rootCmd}
	c.Cmd = sessionCmd.Command("sweep", "Destroy the sandboxes of the sessions inactive for more than the inactivity TTL.")
	return c
}

func (c SessionSweepCommand) Name() string { return c.Cmd.FullCommand() }

func (c SessionSweepCommand) Run(ctx context.Context) error {
	d, err := c.rootCmd.newDeps(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	n := d.sessions.Sweep(ctx)
	return c.rootCmd.printer(formatTable).PrintMessage(fmt.Sprintf("Evicted sessions: %d", n))
}
