package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/agentbox/internal/app/list"
	"github.com/slok/agentbox/internal/model"
)

type SessionListCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	stateFilter string
	format      string
}

// NewSessionListCommand returns the session list command.
func NewSessionListCommand(rootCmd *RootCommand, sessionCmd *kingpin.CmdClause) *SessionListCommand {
	c := &SessionListCommand{rootCmd: rootCmd}

	c.Cmd = sessionCmd.Command("list", "List project sessions.").Alias("ls")
	c.Cmd.Flag("state", "Filter by state (active, paused, stored).").StringVar(&c.stateFilter)
	c.Cmd.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c SessionListCommand) Name() string { return c.Cmd.FullCommand() }

func (c SessionListCommand) Run(ctx context.Context) error {
	var stateFilter *model.SessionState
	if c.stateFilter != "" {
		state := model.SessionState(strings.ToLower(c.stateFilter))
		switch state {
		case model.SessionStateActive, model.SessionStatePaused, model.SessionStateStored:
			stateFilter = &state
		default:
			return fmt.Errorf("invalid state filter: %s (must be: active, paused, stored)", c.stateFilter)
		}
	}

	d, err := c.rootCmd.newDeps(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	svc, err := list.NewService(list.ServiceConfig{
		Sessions: d.sessions,
		Registry: d.repo,
		Logger:   c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	sessions, err := svc.Run(ctx, list.Request{StateFilter: stateFilter})
	if err != nil {
		return fmt.Errorf("could not list sessions: %w", err)
	}

	if err := c.rootCmd.printer(c.format).PrintSessions(sessions); err != nil {
		return fmt.Errorf("could not print sessions: %w", err)
	}

	return nil
}
