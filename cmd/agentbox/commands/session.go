package commands

import "github.com/alecthomas/kingpin/v2"

// NewSessionCommand returns the session parent command.
func NewSessionCommand(app *kingpin.Application) *kingpin.CmdClause {
	return app.Command("session", "Manage project sessions.")
}
