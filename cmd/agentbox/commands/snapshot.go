package commands

import "github.com/alecthomas/kingpin/v2"

// NewSnapshotCommand returns the snapshot parent command.
func NewSnapshotCommand(app *kingpin.Application) *kingpin.CmdClause {
	return app.Command("snapshot", "Manage project file snapshots.")
}
