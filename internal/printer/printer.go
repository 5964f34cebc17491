package printer

import (
	"github.com/slok/agentbox/internal/app/run"
	"github.com/slok/agentbox/internal/model"
)

// Printer knows how to print agentbox information in different formats.
type Printer interface {
	PrintSessions(sessions []model.SessionInfo) error
	PrintPaused(ps model.PausedSession) error
	PrintSnapshot(snapshot model.FileSnapshot) error
	PrintRunResult(res run.Result) error
	PrintMessage(msg string) error
}
