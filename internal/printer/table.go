package printer

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/slok/agentbox/internal/app/run"
	"github.com/slok/agentbox/internal/model"
)

// TablePrinter prints agentbox information in a table format.
type TablePrinter struct {
	writer  io.Writer
	timeNow func() time.Time
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w, timeNow: time.Now}
}

// PrintSessions prints sessions in a table format.
func (t *TablePrinter) PrintSessions(sessions []model.SessionInfo) error {
	if len(sessions) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "PROJECT\tSANDBOX\tSTATE\tLAST ACTIVITY\tPROCESS")
	for _, s := range sessions {
		proc := s.BackgroundProcess
		if proc == "" {
			proc = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ProjectID, s.SandboxID, s.State, TimeAgo(t.timeNow(), s.LastActivity), proc)
	}

	return nil
}

// PrintPaused prints a paused session.
func (t *TablePrinter) PrintPaused(ps model.PausedSession) error {
	fmt.Fprintf(t.writer, "Project:    %s\n", ps.ProjectID)
	fmt.Fprintf(t.writer, "Sandbox:    %s\n", ps.SandboxID)
	fmt.Fprintf(t.writer, "Paused:     %s\n", FormatTimestamp(ps.PausedAt))
	return nil
}

// PrintSnapshot prints a snapshot summary.
func (t *TablePrinter) PrintSnapshot(s model.FileSnapshot) error {
	fmt.Fprintf(t.writer, "Files:        %d\n", len(s.Files))
	fmt.Fprintf(t.writer, "Size:         %s\n", FormatBytes(SnapshotSize(s)))
	fmt.Fprintf(t.writer, "Updated:      %s\n", FormatTimestamp(s.UpdatedAt))

	if len(s.Dependencies) > 0 {
		names := make([]string, 0, len(s.Dependencies))
		for n := range s.Dependencies {
			names = append(names, n)
		}
		sort.Strings(names)

		fmt.Fprintf(t.writer, "Dependencies:\n")
		for _, n := range names {
			fmt.Fprintf(t.writer, "  %s@%s\n", n, s.Dependencies[n])
		}
	}

	return nil
}

// PrintRunResult prints the steps of a plan run and the backtracking summary.
func (t *TablePrinter) PrintRunResult(res run.Result) error {
	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tSTATUS\tRUNS\tEXIT\tERROR")
	for _, s := range res.Steps {
		errMsg := s.Error
		if errMsg == "" {
			errMsg = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", s.ID, s.Status, s.Runs, s.ExitCode, errMsg)
	}
	tw.Flush()

	fmt.Fprintln(t.writer)
	fmt.Fprintf(t.writer, "Success:     %t\n", res.Success)
	if res.FailedStep != "" {
		fmt.Fprintf(t.writer, "Failed step: %s\n", res.FailedStep)
	}
	fmt.Fprintf(t.writer, "Recoveries:  %d\n", res.Recoveries)
	fmt.Fprintf(t.writer, "Points:      %d\n", res.History.Points)
	if len(res.Unstable) > 0 {
		fmt.Fprintf(t.writer, "Unstable:    %s\n", strings.Join(res.Unstable, ", "))
	}

	return nil
}

// PrintMessage prints a simple text message.
func (t *TablePrinter) PrintMessage(msg string) error {
	fmt.Fprintln(t.writer, msg)
	return nil
}
