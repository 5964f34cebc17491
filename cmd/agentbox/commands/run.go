package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"

	apprun "github.com/slok/agentbox/internal/app/run"
	"github.com/slok/agentbox/internal/backtrack"
	storageio "github.com/slok/agentbox/internal/storage/io"
)

// RunCommand executes a plan in the project sandbox with backtracking recovery.
type RunCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	planPath       string
	completedSteps []string
	failedSteps    []string
	maxPoints      int
	format         string
}

// NewRunCommand returns the run command.
func NewRunCommand(rootCmd *RootCommand, app *kingpin.Application) *RunCommand {
	c := &RunCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("run", "Run a plan of steps in the project sandbox, rolling back failed steps.")
	c.Cmd.Arg("plan", "Path to the YAML plan file.").Required().StringVar(&c.planPath)
	c.Cmd.Flag("completed", "Step already completed by a previous run, it will not run again. Can be repeated.").StringsVar(&c.completedSteps)
	c.Cmd.Flag("failed", "Step that failed on a previous run, it will be blocked. Can be repeated.").StringsVar(&c.failedSteps)
	c.Cmd.Flag("max-points", "Number of rollback points kept during the run.").Default("10").IntVar(&c.maxPoints)
	c.Cmd.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c RunCommand) Name() string { return c.Cmd.FullCommand() }

func (c RunCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	absPath, err := filepath.Abs(c.planPath)
	if err != nil {
		return fmt.Errorf("invalid plan path: %w", err)
	}
	plan, err := storageio.NewPlanYAMLRepository(os.DirFS(filepath.Dir(absPath))).GetPlan(ctx, filepath.Base(absPath))
	if err != nil {
		return fmt.Errorf("could not load plan: %w", err)
	}

	var checkpoint *backtrack.Checkpoint
	if len(c.completedSteps) > 0 || len(c.failedSteps) > 0 {
		checkpoint = &backtrack.Checkpoint{
			CompletedTasks: c.completedSteps,
			FailedTasks:    c.failedSteps,
			Reason:         "resumed from command line",
		}
	}

	d, err := c.rootCmd.newDeps(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	svc, err := apprun.NewService(apprun.ServiceConfig{
		Sessions:  d.sessions,
		MaxPoints: c.maxPoints,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	var (
		g   run.Group
		res *apprun.Result
	)

	// Session sweeper, releases the sessions left inactive while the plan runs.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				return d.sessions.Run(ctx)
			},
			func(_ error) {
				cancel()
			},
		)
	}

	// Plan.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				r, err := svc.Run(ctx, apprun.Request{
					Plan:       plan,
					Checkpoint: checkpoint,
					Stdout:     c.rootCmd.Stderr,
					Stderr:     c.rootCmd.Stderr,
				})
				if err != nil {
					return err
				}
				res = r
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	if err := g.Run(); err != nil {
		return fmt.Errorf("could not run plan: %w", err)
	}
	if res == nil {
		return fmt.Errorf("plan run interrupted")
	}

	if err := c.rootCmd.printer(c.format).PrintRunResult(*res); err != nil {
		return fmt.Errorf("could not print result: %w", err)
	}

	if !res.Success {
		return fmt.Errorf("plan failed at step %q", res.FailedStep)
	}

	return nil
}
