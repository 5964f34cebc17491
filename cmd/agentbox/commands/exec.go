package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"
	shellquote "github.com/kballard/go-shellquote"

	"github.com/slok/agentbox/internal/app/exec"
	"github.com/slok/agentbox/internal/model"
)

type ExecCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	projectID  string
	command    []string
	workingDir string
	envSpecs   []string
	background bool
	timeout    string
}

// NewExecCommand returns the exec command.
func NewExecCommand(rootCmd *RootCommand, app *kingpin.Application) *ExecCommand {
	c := &ExecCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("exec", "Execute a command in the project sandbox.")
	c.Cmd.Arg("project", "Project ID.").Required().StringVar(&c.projectID)
	c.Cmd.Arg("command", "Command to execute (use -- before command).").Required().StringsVar(&c.command)
	c.Cmd.Flag("workdir", "Working directory for command execution.").Short('w').StringVar(&c.workingDir)
	c.Cmd.Flag("env", "Environment variables (KEY=VALUE or KEY from current environment). Can be repeated.").Short('e').StringsVar(&c.envSpecs)
	c.Cmd.Flag("background", "Start the command in the background and return its process ID.").Short('d').BoolVar(&c.background)
	c.Cmd.Flag("timeout", "Command timeout.").Default("5m").StringVar(&c.timeout)

	return c
}

func (c ExecCommand) Name() string { return c.Cmd.FullCommand() }

func (c ExecCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	cmdEnv, err := parseEnvSpecs(c.envSpecs)
	if err != nil {
		return fmt.Errorf("invalid --env value: %w", err)
	}

	timeout, err := parseTimeout(c.timeout)
	if err != nil {
		return fmt.Errorf("invalid --timeout value: %w", err)
	}

	d, err := c.rootCmd.newDeps(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	svc, err := exec.NewService(exec.ServiceConfig{
		Sessions: d.sessions,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	result, err := svc.Run(ctx, exec.Request{
		ProjectID: c.projectID,
		Command:   shellquote.Join(c.command...),
		Opts: model.RunOpts{
			WorkingDir: c.workingDir,
			Env:        cmdEnv,
			Stdout:     c.rootCmd.Stdout,
			Stderr:     c.rootCmd.Stderr,
			Timeout:    timeout,
		},
		Background: c.background,
	})
	if err != nil {
		return fmt.Errorf("could not execute command: %w", err)
	}

	if c.background {
		return c.rootCmd.printer(formatTable).PrintMessage(fmt.Sprintf("Started background process: %s", result.ProcessID))
	}

	// Exit with the command's exit code.
	if result.Run.ExitCode != 0 {
		d.Close()
		os.Exit(result.Run.ExitCode)
	}
	return nil
}
