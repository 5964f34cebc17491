package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"
	"github.com/sirupsen/logrus"

	"github.com/slok/agentbox/cmd/agentbox/commands"
	"github.com/slok/agentbox/internal/log"
	loglogrus "github.com/slok/agentbox/internal/log/logrus"
)

const (
	// Version is the application version (set via ldflags).
	Version = "dev"
)

// Run runs the main application.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) (err error) {
	app := kingpin.New("agentbox", "Persistent remote sandboxes with rollback for coding agents.")
	app.DefaultEnvars()
	rootCmd := commands.NewRootCommand(app)

	// Setup commands (registers flags).
	runCmd := commands.NewRunCommand(rootCmd, app)
	execCmd := commands.NewExecCommand(rootCmd, app)
	pauseCmd := commands.NewPauseCommand(rootCmd, app)

	sessionCmd := commands.NewSessionCommand(app)
	sessionListCmd := commands.NewSessionListCommand(rootCmd, sessionCmd)
	sessionRmCmd := commands.NewSessionRmCommand(rootCmd, sessionCmd)
	sessionSweepCmd := commands.NewSessionSweepCommand(rootCmd, sessionCmd)

	snapshotCmd := commands.NewSnapshotCommand(app)
	snapshotCreateCmd := commands.NewSnapshotCreateCommand(rootCmd, snapshotCmd)
	snapshotShowCmd := commands.NewSnapshotShowCommand(rootCmd, snapshotCmd)

	cmds := map[string]commands.Command{
		runCmd.Name():            runCmd,
		execCmd.Name():           execCmd,
		pauseCmd.Name():          pauseCmd,
		sessionListCmd.Name():    sessionListCmd,
		sessionRmCmd.Name():      sessionRmCmd,
		sessionSweepCmd.Name():   sessionSweepCmd,
		snapshotCreateCmd.Name(): snapshotCreateCmd,
		snapshotShowCmd.Name():   snapshotShowCmd,
	}

	// Parse command.
	cmdName, err := app.Parse(args[1:])
	if err != nil {
		return fmt.Errorf("invalid command configuration: %w", err)
	}

	// Set standard input/output.
	rootCmd.Stdin = stdin
	rootCmd.Stdout = stdout
	rootCmd.Stderr = stderr

	// Commands that print tables or JSON don't log unless --debug is set.
	printerCommands := map[string]bool{
		"session list":  true,
		"snapshot show": true,
	}
	if printerCommands[cmdName] && !rootCmd.Debug {
		rootCmd.NoLog = true
	}

	// Set logger.
	rootCmd.Logger = getLogger(*rootCmd)

	var g run.Group

	// OS signals.
	{
		signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer signalCancel()

		g.Add(
			func() error {
				<-signalCtx.Done()
				rootCmd.Logger.Debugf("Termination signal received")
				return nil
			},
			func(_ error) {
				signalCancel()
			},
		)
	}

	// Execute command.
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				err := cmds[cmdName].Run(ctx)
				if err != nil {
					return fmt.Errorf("%q command failed: %w", cmdName, err)
				}
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	return g.Run()
}

// getLogger returns the application logger.
func getLogger(config commands.RootCommand) log.Logger {
	if config.NoLog {
		return log.Noop
	}

	logrusLog := logrus.New()
	logrusLog.Out = config.Stderr // Logs go to stderr so stdout only has command output.
	logrusLogEntry := logrus.NewEntry(logrusLog)

	if config.Debug {
		logrusLogEntry.Logger.SetLevel(logrus.DebugLevel)
	}

	switch config.LoggerType {
	case commands.LoggerTypeDefault:
		logrusLogEntry.Logger.SetFormatter(&logrus.TextFormatter{
			ForceColors:   !config.NoColor,
			DisableColors: config.NoColor,
		})
	case commands.LoggerTypeJSON:
		logrusLogEntry.Logger.SetFormatter(&logrus.JSONFormatter{})
	}

	logger := loglogrus.NewLogrus(logrusLogEntry).WithValues(log.Kv{
		"version": Version,
	})

	logger.Debugf("Debug level is enabled")

	return logger
}

func main() {
	ctx := context.Background()
	err := Run(ctx, os.Args, os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
