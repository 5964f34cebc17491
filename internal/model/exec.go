package model

import (
	"io"
	"time"
)

const (
	// DefaultCommandTimeout bounds a regular command run inside a sandbox.
	DefaultCommandTimeout = 5 * time.Minute
	// DefaultInstallTimeout bounds dependency installation commands.
	DefaultInstallTimeout = 10 * time.Minute
)

// RunOpts contains options for running a command in a sandbox.
type RunOpts struct {
	// WorkingDir is the directory to run the command in (optional).
	WorkingDir string
	// Env contains additional environment variables for this run.
	Env map[string]string
	// Stdout receives the command standard output as it is produced (optional).
	Stdout io.Writer
	// Stderr receives the command standard error as it is produced (optional).
	Stderr io.Writer
	// Timeout bounds the command, 0 means DefaultCommandTimeout.
	Timeout time.Duration
}

// RunResult contains the result of a command run.
type RunResult struct {
	// ExitCode is the exit code of the executed command.
	ExitCode int
	// Stdout is the captured standard output.
	Stdout string
	// Stderr is the captured standard error.
	Stderr string
}

// Succeeded returns true when the command exited with 0.
func (r RunResult) Succeeded() bool { return r.ExitCode == 0 }

// FileEntry is a single file to be written into a sandbox.
type FileEntry struct {
	Path    string
	Content []byte
}
