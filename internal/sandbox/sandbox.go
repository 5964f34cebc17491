package sandbox

import (
	"context"
	"time"

	"github.com/slok/agentbox/internal/model"
)

// Provider is the remote sandbox provider, it knows how to create new sandboxes
// and how to reconnect to existing ones by their ID.
type Provider interface {
	// Create creates a new sandbox, template is optional and provider specific.
	Create(ctx context.Context, template string) (Sandbox, error)
	// Connect reconnects to an existing sandbox, resuming it if it was paused.
	Connect(ctx context.Context, id string) (Sandbox, error)
}

// Sandbox is a handle to a live remote sandbox.
type Sandbox interface {
	ID() string

	// ExtendTimeout extends the sandbox lifetime, it's also used as a liveness probe.
	ExtendTimeout(ctx context.Context, d time.Duration) error
	// Pause suspends the sandbox preserving its state, returns the ID that can be
	// used to resume it with Provider.Connect.
	Pause(ctx context.Context) (resumableID string, err error)
	// Kill destroys the remote sandbox releasing its resources.
	Kill(ctx context.Context) error

	// Run runs a command and waits until it finishes.
	// A non zero exit code is not an error.
	Run(ctx context.Context, command string, opts model.RunOpts) (*model.RunResult, error)
	// Start runs a command in background and returns without waiting.
	Start(ctx context.Context, command string, opts model.RunOpts) (Process, error)

	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, content []byte) error
	// WriteFiles writes a batch of files, on error the state of the batch is unknown.
	WriteFiles(ctx context.Context, files []model.FileEntry) error
}

// Process is a command running in background inside a sandbox.
type Process interface {
	ID() string
	// Kill stops the process, returns false if it was not running.
	Kill(ctx context.Context) (bool, error)
}
