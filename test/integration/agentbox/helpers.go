package agentbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/slok/agentbox/test/integration/testutils"
)

// Config holds integration test configuration loaded from environment variables.
type Config struct {
	Binary string
	Image  string
}

func (c *Config) defaults() error {
	// go test changes the CWD to the package directory, relative paths would break.
	if !filepath.IsAbs(c.Binary) {
		return fmt.Errorf("AGENTBOX_INTEGRATION_BINARY must be an absolute path, got %q", c.Binary)
	}
	if _, err := os.Stat(c.Binary); err != nil {
		return fmt.Errorf("agentbox binary not found at %q: %w", c.Binary, err)
	}

	if c.Image == "" {
		c.Image = "node:20-bookworm"
	}

	return nil
}

// NewConfig loads integration test configuration from environment variables.
// If the config is invalid or the activation env var is not set, the test is skipped.
func NewConfig(t *testing.T) Config {
	t.Helper()

	const (
		envActivation = "AGENTBOX_INTEGRATION"
		envBinary     = "AGENTBOX_INTEGRATION_BINARY"
		envImage      = "AGENTBOX_INTEGRATION_IMAGE"
	)

	if os.Getenv(envActivation) != "true" {
		t.Skipf("Skipping integration test: %s is not set to 'true'", envActivation)
	}

	c := Config{
		Binary: os.Getenv(envBinary),
		Image:  os.Getenv(envImage),
	}

	if err := c.defaults(); err != nil {
		t.Skipf("Skipping due to invalid config: %s", err)
	}

	return c
}

// RunCmd runs an agentbox command with a specific db path and without logs.
func RunCmd(ctx context.Context, config Config, dbPath, cmdArgs string) (stdout, stderr []byte, err error) {
	args := fmt.Sprintf("--no-log --db-path %s --image %s %s", dbPath, config.Image, cmdArgs)
	return testutils.RunAgentbox(ctx, nil, config.Binary, args, true)
}

// RunExec executes a command in the project sandbox, args are passed after -- to keep spaces.
func RunExec(ctx context.Context, config Config, dbPath, projectID string, command []string) (stdout, stderr []byte, err error) {
	args := []string{"--no-log", "--db-path", dbPath, "--image", config.Image, "exec", projectID, "--"}
	args = append(args, command...)
	return testutils.RunAgentboxArgs(ctx, nil, config.Binary, args, true)
}

// RunSnapshotCreate stores a local directory as the project snapshot.
func RunSnapshotCreate(ctx context.Context, config Config, dbPath, projectID, dir string) (stdout, stderr []byte, err error) {
	return RunCmd(ctx, config, dbPath, fmt.Sprintf("snapshot create --format json %s %s", projectID, dir))
}

// RunPause pauses the project session.
func RunPause(ctx context.Context, config Config, dbPath, projectID string) (stdout, stderr []byte, err error) {
	return RunCmd(ctx, config, dbPath, fmt.Sprintf("pause --format json %s", projectID))
}

// RunSessionList lists sessions in JSON format.
func RunSessionList(ctx context.Context, config Config, dbPath string) (stdout, stderr []byte, err error) {
	return RunCmd(ctx, config, dbPath, "session list --format json")
}

// RunSessionRm removes a project session (with force).
func RunSessionRm(ctx context.Context, config Config, dbPath, projectID string) (stdout, stderr []byte, err error) {
	return RunCmd(ctx, config, dbPath, fmt.Sprintf("session rm --force %s", projectID))
}

// RunPlan runs a plan file in JSON format.
func RunPlan(ctx context.Context, config Config, dbPath, planPath string) (stdout, stderr []byte, err error) {
	return RunCmd(ctx, config, dbPath, fmt.Sprintf("run --format json %s", planPath))
}
