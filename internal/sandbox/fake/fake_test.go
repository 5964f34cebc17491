package fake_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox/fake"
)

func newProvider(t *testing.T) *fake.Provider {
	t.Helper()
	p, err := fake.NewProvider(fake.ProviderConfig{Logger: log.Noop})
	require.NoError(t, err)
	return p
}

func TestProviderLifecycle(t *testing.T) {
	tests := map[string]struct {
		actions func(ctx context.Context, t *testing.T, p *fake.Provider)
	}{
		"Creating a sandbox should return a usable handle.": {
			actions: func(ctx context.Context, t *testing.T, p *fake.Provider) {
				sb, err := p.Create(ctx, "node")
				require.NoError(t, err)
				assert.NotEmpty(t, sb.ID())
				assert.NoError(t, sb.ExtendTimeout(ctx, time.Minute))
				assert.Equal(t, 1, p.CreateCalls())
			},
		},

		"Create errors should be returned.": {
			actions: func(ctx context.Context, t *testing.T, p *fake.Provider) {
				p.SetCreateError(errors.New("quota exceeded"))
				_, err := p.Create(ctx, "")
				assert.Error(t, err)
			},
		},

		"Connecting to an existing sandbox should return the same identity.": {
			actions: func(ctx context.Context, t *testing.T, p *fake.Provider) {
				sb, err := p.Create(ctx, "")
				require.NoError(t, err)

				sb2, err := p.Connect(ctx, sb.ID())
				require.NoError(t, err)
				assert.Equal(t, sb.ID(), sb2.ID())
				assert.Equal(t, 1, p.ConnectCalls())
			},
		},

		"Connecting to a missing sandbox should fail with not found.": {
			actions: func(ctx context.Context, t *testing.T, p *fake.Provider) {
				_, err := p.Connect(ctx, "missing")
				assert.ErrorIs(t, err, model.ErrNotFound)
			},
		},

		"An expired sandbox should fail liveness probes and reconnections.": {
			actions: func(ctx context.Context, t *testing.T, p *fake.Provider) {
				sb, err := p.Create(ctx, "")
				require.NoError(t, err)

				p.Expire(sb.ID())
				assert.Error(t, sb.ExtendTimeout(ctx, time.Minute))
				_, err = p.Connect(ctx, sb.ID())
				assert.Error(t, err)
			},
		},

		"Pausing and connecting should resume the sandbox.": {
			actions: func(ctx context.Context, t *testing.T, p *fake.Provider) {
				sb, err := p.Create(ctx, "")
				require.NoError(t, err)

				id, err := sb.Pause(ctx)
				require.NoError(t, err)
				assert.True(t, p.IsPaused(id))
				assert.Error(t, sb.ExtendTimeout(ctx, time.Minute))

				_, err = p.Connect(ctx, id)
				require.NoError(t, err)
				assert.False(t, p.IsPaused(id))
				assert.NoError(t, sb.ExtendTimeout(ctx, time.Minute))
			},
		},

		"Pausing with a running process should fail.": {
			actions: func(ctx context.Context, t *testing.T, p *fake.Provider) {
				sb, err := p.Create(ctx, "")
				require.NoError(t, err)

				proc, err := sb.Start(ctx, "npm run dev", model.RunOpts{})
				require.NoError(t, err)
				_, err = sb.Pause(ctx)
				assert.Error(t, err)

				killed, err := proc.Kill(ctx)
				require.NoError(t, err)
				assert.True(t, killed)
				killed, err = proc.Kill(ctx)
				require.NoError(t, err)
				assert.False(t, killed)

				_, err = sb.Pause(ctx)
				assert.NoError(t, err)
			},
		},

		"Killing a sandbox should release it.": {
			actions: func(ctx context.Context, t *testing.T, p *fake.Provider) {
				sb, err := p.Create(ctx, "")
				require.NoError(t, err)

				require.NoError(t, sb.Kill(ctx))
				assert.True(t, p.IsKilled(sb.ID()))
				_, err = p.Connect(ctx, sb.ID())
				assert.ErrorIs(t, err, model.ErrNotFound)
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			test.actions(context.Background(), t, newProvider(t))
		})
	}
}

func TestSandboxFilesAndCommands(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t)
	sb, err := p.Create(ctx, "")
	require.NoError(t, err)

	require.NoError(t, sb.WriteFiles(ctx, []model.FileEntry{
		{Path: "/app/.next/cache", Content: []byte("stale")},
		{Path: "/app/index.js", Content: []byte("console.log(1)")},
	}))
	require.NoError(t, sb.WriteFile(ctx, "/app/README.md", []byte("hi")))

	data, err := sb.ReadFile(ctx, "/app/index.js")
	require.NoError(t, err)
	assert.Equal(t, "console.log(1)", string(data))

	_, err = sb.Run(ctx, "rm -rf /app/.next", model.RunOpts{})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"/app/index.js":  "console.log(1)",
		"/app/README.md": "hi",
	}, p.Files(sb.ID()))
	assert.Equal(t, []string{"rm -rf /app/.next"}, p.Commands(sb.ID()))
}

func TestSandboxRunHandler(t *testing.T) {
	ctx := context.Background()
	p, err := fake.NewProvider(fake.ProviderConfig{
		RunHandler: func(_, command string, _ model.RunOpts) (*model.RunResult, error) {
			if command == "npm install" {
				return &model.RunResult{ExitCode: 1, Stderr: "ERESOLVE"}, nil
			}
			return nil, nil
		},
	})
	require.NoError(t, err)

	sb, err := p.Create(ctx, "")
	require.NoError(t, err)

	res, err := sb.Run(ctx, "npm install", model.RunOpts{})
	require.NoError(t, err)
	assert.False(t, res.Succeeded())

	res, err = sb.Run(ctx, "ls", model.RunOpts{})
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
}
