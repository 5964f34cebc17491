package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/storage/memory"
)

var t0 = time.Date(2026, 1, 30, 10, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) *memory.Repository {
	t.Helper()
	repo, err := memory.NewRepository(memory.RepositoryConfig{
		TimeNow: func() time.Time { return t0 },
		Logger:  log.Noop,
	})
	require.NoError(t, err)
	return repo
}

func TestRepositorySessions(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	_, err := repo.GetSandboxID(ctx, "p1")
	assert.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, repo.SetSandboxID(ctx, "p1", "sb1"))
	require.NoError(t, repo.SetSandboxID(ctx, "p1", "sb2"))
	require.NoError(t, repo.SetSandboxID(ctx, "p0", "sb3"))

	id, err := repo.GetSandboxID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "sb2", id)

	sessions, err := repo.ListSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.SessionRecord{
		{ProjectID: "p0", SandboxID: "sb3", LastActivity: t0},
		{ProjectID: "p1", SandboxID: "sb2", LastActivity: t0},
	}, sessions)

	require.NoError(t, repo.ClearSandboxID(ctx, "p1"))
	require.NoError(t, repo.ClearSandboxID(ctx, "p1"))
	_, err = repo.GetSandboxID(ctx, "p1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRepositorySetSandboxIDValidation(t *testing.T) {
	repo := newRepo(t)

	assert.ErrorIs(t, repo.SetSandboxID(context.Background(), "", "sb1"), model.ErrNotValid)
	assert.ErrorIs(t, repo.SetSandboxID(context.Background(), "p1", ""), model.ErrNotValid)
}

func TestRepositorySnapshotsAreReplacedWholesale(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	_, err := repo.GetSnapshot(ctx, "p1")
	assert.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, repo.SaveSnapshot(ctx, "p1", model.FileSnapshot{
		Files:        map[string]string{"a.txt": "a", "b.txt": "b"},
		Dependencies: map[string]string{"react": "18.2.0"},
	}))
	require.NoError(t, repo.SaveSnapshot(ctx, "p1", model.FileSnapshot{
		Files: map[string]string{"c.txt": "c"},
	}))

	snap, err := repo.GetSnapshot(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"c.txt": "c"}, snap.Files)
	assert.Empty(t, snap.Dependencies)
	assert.Equal(t, t0, snap.UpdatedAt)

	// Mutating the returned snapshot must not change the stored one.
	snap.Files["c.txt"] = "changed"
	snap2, err := repo.GetSnapshot(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "c", snap2.Files["c.txt"])
}

func TestRepositorySaveInvalidSnapshot(t *testing.T) {
	repo := newRepo(t)

	err := repo.SaveSnapshot(context.Background(), "p1", model.FileSnapshot{Files: map[string]string{"../x": ""}})
	assert.ErrorIs(t, err, model.ErrNotValid)
}

func TestRepositoryTouchSession(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	assert.ErrorIs(t, repo.TouchSession(ctx, "p1", t0), model.ErrNotFound)

	require.NoError(t, repo.SetSandboxID(ctx, "p1", "sb1"))
	later := t0.Add(25 * time.Minute)
	require.NoError(t, repo.TouchSession(ctx, "p1", later))

	sessions, err := repo.ListSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.SessionRecord{
		{ProjectID: "p1", SandboxID: "sb1", LastActivity: later},
	}, sessions)
}
