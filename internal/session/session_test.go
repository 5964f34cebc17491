package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/restore"
	"github.com/slok/agentbox/internal/sandbox/fake"
	"github.com/slok/agentbox/internal/session"
	"github.com/slok/agentbox/internal/storage/memory"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	clock    *clock
	provider *fake.Provider
	repo     *memory.Repository
	manager  *session.Manager
}

func newTestEnv(t *testing.T, mod func(cfg *session.ManagerConfig)) testEnv {
	t.Helper()

	c := &clock{now: time.Date(2026, 1, 30, 10, 0, 0, 0, time.UTC)}
	p, err := fake.NewProvider(fake.ProviderConfig{})
	require.NoError(t, err)
	repo, err := memory.NewRepository(memory.RepositoryConfig{TimeNow: c.Now})
	require.NoError(t, err)
	rs, err := restore.NewService(restore.ServiceConfig{})
	require.NoError(t, err)

	cfg := session.ManagerConfig{
		Provider:  p,
		Registry:  repo,
		Snapshots: repo,
		Restorer:  rs,
		TimeNow:   c.Now,
	}
	if mod != nil {
		mod(&cfg)
	}
	m, err := session.NewManager(cfg)
	require.NoError(t, err)

	return testEnv{clock: c, provider: p, repo: repo, manager: m}
}

var snapshot = model.FileSnapshot{
	Files: map[string]string{
		"package.json": "{}",
		"index.js":     "console.log(1)",
	},
}

func TestNewManagerInvalidConfig(t *testing.T) {
	_, err := session.NewManager(session.ManagerConfig{})
	assert.Error(t, err)
}

func TestAcquireSequentialReturnsSameSandbox(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	env := newTestEnv(t, nil)

	sb1, err := env.manager.Acquire(context.TODO(), "p1")
	require.NoError(err)
	sb2, err := env.manager.Acquire(context.TODO(), "p1")
	require.NoError(err)

	assert.Equal(sb1.ID(), sb2.ID())
	assert.Equal(1, env.provider.CreateCalls())
	assert.Equal(0, env.provider.ConnectCalls())

	id, err := env.repo.GetSandboxID(context.TODO(), "p1")
	require.NoError(err)
	assert.Equal(sb1.ID(), id)

	// A fresh project is never restored.
	assert.Empty(env.provider.Files(sb1.ID()))
}

func TestAcquireInvalidProject(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.manager.Acquire(context.TODO(), "")
	assert.ErrorIs(t, err, model.ErrNotValid)
}

func TestAcquireCreationFailureIsFatal(t *testing.T) {
	env := newTestEnv(t, nil)
	env.provider.SetCreateError(errors.New("quota exceeded"))

	_, err := env.manager.Acquire(context.TODO(), "p1")
	assert.Error(t, err)
	assert.Equal(t, 1, env.provider.CreateCalls())

	_, err = env.repo.GetSandboxID(context.TODO(), "p1")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Empty(t, env.manager.Sessions())
}

func TestAcquireReconnectsToRegistrySandbox(t *testing.T) {
	tests := map[string]struct {
		restoreOnReconnect bool
		expFiles           int
	}{
		"Reconnecting should reuse the existing sandbox without restoring.": {
			restoreOnReconnect: false,
			expFiles:           0,
		},

		"Reconnecting with restore on reconnect should re-apply the snapshot.": {
			restoreOnReconnect: true,
			expFiles:           2,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)
			env := newTestEnv(t, func(cfg *session.ManagerConfig) {
				cfg.RestoreOnReconnect = test.restoreOnReconnect
			})

			existing, err := env.provider.Create(context.TODO(), "")
			require.NoError(err)
			require.NoError(env.repo.SetSandboxID(context.TODO(), "p1", existing.ID()))
			require.NoError(env.repo.SaveSnapshot(context.TODO(), "p1", snapshot))

			sb, err := env.manager.Acquire(context.TODO(), "p1")
			require.NoError(err)

			assert.Equal(existing.ID(), sb.ID())
			assert.Equal(1, env.provider.CreateCalls())
			assert.Equal(1, env.provider.ConnectCalls())
			assert.Len(env.provider.Files(sb.ID()), test.expFiles)
		})
	}
}

func TestAcquireStaleSandboxRestoresSnapshot(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	env := newTestEnv(t, nil)

	require.NoError(env.repo.SetSandboxID(context.TODO(), "p1", "gone"))
	require.NoError(env.repo.SaveSnapshot(context.TODO(), "p1", snapshot))

	sb, err := env.manager.Acquire(context.TODO(), "p1")
	require.NoError(err)

	assert.NotEqual("gone", sb.ID())
	assert.Equal(1, env.provider.ConnectCalls())
	assert.Equal(1, env.provider.CreateCalls())

	files := env.provider.Files(sb.ID())
	assert.Equal("{}", files["/home/user/project/package.json"])
	assert.Equal("console.log(1)", files["/home/user/project/index.js"])

	id, err := env.repo.GetSandboxID(context.TODO(), "p1")
	require.NoError(err)
	assert.Equal(sb.ID(), id)
}

func TestAcquireDeadCachedSandboxIsRecreated(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	env := newTestEnv(t, nil)
	require.NoError(env.repo.SaveSnapshot(context.TODO(), "p1", snapshot))

	sb1, err := env.manager.Acquire(context.TODO(), "p1")
	require.NoError(err)
	env.provider.Expire(sb1.ID())

	sb2, err := env.manager.Acquire(context.TODO(), "p1")
	require.NoError(err)

	assert.NotEqual(sb1.ID(), sb2.ID())
	assert.Equal(2, env.provider.CreateCalls())
	assert.Len(env.provider.Files(sb2.ID()), 2)
}

func TestAcquireConcurrentCreatesOnce(t *testing.T) {
	env := newTestEnv(t, nil)

	var wg sync.WaitGroup
	ids := make([]string, 10)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sb, err := env.manager.Acquire(context.TODO(), "p1")
			if err == nil {
				ids[i] = sb.ID()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, env.provider.CreateCalls())
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestReconnectStormGuard(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t, nil)
	env.provider.SetConnectError("S", errors.New("connection reset"))

	for i := 0; i < 3; i++ {
		_, err := env.manager.Reconnect(context.TODO(), "S")
		assert.Error(err)
		assert.NotErrorIs(err, session.ErrReconnectLimit)
		env.clock.Advance(time.Second)
	}
	assert.Equal(3, env.provider.ConnectCalls())

	_, err := env.manager.Reconnect(context.TODO(), "S")
	assert.ErrorIs(err, session.ErrReconnectLimit)
	assert.Equal(3, env.provider.ConnectCalls())

	// After the cooldown the provider is contacted again.
	env.clock.Advance(5 * time.Second)
	_, err = env.manager.Reconnect(context.TODO(), "S")
	assert.NotErrorIs(err, session.ErrReconnectLimit)
	assert.Equal(4, env.provider.ConnectCalls())
}

func TestReconnectSuccessResetsCounter(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	env := newTestEnv(t, nil)

	sb, err := env.provider.Create(context.TODO(), "")
	require.NoError(err)

	env.provider.SetConnectError(sb.ID(), errors.New("connection reset"))
	for i := 0; i < 2; i++ {
		_, err := env.manager.Reconnect(context.TODO(), sb.ID())
		assert.Error(err)
	}

	env.provider.SetConnectError(sb.ID(), nil)
	_, err = env.manager.Reconnect(context.TODO(), sb.ID())
	require.NoError(err)

	env.provider.SetConnectError(sb.ID(), errors.New("connection reset"))
	for i := 0; i < 3; i++ {
		_, err := env.manager.Reconnect(context.TODO(), sb.ID())
		assert.NotErrorIs(err, session.ErrReconnectLimit)
	}
	assert.Equal(6, env.provider.ConnectCalls())
}

func TestSweep(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	env := newTestEnv(t, nil)

	sb1, err := env.manager.Acquire(context.TODO(), "p1")
	require.NoError(err)
	_, err = env.manager.StartBackground(context.TODO(), "p1", "npm run dev", model.RunOpts{})
	require.NoError(err)

	env.clock.Advance(20 * time.Minute)
	sb2, err := env.manager.Acquire(context.TODO(), "p2")
	require.NoError(err)

	env.clock.Advance(20 * time.Minute)
	assert.Equal(1, env.manager.Sweep(context.TODO()))

	sessions := env.manager.Sessions()
	require.Len(sessions, 1)
	assert.Equal("p2", sessions[0].ProjectID)

	assert.True(env.provider.IsKilled(sb1.ID()))
	assert.Empty(env.provider.RunningProcesses(sb1.ID()))
	assert.False(env.provider.IsKilled(sb2.ID()))

	_, err = env.repo.GetSandboxID(context.TODO(), "p1")
	assert.ErrorIs(err, model.ErrNotFound)

	env.clock.Advance(11 * time.Minute)
	assert.Equal(1, env.manager.Sweep(context.TODO()))
	assert.Empty(env.manager.Sessions())
	assert.Equal(0, env.manager.Sweep(context.TODO()))
}

func TestPauseAndResume(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	env := newTestEnv(t, nil)

	sb, err := env.manager.Acquire(context.TODO(), "p1")
	require.NoError(err)
	_, err = env.manager.StartBackground(context.TODO(), "p1", "npm run dev", model.RunOpts{})
	require.NoError(err)

	ps, err := env.manager.Pause(context.TODO(), "p1")
	require.NoError(err)
	assert.Equal(sb.ID(), ps.SandboxID)
	assert.True(env.provider.IsPaused(sb.ID()))
	assert.Empty(env.provider.RunningProcesses(sb.ID()))

	sessions := env.manager.Sessions()
	require.Len(sessions, 1)
	assert.Equal(model.SessionStatePaused, sessions[0].State)

	resumed, err := env.manager.Acquire(context.TODO(), "p1")
	require.NoError(err)
	assert.Equal(sb.ID(), resumed.ID())
	assert.False(env.provider.IsPaused(sb.ID()))
	assert.Equal(1, env.provider.CreateCalls())

	sessions = env.manager.Sessions()
	require.Len(sessions, 1)
	assert.Equal(model.SessionStateActive, sessions[0].State)
}

func TestPauseWithoutSession(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.manager.Pause(context.TODO(), "p1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestResumeFailureRecreatesWithRestore(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	env := newTestEnv(t, nil)
	require.NoError(env.repo.SaveSnapshot(context.TODO(), "p1", snapshot))

	sb, err := env.manager.Acquire(context.TODO(), "p1")
	require.NoError(err)
	_, err = env.manager.Pause(context.TODO(), "p1")
	require.NoError(err)
	env.provider.Expire(sb.ID())

	sb2, err := env.manager.Acquire(context.TODO(), "p1")
	require.NoError(err)
	assert.NotEqual(sb.ID(), sb2.ID())
	assert.Len(env.provider.Files(sb2.ID()), 2)
}

func TestBackgroundProcesses(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	env := newTestEnv(t, nil)

	killed, err := env.manager.KillBackground(context.TODO(), "p1")
	require.NoError(err)
	assert.False(killed)

	p1, err := env.manager.StartBackground(context.TODO(), "p1", "npm run dev", model.RunOpts{})
	require.NoError(err)
	p2, err := env.manager.StartBackground(context.TODO(), "p1", "npm run storybook", model.RunOpts{})
	require.NoError(err)

	sessions := env.manager.Sessions()
	require.Len(sessions, 1)
	assert.Equal(p2.ID(), sessions[0].BackgroundProcess)

	killed, err = env.manager.KillBackground(context.TODO(), "p1")
	require.NoError(err)
	assert.True(killed)

	killed, err = env.manager.KillBackground(context.TODO(), "p1")
	require.NoError(err)
	assert.False(killed)

	// Starting a new process doesn't stop the previous one.
	assert.Equal([]string{p1.ID()}, env.provider.RunningProcesses(sessions[0].SandboxID))
}

func TestClose(t *testing.T) {
	tests := map[string]struct {
		setup  func(t *testing.T, env testEnv) string
		expErr error
	}{
		"Closing a live session should release it.": {
			setup: func(t *testing.T, env testEnv) string {
				sb, err := env.manager.Acquire(context.TODO(), "p1")
				require.NoError(t, err)
				return sb.ID()
			},
		},

		"Closing a paused session should release it.": {
			setup: func(t *testing.T, env testEnv) string {
				sb, err := env.manager.Acquire(context.TODO(), "p1")
				require.NoError(t, err)
				_, err = env.manager.Pause(context.TODO(), "p1")
				require.NoError(t, err)
				return sb.ID()
			},
		},

		"Closing an untracked session should release the registry sandbox.": {
			setup: func(t *testing.T, env testEnv) string {
				sb, err := env.provider.Create(context.TODO(), "")
				require.NoError(t, err)
				require.NoError(t, env.repo.SetSandboxID(context.TODO(), "p1", sb.ID()))
				return sb.ID()
			},
		},

		"Closing an unknown project should fail.": {
			setup:  func(t *testing.T, env testEnv) string { return "" },
			expErr: model.ErrNotFound,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			env := newTestEnv(t, nil)
			id := test.setup(t, env)

			err := env.manager.Close(context.TODO(), "p1")
			if test.expErr != nil {
				assert.ErrorIs(err, test.expErr)
				return
			}
			assert.NoError(err)

			assert.True(env.provider.IsKilled(id))
			assert.Empty(env.manager.Sessions())
			_, err = env.repo.GetSandboxID(context.TODO(), "p1")
			assert.ErrorIs(err, model.ErrNotFound)
		})
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	env := newTestEnv(t, func(cfg *session.ManagerConfig) { cfg.SweepInterval = time.Millisecond })

	ctx, cancel := context.WithCancel(context.Background())
	errC := make(chan error)
	go func() { errC <- env.manager.Run(ctx) }()
	cancel()

	select {
	case err := <-errC:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func newSharedManager(t *testing.T, env testEnv) *session.Manager {
	t.Helper()

	rs, err := restore.NewService(restore.ServiceConfig{})
	require.NoError(t, err)
	m, err := session.NewManager(session.ManagerConfig{
		Provider:  env.provider,
		Registry:  env.repo,
		Snapshots: env.repo,
		Restorer:  rs,
		TimeNow:   env.clock.Now,
	})
	require.NoError(t, err)

	return m
}

func TestAcquireRefreshesStoredActivity(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	env := newTestEnv(t, nil)

	_, err := env.manager.Acquire(context.TODO(), "p1")
	require.NoError(err)

	env.clock.Advance(25 * time.Minute)
	_, err = env.manager.Acquire(context.TODO(), "p1")
	require.NoError(err)

	records, err := env.repo.ListSessions(context.TODO())
	require.NoError(err)
	require.Len(records, 1)
	assert.Equal(env.clock.Now(), records[0].LastActivity)
}

func TestSweepStoredSessions(t *testing.T) {
	tests := map[string]struct {
		advance    time.Duration
		expire     bool
		expEvicted int
		expKilled  bool
		expStored  bool
	}{
		"A stored session past the TTL should be released.": {
			advance:    2 * time.Hour,
			expEvicted: 1,
			expKilled:  true,
		},

		"A stored session inside the TTL should be kept.": {
			advance:   10 * time.Minute,
			expStored: true,
		},

		"A stored session whose sandbox is gone should be cleared.": {
			advance:    2 * time.Hour,
			expire:     true,
			expEvicted: 1,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)
			env := newTestEnv(t, nil)

			// The session is acquired by a manager of another process.
			sb, err := env.manager.Acquire(context.TODO(), "p1")
			require.NoError(err)
			if test.expire {
				env.provider.Expire(sb.ID())
			}

			sweeper := newSharedManager(t, env)
			env.clock.Advance(test.advance)

			assert.Equal(test.expEvicted, sweeper.Sweep(context.TODO()))
			assert.Equal(test.expKilled, env.provider.IsKilled(sb.ID()))

			_, err = env.repo.GetSandboxID(context.TODO(), "p1")
			if test.expStored {
				assert.NoError(err)
			} else {
				assert.ErrorIs(err, model.ErrNotFound)
			}
		})
	}
}

func TestAcquireCancelledCallerDoesNotFailSharedAcquisition(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	env := newTestEnv(t, nil)

	gate := make(chan struct{})
	env.provider.SetCreateGate(gate)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := env.manager.Acquire(ctx, "p1")
		firstErr <- err
	}()
	require.Eventually(func() bool { return env.provider.CreateCalls() == 1 }, 5*time.Second, time.Millisecond)

	type result struct {
		sb  string
		err error
	}
	second := make(chan result, 1)
	go func() {
		sb, err := env.manager.Acquire(context.Background(), "p1")
		if err != nil {
			second <- result{err: err}
			return
		}
		second <- result{sb: sb.ID()}
	}()

	cancel()
	assert.ErrorIs(<-firstErr, context.Canceled)

	close(gate)
	res := <-second
	require.NoError(res.err)
	assert.NotEmpty(res.sb)
	assert.Equal(1, env.provider.CreateCalls())
}

func TestResumeFailureReleasesPausedSandbox(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	env := newTestEnv(t, nil)

	sb, err := env.manager.Acquire(context.TODO(), "p1")
	require.NoError(err)
	_, err = env.manager.Pause(context.TODO(), "p1")
	require.NoError(err)
	env.provider.SetConnectError(sb.ID(), errors.New("unreachable"))

	sb2, err := env.manager.Acquire(context.TODO(), "p1")
	require.NoError(err)
	assert.NotEqual(sb.ID(), sb2.ID())
	assert.True(env.provider.IsKilled(sb.ID()))
}
