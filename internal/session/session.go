// Package session keeps an always valid sandbox handle per project, hiding the
// reconnection and recreation of the remote sandboxes from its callers.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox"
	"github.com/slok/agentbox/internal/storage"
)

// ErrReconnectLimit is returned when a sandbox reached its reconnection attempts inside the cooldown.
var ErrReconnectLimit = errors.New("reconnect attempts limit reached")

// Restorer replays file snapshots into sandboxes.
type Restorer interface {
	Restore(ctx context.Context, sb sandbox.Sandbox, snapshot model.FileSnapshot) (*model.RestoreResult, error)
}

// ManagerConfig is the configuration of the session manager.
type ManagerConfig struct {
	Provider  sandbox.Provider
	Registry  storage.SessionRegistry
	Snapshots storage.SnapshotRepository
	Restorer  Restorer
	// Template is passed to the provider when creating sandboxes.
	Template string
	// SandboxTimeout is the lifetime extension requested on every liveness probe.
	SandboxTimeout time.Duration
	// InactivityTTL is the time without acquisitions after which a session is evicted.
	InactivityTTL        time.Duration
	SweepInterval        time.Duration
	ReconnectMaxAttempts int
	ReconnectCooldown    time.Duration
	// RestoreOnReconnect re-applies the snapshot after reconnecting to an existing sandbox.
	RestoreOnReconnect bool
	TimeNow            func() time.Time
	Logger             log.Logger
}

func (c *ManagerConfig) defaults() error {
	if c.Provider == nil {
		return fmt.Errorf("provider is required")
	}

	if c.Registry == nil {
		return fmt.Errorf("registry is required")
	}

	if c.Snapshots == nil {
		return fmt.Errorf("snapshots repository is required")
	}

	if c.Restorer == nil {
		return fmt.Errorf("restorer is required")
	}

	if c.SandboxTimeout == 0 {
		c.SandboxTimeout = 30 * time.Minute
	}

	if c.InactivityTTL == 0 {
		c.InactivityTTL = 30 * time.Minute
	}

	if c.SweepInterval == 0 {
		c.SweepInterval = 5 * time.Minute
	}

	if c.ReconnectMaxAttempts == 0 {
		c.ReconnectMaxAttempts = 3
	}

	if c.ReconnectCooldown == 0 {
		c.ReconnectCooldown = 5 * time.Second
	}

	if c.TimeNow == nil {
		c.TimeNow = time.Now
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "session.Manager"})

	return nil
}

type liveSession struct {
	sandbox      sandbox.Sandbox
	lastActivity time.Time
}

type pausedSession struct {
	info    model.PausedSession
	sandbox sandbox.Sandbox
}

type reconnectState struct {
	attempts int
	last     time.Time
}

// Manager tracks the sandbox sessions of projects. It's safe for concurrent use.
type Manager struct {
	provider           sandbox.Provider
	registry           storage.SessionRegistry
	snapshots          storage.SnapshotRepository
	restorer           Restorer
	template           string
	sandboxTimeout     time.Duration
	inactivityTTL      time.Duration
	sweepInterval      time.Duration
	maxReconnects      int
	reconnectCooldown  time.Duration
	restoreOnReconnect bool
	timeNow            func() time.Time
	logger             log.Logger

	acquireGroup singleflight.Group
	mu           sync.Mutex
	sessions     map[string]*liveSession
	paused       map[string]pausedSession
	processes    map[string]sandbox.Process
	reconnects   map[string]*reconnectState
}

// NewManager returns a new session manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Manager{
		provider:           cfg.Provider,
		registry:           cfg.Registry,
		snapshots:          cfg.Snapshots,
		restorer:           cfg.Restorer,
		template:           cfg.Template,
		sandboxTimeout:     cfg.SandboxTimeout,
		inactivityTTL:      cfg.InactivityTTL,
		sweepInterval:      cfg.SweepInterval,
		maxReconnects:      cfg.ReconnectMaxAttempts,
		reconnectCooldown:  cfg.ReconnectCooldown,
		restoreOnReconnect: cfg.RestoreOnReconnect,
		timeNow:            cfg.TimeNow,
		logger:             cfg.Logger,
		sessions:           map[string]*liveSession{},
		paused:             map[string]pausedSession{},
		processes:          map[string]sandbox.Process{},
		reconnects:         map[string]*reconnectState{},
	}, nil
}

// Acquire returns a live sandbox for the project. In order it tries to resume the
// paused session, reuse the cached handle, reconnect to the last known sandbox and
// finally create a new one, restoring the project snapshot when the previous
// sandbox was lost.
//
// Concurrent calls for the same project share a single acquisition. The shared
// acquisition is not cancelled with the caller that started it, a cancelled caller
// returns its context error while the others keep waiting for the result.
func (m *Manager) Acquire(ctx context.Context, projectID string) (sandbox.Sandbox, error) {
	if err := model.ValidateProjectID(projectID); err != nil {
		return nil, err
	}

	ch := m.acquireGroup.DoChan(projectID, func() (any, error) {
		return m.acquire(context.WithoutCancel(ctx), projectID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			m.logger.Debugf("Shared sandbox acquisition for project %s", projectID)
		}
		return res.Val.(sandbox.Sandbox), nil
	}
}

func (m *Manager) acquire(ctx context.Context, projectID string) (sandbox.Sandbox, error) {
	logger := m.logger.WithValues(log.Kv{"project-id": projectID})
	stale := false

	// Paused.
	m.mu.Lock()
	ps, isPaused := m.paused[projectID]
	delete(m.paused, projectID)
	m.mu.Unlock()

	if isPaused {
		sb, err := m.Reconnect(ctx, ps.info.SandboxID)
		if err == nil {
			logger.Infof("Resumed paused sandbox %s", sb.ID())
			m.setRegistry(ctx, projectID, sb.ID(), logger)
			m.track(ctx, projectID, sb, logger)
			return sb, nil
		}

		logger.Warningf("Could not resume paused sandbox %s: %s", ps.info.SandboxID, err)
		if kerr := ps.sandbox.Kill(ctx); kerr != nil && !errors.Is(kerr, model.ErrNotFound) {
			logger.Errorf("Could not release paused sandbox %s: %s", ps.info.SandboxID, kerr)
		}
		m.clearRegistry(ctx, projectID, logger)
		stale = true
	}

	// Cached.
	if !stale {
		m.mu.Lock()
		s, ok := m.sessions[projectID]
		m.mu.Unlock()

		if ok {
			err := s.sandbox.ExtendTimeout(ctx, m.sandboxTimeout)
			if err == nil {
				m.track(ctx, projectID, s.sandbox, logger)
				return s.sandbox, nil
			}

			logger.Warningf("Cached sandbox %s is not alive: %s", s.sandbox.ID(), err)
			m.mu.Lock()
			if cur, ok := m.sessions[projectID]; ok && cur == s {
				delete(m.sessions, projectID)
			}
			m.mu.Unlock()
		}
	}

	// Registry.
	if !stale {
		id, err := m.registry.GetSandboxID(ctx, projectID)
		switch {
		case err == nil:
			sb, err := m.Reconnect(ctx, id)
			if err == nil {
				logger.Infof("Reconnected to sandbox %s", id)
				if m.restoreOnReconnect {
					m.restoreSnapshot(ctx, projectID, sb, logger)
				}
				m.track(ctx, projectID, sb, logger)
				return sb, nil
			}

			logger.Warningf("Could not reconnect to sandbox %s: %s", id, err)
			m.clearRegistry(ctx, projectID, logger)
			stale = true
		case errors.Is(err, model.ErrNotFound):
		default:
			return nil, fmt.Errorf("could not get project sandbox: %w", err)
		}
	}

	// New.
	sb, err := m.provider.Create(ctx, m.template)
	if err != nil {
		return nil, fmt.Errorf("could not create sandbox: %w", err)
	}
	logger.Infof("Created sandbox %s", sb.ID())

	err = m.registry.SetSandboxID(ctx, projectID, sb.ID())
	if err != nil {
		if kerr := sb.Kill(ctx); kerr != nil {
			logger.Errorf("Could not release sandbox %s: %s", sb.ID(), kerr)
		}
		return nil, fmt.Errorf("could not store project sandbox: %w", err)
	}

	if stale {
		m.restoreSnapshot(ctx, projectID, sb, logger)
	}

	m.track(ctx, projectID, sb, logger)
	return sb, nil
}

// Reconnect connects to an existing sandbox and checks it is alive. A sandbox can't
// be retried more than the configured attempts until the cooldown since the last
// attempt elapses, in that case ErrReconnectLimit is returned without contacting
// the provider.
func (m *Manager) Reconnect(ctx context.Context, sandboxID string) (sandbox.Sandbox, error) {
	now := m.timeNow()

	m.mu.Lock()
	st, ok := m.reconnects[sandboxID]
	if ok && now.Sub(st.last) >= m.reconnectCooldown {
		ok = false
	}
	if !ok {
		st = &reconnectState{}
		m.reconnects[sandboxID] = st
	}
	if st.attempts >= m.maxReconnects {
		m.mu.Unlock()
		return nil, fmt.Errorf("sandbox %s: %w", sandboxID, ErrReconnectLimit)
	}
	st.attempts++
	st.last = now
	m.mu.Unlock()

	sb, err := m.provider.Connect(ctx, sandboxID)
	if err == nil {
		err = sb.ExtendTimeout(ctx, m.sandboxTimeout)
	}
	if err != nil {
		return nil, fmt.Errorf("could not reconnect to sandbox %s: %w", sandboxID, err)
	}

	m.mu.Lock()
	delete(m.reconnects, sandboxID)
	m.mu.Unlock()

	return sb, nil
}

func (m *Manager) restoreSnapshot(ctx context.Context, projectID string, sb sandbox.Sandbox, logger log.Logger) {
	snapshot, err := m.snapshots.GetSnapshot(ctx, projectID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			logger.Debugf("No snapshot to restore")
			return
		}
		logger.Warningf("Could not get snapshot: %s", err)
		return
	}

	res, err := m.restorer.Restore(ctx, sb, *snapshot)
	if err != nil {
		logger.Warningf("Could not restore snapshot in sandbox %s: %s", sb.ID(), err)
		return
	}
	if !res.Success {
		logger.Warningf("Snapshot partially restored in sandbox %s: %d files failed", sb.ID(), len(res.FailedFiles()))
	}
}

// track caches the sandbox handle and stamps the session activity, in memory and
// in the registry so sweepers of other processes see it.
func (m *Manager) track(ctx context.Context, projectID string, sb sandbox.Sandbox, logger log.Logger) {
	now := m.timeNow()

	m.mu.Lock()
	m.sessions[projectID] = &liveSession{sandbox: sb, lastActivity: now}
	m.mu.Unlock()

	err := m.registry.TouchSession(ctx, projectID, now)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrNotFound):
		m.setRegistry(ctx, projectID, sb.ID(), logger)
	default:
		logger.Warningf("Could not update session activity: %s", err)
	}
}

func (m *Manager) setRegistry(ctx context.Context, projectID, sandboxID string, logger log.Logger) {
	if err := m.registry.SetSandboxID(ctx, projectID, sandboxID); err != nil {
		logger.Warningf("Could not store project sandbox %s: %s", sandboxID, err)
	}
}

func (m *Manager) clearRegistry(ctx context.Context, projectID string, logger log.Logger) {
	if err := m.registry.ClearSandboxID(ctx, projectID); err != nil {
		logger.Warningf("Could not clear project sandbox: %s", err)
	}
}

// Sessions returns the live and paused sessions sorted by project.
func (m *Manager) Sessions() []model.SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]model.SessionInfo, 0, len(m.sessions)+len(m.paused))
	for projectID, s := range m.sessions {
		info := model.SessionInfo{
			ProjectID:    projectID,
			SandboxID:    s.sandbox.ID(),
			State:        model.SessionStateActive,
			LastActivity: s.lastActivity,
		}
		if p, ok := m.processes[projectID]; ok {
			info.BackgroundProcess = p.ID()
		}
		infos = append(infos, info)
	}
	for projectID, p := range m.paused {
		infos = append(infos, model.SessionInfo{
			ProjectID:    projectID,
			SandboxID:    p.info.SandboxID,
			State:        model.SessionStatePaused,
			LastActivity: p.info.PausedAt,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].ProjectID < infos[j].ProjectID })
	return infos
}
