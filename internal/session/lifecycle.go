package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox"
)

// Pause kills the tracked background process of the project and suspends its sandbox.
// The next Acquire resumes it.
func (m *Manager) Pause(ctx context.Context, projectID string) (*model.PausedSession, error) {
	m.mu.Lock()
	s, ok := m.sessions[projectID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("project %s has no active session: %w", projectID, model.ErrNotFound)
	}

	// A running process blocks the provider state capture.
	if _, err := m.KillBackground(ctx, projectID); err != nil {
		return nil, fmt.Errorf("could not stop background process: %w", err)
	}

	resumableID, err := s.sandbox.Pause(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not pause sandbox %s: %w", s.sandbox.ID(), err)
	}

	ps := model.PausedSession{
		ProjectID: projectID,
		SandboxID: resumableID,
		PausedAt:  m.timeNow().UTC(),
	}

	m.mu.Lock()
	delete(m.sessions, projectID)
	m.paused[projectID] = pausedSession{info: ps, sandbox: s.sandbox}
	m.mu.Unlock()

	logger := m.logger.WithValues(log.Kv{"project-id": projectID})
	m.setRegistry(ctx, projectID, resumableID, logger)
	logger.Infof("Paused sandbox %s", resumableID)

	return &ps, nil
}

// Close releases the project session, live or paused, destroying its remote sandbox
// and clearing the registry. When the session is not tracked in memory the last
// known sandbox of the registry is released.
func (m *Manager) Close(ctx context.Context, projectID string) error {
	logger := m.logger.WithValues(log.Kv{"project-id": projectID})

	m.mu.Lock()
	s, live := m.sessions[projectID]
	ps, paused := m.paused[projectID]
	proc := m.processes[projectID]
	delete(m.sessions, projectID)
	delete(m.paused, projectID)
	delete(m.processes, projectID)
	m.mu.Unlock()

	var sb sandbox.Sandbox
	switch {
	case live:
		sb = s.sandbox
	case paused:
		sb = ps.sandbox
	default:
		id, err := m.registry.GetSandboxID(ctx, projectID)
		if err != nil {
			return fmt.Errorf("could not get project sandbox: %w", err)
		}
		sb, err = m.provider.Connect(ctx, id)
		if err != nil {
			logger.Warningf("Could not connect to sandbox %s, assuming gone: %s", id, err)
			m.clearRegistry(ctx, projectID, logger)
			return nil
		}
	}

	m.release(ctx, projectID, sb, proc, logger)
	return nil
}

// Sweep closes the sessions without activity for more than the inactivity TTL.
// Registry records not tracked by this manager are evicted by their persisted
// last activity, these belong to sessions acquired by other processes.
// Returns the number of evicted sessions.
func (m *Manager) Sweep(ctx context.Context) int {
	now := m.timeNow()

	type evicted struct {
		projectID string
		sandbox   sandbox.Sandbox
		proc      sandbox.Process
	}
	var evict []evicted

	m.mu.Lock()
	for projectID, s := range m.sessions {
		if now.Sub(s.lastActivity) <= m.inactivityTTL {
			continue
		}
		evict = append(evict, evicted{projectID: projectID, sandbox: s.sandbox, proc: m.processes[projectID]})
		delete(m.sessions, projectID)
		delete(m.processes, projectID)
	}
	m.mu.Unlock()

	for _, e := range evict {
		logger := m.logger.WithValues(log.Kv{"project-id": e.projectID})
		logger.Infof("Evicting inactive sandbox %s", e.sandbox.ID())
		m.release(ctx, e.projectID, e.sandbox, e.proc, logger)
	}

	return len(evict) + m.sweepRegistry(ctx, now)
}

func (m *Manager) sweepRegistry(ctx context.Context, now time.Time) int {
	records, err := m.registry.ListSessions(ctx)
	if err != nil {
		m.logger.Warningf("Could not list stored sessions: %s", err)
		return 0
	}

	evicted := 0
	for _, rec := range records {
		if now.Sub(rec.LastActivity) <= m.inactivityTTL {
			continue
		}

		m.mu.Lock()
		_, live := m.sessions[rec.ProjectID]
		_, paused := m.paused[rec.ProjectID]
		m.mu.Unlock()
		if live || paused {
			continue
		}

		logger := m.logger.WithValues(log.Kv{"project-id": rec.ProjectID})
		logger.Infof("Evicting inactive stored sandbox %s", rec.SandboxID)
		evicted++

		sb, err := m.provider.Connect(ctx, rec.SandboxID)
		if err != nil {
			logger.Warningf("Could not connect to sandbox %s, assuming gone: %s", rec.SandboxID, err)
			m.clearRegistry(ctx, rec.ProjectID, logger)
			continue
		}
		m.release(ctx, rec.ProjectID, sb, nil, logger)
	}

	return evicted
}

// release kills the process and the remote sandbox and clears the registry.
// Failures are logged, a session is released on a best effort basis.
func (m *Manager) release(ctx context.Context, projectID string, sb sandbox.Sandbox, proc sandbox.Process, logger log.Logger) {
	if proc != nil {
		if _, err := proc.Kill(ctx); err != nil {
			logger.Warningf("Could not kill background process %s: %s", proc.ID(), err)
		}
	}

	if err := sb.Kill(ctx); err != nil && !errors.Is(err, model.ErrNotFound) {
		logger.Warningf("Could not kill sandbox %s: %s", sb.ID(), err)
	}

	m.clearRegistry(ctx, projectID, logger)
	logger.Infof("Released sandbox %s", sb.ID())
}

// Run sweeps the inactive sessions periodically until the context is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Infof("Session sweeper started (interval: %s, ttl: %s)", m.sweepInterval, m.inactivityTTL)

	t := time.NewTicker(m.sweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Infof("Session sweeper stopped")
			return nil
		case <-t.C:
			if n := m.Sweep(ctx); n > 0 {
				m.logger.Infof("Evicted %d inactive sessions", n)
			}
		}
	}
}

// StartBackground starts a command in background in the project sandbox and tracks it.
// A previously tracked process is not stopped, stopping it is up to the caller.
func (m *Manager) StartBackground(ctx context.Context, projectID, command string, opts model.RunOpts) (sandbox.Process, error) {
	sb, err := m.Acquire(ctx, projectID)
	if err != nil {
		return nil, err
	}

	proc, err := sb.Start(ctx, command, opts)
	if err != nil {
		return nil, fmt.Errorf("could not start background process: %w", err)
	}

	m.mu.Lock()
	prev, replaced := m.processes[projectID]
	m.processes[projectID] = proc
	m.mu.Unlock()

	logger := m.logger.WithValues(log.Kv{"project-id": projectID})
	if replaced {
		logger.Warningf("Background process %s is no longer tracked", prev.ID())
	}
	logger.Infof("Started background process %s", proc.ID())

	return proc, nil
}

// KillBackground kills the tracked background process of the project. Returns true
// if a process was running. Calling it again is a no-op.
func (m *Manager) KillBackground(ctx context.Context, projectID string) (bool, error) {
	m.mu.Lock()
	proc, ok := m.processes[projectID]
	delete(m.processes, projectID)
	m.mu.Unlock()

	if !ok {
		return false, nil
	}

	killed, err := proc.Kill(ctx)
	if err != nil {
		return false, fmt.Errorf("could not kill process %s: %w", proc.ID(), err)
	}

	return killed, nil
}
