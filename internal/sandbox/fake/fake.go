package fake

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox"
)

// RunHandler lets tests control the result of commands.
// Returning a nil result and nil error falls back to the default behavior.
type RunHandler func(sandboxID, command string, opts model.RunOpts) (*model.RunResult, error)

// ProviderConfig is the configuration for the fake provider.
type ProviderConfig struct {
	RunHandler RunHandler
	Logger     log.Logger
}

func (c *ProviderConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "sandbox.Fake"})
	return nil
}

type sandboxState struct {
	id        string
	files     map[string][]byte
	commands  []string
	processes map[string]bool
	paused    bool
	expired   bool
	killed    bool
}

// Provider is a fake implementation of sandbox.Provider.
// It simulates remote sandboxes in memory and records the calls it receives
// so tests can assert on them.
type Provider struct {
	sandboxes       map[string]*sandboxState
	createErr       error
	createGate      <-chan struct{}
	connectErrs     map[string]error
	writeFileErrs   map[string]error
	writeFilesErr   error
	runHandler      RunHandler
	createCalls     int
	connectCalls    int
	writeFilesCalls int
	mu              sync.Mutex
	logger          log.Logger
}

var _ sandbox.Provider = &Provider{}

// NewProvider creates a new fake provider.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Provider{
		sandboxes:     map[string]*sandboxState{},
		connectErrs:   map[string]error{},
		writeFileErrs: map[string]error{},
		runHandler:    cfg.RunHandler,
		logger:        cfg.Logger,
	}, nil
}

// Create creates a new fake sandbox.
func (p *Provider) Create(ctx context.Context, template string) (sandbox.Sandbox, error) {
	p.mu.Lock()
	p.createCalls++
	gate := p.createGate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.createErr != nil {
		return nil, p.createErr
	}

	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	p.sandboxes[id] = &sandboxState{
		id:        id,
		files:     map[string][]byte{},
		processes: map[string]bool{},
	}
	p.logger.Infof("Created fake sandbox: %s (template: %q)", id, template)

	return &Sandbox{provider: p, id: id}, nil
}

// Connect reconnects to an existing fake sandbox, resuming it if paused.
func (p *Provider) Connect(ctx context.Context, id string) (sandbox.Sandbox, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.connectCalls++
	if err := p.connectErrs[id]; err != nil {
		return nil, err
	}

	st, ok := p.sandboxes[id]
	if !ok || st.killed || st.expired {
		return nil, fmt.Errorf("sandbox %s: %w", id, model.ErrNotFound)
	}

	if st.paused {
		st.paused = false
		p.logger.Debugf("Resumed fake sandbox: %s", id)
	}

	return &Sandbox{provider: p, id: id}, nil
}

// SetCreateError makes every following Create call fail with err, nil restores it.
func (p *Provider) SetCreateError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createErr = err
}

// SetCreateGate blocks the following Create calls until gate is closed or their
// context is done, nil removes it.
func (p *Provider) SetCreateGate(gate <-chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createGate = gate
}

// SetConnectError makes every following Connect call for the ID fail with err, nil restores it.
func (p *Provider) SetConnectError(id string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.connectErrs, id)
		return
	}
	p.connectErrs[id] = err
}

// SetWriteFileError makes single file writes for the path fail.
func (p *Provider) SetWriteFileError(path string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.writeFileErrs, path)
		return
	}
	p.writeFileErrs[path] = err
}

// SetWriteFilesError makes batch writes fail.
func (p *Provider) SetWriteFilesError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeFilesErr = err
}

// SetRunHandler replaces the run handler.
func (p *Provider) SetRunHandler(h RunHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runHandler = h
}

// Expire simulates the remote sandbox timing out on the provider side.
func (p *Provider) Expire(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.sandboxes[id]; ok {
		st.expired = true
	}
}

// CreateCalls returns the number of Create calls received.
func (p *Provider) CreateCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.createCalls
}

// ConnectCalls returns the number of Connect calls received.
func (p *Provider) ConnectCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectCalls
}

// WriteFilesCalls returns the number of batch write calls received.
func (p *Provider) WriteFilesCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeFilesCalls
}

// Files returns a copy of the files stored in a sandbox.
func (p *Provider) Files(id string) map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()

	files := map[string]string{}
	st, ok := p.sandboxes[id]
	if !ok {
		return files
	}
	for k, v := range st.files {
		files[k] = string(v)
	}
	return files
}

// Commands returns the commands run in a sandbox in order.
func (p *Provider) Commands(id string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.sandboxes[id]
	if !ok {
		return nil
	}
	return append([]string(nil), st.commands...)
}

// IsPaused returns true if the sandbox is paused.
func (p *Provider) IsPaused(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.sandboxes[id]
	return ok && st.paused
}

// IsKilled returns true if the sandbox has been killed.
func (p *Provider) IsKilled(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.sandboxes[id]
	return ok && st.killed
}

// RunningProcesses returns the IDs of the processes running in background in a sandbox.
func (p *Provider) RunningProcesses(id string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.sandboxes[id]
	if !ok {
		return nil
	}

	var ids []string
	for pid, running := range st.processes {
		if running {
			ids = append(ids, pid)
		}
	}
	sort.Strings(ids)
	return ids
}

// liveState returns the state of a sandbox that can receive operations.
// Must be called with the lock held.
func (p *Provider) liveState(id string) (*sandboxState, error) {
	st, ok := p.sandboxes[id]
	if !ok || st.killed || st.expired {
		return nil, fmt.Errorf("sandbox %s: %w", id, model.ErrNotFound)
	}
	if st.paused {
		return nil, fmt.Errorf("sandbox %s is paused: %w", id, model.ErrNotValid)
	}
	return st, nil
}

// Sandbox is a handle to a fake sandbox.
type Sandbox struct {
	provider *Provider
	id       string
}

var _ sandbox.Sandbox = &Sandbox{}

func (s *Sandbox) ID() string { return s.id }

func (s *Sandbox) ExtendTimeout(ctx context.Context, d time.Duration) error {
	s.provider.mu.Lock()
	defer s.provider.mu.Unlock()

	_, err := s.provider.liveState(s.id)
	return err
}

func (s *Sandbox) Pause(ctx context.Context) (string, error) {
	s.provider.mu.Lock()
	defer s.provider.mu.Unlock()

	st, err := s.provider.liveState(s.id)
	if err != nil {
		return "", err
	}
	for pid, running := range st.processes {
		if running {
			return "", fmt.Errorf("sandbox %s has running process %s: %w", s.id, pid, model.ErrNotValid)
		}
	}

	st.paused = true
	s.provider.logger.Infof("Paused fake sandbox: %s", s.id)
	return s.id, nil
}

func (s *Sandbox) Kill(ctx context.Context) error {
	s.provider.mu.Lock()
	defer s.provider.mu.Unlock()

	st, ok := s.provider.sandboxes[s.id]
	if !ok {
		return fmt.Errorf("sandbox %s: %w", s.id, model.ErrNotFound)
	}
	st.killed = true
	s.provider.logger.Infof("Killed fake sandbox: %s", s.id)
	return nil
}

func (s *Sandbox) Run(ctx context.Context, command string, opts model.RunOpts) (*model.RunResult, error) {
	s.provider.mu.Lock()
	st, err := s.provider.liveState(s.id)
	if err != nil {
		s.provider.mu.Unlock()
		return nil, err
	}
	st.commands = append(st.commands, command)
	handler := s.provider.runHandler
	s.provider.mu.Unlock()

	if handler != nil {
		res, err := handler(s.id, command, opts)
		if err != nil {
			return nil, err
		}
		if res != nil {
			return res, nil
		}
	}

	s.provider.mu.Lock()
	defer s.provider.mu.Unlock()

	// Emulate the file system mutating commands used by the restorer.
	if dir, ok := strings.CutPrefix(command, "rm -rf "); ok {
		prefix := strings.TrimSuffix(dir, "/") + "/"
		for p := range st.files {
			if strings.HasPrefix(p, prefix) {
				delete(st.files, p)
			}
		}
	}

	return &model.RunResult{ExitCode: 0}, nil
}

func (s *Sandbox) Start(ctx context.Context, command string, opts model.RunOpts) (sandbox.Process, error) {
	s.provider.mu.Lock()
	defer s.provider.mu.Unlock()

	st, err := s.provider.liveState(s.id)
	if err != nil {
		return nil, err
	}
	st.commands = append(st.commands, command)

	pid := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	st.processes[pid] = true

	return &Process{provider: s.provider, sandboxID: s.id, id: pid}, nil
}

func (s *Sandbox) ReadFile(ctx context.Context, path string) ([]byte, error) {
	s.provider.mu.Lock()
	defer s.provider.mu.Unlock()

	st, err := s.provider.liveState(s.id)
	if err != nil {
		return nil, err
	}

	data, ok := st.files[path]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", path, model.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (s *Sandbox) WriteFile(ctx context.Context, path string, content []byte) error {
	s.provider.mu.Lock()
	defer s.provider.mu.Unlock()

	st, err := s.provider.liveState(s.id)
	if err != nil {
		return err
	}
	if err := s.provider.writeFileErrs[path]; err != nil {
		return err
	}

	st.files[path] = append([]byte(nil), content...)
	return nil
}

func (s *Sandbox) WriteFiles(ctx context.Context, files []model.FileEntry) error {
	s.provider.mu.Lock()
	defer s.provider.mu.Unlock()

	s.provider.writeFilesCalls++
	st, err := s.provider.liveState(s.id)
	if err != nil {
		return err
	}
	if s.provider.writeFilesErr != nil {
		return s.provider.writeFilesErr
	}
	for _, f := range files {
		if err := s.provider.writeFileErrs[f.Path]; err != nil {
			return err
		}
	}

	for _, f := range files {
		st.files[f.Path] = append([]byte(nil), f.Content...)
	}
	return nil
}

// Process is a fake background process.
type Process struct {
	provider  *Provider
	sandboxID string
	id        string
}

func (p *Process) ID() string { return p.id }

func (p *Process) Kill(ctx context.Context) (bool, error) {
	p.provider.mu.Lock()
	defer p.provider.mu.Unlock()

	st, ok := p.provider.sandboxes[p.sandboxID]
	if !ok || !st.processes[p.id] {
		return false, nil
	}
	st.processes[p.id] = false
	return true, nil
}
