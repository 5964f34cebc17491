package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/kballard/go-shellquote"
	"github.com/oklog/ulid/v2"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox"
)

const (
	containerPrefix = "agentbox-"
	labelManaged    = "agentbox.managed"
	labelTemplate   = "agentbox.template"
)

// DockerClient is the interface for Docker operations that we use.
// This allows us to mock the Docker client for testing.
type DockerClient interface {
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerPause(ctx context.Context, containerID string) error
	ContainerUnpause(ctx context.Context, containerID string) error
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error
	CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, container.PathStat, error)
}

// ProviderConfig is the configuration for the Docker provider.
type ProviderConfig struct {
	Client DockerClient
	// DefaultImage is used when Create receives an empty template.
	DefaultImage string
	// SkipPull disables pulling the image before creating the container.
	SkipPull bool
	Resources model.Resources
	Logger    log.Logger
}

func (c *ProviderConfig) defaults() error {
	if c.Client == nil {
		// Create a default Docker client
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return fmt.Errorf("could not create Docker client: %w", err)
		}
		c.Client = cli
	}
	if c.DefaultImage == "" {
		c.DefaultImage = "node:20-bookworm"
	}
	if err := c.Resources.Validate(); err != nil {
		return err
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "sandbox.Docker"})
	return nil
}

// Provider is the Docker implementation of sandbox.Provider.
// Each sandbox is a long running container, the sandbox ID is the container name.
type Provider struct {
	client       DockerClient
	defaultImage string
	skipPull     bool
	resources    model.Resources
	logger       log.Logger
}

var _ sandbox.Provider = &Provider{}

// NewProvider creates a new Docker provider.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Provider{
		client:       cfg.Client,
		defaultImage: cfg.DefaultImage,
		skipPull:     cfg.SkipPull,
		resources:    cfg.Resources,
		logger:       cfg.Logger,
	}, nil
}

// Create pulls the template image and creates and starts a new container sandbox.
func (p *Provider) Create(ctx context.Context, template string) (sandbox.Sandbox, error) {
	img := template
	if img == "" {
		img = p.defaultImage
	}

	id := containerPrefix + strings.ToLower(ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String())

	if !p.skipPull {
		p.logger.Infof("[1/3] Pulling image: %s", img)
		pullResp, err := p.client.ImagePull(ctx, img, image.PullOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to pull image %s: %w", img, err)
		}
		// Consume the pull response to ensure it completes
		_, _ = io.Copy(io.Discard, pullResp)
		pullResp.Close()
	}

	p.logger.Infof("[2/3] Creating container: %s", id)
	containerConfig := &container.Config{
		Image: img,
		Cmd:   []string{"tail", "-f", "/dev/null"}, // Keep container running
		Labels: map[string]string{
			labelManaged:  "true",
			labelTemplate: img,
		},
	}
	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			NanoCPUs: int64(p.resources.VCPUs * 1e9),
			Memory:   int64(p.resources.MemoryMB) * 1024 * 1024,
		},
	}
	if _, err := p.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, id); err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	p.logger.Infof("[3/3] Starting container: %s", id)
	if err := p.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		// Best effort cleanup so a failed creation doesn't leak the container.
		if rmErr := p.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); rmErr != nil {
			p.logger.Warningf("could not remove container %s after start failure: %v", id, rmErr)
		}
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	p.logger.Infof("Created Docker sandbox: %s", id)
	return p.newSandbox(id), nil
}

// Connect reconnects to an existing container sandbox, unpausing or starting it if required.
func (p *Provider) Connect(ctx context.Context, id string) (sandbox.Sandbox, error) {
	info, err := p.client.ContainerInspect(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("container %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to inspect container %s: %w", id, err)
	}
	if info.State == nil {
		return nil, fmt.Errorf("container %s has no state: %w", id, model.ErrNotValid)
	}

	switch {
	case info.State.Paused:
		p.logger.Debugf("Unpausing container: %s", id)
		if err := p.client.ContainerUnpause(ctx, id); err != nil {
			return nil, fmt.Errorf("failed to unpause container %s: %w", id, err)
		}
	case info.State.Running:
	case info.State.Dead || info.State.Status == "removing":
		return nil, fmt.Errorf("container %s is %s: %w", id, info.State.Status, model.ErrNotValid)
	default:
		p.logger.Debugf("Starting container: %s (status: %s)", id, info.State.Status)
		if err := p.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
			return nil, fmt.Errorf("failed to start container %s: %w", id, err)
		}
	}

	p.logger.Debugf("Connected to Docker sandbox: %s", id)
	return p.newSandbox(id), nil
}

func (p *Provider) newSandbox(id string) *Sandbox {
	return &Sandbox{client: p.client, id: id, logger: p.logger.WithValues(log.Kv{"sandbox-id": id})}
}

// Sandbox is a Docker container sandbox handle.
type Sandbox struct {
	client DockerClient
	id     string
	logger log.Logger
}

var _ sandbox.Sandbox = &Sandbox{}

func (s *Sandbox) ID() string { return s.id }

// ExtendTimeout checks the container is running.
// Containers don't expire on their own, the lifetime is handled by the session TTL.
func (s *Sandbox) ExtendTimeout(ctx context.Context, d time.Duration) error {
	info, err := s.client.ContainerInspect(ctx, s.id)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("container %s: %w", s.id, model.ErrNotFound)
		}
		return fmt.Errorf("failed to inspect container %s: %w", s.id, err)
	}
	if info.State == nil || !info.State.Running || info.State.Paused {
		return fmt.Errorf("container %s is not running: %w", s.id, model.ErrNotValid)
	}

	return nil
}

func (s *Sandbox) Pause(ctx context.Context) (string, error) {
	if err := s.client.ContainerPause(ctx, s.id); err != nil {
		return "", fmt.Errorf("failed to pause container %s: %w", s.id, err)
	}
	s.logger.Infof("Paused Docker sandbox")
	return s.id, nil
}

func (s *Sandbox) Kill(ctx context.Context) error {
	err := s.client.ContainerRemove(ctx, s.id, container.RemoveOptions{Force: true})
	if err != nil {
		if isNotFound(err) {
			s.logger.Debugf("Container already removed")
			return nil
		}
		return fmt.Errorf("failed to remove container %s: %w", s.id, err)
	}
	s.logger.Infof("Removed Docker sandbox")
	return nil
}

func (s *Sandbox) Run(ctx context.Context, command string, opts model.RunOpts) (*model.RunResult, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = model.DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return s.exec(ctx, []string{"sh", "-c", command}, opts)
}

func (s *Sandbox) Start(ctx context.Context, command string, opts model.RunOpts) (sandbox.Process, error) {
	logFile := fmt.Sprintf("/tmp/agentbox-%d.log", time.Now().UnixNano())
	wrapped := fmt.Sprintf("nohup %s > %s 2>&1 & echo $!", shellquote.Join("sh", "-c", command), logFile)

	res, err := s.Run(ctx, wrapped, model.RunOpts{WorkingDir: opts.WorkingDir, Env: opts.Env, Timeout: opts.Timeout})
	if err != nil {
		return nil, fmt.Errorf("could not start background command: %w", err)
	}
	if !res.Succeeded() {
		return nil, fmt.Errorf("background command start exited with %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	pid, err := strconv.Atoi(strings.TrimSpace(res.Stdout))
	if err != nil {
		return nil, fmt.Errorf("could not parse background process pid %q: %w", res.Stdout, err)
	}
	s.logger.Debugf("Started background process %d (log: %s)", pid, logFile)

	return &Process{sandbox: s, pid: pid}, nil
}

func (s *Sandbox) ReadFile(ctx context.Context, p string) ([]byte, error) {
	rc, _, err := s.client.CopyFromContainer(ctx, s.id, p)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("file %s: %w", p, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not copy %s from container: %w", p, err)
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	hdr, err := tr.Next()
	if err != nil {
		return nil, fmt.Errorf("could not read archive for %s: %w", p, err)
	}
	if hdr.Typeflag != tar.TypeReg {
		return nil, fmt.Errorf("%s is not a regular file: %w", p, model.ErrNotValid)
	}

	data, err := io.ReadAll(tr)
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %w", p, err)
	}
	return data, nil
}

func (s *Sandbox) WriteFile(ctx context.Context, p string, content []byte) error {
	return s.WriteFiles(ctx, []model.FileEntry{{Path: p, Content: content}})
}

// WriteFiles writes all the files in a single tar stream extracted at the container root.
func (s *Sandbox) WriteFiles(ctx context.Context, files []model.FileEntry) error {
	if len(files) == 0 {
		return nil
	}

	archive, err := tarFiles(files)
	if err != nil {
		return err
	}

	if err := s.client.CopyToContainer(ctx, s.id, "/", archive, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("could not copy files to container: %w", err)
	}
	s.logger.Debugf("Wrote %d files", len(files))
	return nil
}

func (s *Sandbox) exec(ctx context.Context, cmd []string, opts model.RunOpts) (*model.RunResult, error) {
	var envVars []string
	for k, v := range opts.Env {
		envVars = append(envVars, fmt.Sprintf("%s=%s", k, v))
	}

	s.logger.Debugf("Executing command: %v", cmd)
	created, err := s.client.ContainerExecCreate(ctx, s.id, container.ExecOptions{
		Cmd:          cmd,
		Env:          envVars,
		WorkingDir:   opts.WorkingDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("container %s: %w", s.id, model.ErrNotFound)
		}
		if strings.Contains(err.Error(), "is not running") || strings.Contains(err.Error(), "is paused") {
			return nil, fmt.Errorf("container %s is not running: %w", s.id, model.ErrNotValid)
		}
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}

	attached, err := s.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach exec: %w", err)
	}
	defer attached.Close()

	// The hijacked connection doesn't follow the context, close it on cancellation.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			attached.Close()
		case <-done:
		}
	}()

	var stdout, stderr bytes.Buffer
	outW := io.Writer(&stdout)
	errW := io.Writer(&stderr)
	if opts.Stdout != nil {
		outW = io.MultiWriter(&stdout, opts.Stdout)
	}
	if opts.Stderr != nil {
		errW = io.MultiWriter(&stderr, opts.Stderr)
	}

	if _, err := stdcopy.StdCopy(outW, errW, attached.Reader); err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("could not read exec output: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("command did not finish: %w", err)
	}

	inspect, err := s.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect exec: %w", err)
	}

	return &model.RunResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// Process is a background process inside a Docker container sandbox.
type Process struct {
	sandbox *Sandbox
	pid     int
}

func (p *Process) ID() string { return strconv.Itoa(p.pid) }

func (p *Process) Kill(ctx context.Context) (bool, error) {
	cmd := fmt.Sprintf("kill -0 %[1]d 2>/dev/null && kill %[1]d", p.pid)
	res, err := p.sandbox.Run(ctx, cmd, model.RunOpts{})
	if err != nil {
		return false, fmt.Errorf("could not kill process %d: %w", p.pid, err)
	}

	return res.Succeeded(), nil
}

func tarFiles(files []model.FileEntry) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	now := time.Now()

	for _, f := range files {
		name := strings.TrimPrefix(path.Clean("/"+f.Path), "/")
		hdr := &tar.Header{
			Name:    name,
			Mode:    0644,
			Size:    int64(len(f.Content)),
			ModTime: now,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("could not write tar header for %s: %w", f.Path, err)
		}
		if _, err := tw.Write(f.Content); err != nil {
			return nil, fmt.Errorf("could not write tar content for %s: %w", f.Path, err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("could not close tar: %w", err)
	}
	return &buf, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, model.ErrNotFound) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "No such container") || strings.Contains(msg, "Could not find the file") || strings.Contains(msg, "not found")
}
