package restore

import (
	"context"
	"fmt"
	"path"
	"time"

	shellquote "github.com/kballard/go-shellquote"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox"
)

// DefaultProjectDir is the sandbox directory where projects are restored by default.
const DefaultProjectDir = "/home/user/project"

// ServiceConfig is the configuration of the restore service.
type ServiceConfig struct {
	// ProjectDir is the absolute directory inside the sandbox where the project lives.
	ProjectDir string
	// BuildCacheDirs are project relative directories removed before restoring.
	BuildCacheDirs []string
	// ManifestFile is the project relative dependency manifest, dependencies are
	// only installed when it was restored.
	ManifestFile   string
	InstallCommand string
	InstallTimeout time.Duration
	Logger         log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.ProjectDir == "" {
		c.ProjectDir = DefaultProjectDir
	}
	if !path.IsAbs(c.ProjectDir) {
		return fmt.Errorf("project dir must be absolute")
	}

	if c.BuildCacheDirs == nil {
		c.BuildCacheDirs = []string{".next"}
	}
	for _, d := range c.BuildCacheDirs {
		if err := model.ValidateSnapshotPath(d); err != nil {
			return fmt.Errorf("invalid build cache dir: %w", err)
		}
	}

	if c.ManifestFile == "" {
		c.ManifestFile = "package.json"
	}

	if c.InstallCommand == "" {
		c.InstallCommand = "npm install"
	}

	if c.InstallTimeout == 0 {
		c.InstallTimeout = model.DefaultInstallTimeout
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "restore.Service"})

	return nil
}

// Service replays file snapshots into fresh sandboxes.
type Service struct {
	projectDir     string
	buildCacheDirs []string
	manifestFile   string
	installCommand string
	installTimeout time.Duration
	logger         log.Logger
}

// NewService returns a new restore service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		projectDir:     cfg.ProjectDir,
		buildCacheDirs: cfg.BuildCacheDirs,
		manifestFile:   cfg.ManifestFile,
		installCommand: cfg.InstallCommand,
		installTimeout: cfg.InstallTimeout,
		logger:         cfg.Logger,
	}, nil
}

// ProjectDir returns the directory inside the sandbox where files are restored.
func (s *Service) ProjectDir() string { return s.projectDir }

// Restore replays the snapshot into the sandbox. Restoring the same snapshot twice
// leaves the sandbox in the same state.
//
// The returned error is only used when the project directory can't be prepared,
// per file write failures and dependency install failures are reported in the result.
func (s *Service) Restore(ctx context.Context, sb sandbox.Sandbox, snapshot model.FileSnapshot) (*model.RestoreResult, error) {
	if err := snapshot.Validate(); err != nil {
		return nil, fmt.Errorf("invalid snapshot: %w", err)
	}

	logger := s.logger.WithValues(log.Kv{"sandbox-id": sb.ID()})
	logger.Infof("Restoring %d files and %d dependencies", len(snapshot.Files), len(snapshot.Dependencies))

	err := s.prepareProjectDir(ctx, sb, logger)
	if err != nil {
		return nil, err
	}

	res := &model.RestoreResult{Success: true}

	written := s.writeFiles(ctx, sb, snapshot, res, logger)

	if len(snapshot.Dependencies) > 0 && written[s.manifestFile] {
		res.DependenciesInstalled = s.installDependencies(ctx, sb, logger)
	}

	logger.Infof("Restore finished (success: %t, files: %d/%d, dependencies installed: %t)",
		res.Success, res.FilesRestored, len(snapshot.Files), res.DependenciesInstalled)

	return res, nil
}

func (s *Service) prepareProjectDir(ctx context.Context, sb sandbox.Sandbox, logger log.Logger) error {
	res, err := sb.Run(ctx, shellquote.Join("mkdir", "-p", s.projectDir), model.RunOpts{})
	if err != nil {
		return fmt.Errorf("could not create project directory: %w", err)
	}
	if !res.Succeeded() {
		return fmt.Errorf("could not create project directory: exit code %d: %s", res.ExitCode, res.Stderr)
	}

	// Stale build caches break the project when sources change underneath them.
	for _, d := range s.buildCacheDirs {
		dir := path.Join(s.projectDir, d)
		res, err := sb.Run(ctx, shellquote.Join("rm", "-rf", dir), model.RunOpts{})
		if err != nil {
			logger.Warningf("Could not remove build cache %s: %s", dir, err)
			continue
		}
		if !res.Succeeded() {
			logger.Warningf("Could not remove build cache %s: exit code %d", dir, res.ExitCode)
		}
	}

	return nil
}

// writeFiles writes all the files in one batch and falls back to writing them one
// by one when the batch fails. Returns the set of successfully written paths.
func (s *Service) writeFiles(ctx context.Context, sb sandbox.Sandbox, snapshot model.FileSnapshot, res *model.RestoreResult, logger log.Logger) map[string]bool {
	paths := snapshot.Paths()
	written := make(map[string]bool, len(paths))
	if len(paths) == 0 {
		return written
	}

	entries := make([]model.FileEntry, 0, len(paths))
	for _, p := range paths {
		entries = append(entries, model.FileEntry{
			Path:    path.Join(s.projectDir, p),
			Content: []byte(snapshot.Files[p]),
		})
	}

	err := sb.WriteFiles(ctx, entries)
	if err == nil {
		for _, p := range paths {
			written[p] = true
			res.Files = append(res.Files, model.FileRestoreResult{Path: p})
		}
		res.FilesRestored = len(paths)
		return written
	}

	logger.Warningf("Batch write failed, falling back to per file writes: %s", err)

	for i, p := range paths {
		err := sb.WriteFile(ctx, entries[i].Path, entries[i].Content)
		res.Files = append(res.Files, model.FileRestoreResult{Path: p, Err: err})
		if err != nil {
			logger.Warningf("Could not restore file %s: %s", p, err)
			res.Success = false
			continue
		}
		written[p] = true
		res.FilesRestored++
	}

	return written
}

func (s *Service) installDependencies(ctx context.Context, sb sandbox.Sandbox, logger log.Logger) bool {
	ctx, cancel := context.WithTimeout(ctx, s.installTimeout)
	defer cancel()

	res, err := sb.Run(ctx, s.installCommand, model.RunOpts{
		WorkingDir: s.projectDir,
		Timeout:    s.installTimeout,
	})
	if err != nil {
		logger.Warningf("Dependency install could not run: %s", err)
		return false
	}
	if !res.Succeeded() {
		logger.Warningf("Dependency install failed with exit code %d: %s", res.ExitCode, res.Stderr)
		return false
	}

	logger.Debugf("Dependencies installed")
	return true
}
