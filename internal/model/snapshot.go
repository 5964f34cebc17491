package model

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
)

// FileSnapshot is the durable file set and dependency manifest of a project.
// It is replaced wholesale on update, never merged.
type FileSnapshot struct {
	// Files maps a project relative path to its content.
	Files map[string]string
	// Dependencies maps a package name to its version.
	Dependencies map[string]string
	UpdatedAt    time.Time
}

// Paths returns the snapshot file paths sorted.
func (s FileSnapshot) Paths() []string {
	paths := make([]string, 0, len(s.Files))
	for p := range s.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// HasFile returns true if the snapshot contains the file at path.
func (s FileSnapshot) HasFile(p string) bool {
	_, ok := s.Files[p]
	return ok
}

// Validate validates the snapshot model.
func (s FileSnapshot) Validate() error {
	for p := range s.Files {
		if err := ValidateSnapshotPath(p); err != nil {
			return err
		}
	}

	for name := range s.Dependencies {
		if name == "" {
			return fmt.Errorf("dependency name is required: %w", ErrNotValid)
		}
	}

	return nil
}

// ValidateSnapshotPath validates a project relative file path.
func ValidateSnapshotPath(p string) error {
	if p == "" {
		return fmt.Errorf("snapshot file path is required: %w", ErrNotValid)
	}

	if path.IsAbs(p) {
		return fmt.Errorf("snapshot file path %q must be relative: %w", p, ErrNotValid)
	}

	clean := path.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("snapshot file path %q escapes the project directory: %w", p, ErrNotValid)
	}

	return nil
}

// FileRestoreResult is the outcome of restoring a single file.
type FileRestoreResult struct {
	Path string
	Err  error
}

// RestoreResult is the outcome of replaying a FileSnapshot into a sandbox.
// Files restored with a failed dependency install is a valid terminal outcome.
type RestoreResult struct {
	// Success is true only when every file was written.
	Success               bool
	FilesRestored         int
	DependenciesInstalled bool
	Files                 []FileRestoreResult
}

// FailedFiles returns the results of the files that could not be written.
func (r RestoreResult) FailedFiles() []FileRestoreResult {
	var failed []FileRestoreResult
	for _, f := range r.Files {
		if f.Err != nil {
			failed = append(failed, f)
		}
	}
	return failed
}
