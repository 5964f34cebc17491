package io

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"

	"github.com/slok/agentbox/internal/model"
)

// DefaultIgnoredDirs are the directories never included in a snapshot.
var DefaultIgnoredDirs = []string{".git", "node_modules", ".next"}

// ManifestFile is the dependency manifest read to fill the snapshot dependencies.
const ManifestFile = "package.json"

// DirSnapshotRepository builds file snapshots from a local project directory.
type DirSnapshotRepository struct {
	fs      fs.FS
	ignored map[string]bool
}

// NewDirSnapshotRepository creates a new directory snapshot repository, nil ignoredDirs
// uses DefaultIgnoredDirs.
func NewDirSnapshotRepository(filesystem fs.FS, ignoredDirs []string) *DirSnapshotRepository {
	if ignoredDirs == nil {
		ignoredDirs = DefaultIgnoredDirs
	}

	ignored := map[string]bool{}
	for _, d := range ignoredDirs {
		ignored[d] = true
	}

	return &DirSnapshotRepository{fs: filesystem, ignored: ignored}
}

// GetSnapshot reads every file of the directory into a snapshot. Dependencies are
// taken from the package.json dependencies and devDependencies when present.
func (r *DirSnapshotRepository) GetSnapshot(ctx context.Context) (model.FileSnapshot, error) {
	snapshot := model.FileSnapshot{
		Files:        map[string]string{},
		Dependencies: map[string]string{},
	}

	err := fs.WalkDir(r.fs, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if d.IsDir() {
			if p != "." && r.ignored[d.Name()] {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		data, err := fs.ReadFile(r.fs, p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}
		snapshot.Files[p] = string(data)

		return nil
	})
	if err != nil {
		return model.FileSnapshot{}, fmt.Errorf("walking project directory: %w", err)
	}

	if manifest, ok := snapshot.Files[ManifestFile]; ok {
		deps, err := manifestDependencies([]byte(manifest))
		if err != nil {
			return model.FileSnapshot{}, fmt.Errorf("invalid %s: %w", ManifestFile, err)
		}
		snapshot.Dependencies = deps
	}

	if err := snapshot.Validate(); err != nil {
		return model.FileSnapshot{}, err
	}

	return snapshot, nil
}

type packageJSON struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

func manifestDependencies(data []byte) (map[string]string, error) {
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, err
	}

	deps := map[string]string{}
	for k, v := range pkg.DevDependencies {
		deps[k] = v
	}
	for k, v := range pkg.Dependencies {
		deps[k] = v
	}
	return deps, nil
}
