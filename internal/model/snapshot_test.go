package model_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/slok/agentbox/internal/model"
)

func TestFileSnapshotValidate(t *testing.T) {
	tests := map[string]struct {
		snapshot model.FileSnapshot
		expErr   bool
	}{
		"A valid snapshot should not fail.": {
			snapshot: model.FileSnapshot{
				Files:        map[string]string{"package.json": "{}", "src/app.tsx": "export {}"},
				Dependencies: map[string]string{"react": "18.2.0"},
			},
		},

		"An empty snapshot should not fail.": {
			snapshot: model.FileSnapshot{},
		},

		"An absolute path should fail.": {
			snapshot: model.FileSnapshot{Files: map[string]string{"/etc/passwd": ""}},
			expErr:   true,
		},

		"A path escaping the project should fail.": {
			snapshot: model.FileSnapshot{Files: map[string]string{"src/../../x": ""}},
			expErr:   true,
		},

		"An empty dependency name should fail.": {
			snapshot: model.FileSnapshot{Dependencies: map[string]string{"": "1.0.0"}},
			expErr:   true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			err := test.snapshot.Validate()
			if test.expErr {
				assert.Error(t, err)
				assert.True(t, errors.Is(err, model.ErrNotValid))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFileSnapshotPaths(t *testing.T) {
	s := model.FileSnapshot{Files: map[string]string{"b.txt": "", "a/c.txt": "", "a.txt": ""}}

	assert.Equal(t, []string{"a.txt", "a/c.txt", "b.txt"}, s.Paths())
	assert.True(t, s.HasFile("a/c.txt"))
	assert.False(t, s.HasFile("c.txt"))
}

func TestRestoreResultFailedFiles(t *testing.T) {
	errWrite := errors.New("write failed")
	r := model.RestoreResult{Files: []model.FileRestoreResult{
		{Path: "a"},
		{Path: "b", Err: errWrite},
	}}

	assert.Equal(t, []model.FileRestoreResult{{Path: "b", Err: errWrite}}, r.FailedFiles())
}
