package printer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/slok/agentbox/internal/model"
)

func TestFormatBytes(t *testing.T) {
	tests := map[string]struct {
		input int64
		exp   string
	}{
		"zero bytes": {
			input: 0,
			exp:   "0 B",
		},
		"negative bytes should return zero": {
			input: -100,
			exp:   "0 B",
		},
		"small bytes": {
			input: 512,
			exp:   "512 B",
		},
		"kilobytes": {
			input: 1536,
			exp:   "1.5 KB",
		},
		"hundreds of megabytes": {
			input: 700 * 1024 * 1024,
			exp:   "700.0 MB",
		},
		"terabytes should be the biggest unit": {
			input: 2048 * 1024 * 1024 * 1024 * 1024,
			exp:   "2048.0 TB",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.exp, FormatBytes(test.input))
		})
	}
}

func TestSnapshotSize(t *testing.T) {
	s := model.FileSnapshot{Files: map[string]string{"a": "1234", "b": "", "c": "12"}}
	assert.Equal(t, int64(6), SnapshotSize(s))
}
