package printer

import (
	"fmt"

	"github.com/slok/agentbox/internal/model"
)

// FormatBytes returns a human-readable byte size string.
// Examples: "0 B", "512 B", "1.5 KB", "700.0 MB".
func FormatBytes(bytes int64) string {
	if bytes < 1024 {
		if bytes < 0 {
			bytes = 0
		}
		return fmt.Sprintf("%d B", bytes)
	}

	units := []string{"KB", "MB", "GB", "TB"}
	size := float64(bytes) / 1024
	unit := 0
	for size >= 1024 && unit < len(units)-1 {
		size /= 1024
		unit++
	}

	return fmt.Sprintf("%.1f %s", size, units[unit])
}

// SnapshotSize returns the total size of the snapshot file contents.
func SnapshotSize(s model.FileSnapshot) int64 {
	var total int64
	for _, c := range s.Files {
		total += int64(len(c))
	}
	return total
}
