package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Cleanup removes WAL files older than retentionDays.
func Cleanup(dir string, retentionDays int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	files, err := filepath.Glob(filepath.Join(dir, filePrefix+"-*.wal"))
	if err != nil {
		return 0, fmt.Errorf("failed to list WAL files: %w", err)
	}

	removed := 0
	for _, file := range files {
		if !isOlderThan(file, cutoff) {
			continue
		}
		if err := os.Remove(file); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", file, err)
		}
		removed++
	}
	return removed, nil
}

func isOlderThan(path string, cutoff time.Time) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.ModTime().Before(cutoff)
}
