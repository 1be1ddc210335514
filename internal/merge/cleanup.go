package merge

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// scratchPrefix marks scratch directories created by Combine.
const scratchPrefix = "clipforge-"

// SweepOrphans removes scratch directories older than maxAge from baseDir.
// These only exist after a crash or kill; normal runs release their scratch
// directory on every exit path. Returns the number of directories removed.
func SweepOrphans(baseDir string, maxAge time.Duration, logger *slog.Logger) int {
	if baseDir == "" {
		baseDir = os.TempDir()
	}

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		logger.Warn("orphan sweep skipped", slog.String("dir", baseDir), slog.String("error", err.Error()))
		return 0
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), scratchPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(baseDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			logger.Warn("orphan removal failed", slog.String("dir", path), slog.String("error", err.Error()))
			continue
		}
		removed++
	}

	if removed > 0 {
		logger.Info("removed orphaned scratch directories", slog.Int("count", removed))
	}
	return removed
}
