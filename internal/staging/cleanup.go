package staging

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"conveyor/internal/logging"
)

// CleanStale removes per-job temp trees whose last modification is older
// than maxAge. Jobs still executing touch their temp tree every stage, so
// only abandoned trees age out. Returns the number of trees removed.
func (s *Stager) CleanStale(ctx context.Context, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.tempRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, ioError("read "+s.tempRoot, err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "job_") {
			continue
		}
		path := filepath.Join(s.tempRoot, entry.Name())
		modTime, err := newestModTime(path)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping unreadable temp tree",
				logging.String("path", path), logging.Error(err))
			continue
		}
		if modTime.After(cutoff) {
			continue
		}
		size := dirSize(path)
		if err := os.RemoveAll(path); err != nil {
			s.logger.WarnContext(ctx, "failed to remove stale temp tree",
				logging.String("path", path), logging.Error(err))
			continue
		}
		removed++
		s.logger.InfoContext(ctx, "removed stale temp tree",
			logging.String("path", path),
			logging.Int64("bytes", size))
	}
	return removed, nil
}

func newestModTime(root string) (time.Time, error) {
	info, err := os.Stat(root)
	if err != nil {
		return time.Time{}, err
	}
	newest := info.ModTime()
	err = filepath.WalkDir(root, func(_ string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	return newest, err
}

func dirSize(root string) int64 {
	var total int64
	filepath.WalkDir(root, func(_ string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return nil
		}
		if info, err := entry.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
