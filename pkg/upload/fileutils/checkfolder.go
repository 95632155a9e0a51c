package fileutils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"k8s.io/klog/v2"
)

const (
	DefaultSweepSchedule = "30 * * * *"
	DefaultTempFileAge   = time.Hour
)

// StartSweeper periodically removes temporary files left behind by writes
// that never completed, e.g. after a crash. Stop the returned cron to end it.
func (s *Store) StartSweeper(schedule string, olderThan time.Duration) (*cron.Cron, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if olderThan <= 0 {
		olderThan = DefaultTempFileAge
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		n, subErr := s.SweepTemp(olderThan)
		if subErr != nil {
			klog.Warningf("SweepTemp %s, err:%v", s.dir, subErr)
			return
		}
		if n > 0 {
			klog.Infof("SweepTemp %s removed %d stale temp files", s.dir, n)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", schedule, err)
	}

	c.Start()
	return c, nil
}

// SweepTemp removes temporary files older than olderThan and reports how many were removed.
func (s *Store) SweepTemp(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read upload dir: %w", err)
	}

	var removed int
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasPrefix(entry.Name(), tempFilePrefix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// raced with a rename or another sweep
			continue
		}
		if time.Since(info.ModTime()) < olderThan {
			continue
		}

		filePath := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove %s: %w", filePath, err)
		}
		klog.Infof("Deleted stale temp file %s, modified %v ago", filePath, time.Since(info.ModTime()))
		removed++
	}

	return removed, nil
}
