package archive

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultRetention is how long an orphaned artifact may sit in the working
// directory before the sweeper removes it. Deliveries finish in seconds;
// anything older survived a crash between create and cleanup.
const DefaultRetention = time.Hour

const artifactGlob = "order_*_files_*.zip"

// Sweeper periodically deletes orphaned order archives from the working
// directory. Archives are deleted inline on every delivery exit path; the
// sweeper is the safety net for process crashes in between.
type Sweeper struct {
	logger    *slog.Logger
	dir       string
	retention time.Duration
	cron      *cron.Cron
}

// NewSweeper creates a Sweeper over dir. retention <= 0 falls back to
// DefaultRetention.
func NewSweeper(log *slog.Logger, dir string, retention time.Duration) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(dir) == "" {
		dir = os.TempDir()
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Sweeper{
		logger:    log.With(slog.String("service", "archive_sweeper")),
		dir:       dir,
		retention: retention,
		cron:      cron.New(),
	}
}

// Start schedules the periodic sweep.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc("@every 30m", s.Sweep); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Sweep removes order archives older than the retention window.
func (s *Sweeper) Sweep() {
	matches, err := filepath.Glob(filepath.Join(s.dir, artifactGlob))
	if err != nil {
		s.logger.Error("glob artifacts failed", slog.Any("error", err))
		return
	}
	cutoff := time.Now().Add(-s.retention)
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			s.logger.Warn("remove orphaned artifact failed", slog.String("path", path), slog.Any("error", err))
			continue
		}
		s.logger.Info("removed orphaned artifact", slog.String("path", path))
	}
}
