package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor periodically removes orphaned scratch directories: leftovers from
// crashed runs that no live task owns.
type Janitor struct {
	layout *Layout
	logger *slog.Logger

	maxAge time.Duration
	inUse  func(name string) bool

	cron *cron.Cron
}

// NewJanitor builds a janitor over the layout's temp root. inUse reports
// whether a directory name belongs to a live task; such directories are
// never touched regardless of age.
func NewJanitor(layout *Layout, maxAge time.Duration, inUse func(name string) bool, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	if inUse == nil {
		inUse = func(string) bool { return false }
	}
	return &Janitor{
		layout: layout,
		logger: logger,
		maxAge: maxAge,
		inUse:  inUse,
	}
}

// Start registers the sweep on the given six-field cron expression and
// begins running it.
func (j *Janitor) Start(cronExpr string) error {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser))
	if _, err := c.AddFunc(cronExpr, j.Sweep); err != nil {
		return fmt.Errorf("invalid cleanup cron expression %q: %w", cronExpr, err)
	}
	c.Start()
	j.cron = c

	j.logger.Info("cleanup janitor started",
		slog.String("cron", cronExpr),
		slog.Duration("max_age", j.maxAge))
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
	j.logger.Info("cleanup janitor stopped")
}

// Sweep removes every scratch directory older than maxAge that no live task
// owns. Errors are logged and do not abort the sweep.
func (j *Janitor) Sweep() {
	entries, err := os.ReadDir(j.layout.TempRoot())
	if err != nil {
		j.logger.Error("reading temp root", slog.Any("error", err))
		return
	}

	cutoff := time.Now().Add(-j.maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || j.inUse(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(j.layout.TempRoot(), entry.Name())
		if err := os.RemoveAll(path); err != nil {
			j.logger.Warn("removing orphaned temp directory",
				slog.String("path", path),
				slog.Any("error", err))
			continue
		}
		removed++
		j.logger.Info("removed orphaned temp directory", slog.String("path", path))
	}

	if removed > 0 {
		j.logger.Info("cleanup sweep finished", slog.Int("removed", removed))
	}
}
