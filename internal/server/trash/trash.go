// Package trash reclaims the quarantine area. The request path only ever
// moves data into trash; this sweeper deletes it for real, on its own
// schedule, optionally archiving payloads to S3-compatible storage first.
package trash

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/mprihoda/geosync/internal/logging"
)

// Archiver receives the payload of a trash entry before it is purged.
type Archiver interface {
	Archive(ctx context.Context, key string, path string) error
}

type Sweeper struct {
	root      string
	retention time.Duration
	interval  time.Duration
	archiver  Archiver
	logger    logging.Logger
}

// NewSweeper builds a sweeper over the trash root. Entries older than
// retention are purged each interval; archiver may be nil.
func NewSweeper(root string, retention, interval time.Duration, archiver Archiver, logger logging.Logger) *Sweeper {
	return &Sweeper{
		root:      root,
		retention: retention,
		interval:  interval,
		archiver:  archiver,
		logger:    logger.With("module", "trash"),
	}
}

// Run sweeps periodically until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error(ctx, "trash sweep failed", "error", err)
			}
		}
	}
}

// Sweep removes every top-level trash entry older than the retention age.
// Each entry is archived file by file before removal when an archiver is
// configured; an archive failure skips the entry so nothing is lost.
func (s *Sweeper) Sweep(ctx context.Context) error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-s.retention)
	for _, e := range entries {
		if e.Name() == ".scratch" {
			continue
		}
		path := filepath.Join(s.root, e.Name())
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		if s.archiver != nil {
			if err := s.archive(ctx, e.Name(), path); err != nil {
				s.logger.Warn(ctx, "archive failed, keeping trash entry", "entry", e.Name(), "error", err)
				continue
			}
		}
		if err := os.RemoveAll(path); err != nil {
			s.logger.Error(ctx, "failed to purge trash entry", "entry", e.Name(), "error", err)
			continue
		}
		s.logger.Info(ctx, "purged trash entry", "entry", e.Name())
	}
	return nil
}

func (s *Sweeper) archive(ctx context.Context, key, path string) error {
	return filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		return s.archiver.Archive(ctx, filepath.ToSlash(rel), p)
	})
}
