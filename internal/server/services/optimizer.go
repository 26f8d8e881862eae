package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mprihoda/geosync/internal/diff"
	"github.com/mprihoda/geosync/internal/logging"
	"github.com/mprihoda/geosync/internal/server/blob"
	"github.com/mprihoda/geosync/internal/server/config"
	"github.com/mprihoda/geosync/internal/server/models"
	"github.com/mprihoda/geosync/internal/server/repositories/repomanager"
)

// Optimizer is the background storage sweep. It prunes full-file copies
// that diff chains make redundant, moving them into trash rather than
// deleting; the ledger is never touched, so a pruned copy can always be
// reconstructed on demand.
type Optimizer struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       *blob.Store
	files       *FileService
	cfg         *config.Config
	logger      logging.Logger
}

func NewOptimizer(db *sql.DB, rm repomanager.RepositoryManager, store *blob.Store, files *FileService,
	cfg *config.Config, logger logging.Logger) *Optimizer {
	return &Optimizer{
		db:          db,
		repomanager: rm,
		store:       store,
		files:       files,
		cfg:         cfg,
		logger:      logger.With("module", "optimizer"),
	}
}

// Run sweeps all projects periodically until ctx is cancelled.
func (o *Optimizer) Run(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.OptimizerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.Sweep(ctx); err != nil {
				o.logger.Error(ctx, "storage sweep failed", "error", err)
			}
		}
	}
}

// Sweep prunes redundant copies across all live projects. Per-project
// failures are logged and do not stop the sweep.
func (o *Optimizer) Sweep(ctx context.Context) error {
	projects, err := o.repomanager.Projects(o.db).List(ctx)
	if err != nil {
		return err
	}
	for _, p := range projects {
		if err := o.SweepProject(ctx, p); err != nil {
			o.logger.Error(ctx, "project sweep failed", "project", p.ID, "error", err)
		}
	}
	return nil
}

// SweepProject moves redundant full copies of one project into trash.
//
// A copy is redundant when its ledger row is update_diff (the content is
// reconstructible from the chain), a newer row for the path exists (the
// copy is not the live state, which always stays on disk), and the owning
// version is older than the retention window.
func (o *Optimizer) SweepProject(ctx context.Context, project *models.Project) error {
	cutoff := time.Now().Add(-o.cfg.FileHistoryRetention)
	rows, err := o.repomanager.Versions(o.db).RedundantCopies(ctx, project.ID, cutoff)
	if err != nil {
		return err
	}

	pruned := 0
	for _, row := range rows {
		if !o.store.Exists(project.ID, row.Location) {
			continue
		}
		if row.Diff == nil || !o.store.Exists(project.ID, row.Diff.Location) {
			// Without the diff blob the full copy is the only source of this
			// state; keep it.
			o.logger.Warn(ctx, "diff blob missing, keeping full copy",
				"project", project.ID, "path", row.Path, "version", row.Version)
			continue
		}
		if _, err := o.store.MoveToTrash(o.store.FilePath(project.ID, row.Location)); err != nil {
			o.logger.Warn(ctx, "failed to prune copy", "project", project.ID, "location", row.Location, "error", err)
			continue
		}
		pruned++
	}
	if pruned > 0 {
		o.logger.Info(ctx, "pruned redundant copies", "project", project.ID, "count", pruned)
	}
	return nil
}

// MaterializeCheckpoint restores every diffable file of the project at its
// latest version so reconstruction chains never have to cross more than
// the checkpoint distance. Missing copies are rebuilt; present ones are
// left alone.
func (o *Optimizer) MaterializeCheckpoint(ctx context.Context, project *models.Project) error {
	files, err := o.repomanager.Versions(o.db).FilesAt(ctx, project.ID, project.LatestVersion)
	if err != nil {
		return err
	}

	var firstErr error
	for _, f := range files {
		if !diff.IsDiffable(f.Path) || o.store.Exists(project.ID, f.Location) {
			continue
		}
		if _, err := o.files.Restore(ctx, project, f.Path, project.LatestVersion); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("checkpoint %s: %w", f.Path, err)
			}
			o.logger.Warn(ctx, "checkpoint restore failed", "project", project.ID, "path", f.Path, "error", err)
		}
	}
	return firstErr
}
