package services

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"path/filepath"

	"github.com/mprihoda/geosync/internal/common"
	"github.com/mprihoda/geosync/internal/diff"
	"github.com/mprihoda/geosync/internal/filex"
	"github.com/mprihoda/geosync/internal/logging"
	"github.com/mprihoda/geosync/internal/server/blob"
	"github.com/mprihoda/geosync/internal/server/models"
	"github.com/mprihoda/geosync/internal/server/repositories/repomanager"
)

// FileService reconstructs and serves file content at any historical
// version. It is read-only with respect to the ledger and safe to run
// concurrently with push transactions.
type FileService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       *blob.Store
	engine      diff.Engine
	logger      logging.Logger
}

func NewFileService(db *sql.DB, rm repomanager.RepositoryManager, store *blob.Store, engine diff.Engine, logger logging.Logger) *FileService {
	return &FileService{
		db:          db,
		repomanager: rm,
		store:       store,
		engine:      engine,
		logger:      logger.With("module", "files"),
	}
}

// Resolution is the outcome of a diff-chain resolution.
//
// State is the row defining the file at the requested version, or nil when
// the file does not exist there (deleted or never created); that is a
// legitimate outcome, not an error. Base is the nearest physically usable anchor:
// either a basefile row or, for backward resolution, the live copy at the
// latest version. Diffs is the changeset sequence in chronological order;
// when Reversed is true the base is chronologically after the target and
// the concatenated diffs must be inverted before application.
type Resolution struct {
	State    *models.FileChange
	Base     *models.FileChange
	Diffs    []*models.FileChange
	Reversed bool
}

// Resolve finds the nearest usable basefile for (path, version) and the
// ordered diff sequence needed to reconstruct the file there.
//
// The direction heuristic compares version-count distances only: when the
// latest version is closer to the target than version 1 is, the backward
// chain (live copy + inverted diffs) is tried first, falling through to the
// forward chain when a basefile or delete interrupts it.
func (s *FileService) Resolve(ctx context.Context, project *models.Project, path string, version int64) (*Resolution, error) {
	rows, err := s.repomanager.Versions(s.db).FileHistory(ctx, project.ID, path, project.LatestVersion)
	if err != nil {
		return nil, err
	}

	// rows are ordered most recent first; find the row defining the state
	// at the requested version.
	idx := -1
	for i, r := range rows {
		if r.Version <= version {
			idx = i
			break
		}
	}
	if idx == -1 {
		return &Resolution{}, nil
	}
	state := rows[idx]
	if state.Change == models.ChangeDelete {
		return &Resolution{}, nil
	}
	if state.Change.Basefile() {
		return &Resolution{State: state, Base: state}, nil
	}
	if idx == 0 {
		// The state row is the latest change of the file; its physical copy
		// is always present.
		return &Resolution{State: state, Base: state}, nil
	}

	backwardDistance := project.LatestVersion - version
	forwardDistance := version - 1

	if backwardDistance < forwardDistance {
		if res := backwardChain(rows, idx, state); res != nil {
			return res, nil
		}
		if res := forwardChain(rows, idx, state); res.Base != nil {
			return res, nil
		}
		return &Resolution{}, nil
	}
	if res := forwardChain(rows, idx, state); res.Base != nil {
		return res, nil
	}
	if res := backwardChain(rows, idx, state); res != nil {
		return res, nil
	}
	return &Resolution{}, nil
}

// backwardChain anchors on the live copy at the latest version and walks
// down to the target. Viable only when every intervening row is a diff.
func backwardChain(rows []*models.FileChange, idx int, state *models.FileChange) *Resolution {
	for i := 0; i < idx; i++ {
		if rows[i].Change != models.ChangeUpdateDiff {
			return nil
		}
	}
	diffs := make([]*models.FileChange, 0, idx)
	for i := idx - 1; i >= 0; i-- {
		diffs = append(diffs, rows[i])
	}
	return &Resolution{State: state, Base: rows[0], Diffs: diffs, Reversed: true}
}

// forwardChain walks down from the state row to the nearest older basefile.
func forwardChain(rows []*models.FileChange, idx int, state *models.FileChange) *Resolution {
	chain := []*models.FileChange{state}
	for j := idx + 1; j < len(rows); j++ {
		r := rows[j]
		if r.Change.Basefile() {
			diffs := make([]*models.FileChange, 0, len(chain))
			for i := len(chain) - 1; i >= 0; i-- {
				diffs = append(diffs, chain[i])
			}
			return &Resolution{State: state, Base: r, Diffs: diffs}
		}
		if r.Change != models.ChangeUpdateDiff {
			break
		}
		chain = append(chain, r)
	}
	return &Resolution{State: state}
}

// Restore materializes the file at (path, version) into its expected
// on-disk location and returns the defining row. All intermediate work
// happens in a scratch directory that ends up in trash; a diff-engine
// failure leaves the final location untouched.
func (s *FileService) Restore(ctx context.Context, project *models.Project, path string, version int64) (*models.FileChange, error) {
	res, err := s.Resolve(ctx, project, path, version)
	if err != nil {
		return nil, err
	}
	if res.State == nil || res.Base == nil {
		return nil, common.ErrorNotFound
	}
	if s.store.Exists(project.ID, res.State.Location) {
		return res.State, nil
	}
	if !s.store.Exists(project.ID, res.Base.Location) {
		return nil, fmt.Errorf("basefile %s missing for %s: %w", res.Base.Location, path, common.ErrorInternal)
	}

	scratch, err := s.store.NewScratchDir()
	if err != nil {
		return nil, err
	}
	defer func() {
		if _, err := s.store.MoveToTrash(scratch); err != nil {
			s.logger.Warn(ctx, "failed to discard scratch dir", "dir", scratch, "error", err)
		}
	}()

	work := filepath.Join(scratch, "restore")
	if _, _, err := filex.CopyFile(s.store.FilePath(project.ID, res.Base.Location), work); err != nil {
		return nil, err
	}

	changesets := make([]string, 0, len(res.Diffs))
	for _, d := range res.Diffs {
		if d.Diff == nil {
			return nil, fmt.Errorf("row v%d of %s has no diff: %w", d.Version, path, common.ErrorInternal)
		}
		changesets = append(changesets, s.store.FilePath(project.ID, d.Diff.Location))
	}

	changeset := filepath.Join(scratch, "changeset")
	if err := s.engine.Concat(ctx, changeset, changesets...); err != nil {
		return nil, fmt.Errorf("restore %s at v%d: %w", path, version, err)
	}
	if res.Reversed {
		inverted := filepath.Join(scratch, "changeset-inverted")
		if err := s.engine.Invert(ctx, changeset, inverted); err != nil {
			return nil, fmt.Errorf("restore %s at v%d: %w", path, version, err)
		}
		changeset = inverted
	}
	if err := s.engine.Apply(ctx, work, changeset); err != nil {
		return nil, fmt.Errorf("restore %s at v%d: %w", path, version, err)
	}

	sum, err := filex.Checksum(work)
	if err != nil {
		return nil, err
	}
	if sum != res.State.Checksum {
		return nil, fmt.Errorf("restore %s at v%d: checksum mismatch: %w", path, version, diff.ErrApplyFailed)
	}

	if err := filex.MoveAtomic(work, s.store.FilePath(project.ID, res.State.Location)); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "restored file", "project", project.ID, "path", path, "version", version)
	return res.State, nil
}

// Open returns a stream of the file content at (path, version), restoring
// it on demand when not physically present.
func (s *FileService) Open(ctx context.Context, project *models.Project, path string, version int64) (io.ReadCloser, *models.FileChange, error) {
	res, err := s.Resolve(ctx, project, path, version)
	if err != nil {
		return nil, nil, err
	}
	if res.State == nil {
		return nil, nil, common.ErrorNotFound
	}
	if !s.store.Exists(project.ID, res.State.Location) {
		if _, err := s.Restore(ctx, project, path, version); err != nil {
			return nil, nil, err
		}
	}
	f, err := s.store.Open(project.ID, res.State.Location)
	if err != nil {
		return nil, nil, err
	}
	return f, res.State, nil
}
