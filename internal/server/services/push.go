package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mprihoda/geosync/internal/common"
	"github.com/mprihoda/geosync/internal/dbx"
	"github.com/mprihoda/geosync/internal/diff"
	"github.com/mprihoda/geosync/internal/filex"
	"github.com/mprihoda/geosync/internal/logging"
	"github.com/mprihoda/geosync/internal/server/blob"
	"github.com/mprihoda/geosync/internal/server/config"
	"github.com/mprihoda/geosync/internal/server/models"
	"github.com/mprihoda/geosync/internal/server/repositories/repomanager"
)

// CorruptedFilesError reports the paths whose staged content did not match
// the declared metadata. The whole transaction is aborted; nothing partial
// is committed.
type CorruptedFilesError struct {
	Paths []string
}

func (e *CorruptedFilesError) Error() string {
	return "corrupted files: " + strings.Join(e.Paths, ", ")
}

// ChunkResult is returned to the client after each chunk for its own
// verification.
type ChunkResult struct {
	Checksum string `json:"checksum"`
	Size     int64  `json:"size"`
}

// PushService coordinates push transactions: start, chunk reception, commit
// and cancellation. All cross-request coordination goes through the uploads
// table and the per-transaction heartbeat file; the service itself keeps no
// mutable state.
type PushService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       *blob.Store
	engine      diff.Engine
	files       *FileService
	optimizer   *Optimizer
	access      AccessChecker
	quota       QuotaProvider
	hooks       []Hook
	cfg         *config.Config
	logger      logging.Logger
}

func NewPushService(db *sql.DB, rm repomanager.RepositoryManager, store *blob.Store, engine diff.Engine,
	files *FileService, optimizer *Optimizer, access AccessChecker, quota QuotaProvider,
	hooks []Hook, cfg *config.Config, logger logging.Logger) *PushService {
	return &PushService{
		db:          db,
		repomanager: rm,
		store:       store,
		engine:      engine,
		files:       files,
		optimizer:   optimizer,
		access:      access,
		quota:       quota,
		hooks:       hooks,
		cfg:         cfg,
		logger:      logger.With("module", "push"),
	}
}

// Start opens a push transaction against the project tip.
//
// The client must be synchronized to latest_version; the declared change
// set must be internally consistent; and (projectID, version) must not be
// held by a live transaction. A holder whose heartbeat has expired is
// reclaimed: its row is deleted, its working directory quarantined, a
// push_lost audit record appended, and the insert retried once.
func (s *PushService) Start(ctx context.Context, projectID string, version int64, changes models.Changes, userID string) (*models.Upload, error) {
	project, err := s.repomanager.Projects(s.db).Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.Removed() {
		return nil, common.ErrorNotFound
	}
	if !s.access.MayPush(ctx, project, userID) {
		return nil, common.ErrorUnauthorized
	}
	if version != project.LatestVersion {
		return nil, fmt.Errorf("%w: project is at version %d, push targets %d",
			common.ErrVersionConflict, project.LatestVersion, version)
	}

	current, err := s.currentFiles(ctx, project)
	if err != nil {
		return nil, err
	}
	if err := changes.Validate(current); err != nil {
		return nil, err
	}
	if err := validateDeclaredFiles(changes); err != nil {
		return nil, err
	}
	if err := s.checkQuota(ctx, project, changes, current); err != nil {
		return nil, err
	}

	upload := &models.Upload{
		ID:        uuid.NewString(),
		ProjectID: project.ID,
		Version:   version,
		Changes:   changes,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}

	uploadsRepo := s.repomanager.Uploads(s.db)
	err = uploadsRepo.Create(ctx, upload)
	if errors.Is(err, common.ErrUploadExists) {
		if reclaimErr := s.reclaimAbandoned(ctx, project, version); reclaimErr != nil {
			return nil, reclaimErr
		}
		err = uploadsRepo.Create(ctx, upload)
	}
	if err != nil {
		if errors.Is(err, common.ErrUploadExists) {
			return nil, common.ErrAnotherUploadRunning
		}
		return nil, err
	}

	if err := s.store.InitTxn(project.ID, upload.ID); err != nil {
		// Roll the row back so the project is not left locked by a
		// transaction without a working directory.
		_ = uploadsRepo.Delete(ctx, upload.ID)
		return nil, err
	}

	s.logger.Info(ctx, "transaction started", "project", project.ID, "transaction", upload.ID, "version", version)
	return upload, nil
}

// reclaimAbandoned checks the heartbeat of the transaction holding
// (projectID, version) and reclaims it when expired.
func (s *PushService) reclaimAbandoned(ctx context.Context, project *models.Project, version int64) error {
	uploadsRepo := s.repomanager.Uploads(s.db)
	existing, err := uploadsRepo.GetActive(ctx, project.ID, version)
	if errors.Is(err, common.ErrorNotFound) {
		// The holder finished or was cancelled in the meantime.
		return nil
	}
	if err != nil {
		return err
	}

	age := time.Since(existing.CreatedAt)
	if fi, statErr := os.Stat(s.store.TxnLockfile(project.ID, existing.ID)); statErr == nil {
		age = time.Since(fi.ModTime())
	}
	if age <= s.cfg.TransactionExpiration {
		return common.ErrAnotherUploadRunning
	}

	if err := uploadsRepo.Delete(ctx, existing.ID); err != nil && !errors.Is(err, common.ErrorNotFound) {
		return err
	}
	if _, err := s.store.MoveToTrash(s.store.TxnDir(project.ID, existing.ID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn(ctx, "failed to quarantine abandoned transaction", "transaction", existing.ID, "error", err)
	}
	failure := &models.SyncFailure{
		ProjectID:    project.ID,
		LastVersion:  version,
		UserID:       existing.UserID,
		ErrorType:    "push_lost",
		ErrorDetails: fmt.Sprintf("transaction %s reclaimed after %s without heartbeat", existing.ID, age.Round(time.Second)),
		CreatedAt:    time.Now().UTC(),
	}
	if err := uploadsRepo.RecordFailure(ctx, failure); err != nil {
		s.logger.Error(ctx, "failed to record push_lost", "transaction", existing.ID, "error", err)
	}
	s.logger.Warn(ctx, "reclaimed abandoned transaction", "project", project.ID, "transaction", existing.ID)
	return nil
}

// ownedUpload loads a transaction and verifies the caller opened it. The
// transaction id alone is not a capability; every continuation re-checks
// the owner.
func (s *PushService) ownedUpload(ctx context.Context, txnID, userID string) (*models.Upload, error) {
	upload, err := s.repomanager.Uploads(s.db).Get(ctx, txnID)
	if err != nil {
		return nil, err
	}
	if upload.UserID != userID {
		return nil, common.ErrorUnauthorized
	}
	return upload, nil
}

// Chunk streams one declared chunk into the transaction working area,
// refreshing the heartbeat as data arrives.
func (s *PushService) Chunk(ctx context.Context, txnID, chunkID string, body io.Reader, userID string) (*ChunkResult, error) {
	upload, err := s.ownedUpload(ctx, txnID, userID)
	if err != nil {
		return nil, err
	}
	if _, ok := upload.Changes.ChunkDeclared(chunkID); !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrChunkNotDeclared, chunkID)
	}

	lockfile := s.store.TxnLockfile(upload.ProjectID, txnID)
	dst := filepath.Join(s.store.TxnChunksDir(upload.ProjectID, txnID), chunkID)
	sum, size, err := s.store.SaveStream(dst, body, s.cfg.MaxChunkSize, func() {
		_ = filex.Touch(lockfile)
	})
	if err != nil {
		return nil, err
	}
	return &ChunkResult{Checksum: sum, Size: size}, nil
}

// Finish assembles, verifies and commits the transaction into a new
// project version. Any failure before the ledger commit aborts the whole
// transaction with the working directory quarantined; a failure between the
// file move and the commit also quarantines the new version directory so
// readers never observe a version without a ledger row.
func (s *PushService) Finish(ctx context.Context, txnID, userID string) (*models.ProjectVersion, error) {
	upload, err := s.ownedUpload(ctx, txnID, userID)
	if err != nil {
		return nil, err
	}
	project, err := s.repomanager.Projects(s.db).Get(ctx, upload.ProjectID)
	if err != nil {
		return nil, err
	}
	current, err := s.currentFiles(ctx, project)
	if err != nil {
		return nil, err
	}

	next := upload.Version + 1
	staged, corrupted, err := s.stageFiles(ctx, upload)
	if err == nil && len(corrupted) > 0 {
		err = &CorruptedFilesError{Paths: corrupted}
	}
	if err == nil {
		err = s.applyDiffs(ctx, project, upload, current, staged)
	}
	if err != nil {
		s.abort(ctx, upload, err)
		return nil, err
	}

	version, newTotal := s.buildVersion(project, upload, current, staged, next)

	// Single rename: the staged files directory becomes the version
	// directory. From here on a failure must quarantine it.
	filesDir := s.store.TxnFilesDir(upload.ProjectID, upload.ID)
	versionDir := s.store.VersionDir(upload.ProjectID, next)
	if err := os.Rename(filesDir, versionDir); err != nil {
		s.abort(ctx, upload, err)
		return nil, fmt.Errorf("failed to move staged files: %w", err)
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Versions(tx).Create(ctx, version); err != nil {
			return err
		}
		if err := s.repomanager.Projects(tx).UpdateVersion(ctx, project.ID, next, newTotal); err != nil {
			return err
		}
		return s.repomanager.Uploads(tx).Delete(ctx, upload.ID)
	})
	if err != nil {
		if _, trashErr := s.store.MoveToTrash(versionDir); trashErr != nil {
			s.logger.Error(ctx, "failed to quarantine uncommitted version dir", "dir", versionDir, "error", trashErr)
		}
		s.abort(ctx, upload, err)
		if errors.Is(err, common.ErrVersionConflict) {
			return nil, common.ErrVersionConflict
		}
		return nil, err
	}

	if _, err := s.store.MoveToTrash(s.store.TxnDir(upload.ProjectID, upload.ID)); err != nil {
		s.logger.Warn(ctx, "failed to discard transaction dir", "transaction", upload.ID, "error", err)
	}

	project.LatestVersion = next
	project.TotalSize = newTotal
	s.notify(ctx, Event{Type: EventVersionCreated, Project: project, Version: version})
	s.scheduleBackground(project, upload, current, staged, version)

	s.logger.Info(ctx, "version committed", "project", project.ID, "version", next, "transaction", upload.ID)
	return version, nil
}

// Cancel aborts a transaction. Cancelling twice, or cancelling an already
// finished transaction, reports not-found and changes nothing.
func (s *PushService) Cancel(ctx context.Context, txnID, userID string) error {
	upload, err := s.ownedUpload(ctx, txnID, userID)
	if err != nil {
		return err
	}
	if err := s.repomanager.Uploads(s.db).Delete(ctx, upload.ID); err != nil && !errors.Is(err, common.ErrorNotFound) {
		return err
	}
	if _, err := s.store.MoveToTrash(s.store.TxnDir(upload.ProjectID, upload.ID)); err != nil {
		s.logger.Warn(ctx, "failed to quarantine cancelled transaction", "transaction", upload.ID, "error", err)
	}
	s.logger.Info(ctx, "transaction cancelled", "project", upload.ProjectID, "transaction", upload.ID)
	return nil
}

// stagedFile tracks one assembled file (or diff) in the staging area.
type stagedFile struct {
	meta models.FileMeta
	// path is the sanitized relative path inside the staging directory,
	// which becomes the path inside the version directory.
	path string
	// diffPath is the sanitized relative path of the staged diff blob, for
	// diff-carrying updates.
	diffPath string
}

// stageFiles concatenates chunks into staging files and verifies size and
// checksum against the declaration. Mismatches accumulate per path.
func (s *PushService) stageFiles(ctx context.Context, upload *models.Upload) (map[string]*stagedFile, []string, error) {
	chunksDir := s.store.TxnChunksDir(upload.ProjectID, upload.ID)
	filesDir := s.store.TxnFilesDir(upload.ProjectID, upload.ID)
	lockfile := s.store.TxnLockfile(upload.ProjectID, upload.ID)

	staged := make(map[string]*stagedFile)
	var corrupted []string

	for _, f := range upload.Changes.Incoming() {
		_ = filex.Touch(lockfile)

		sanitized, err := blob.SanitizePath(f.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", common.ErrInconsistentChanges, err)
		}
		sf := &stagedFile{meta: f, path: sanitized}

		parts := make([]string, 0, len(f.Chunks))
		for _, c := range f.Chunks {
			parts = append(parts, filepath.Join(chunksDir, c))
		}

		if f.Diff != nil {
			sf.diffPath, err = blob.SanitizePath(f.Diff.Path)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %v", common.ErrInconsistentChanges, err)
			}
			sum, size, err := s.store.Concat(filepath.Join(filesDir, filepath.FromSlash(sf.diffPath)), parts)
			if err != nil {
				return nil, nil, err
			}
			if size != f.Diff.Size || sum != f.Diff.Checksum {
				corrupted = append(corrupted, f.Path)
			}
		} else {
			sum, size, err := s.store.Concat(filepath.Join(filesDir, filepath.FromSlash(sanitized)), parts)
			if err != nil {
				return nil, nil, err
			}
			if size != f.Size || sum != f.Checksum {
				corrupted = append(corrupted, f.Path)
			}
		}
		staged[f.Path] = sf
	}
	return staged, corrupted, nil
}

// applyDiffs materializes the full content of diff-carrying updates by
// applying each staged changeset to the file's current state.
func (s *PushService) applyDiffs(ctx context.Context, project *models.Project, upload *models.Upload,
	current map[string]*models.FileChange, staged map[string]*stagedFile) error {

	filesDir := s.store.TxnFilesDir(upload.ProjectID, upload.ID)
	var corrupted []string

	for _, f := range upload.Changes.Updated {
		if f.Diff == nil {
			continue
		}
		sf := staged[f.Path]
		row := current[f.Path]

		if !s.store.Exists(project.ID, row.Location) {
			if _, err := s.files.Restore(ctx, project, f.Path, upload.Version); err != nil {
				return fmt.Errorf("failed to materialize base for %s: %w", f.Path, err)
			}
		}

		target := filepath.Join(filesDir, filepath.FromSlash(sf.path))
		if _, _, err := filex.CopyFile(s.store.FilePath(project.ID, row.Location), target); err != nil {
			return err
		}
		if err := s.engine.Apply(ctx, target, filepath.Join(filesDir, filepath.FromSlash(sf.diffPath))); err != nil {
			return fmt.Errorf("diff application failed for %s: %w", f.Path, err)
		}

		sum, err := filex.Checksum(target)
		if err != nil {
			return err
		}
		fi, err := os.Stat(target)
		if err != nil {
			return err
		}
		if sum != f.Checksum || fi.Size() != f.Size {
			corrupted = append(corrupted, f.Path)
		}
	}
	if len(corrupted) > 0 {
		return &CorruptedFilesError{Paths: corrupted}
	}
	return nil
}

// buildVersion assembles the ledger rows and the new project totals.
func (s *PushService) buildVersion(project *models.Project, upload *models.Upload,
	current map[string]*models.FileChange, staged map[string]*stagedFile, next int64) (*models.ProjectVersion, int64) {

	vdir := blob.VersionDirName(next)
	newTotal := project.TotalSize

	var rows []*models.FileChange
	for _, f := range upload.Changes.Added {
		sf := staged[f.Path]
		rows = append(rows, &models.FileChange{
			ID:       uuid.NewString(),
			Path:     f.Path,
			Location: vdir + "/" + sf.path,
			Size:     f.Size,
			Checksum: f.Checksum,
			Change:   models.ChangeCreate,
		})
		newTotal += f.Size
	}
	for _, f := range upload.Changes.Updated {
		sf := staged[f.Path]
		row := &models.FileChange{
			ID:       uuid.NewString(),
			Path:     f.Path,
			Location: vdir + "/" + sf.path,
			Size:     f.Size,
			Checksum: f.Checksum,
			Change:   models.ChangeUpdate,
		}
		if f.Diff != nil {
			row.Change = models.ChangeUpdateDiff
			row.Diff = &models.DiffMeta{
				Path:     f.Diff.Path,
				Checksum: f.Diff.Checksum,
				Size:     f.Diff.Size,
				Location: vdir + "/" + sf.diffPath,
			}
		}
		rows = append(rows, row)
		newTotal += f.Size - current[f.Path].Size
	}
	for _, f := range upload.Changes.Removed {
		row := current[f.Path]
		rows = append(rows, &models.FileChange{
			ID:       uuid.NewString(),
			Path:     f.Path,
			Location: row.Location,
			Size:     row.Size,
			Checksum: row.Checksum,
			Change:   models.ChangeDelete,
		})
		newTotal -= row.Size
	}

	version := &models.ProjectVersion{
		ID:          uuid.NewString(),
		ProjectID:   project.ID,
		Name:        next,
		Author:      upload.UserID,
		CreatedAt:   time.Now().UTC(),
		ProjectSize: newTotal,
		Changes:     rows,
	}
	return version, newTotal
}

// abort quarantines the transaction working directory, deletes the upload
// row and records the failure.
func (s *PushService) abort(ctx context.Context, upload *models.Upload, cause error) {
	uploadsRepo := s.repomanager.Uploads(s.db)
	if err := uploadsRepo.Delete(ctx, upload.ID); err != nil && !errors.Is(err, common.ErrorNotFound) {
		s.logger.Error(ctx, "failed to delete aborted upload", "transaction", upload.ID, "error", err)
	}
	dir := s.store.TxnDir(upload.ProjectID, upload.ID)
	if dst, err := s.store.MoveToTrash(dir); err == nil {
		s.logger.Info(ctx, "transaction aborted", "transaction", upload.ID, "quarantined", dst, "cause", cause.Error())
	} else {
		s.logger.Warn(ctx, "transaction aborted, quarantine failed", "transaction", upload.ID, "error", err)
	}

	errorType := "push_failed"
	var corrupted *CorruptedFilesError
	if errors.As(cause, &corrupted) {
		errorType = "corrupted_push"
	}
	failure := &models.SyncFailure{
		ProjectID:    upload.ProjectID,
		LastVersion:  upload.Version,
		UserID:       upload.UserID,
		ErrorType:    errorType,
		ErrorDetails: cause.Error(),
		CreatedAt:    time.Now().UTC(),
	}
	if err := uploadsRepo.RecordFailure(ctx, failure); err != nil {
		s.logger.Error(ctx, "failed to record push failure", "transaction", upload.ID, "error", err)
	}
}

// notify runs post-commit hooks in order with their own error containment;
// a panicking hook cannot affect the committed transaction.
func (s *PushService) notify(ctx context.Context, e Event) {
	for _, hook := range s.hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error(ctx, "post-commit hook panicked", "event", string(e.Type), "panic", fmt.Sprint(r))
				}
			}()
			hook(ctx, e)
		}()
	}
}

// scheduleBackground kicks off post-commit work that must not delay the
// response: server-side diff construction for forced overwrites of
// diffable files, and checkpoint materialization every Nth version.
func (s *PushService) scheduleBackground(project *models.Project, upload *models.Upload,
	current map[string]*models.FileChange, staged map[string]*stagedFile, version *models.ProjectVersion) {

	go func() {
		ctx := context.Background()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error(ctx, "background push work panicked", "panic", fmt.Sprint(r))
			}
		}()

		for _, f := range upload.Changes.Updated {
			if f.Diff == nil && diff.IsDiffable(f.Path) {
				s.constructDiff(ctx, project, version, current[f.Path], staged[f.Path])
			}
		}
		if s.cfg.CheckpointInterval > 0 && version.Name%s.cfg.CheckpointInterval == 0 {
			if err := s.optimizer.MaterializeCheckpoint(ctx, project); err != nil {
				s.logger.Warn(ctx, "checkpoint materialization failed", "project", project.ID, "error", err)
			}
		}
	}()
}

// constructDiff computes a changeset between the previous copy of a
// forcibly overwritten diffable file and its new content, and attaches it to
// the committed row so the optimizer may later reclaim the full copy.
// Failures only log: the full file is committed, correctness is unaffected.
func (s *PushService) constructDiff(ctx context.Context, project *models.Project,
	version *models.ProjectVersion, prev *models.FileChange, sf *stagedFile) {

	if prev == nil || !s.store.Exists(project.ID, prev.Location) {
		return
	}
	vdir := blob.VersionDirName(version.Name)
	newLocation := vdir + "/" + sf.path
	if !s.store.Exists(project.ID, newLocation) {
		return
	}

	scratch, err := s.store.NewScratchDir()
	if err != nil {
		s.logger.Warn(ctx, "diff construction: no scratch dir", "error", err)
		return
	}
	defer func() { _, _ = s.store.MoveToTrash(scratch) }()

	diffName := sf.path + "-diff-" + uuid.NewString()
	work := filepath.Join(scratch, "changeset")
	err = s.engine.Create(ctx,
		s.store.FilePath(project.ID, prev.Location),
		s.store.FilePath(project.ID, newLocation),
		work)
	if err != nil {
		s.logger.Info(ctx, "server-side diff not possible", "path", sf.meta.Path, "error", err)
		return
	}

	sum, err := filex.Checksum(work)
	if err != nil {
		return
	}
	fi, err := os.Stat(work)
	if err != nil {
		return
	}
	diffLocation := vdir + "/" + diffName
	if err := filex.MoveAtomic(work, s.store.FilePath(project.ID, diffLocation)); err != nil {
		s.logger.Warn(ctx, "failed to store constructed diff", "path", sf.meta.Path, "error", err)
		return
	}

	meta := &models.DiffMeta{Path: diffName, Checksum: sum, Size: fi.Size(), Location: diffLocation}
	if err := s.repomanager.Versions(s.db).AttachDiff(ctx, version.ID, sf.meta.Path, meta); err != nil {
		s.logger.Warn(ctx, "failed to attach constructed diff", "path", sf.meta.Path, "error", err)
		return
	}
	s.logger.Info(ctx, "constructed server-side diff", "project", project.ID, "path", sf.meta.Path, "version", version.Name)
}

func (s *PushService) currentFiles(ctx context.Context, project *models.Project) (map[string]*models.FileChange, error) {
	files, err := s.repomanager.Versions(s.db).FilesAt(ctx, project.ID, project.LatestVersion)
	if err != nil {
		return nil, err
	}
	current := make(map[string]*models.FileChange, len(files))
	for _, f := range files {
		current[f.Path] = f
	}
	return current, nil
}

func (s *PushService) checkQuota(ctx context.Context, project *models.Project,
	changes models.Changes, current map[string]*models.FileChange) error {

	quota, err := s.quota.WorkspaceQuota(ctx, project.WorkspaceID)
	if err != nil {
		return err
	}
	if quota < 0 {
		return nil
	}

	projected := project.TotalSize
	for _, f := range changes.Added {
		projected += f.Size
	}
	for _, f := range changes.Updated {
		projected += f.Size - current[f.Path].Size
	}
	for _, f := range changes.Removed {
		projected -= current[f.Path].Size
	}
	if projected > quota {
		return fmt.Errorf("%w: %d bytes over a %d byte quota", common.ErrStorageLimit, projected-quota, quota)
	}
	return nil
}

// validateDeclaredFiles applies the declaration rules that go beyond path
// consistency: incoming content must arrive in declared chunks, sizes must
// be non-negative, and diffs only accompany updates of diffable formats.
func validateDeclaredFiles(changes models.Changes) error {
	for _, f := range changes.Incoming() {
		if len(f.Chunks) == 0 {
			return fmt.Errorf("%w: file %q declares no chunks", common.ErrInconsistentChanges, f.Path)
		}
		if f.Size < 0 {
			return fmt.Errorf("%w: file %q declares negative size", common.ErrInconsistentChanges, f.Path)
		}
		if _, err := blob.SanitizePath(f.Path); err != nil {
			return fmt.Errorf("%w: %v", common.ErrInconsistentChanges, err)
		}
	}
	for _, f := range changes.Added {
		if f.Diff != nil {
			return fmt.Errorf("%w: added file %q carries a diff", common.ErrInconsistentChanges, f.Path)
		}
	}
	for _, f := range changes.Updated {
		if f.Diff != nil && !diff.IsDiffable(f.Path) {
			return fmt.Errorf("%w: file %q does not support diffs", common.ErrInconsistentChanges, f.Path)
		}
	}
	return nil
}
