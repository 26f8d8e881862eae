package services

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/mprihoda/geosync/internal/common"
	"github.com/mprihoda/geosync/internal/dbx"
	"github.com/mprihoda/geosync/internal/logging"
	"github.com/mprihoda/geosync/internal/server/blob"
	"github.com/mprihoda/geosync/internal/server/models"
	"github.com/mprihoda/geosync/internal/server/repositories/repomanager"
)

// ProjectService covers the project lifecycle and read paths: creation,
// history queries, downloads, soft deletion and the irreversible cascade.
type ProjectService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       *blob.Store
	files       *FileService
	access      AccessChecker
	hooks       []Hook
	logger      logging.Logger
}

func NewProjectService(db *sql.DB, rm repomanager.RepositoryManager, store *blob.Store, files *FileService,
	access AccessChecker, hooks []Hook, logger logging.Logger) *ProjectService {
	return &ProjectService{
		db:          db,
		repomanager: rm,
		store:       store,
		files:       files,
		access:      access,
		hooks:       hooks,
		logger:      logger.With("module", "project"),
	}
}

// Create registers an empty project at version 0.
func (s *ProjectService) Create(ctx context.Context, name, workspaceID string) (*models.Project, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty project name", common.ErrInconsistentChanges)
	}
	project := &models.Project{
		ID:          uuid.NewString(),
		Name:        name,
		WorkspaceID: workspaceID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.repomanager.Projects(s.db).Create(ctx, project); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "project created", "project", project.ID, "name", name)
	return project, nil
}

// Get returns a live project readable by the user. Soft-deleted projects
// report not-found.
func (s *ProjectService) Get(ctx context.Context, projectID, userID string) (*models.Project, error) {
	project, err := s.repomanager.Projects(s.db).Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.Removed() {
		return nil, common.ErrorNotFound
	}
	if !s.access.MayRead(ctx, project, userID) {
		return nil, common.ErrorUnauthorized
	}
	return project, nil
}

// Versions lists the project history, most recent first.
func (s *ProjectService) Versions(ctx context.Context, projectID, userID string, limit, offset int) ([]*models.ProjectVersion, error) {
	project, err := s.Get(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repomanager.Versions(s.db).List(ctx, project.ID, limit, offset)
}

// Version loads one version with its file changes.
func (s *ProjectService) Version(ctx context.Context, projectID, userID string, name int64) (*models.ProjectVersion, error) {
	project, err := s.Get(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if name < 1 || name > project.LatestVersion {
		return nil, common.ErrorNotFound
	}
	return s.repomanager.Versions(s.db).Get(ctx, project.ID, name)
}

// Files returns the file listing of the project at a version; version 0 or
// the latest version name both mean the current state.
func (s *ProjectService) Files(ctx context.Context, projectID, userID string, version int64) ([]*models.FileChange, error) {
	project, err := s.Get(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		version = project.LatestVersion
	}
	if version < 0 || version > project.LatestVersion {
		return nil, common.ErrorNotFound
	}
	return s.repomanager.Versions(s.db).FilesAt(ctx, project.ID, version)
}

// FileHistory returns every recorded change of one path, most recent first.
func (s *ProjectService) FileHistory(ctx context.Context, projectID, userID, path string) ([]*models.FileChange, error) {
	project, err := s.Get(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	rows, err := s.repomanager.Versions(s.db).FileHistory(ctx, project.ID, path, project.LatestVersion)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, common.ErrorNotFound
	}
	return rows, nil
}

// Download streams the content of path at a version, reconstructing it from
// the diff chain when the physical copy has been pruned.
func (s *ProjectService) Download(ctx context.Context, projectID, userID, path string, version int64) (io.ReadCloser, *models.FileChange, error) {
	project, err := s.Get(ctx, projectID, userID)
	if err != nil {
		return nil, nil, err
	}
	if version == 0 {
		version = project.LatestVersion
	}
	if version < 1 || version > project.LatestVersion {
		return nil, nil, common.ErrorNotFound
	}
	return s.files.Open(ctx, project, path, version)
}

// SoftDelete hides the project. History and files stay intact; Restore
// undoes it.
func (s *ProjectService) SoftDelete(ctx context.Context, projectID, userID string) error {
	project, err := s.repomanager.Projects(s.db).Get(ctx, projectID)
	if err != nil {
		return err
	}
	if project.Removed() {
		return common.ErrorNotFound
	}
	if !s.access.MayPush(ctx, project, userID) {
		return common.ErrorUnauthorized
	}
	if err := s.repomanager.Projects(s.db).SoftDelete(ctx, projectID, userID); err != nil {
		return err
	}
	s.logger.Info(ctx, "project removed", "project", projectID, "by", userID)
	return nil
}

// Restore brings a soft-deleted project back.
func (s *ProjectService) Restore(ctx context.Context, projectID, userID string) error {
	project, err := s.repomanager.Projects(s.db).Get(ctx, projectID)
	if err != nil {
		return err
	}
	if !project.Removed() {
		return common.ErrorNotFound
	}
	if !s.access.MayPush(ctx, project, userID) {
		return common.ErrorUnauthorized
	}
	if err := s.repomanager.Projects(s.db).Restore(ctx, projectID); err != nil {
		return err
	}
	s.logger.Info(ctx, "project restored", "project", projectID, "by", userID)
	return nil
}

// Delete irreversibly removes a soft-deleted project: ledger rows first in
// one transaction, the project directory into trash after. The tables have
// no ON DELETE CASCADE, the order here is the cascade.
func (s *ProjectService) Delete(ctx context.Context, projectID, userID string) error {
	project, err := s.repomanager.Projects(s.db).Get(ctx, projectID)
	if err != nil {
		return err
	}
	if !project.Removed() {
		return common.ErrProjectActive
	}
	if !s.access.MayPush(ctx, project, userID) {
		return common.ErrorUnauthorized
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Versions(tx).DeleteForProject(ctx, projectID); err != nil {
			return err
		}
		if err := s.repomanager.Uploads(tx).DeleteForProject(ctx, projectID); err != nil {
			return err
		}
		return s.repomanager.Projects(tx).Delete(ctx, projectID)
	})
	if err != nil {
		return err
	}

	if _, err := s.store.MoveToTrash(s.store.ProjectDir(projectID)); err != nil {
		s.logger.Warn(ctx, "failed to trash project dir", "project", projectID, "error", err)
	}
	for _, hook := range s.hooks {
		hook(ctx, Event{Type: EventProjectDeleted, Project: project})
	}
	s.logger.Info(ctx, "project deleted", "project", projectID, "by", userID)
	return nil
}
