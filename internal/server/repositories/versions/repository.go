package versions

import (
	"context"
	"time"

	"github.com/mprihoda/geosync/internal/server/models"
)

type Repository interface {
	// Create inserts the version and one file_history row per entry of
	// v.Changes. A duplicate (project_id, name) yields ErrVersionConflict.
	Create(ctx context.Context, v *models.ProjectVersion) error

	// Get loads one version with its file changes.
	Get(ctx context.Context, projectID string, name int64) (*models.ProjectVersion, error)

	// List returns versions of a project ordered by name descending.
	List(ctx context.Context, projectID string, limit, offset int) ([]*models.ProjectVersion, error)

	// FilesAt computes the file listing of the project at a version: the
	// most recent row per path at or below it, excluding deleted files.
	FilesAt(ctx context.Context, projectID string, version int64) ([]*models.FileChange, error)

	// FileHistory returns every row for path at or below toVersion, most
	// recent first.
	FileHistory(ctx context.Context, projectID, path string, toVersion int64) ([]*models.FileChange, error)

	// AttachDiff records a server-constructed diff on an existing full-copy
	// update row, turning it into an update_diff row.
	AttachDiff(ctx context.Context, versionID, path string, diff *models.DiffMeta) error

	// RedundantCopies returns update_diff rows of a project committed before
	// the cutoff whose full copy is reconstructible and not the live state of
	// its path. Their physical files are prune candidates.
	RedundantCopies(ctx context.Context, projectID string, before time.Time) ([]*models.FileChange, error)

	// DeleteForProject removes file_history rows, then version rows, for a
	// project. Part of the explicit deletion cascade.
	DeleteForProject(ctx context.Context, projectID string) error
}
