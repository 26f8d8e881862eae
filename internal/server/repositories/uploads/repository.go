package uploads

import (
	"context"

	"github.com/mprihoda/geosync/internal/server/models"
)

type Repository interface {
	// Create inserts the upload row. A duplicate (project_id, version)
	// yields ErrUploadExists, the at-most-one-active-upload guarantee.
	Create(ctx context.Context, u *models.Upload) error

	Get(ctx context.Context, id string) (*models.Upload, error)

	// GetActive returns the upload currently holding (projectID, version).
	GetActive(ctx context.Context, projectID string, version int64) (*models.Upload, error)

	// Delete removes the upload row; ErrorNotFound when it no longer exists.
	Delete(ctx context.Context, id string) error

	// DeleteForProject removes all uploads of a project (deletion cascade).
	DeleteForProject(ctx context.Context, projectID string) error

	// RecordFailure appends an audit row for a lost or failed push.
	RecordFailure(ctx context.Context, f *models.SyncFailure) error
}
