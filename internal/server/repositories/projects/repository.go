package projects

import (
	"context"

	"github.com/mprihoda/geosync/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, p *models.Project) error
	Get(ctx context.Context, id string) (*models.Project, error)
	// List returns all live (not soft-deleted) projects, ordered by name.
	List(ctx context.Context) ([]*models.Project, error)
	UpdateVersion(ctx context.Context, id string, version int64, totalSize int64) error
	SoftDelete(ctx context.Context, id string, removedBy string) error
	Restore(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}
