package repomanager

import (
	"context"
	"database/sql"

	"github.com/mprihoda/geosync/internal/dbx"
	"github.com/mprihoda/geosync/internal/server/repositories/projects"
	"github.com/mprihoda/geosync/internal/server/repositories/uploads"
	"github.com/mprihoda/geosync/internal/server/repositories/versions"
)

// RepositoryManager hands out repositories bound to either a *sql.DB or an
// open transaction, so services can compose repository calls inside
// dbx.WithTx.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Projects(db dbx.DBTX) projects.Repository
	Versions(db dbx.DBTX) versions.Repository
	Uploads(db dbx.DBTX) uploads.Repository
}
