package projects

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mprihoda/geosync/internal/common"
	"github.com/mprihoda/geosync/internal/dbx"
	"github.com/mprihoda/geosync/internal/server/models"
)

// PostgresRepository implements project storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, p *models.Project) error {
	query := `
		INSERT INTO projects (id, name, workspace_id, latest_version, total_size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query, p.ID, p.Name, p.WorkspaceID, p.LatestVersion, p.TotalSize, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Get returns a project by id, including soft-deleted projects. Callers
// decide what removed projects may do.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Project, error) {
	query := `
		SELECT id, name, workspace_id, latest_version, total_size, created_at, removed_at, removed_by
		FROM projects WHERE id = $1
	`
	p := &models.Project{}
	var removedAt sql.NullTime
	var removedBy sql.NullString
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&p.ID, &p.Name, &p.WorkspaceID, &p.LatestVersion, &p.TotalSize, &p.CreatedAt, &removedAt, &removedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select project: %w", err)
	}
	if removedAt.Valid {
		t := removedAt.Time
		p.RemovedAt = &t
	}
	p.RemovedBy = removedBy.String
	return p, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]*models.Project, error) {
	query := `
		SELECT id, name, workspace_id, latest_version, total_size, created_at
		FROM projects WHERE removed_at IS NULL ORDER BY name
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select projects: %w", err)
	}
	defer rows.Close()

	var result []*models.Project
	for rows.Next() {
		p := &models.Project{}
		if err := rows.Scan(&p.ID, &p.Name, &p.WorkspaceID, &p.LatestVersion, &p.TotalSize, &p.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateVersion advances the cached latest_version and total_size. Exactly
// one row must be affected.
func (r *PostgresRepository) UpdateVersion(ctx context.Context, id string, version int64, totalSize int64) error {
	query := `UPDATE projects SET latest_version = $2, total_size = $3 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, version, totalSize)
	if err != nil {
		return fmt.Errorf("failed to update project version: %w", err)
	}
	ra, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if ra != 1 {
		return fmt.Errorf("wrong rows affected count: %d", ra)
	}
	return nil
}

// SoftDelete marks the project removed; a no-op when already removed.
func (r *PostgresRepository) SoftDelete(ctx context.Context, id string, removedBy string) error {
	query := `UPDATE projects SET removed_at = $2, removed_by = $3 WHERE id = $1 AND removed_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, id, time.Now().UTC(), removedBy)
	if err != nil {
		return fmt.Errorf("failed to remove project: %w", err)
	}
	ra, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if ra == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// Restore clears the soft-deletion markers.
func (r *PostgresRepository) Restore(ctx context.Context, id string) error {
	query := `UPDATE projects SET removed_at = NULL, removed_by = NULL WHERE id = $1 AND removed_at IS NOT NULL`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to restore project: %w", err)
	}
	ra, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if ra == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// Delete removes the project row. The cascade over versions, file history
// and uploads is an explicit routine in the project service; this only
// deletes the project itself and must run last.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	ra, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if ra == 0 {
		return common.ErrorNotFound
	}
	return nil
}
