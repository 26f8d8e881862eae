package uploads

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mprihoda/geosync/internal/common"
	"github.com/mprihoda/geosync/internal/dbx"
	"github.com/mprihoda/geosync/internal/server/models"
)

// PostgresRepository implements upload-transaction storage over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, u *models.Upload) error {
	changes, err := json.Marshal(u.Changes)
	if err != nil {
		return fmt.Errorf("failed to marshal changes: %w", err)
	}

	query := `
		INSERT INTO uploads (id, project_id, version, changes, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = r.db.ExecContext(ctx, query, u.ID, u.ProjectID, u.Version, changes, u.UserID, u.CreatedAt)
	if dbx.IsUniqueViolation(err) {
		return common.ErrUploadExists
	}
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Upload, error) {
	query := `
		SELECT id, project_id, version, changes, user_id, created_at
		FROM uploads WHERE id = $1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetActive(ctx context.Context, projectID string, version int64) (*models.Upload, error) {
	query := `
		SELECT id, project_id, version, changes, user_id, created_at
		FROM uploads WHERE project_id = $1 AND version = $2
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, projectID, version))
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*models.Upload, error) {
	u := &models.Upload{}
	var changes []byte
	err := row.Scan(&u.ID, &u.ProjectID, &u.Version, &changes, &u.UserID, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select upload: %w", err)
	}
	if err := json.Unmarshal(changes, &u.Changes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal changes: %w", err)
	}
	return u, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM uploads WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete upload: %w", err)
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

func (r *PostgresRepository) DeleteForProject(ctx context.Context, projectID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM uploads WHERE project_id = $1`, projectID)
	if err != nil {
		return fmt.Errorf("failed to delete uploads: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RecordFailure(ctx context.Context, f *models.SyncFailure) error {
	query := `
		INSERT INTO sync_failures (project_id, last_version, user_id, error_type, error_details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		f.ProjectID, f.LastVersion, f.UserID, f.ErrorType, f.ErrorDetails, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
