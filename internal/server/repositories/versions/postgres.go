package versions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mprihoda/geosync/internal/common"
	"github.com/mprihoda/geosync/internal/dbx"
	"github.com/mprihoda/geosync/internal/server/models"
)

// PostgresRepository implements the version ledger over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, v *models.ProjectVersion) error {
	query := `
		INSERT INTO project_versions (id, project_id, name, author, created_at, user_agent, ip_address, project_size)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		v.ID, v.ProjectID, v.Name, v.Author, v.CreatedAt, v.UserAgent, v.IPAddress, v.ProjectSize)
	if dbx.IsUniqueViolation(err) {
		return common.ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	fileQuery := `
		INSERT INTO file_history (id, version_id, path, location, size, checksum, change,
			diff_path, diff_checksum, diff_size, diff_location)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	for _, c := range v.Changes {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.VersionID = v.ID

		var diffPath, diffChecksum, diffLocation sql.NullString
		var diffSize sql.NullInt64
		if c.Diff != nil {
			diffPath = sql.NullString{String: c.Diff.Path, Valid: true}
			diffChecksum = sql.NullString{String: c.Diff.Checksum, Valid: true}
			diffSize = sql.NullInt64{Int64: c.Diff.Size, Valid: true}
			diffLocation = sql.NullString{String: c.Diff.Location, Valid: true}
		}

		_, err := r.db.ExecContext(ctx, fileQuery,
			c.ID, v.ID, c.Path, c.Location, c.Size, c.Checksum, string(c.Change),
			diffPath, diffChecksum, diffSize, diffLocation)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, projectID string, name int64) (*models.ProjectVersion, error) {
	query := `
		SELECT id, project_id, name, author, created_at, user_agent, ip_address, project_size
		FROM project_versions WHERE project_id = $1 AND name = $2
	`
	v := &models.ProjectVersion{}
	err := r.db.QueryRowContext(ctx, query, projectID, name).
		Scan(&v.ID, &v.ProjectID, &v.Name, &v.Author, &v.CreatedAt, &v.UserAgent, &v.IPAddress, &v.ProjectSize)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select version: %w", err)
	}

	changesQuery := `
		SELECT id, path, location, size, checksum, change, diff_path, diff_checksum, diff_size, diff_location
		FROM file_history WHERE version_id = $1 ORDER BY path
	`
	rows, err := r.db.QueryContext(ctx, changesQuery, v.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to select file history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanFileChange(rows, v.Name, v.ID)
		if err != nil {
			return nil, err
		}
		v.Changes = append(v.Changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return v, nil
}

func (r *PostgresRepository) List(ctx context.Context, projectID string, limit, offset int) ([]*models.ProjectVersion, error) {
	query := `
		SELECT id, project_id, name, author, created_at, user_agent, ip_address, project_size
		FROM project_versions WHERE project_id = $1
		ORDER BY name DESC LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, query, projectID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to select versions: %w", err)
	}
	defer rows.Close()

	var result []*models.ProjectVersion
	for rows.Next() {
		v := &models.ProjectVersion{}
		if err := rows.Scan(&v.ID, &v.ProjectID, &v.Name, &v.Author, &v.CreatedAt, &v.UserAgent, &v.IPAddress, &v.ProjectSize); err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) FilesAt(ctx context.Context, projectID string, version int64) ([]*models.FileChange, error) {
	query := `
		SELECT DISTINCT ON (fh.path)
			fh.id, fh.path, fh.location, fh.size, fh.checksum, fh.change,
			fh.diff_path, fh.diff_checksum, fh.diff_size, fh.diff_location,
			pv.name, pv.id
		FROM file_history fh
		JOIN project_versions pv ON pv.id = fh.version_id
		WHERE pv.project_id = $1 AND pv.name <= $2
		ORDER BY fh.path, pv.name DESC
	`
	rows, err := r.db.QueryContext(ctx, query, projectID, version)
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()

	var result []*models.FileChange
	for rows.Next() {
		c, err := scanFileChangeWithVersion(rows)
		if err != nil {
			return nil, err
		}
		if c.Change == models.ChangeDelete {
			continue
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) FileHistory(ctx context.Context, projectID, path string, toVersion int64) ([]*models.FileChange, error) {
	query := `
		SELECT fh.id, fh.path, fh.location, fh.size, fh.checksum, fh.change,
			fh.diff_path, fh.diff_checksum, fh.diff_size, fh.diff_location,
			pv.name, pv.id
		FROM file_history fh
		JOIN project_versions pv ON pv.id = fh.version_id
		WHERE pv.project_id = $1 AND fh.path = $2 AND pv.name <= $3
		ORDER BY pv.name DESC
	`
	rows, err := r.db.QueryContext(ctx, query, projectID, path, toVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to select file history: %w", err)
	}
	defer rows.Close()

	var result []*models.FileChange
	for rows.Next() {
		c, err := scanFileChangeWithVersion(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) AttachDiff(ctx context.Context, versionID, path string, diff *models.DiffMeta) error {
	query := `
		UPDATE file_history
		SET change = 'update_diff', diff_path = $3, diff_checksum = $4, diff_size = $5, diff_location = $6
		WHERE version_id = $1 AND path = $2 AND change = 'update'
	`
	result, err := r.db.ExecContext(ctx, query, versionID, path, diff.Path, diff.Checksum, diff.Size, diff.Location)
	if err != nil {
		return fmt.Errorf("failed to attach diff: %w", err)
	}
	ra, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if ra != 1 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) RedundantCopies(ctx context.Context, projectID string, before time.Time) ([]*models.FileChange, error) {
	query := `
		SELECT fh.id, fh.path, fh.location, fh.size, fh.checksum, fh.change,
			fh.diff_path, fh.diff_checksum, fh.diff_size, fh.diff_location,
			pv.name, pv.id
		FROM file_history fh
		JOIN project_versions pv ON pv.id = fh.version_id
		WHERE pv.project_id = $1 AND fh.change = 'update_diff' AND pv.created_at < $2
			AND EXISTS (
				SELECT 1 FROM file_history fh2
				JOIN project_versions pv2 ON pv2.id = fh2.version_id
				WHERE pv2.project_id = $1 AND fh2.path = fh.path AND pv2.name > pv.name
			)
		ORDER BY pv.name
	`
	rows, err := r.db.QueryContext(ctx, query, projectID, before)
	if err != nil {
		return nil, fmt.Errorf("failed to select redundant copies: %w", err)
	}
	defer rows.Close()

	var result []*models.FileChange
	for rows.Next() {
		c, err := scanFileChangeWithVersion(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) DeleteForProject(ctx context.Context, projectID string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM file_history WHERE version_id IN
			(SELECT id FROM project_versions WHERE project_id = $1)
	`, projectID)
	if err != nil {
		return fmt.Errorf("failed to delete file history: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `DELETE FROM project_versions WHERE project_id = $1`, projectID)
	if err != nil {
		return fmt.Errorf("failed to delete versions: %w", err)
	}
	return nil
}

// scanner is the subset of *sql.Rows used by the scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanFileChange(s scanner, versionName int64, versionID string) (*models.FileChange, error) {
	c := &models.FileChange{Version: versionName, VersionID: versionID}
	var diffPath, diffChecksum, diffLocation sql.NullString
	var diffSize sql.NullInt64
	var change string
	if err := s.Scan(&c.ID, &c.Path, &c.Location, &c.Size, &c.Checksum, &change,
		&diffPath, &diffChecksum, &diffSize, &diffLocation); err != nil {
		return nil, err
	}
	c.Change = models.ChangeKind(change)
	if diffPath.Valid {
		c.Diff = &models.DiffMeta{
			Path:     diffPath.String,
			Checksum: diffChecksum.String,
			Size:     diffSize.Int64,
			Location: diffLocation.String,
		}
	}
	return c, nil
}

func scanFileChangeWithVersion(s scanner) (*models.FileChange, error) {
	c := &models.FileChange{}
	var diffPath, diffChecksum, diffLocation sql.NullString
	var diffSize sql.NullInt64
	var change string
	if err := s.Scan(&c.ID, &c.Path, &c.Location, &c.Size, &c.Checksum, &change,
		&diffPath, &diffChecksum, &diffSize, &diffLocation, &c.Version, &c.VersionID); err != nil {
		return nil, err
	}
	c.Change = models.ChangeKind(change)
	if diffPath.Valid {
		c.Diff = &models.DiffMeta{
			Path:     diffPath.String,
			Checksum: diffChecksum.String,
			Size:     diffSize.Int64,
			Location: diffLocation.String,
		}
	}
	return c, nil
}
