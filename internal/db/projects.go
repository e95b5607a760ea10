package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bobarin/clipforge/internal/apperrors"
	"github.com/bobarin/clipforge/internal/models"
	"github.com/google/uuid"
)

const projectColumns = `
	id, account_id, plan, title, content_type, language,
	source_origin, source_url, source_storage_path, platform, source_metadata,
	target_platforms, caption_mode, options, status,
	retention_deadline, saved, saved_at, error_message, error_detail,
	processing_started_at, processing_completed_at, created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*models.Project, error) {
	p := &models.Project{}
	var source models.SourceMetadata
	var hasSource sql.NullString

	err := row.Scan(
		&p.ID, &p.AccountID, &p.Plan, &p.Title, &p.ContentType, &p.Language,
		&p.SourceOrigin, &p.SourceURL, &p.SourceStoragePath, &p.Platform, &hasSource,
		&p.TargetPlatforms, &p.CaptionMode, models.JSONColumn(&p.Options), &p.Status,
		&p.RetentionDeadline, &p.Saved, &p.SavedAt, &p.ErrorMessage, &p.ErrorDetail,
		&p.ProcessingStartedAt, &p.ProcessingCompletedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if hasSource.Valid {
		if err := models.JSONColumn(&source).Scan(hasSource.String); err != nil {
			return nil, fmt.Errorf("failed to decode source metadata: %w", err)
		}
		p.Source = &source
	}

	return p, nil
}

// CreateProject inserts a project in the processing state. The retention
// deadline is set to now + RetentionPeriod; callers never pick it.
func (db *DB) CreateProject(ctx context.Context, project *models.Project) error {
	now := db.now()
	deadline := now.Add(RetentionPeriod)

	project.Status = models.ProjectStatusProcessing
	project.ProcessingStartedAt = &now
	project.ProcessingCompletedAt = nil
	project.RetentionDeadline = &deadline
	project.Saved = false
	project.SavedAt = nil

	query := `
		INSERT INTO projects (
			id, account_id, plan, title, content_type, language,
			source_origin, source_url, source_storage_path, platform,
			target_platforms, caption_mode, options, status,
			retention_deadline, saved, processing_started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		project.ID, project.AccountID, project.Plan, project.Title, project.ContentType, project.Language,
		project.SourceOrigin, project.SourceURL, project.SourceStoragePath, project.Platform,
		project.TargetPlatforms, project.CaptionMode, models.JSONColumn(&project.Options), project.Status,
		project.RetentionDeadline, project.Saved, project.ProcessingStartedAt,
	).Scan(&project.CreatedAt, &project.UpdatedAt)
}

func (db *DB) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`

	project, err := scanProject(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFound("project", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	return project, nil
}

// ProjectFilter narrows ListProjects/CountProjects. Zero values mean no filter.
type ProjectFilter struct {
	Status    models.ProjectStatus
	AccountID *uuid.UUID
	Limit     int
	Offset    int
}

func (f ProjectFilter) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.Status != "" {
		args = append(args, f.Status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.AccountID != nil {
		args = append(args, *f.AccountID)
		clauses = append(clauses, fmt.Sprintf("account_id = $%d", len(args)))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ListProjects returns projects ordered by creation date (newest first).
func (db *DB) ListProjects(ctx context.Context, filter ProjectFilter) ([]models.Project, error) {
	where, args := filter.where()
	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM projects%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		projectColumns, where, len(args)-1, len(args))

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	return collectProjects(rows)
}

func (db *DB) CountProjects(ctx context.Context, filter ProjectFilter) (int, error) {
	where, args := filter.where()
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects`+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count projects: %w", err)
	}
	return count, nil
}

func collectProjects(rows *sql.Rows) ([]models.Project, error) {
	var projects []models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate projects: %w", err)
	}
	return projects, nil
}

// SetProjectSource records what acquisition resolved. It only applies while
// the project is still processing.
func (db *DB) SetProjectSource(ctx context.Context, id uuid.UUID, meta *models.SourceMetadata) error {
	query := `
		UPDATE projects
		SET source_metadata = $1, platform = $2, updated_at = $3
		WHERE id = $4 AND status = $5
	`
	_, err := db.ExecContext(ctx, query, models.JSONColumn(meta), meta.Platform, db.now(), id, models.ProjectStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to set project source: %w", err)
	}
	return nil
}

// CompleteProject moves a processing project to completed and stamps
// processing_completed_at. It reports false when the project had already
// reached a terminal state, in which case nothing is written.
func (db *DB) CompleteProject(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE projects
		SET status = $1, processing_completed_at = $2, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	res, err := db.ExecContext(ctx, query, models.ProjectStatusCompleted, db.now(), id, models.ProjectStatusProcessing)
	if err != nil {
		return false, fmt.Errorf("failed to complete project: %w", err)
	}
	return db.transitioned(ctx, res, id)
}

// FailProject moves a processing project to failed. message is the short
// operator-facing text; detail keeps raw diagnostics and is never served.
func (db *DB) FailProject(ctx context.Context, id uuid.UUID, message, detail string) (bool, error) {
	query := `
		UPDATE projects
		SET status = $1, error_message = $2, error_detail = $3,
		    processing_completed_at = $4, updated_at = $4
		WHERE id = $5 AND status = $6
	`
	res, err := db.ExecContext(ctx, query, models.ProjectStatusFailed, message, detail, db.now(), id, models.ProjectStatusProcessing)
	if err != nil {
		return false, fmt.Errorf("failed to mark project failed: %w", err)
	}
	return db.transitioned(ctx, res, id)
}

func (db *DB) transitioned(ctx context.Context, res sql.Result, id uuid.UUID) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	var status models.ProjectStatus
	err = db.QueryRowContext(ctx, `SELECT status FROM projects WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, apperrors.NewNotFound("project", id)
	}
	if err != nil {
		return false, fmt.Errorf("failed to read project status: %w", err)
	}
	return false, nil
}

// SaveProject exempts a project from retention: saved = true, saved_at is
// stamped on the first save, and the retention deadline is cleared. Calling
// it again is a no-op apart from updated_at.
func (db *DB) SaveProject(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE projects
		SET saved = TRUE, saved_at = COALESCE(saved_at, $1), retention_deadline = NULL, updated_at = $1
		WHERE id = $2
	`
	res, err := db.ExecContext(ctx, query, db.now(), id)
	if err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return apperrors.NewNotFound("project", id)
	}
	return nil
}

// FindExpiredProjects returns unsaved projects whose retention deadline is at
// or before now, oldest deadline first.
func (db *DB) FindExpiredProjects(ctx context.Context, now time.Time, limit int) ([]models.Project, error) {
	query := `SELECT ` + projectColumns + `
		FROM projects
		WHERE saved = FALSE AND retention_deadline IS NOT NULL AND retention_deadline <= $1
		ORDER BY retention_deadline
		LIMIT $2`

	rows, err := db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find expired projects: %w", err)
	}
	defer rows.Close()

	return collectProjects(rows)
}

// DeleteProject removes a project; candidates, assets, transcript and jobs
// go with it through ON DELETE CASCADE.
func (db *DB) DeleteProject(ctx context.Context, id uuid.UUID) error {
	res, err := db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return apperrors.NewNotFound("project", id)
	}
	return nil
}
