package db

import (
	"context"
	"fmt"

	"github.com/bobarin/clipforge/internal/models"
	"github.com/google/uuid"
)

func (db *DB) CreateJob(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (id, project_id, type, status, attempts)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`

	err := db.QueryRowContext(
		ctx, query,
		job.ID, job.ProjectID, job.Type, job.Status, job.Attempts,
	).Scan(&job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (db *DB) GetProjectJobs(ctx context.Context, projectID uuid.UUID) ([]models.Job, error) {
	query := `
		SELECT id, project_id, type, status, attempts, started_at, finished_at, error_message, created_at
		FROM jobs
		WHERE project_id = $1
		ORDER BY created_at
	`

	rows, err := db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		var job models.Job
		err := rows.Scan(
			&job.ID, &job.ProjectID, &job.Type, &job.Status, &job.Attempts,
			&job.StartedAt, &job.FinishedAt, &job.ErrorMessage, &job.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

// UpdateJobStatus stamps started_at when a job starts running and
// finished_at when it succeeds or fails.
func (db *DB) UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error {
	query := `UPDATE jobs SET status = $1, started_at = $2, attempts = attempts + 1 WHERE id = $3`

	if status == models.JobStatusSucceeded || status == models.JobStatusFailed {
		query = `UPDATE jobs SET status = $1, finished_at = $2 WHERE id = $3`
	}

	if _, err := db.ExecContext(ctx, query, status, db.now(), id); err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	return nil
}

func (db *DB) UpdateJobError(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := `
		UPDATE jobs
		SET status = $1, error_message = $2, finished_at = $3
		WHERE id = $4
	`
	if _, err := db.ExecContext(ctx, query, models.JobStatusFailed, errorMessage, db.now(), id); err != nil {
		return fmt.Errorf("failed to record job error %s: %w", id, err)
	}
	return nil
}
