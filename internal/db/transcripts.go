package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bobarin/clipforge/internal/apperrors"
	"github.com/bobarin/clipforge/internal/models"
	"github.com/google/uuid"
)

// SaveTranscript stores the project's transcript. A project has at most one;
// a re-run replaces it.
func (db *DB) SaveTranscript(ctx context.Context, t *models.Transcript) error {
	query := `
		INSERT INTO transcripts (project_id, language, full_text, duration, segments)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (project_id) DO UPDATE
		SET language = EXCLUDED.language, full_text = EXCLUDED.full_text,
		    duration = EXCLUDED.duration, segments = EXCLUDED.segments
		RETURNING created_at
	`
	err := db.QueryRowContext(
		ctx, query,
		t.ProjectID, t.Language, t.FullText, t.Duration, models.JSONColumn(&t.Segments),
	).Scan(&t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save transcript: %w", err)
	}
	return nil
}

func (db *DB) GetTranscript(ctx context.Context, projectID uuid.UUID) (*models.Transcript, error) {
	query := `
		SELECT project_id, language, full_text, duration, segments, created_at
		FROM transcripts
		WHERE project_id = $1
	`

	t := &models.Transcript{}
	err := db.QueryRowContext(ctx, query, projectID).Scan(
		&t.ProjectID, &t.Language, &t.FullText, &t.Duration,
		models.JSONColumn(&t.Segments), &t.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFound("transcript", projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}
	return t, nil
}
