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

// CreateCandidates inserts the analyzer's accepted candidates in one
// transaction, so a project never shows a partial candidate list.
func (db *DB) CreateCandidates(ctx context.Context, candidates []models.ClipCandidate) error {
	if len(candidates) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO clip_candidates (
			id, project_id, rank, start_time, end_time, title, rationale,
			score, engagement_type, content_tags, has_setup, has_payoff
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare candidate insert: %w", err)
	}
	defer stmt.Close()

	for i := range candidates {
		c := &candidates[i]
		err := stmt.QueryRowContext(
			ctx,
			c.ID, c.ProjectID, c.Rank, c.StartTime, c.EndTime, c.Title, c.Rationale,
			c.Score, c.EngagementType, c.ContentTags, c.HasSetup, c.HasPayoff,
		).Scan(&c.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert candidate %d: %w", c.Rank, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit candidates: %w", err)
	}
	return nil
}

func (db *DB) GetProjectCandidates(ctx context.Context, projectID uuid.UUID) ([]models.ClipCandidate, error) {
	query := `
		SELECT
			id, project_id, rank, start_time, end_time, title, rationale,
			score, engagement_type, content_tags, has_setup, has_payoff, created_at
		FROM clip_candidates
		WHERE project_id = $1
		ORDER BY rank
	`

	rows, err := db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	candidates := []models.ClipCandidate{}
	for rows.Next() {
		var c models.ClipCandidate
		err := rows.Scan(
			&c.ID, &c.ProjectID, &c.Rank, &c.StartTime, &c.EndTime, &c.Title, &c.Rationale,
			&c.Score, &c.EngagementType, &c.ContentTags, &c.HasSetup, &c.HasPayoff, &c.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		candidates = append(candidates, c)
	}

	return candidates, rows.Err()
}

func (db *DB) CreateClipAsset(ctx context.Context, asset *models.ClipAsset) error {
	query := `
		INSERT INTO clip_assets (
			id, project_id, candidate_id, platform, status, storage_bucket,
			video_path, thumbnail_path, caption_path, byte_size,
			rendered_duration_ms, encode_params, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at
	`

	return db.QueryRowContext(
		ctx, query,
		asset.ID, asset.ProjectID, asset.CandidateID, asset.Platform, asset.Status, asset.StorageBucket,
		asset.VideoPath, asset.ThumbnailPath, asset.CaptionPath, asset.ByteSize,
		asset.RenderedDurationMs, asset.EncodeParams, asset.ErrorMessage,
	).Scan(&asset.CreatedAt)
}

const clipAssetColumns = `
	id, project_id, candidate_id, platform, status, storage_bucket,
	video_path, thumbnail_path, caption_path, byte_size,
	rendered_duration_ms, encode_params, error_message, created_at
`

func scanClipAsset(row rowScanner) (*models.ClipAsset, error) {
	a := &models.ClipAsset{}
	err := row.Scan(
		&a.ID, &a.ProjectID, &a.CandidateID, &a.Platform, &a.Status, &a.StorageBucket,
		&a.VideoPath, &a.ThumbnailPath, &a.CaptionPath, &a.ByteSize,
		&a.RenderedDurationMs, &a.EncodeParams, &a.ErrorMessage, &a.CreatedAt,
	)
	return a, err
}

func (db *DB) GetClipAsset(ctx context.Context, projectID, id uuid.UUID) (*models.ClipAsset, error) {
	query := `SELECT ` + clipAssetColumns + ` FROM clip_assets WHERE id = $1 AND project_id = $2`

	asset, err := scanClipAsset(db.QueryRowContext(ctx, query, id, projectID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFound("clip", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get clip asset: %w", err)
	}
	return asset, nil
}

func (db *DB) GetProjectClipAssets(ctx context.Context, projectID uuid.UUID) ([]models.ClipAsset, error) {
	query := `SELECT ` + clipAssetColumns + ` FROM clip_assets WHERE project_id = $1 ORDER BY created_at`

	rows, err := db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query clip assets: %w", err)
	}
	defer rows.Close()

	assets := []models.ClipAsset{}
	for rows.Next() {
		a, err := scanClipAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan clip asset: %w", err)
		}
		assets = append(assets, *a)
	}

	return assets, rows.Err()
}
