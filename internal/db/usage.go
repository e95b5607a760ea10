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

const usageColumns = `
	id, account_id, year, month, videos_processed, clips_generated,
	storage_used_mb, created_at, updated_at
`

func scanUsage(row rowScanner) (*models.UsageCounter, error) {
	u := &models.UsageCounter{}
	err := row.Scan(
		&u.ID, &u.AccountID, &u.Year, &u.Month, &u.VideosProcessed,
		&u.ClipsGenerated, &u.StorageUsedMB, &u.CreatedAt, &u.UpdatedAt,
	)
	return u, err
}

// GetOrCreateUsage returns the account's counter for the current month,
// creating a zero-valued one on first access.
func (db *DB) GetOrCreateUsage(ctx context.Context, accountID uuid.UUID) (*models.UsageCounter, error) {
	now := db.now()
	year, month := now.Year(), int(now.Month())

	_, err := db.ExecContext(ctx, `
		INSERT INTO usage_counters (id, account_id, year, month)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id, year, month) DO NOTHING
	`, uuid.New(), accountID, year, month)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage counter: %w", err)
	}

	query := `SELECT ` + usageColumns + ` FROM usage_counters WHERE account_id = $1 AND year = $2 AND month = $3`
	usage, err := scanUsage(db.QueryRowContext(ctx, query, accountID, year, month))
	if err != nil {
		return nil, fmt.Errorf("failed to get usage counter: %w", err)
	}
	return usage, nil
}

// IncrementVideosProcessed adds one processed video to the current month.
func (db *DB) IncrementVideosProcessed(ctx context.Context, accountID uuid.UUID) (*models.UsageCounter, error) {
	return db.addUsage(ctx, accountID, 1, 0, 0)
}

// IncrementClipsGenerated adds n generated clips to the current month.
func (db *DB) IncrementClipsGenerated(ctx context.Context, accountID uuid.UUID, n int) (*models.UsageCounter, error) {
	if n < 0 {
		return nil, apperrors.NewValidation("clips", "increment must not be negative, got %d", n)
	}
	return db.addUsage(ctx, accountID, 0, n, 0)
}

// AddStorageUsed adds mb megabytes of stored output to the current month.
func (db *DB) AddStorageUsed(ctx context.Context, accountID uuid.UUID, mb float64) (*models.UsageCounter, error) {
	if mb < 0 {
		return nil, apperrors.NewValidation("storage_mb", "increment must not be negative, got %g", mb)
	}
	return db.addUsage(ctx, accountID, 0, 0, mb)
}

// ReserveVideo takes one video from the current month's allowance. It
// reports false, without changing the counter, when the account already
// used limit videos. A negative limit means uncapped.
func (db *DB) ReserveVideo(ctx context.Context, accountID uuid.UUID, limit int) (*models.UsageCounter, bool, error) {
	if limit < 0 {
		usage, err := db.IncrementVideosProcessed(ctx, accountID)
		return usage, err == nil, err
	}
	if limit == 0 {
		return nil, false, nil
	}

	now := db.now()
	query := `
		INSERT INTO usage_counters (id, account_id, year, month, videos_processed)
		VALUES ($1, $2, $3, $4, 1)
		ON CONFLICT (account_id, year, month) DO UPDATE
		SET videos_processed = usage_counters.videos_processed + 1,
		    updated_at       = NOW()
		WHERE usage_counters.videos_processed < $5
		RETURNING ` + usageColumns

	usage, err := scanUsage(db.QueryRowContext(ctx, query, uuid.New(), accountID, now.Year(), int(now.Month()), limit))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to reserve video: %w", err)
	}
	return usage, true, nil
}

// ReserveClips takes up to want clips from the current month's allowance
// and returns how many were granted. A negative limit means uncapped.
func (db *DB) ReserveClips(ctx context.Context, accountID uuid.UUID, want, limit int) (int, error) {
	if want < 0 {
		return 0, apperrors.NewValidation("clips", "reservation must not be negative, got %d", want)
	}
	if want == 0 {
		return 0, nil
	}
	if limit < 0 {
		if _, err := db.IncrementClipsGenerated(ctx, accountID, want); err != nil {
			return 0, err
		}
		return want, nil
	}

	now := db.now()
	year, month := now.Year(), int(now.Month())

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO usage_counters (id, account_id, year, month)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id, year, month) DO NOTHING
	`, uuid.New(), accountID, year, month)
	if err != nil {
		return 0, fmt.Errorf("failed to create usage counter: %w", err)
	}

	var used int
	err = tx.QueryRowContext(ctx, `
		SELECT clips_generated FROM usage_counters
		WHERE account_id = $1 AND year = $2 AND month = $3
		FOR UPDATE
	`, accountID, year, month).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("failed to lock usage counter: %w", err)
	}

	granted := min(want, max(limit-used, 0))
	if granted > 0 {
		_, err = tx.ExecContext(ctx, `
			UPDATE usage_counters
			SET clips_generated = clips_generated + $4, updated_at = NOW()
			WHERE account_id = $1 AND year = $2 AND month = $3
		`, accountID, year, month, granted)
		if err != nil {
			return 0, fmt.Errorf("failed to reserve clips: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return granted, nil
}

// ReleaseUsage hands back reserved videos and clips that were never used.
// Counters never drop below zero, so a release that lands in a new month
// only clears what that month holds.
func (db *DB) ReleaseUsage(ctx context.Context, accountID uuid.UUID, videos, clips int) error {
	if videos < 0 || clips < 0 {
		return apperrors.NewValidation("usage", "release must not be negative, got %d videos and %d clips", videos, clips)
	}
	if videos == 0 && clips == 0 {
		return nil
	}

	now := db.now()
	_, err := db.ExecContext(ctx, `
		UPDATE usage_counters
		SET videos_processed = GREATEST(videos_processed - $4, 0),
		    clips_generated  = GREATEST(clips_generated - $5, 0),
		    updated_at       = NOW()
		WHERE account_id = $1 AND year = $2 AND month = $3
	`, accountID, now.Year(), int(now.Month()), videos, clips)
	if err != nil {
		return fmt.Errorf("failed to release usage: %w", err)
	}
	return nil
}

// addUsage is a single upsert, so concurrent increments never lose updates
// and the row is created lazily.
func (db *DB) addUsage(ctx context.Context, accountID uuid.UUID, videos, clips int, storageMB float64) (*models.UsageCounter, error) {
	now := db.now()
	query := `
		INSERT INTO usage_counters (
			id, account_id, year, month, videos_processed, clips_generated, storage_used_mb
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (account_id, year, month) DO UPDATE
		SET videos_processed = usage_counters.videos_processed + EXCLUDED.videos_processed,
		    clips_generated  = usage_counters.clips_generated + EXCLUDED.clips_generated,
		    storage_used_mb  = usage_counters.storage_used_mb + EXCLUDED.storage_used_mb,
		    updated_at       = NOW()
		RETURNING ` + usageColumns

	usage, err := scanUsage(db.QueryRowContext(
		ctx, query,
		uuid.New(), accountID, now.Year(), int(now.Month()), videos, clips, storageMB,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to update usage counter: %w", err)
	}
	return usage, nil
}
