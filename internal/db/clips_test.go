package db

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/bobarin/clipforge/internal/apperrors"
	"github.com/bobarin/clipforge/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCandidates(projectID uuid.UUID) []models.ClipCandidate {
	return []models.ClipCandidate{
		{ID: uuid.New(), ProjectID: projectID, Rank: 1, StartTime: 10, EndTime: 40, Title: "The reveal", Score: 91, ContentTags: pq.StringArray{"funny"}},
		{ID: uuid.New(), ProjectID: projectID, Rank: 2, StartTime: 65, EndTime: 90, Title: "Hot take", Score: 78},
	}
}

func TestCreateCandidatesCommits(t *testing.T) {
	database, mock := newMockDB(t, baseTime)
	projectID := uuid.New()
	candidates := testCandidates(projectID)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO clip_candidates`)
	for _, c := range candidates {
		prep.ExpectQuery().
			WithArgs(c.ID, projectID, c.Rank, c.StartTime, c.EndTime, c.Title, c.Rationale,
				c.Score, c.EngagementType, sqlmock.AnyArg(), c.HasSetup, c.HasPayoff).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(baseTime))
	}
	mock.ExpectCommit()

	require.NoError(t, database.CreateCandidates(context.Background(), candidates))
	assert.Equal(t, baseTime, candidates[1].CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCandidatesRollsBack(t *testing.T) {
	database, mock := newMockDB(t, baseTime)
	candidates := testCandidates(uuid.New())

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO clip_candidates`)
	prep.ExpectQuery().WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(baseTime))
	prep.ExpectQuery().WillReturnError(errors.New("constraint violation"))
	mock.ExpectRollback()

	err := database.CreateCandidates(context.Background(), candidates)
	assert.ErrorContains(t, err, "failed to insert candidate 2")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCandidatesEmpty(t *testing.T) {
	database, mock := newMockDB(t, baseTime)
	require.NoError(t, database.CreateCandidates(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetClipAssetNotFound(t *testing.T) {
	database, mock := newMockDB(t, baseTime)
	projectID, id := uuid.New(), uuid.New()

	mock.ExpectQuery(`FROM clip_assets WHERE id = \$1 AND project_id = \$2`).
		WithArgs(id, projectID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := database.GetClipAsset(context.Background(), projectID, id)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestGetProjectClipAssets(t *testing.T) {
	database, mock := newMockDB(t, baseTime)
	projectID := uuid.New()
	path := "projects/p/clips/c/tiktok.mp4"

	cols := []string{
		"id", "project_id", "candidate_id", "platform", "status", "storage_bucket",
		"video_path", "thumbnail_path", "caption_path", "byte_size",
		"rendered_duration_ms", "encode_params", "error_message", "created_at",
	}
	mock.ExpectQuery(`FROM clip_assets WHERE project_id = \$1`).
		WithArgs(projectID).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(uuid.New().String(), projectID.String(), uuid.New().String(), "tiktok", "rendered", "clips",
				path, nil, nil, int64(2048), 30000, `{"crf":23}`, nil, baseTime).
			AddRow(uuid.New().String(), projectID.String(), uuid.New().String(), "x", "failed", "",
				nil, nil, nil, nil, nil, nil, "ffmpeg cut failed", baseTime))

	assets, err := database.GetProjectClipAssets(context.Background(), projectID)
	require.NoError(t, err)
	require.Len(t, assets, 2)

	assert.Equal(t, models.ClipStatusRendered, assets[0].Status)
	assert.Equal(t, path, *assets[0].VideoPath)
	assert.Equal(t, float64(23), assets[0].EncodeParams["crf"])
	assert.Equal(t, models.ClipStatusFailed, assets[1].Status)
	assert.Equal(t, "ffmpeg cut failed", *assets[1].ErrorMessage)
	assert.NoError(t, mock.ExpectationsWereMet())
}
