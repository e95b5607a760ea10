package db

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/bobarin/clipforge/internal/apperrors"
	"github.com/bobarin/clipforge/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateJob(t *testing.T) {
	database, mock := newMockDB(t, baseTime)
	job := &models.Job{ID: uuid.New(), ProjectID: uuid.New(), Type: "process_project", Status: models.JobStatusQueued}

	mock.ExpectQuery(`INSERT INTO jobs`).
		WithArgs(job.ID, job.ProjectID, "process_project", "queued", 0).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(baseTime))

	require.NoError(t, database.CreateJob(context.Background(), job))
	assert.Equal(t, baseTime, job.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobStatusStamps(t *testing.T) {
	database, mock := newMockDB(t, baseTime)
	id := uuid.New()

	mock.ExpectExec(`UPDATE jobs SET status = \$1, started_at = \$2, attempts = attempts \+ 1`).
		WithArgs("running", baseTime, id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE jobs SET status = \$1, finished_at = \$2`).
		WithArgs("succeeded", baseTime, id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, database.UpdateJobStatus(context.Background(), id, models.JobStatusRunning))
	require.NoError(t, database.UpdateJobStatus(context.Background(), id, models.JobStatusSucceeded))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobError(t *testing.T) {
	database, mock := newMockDB(t, baseTime)
	id := uuid.New()

	mock.ExpectExec(`SET status = \$1, error_message = \$2, finished_at = \$3`).
		WithArgs("failed", "transcription failed", baseTime, id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, database.UpdateJobError(context.Background(), id, "transcription failed"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProjectJobs(t *testing.T) {
	database, mock := newMockDB(t, baseTime)
	projectID := uuid.New()
	jobID := uuid.New()

	mock.ExpectQuery(`FROM jobs\s+WHERE project_id = \$1\s+ORDER BY created_at`).
		WithArgs(projectID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "project_id", "type", "status", "attempts", "started_at", "finished_at", "error_message", "created_at",
		}).AddRow(jobID.String(), projectID.String(), "process_project", "succeeded", 1, baseTime, baseTime, nil, baseTime))

	jobs, err := database.GetProjectJobs(context.Background(), projectID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, jobID, jobs[0].ID)
	assert.Equal(t, models.JobStatusSucceeded, jobs[0].Status)
	assert.Nil(t, jobs[0].ErrorMessage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTranscriptRoundTrip(t *testing.T) {
	database, mock := newMockDB(t, baseTime)
	projectID := uuid.New()
	transcript := &models.Transcript{
		ProjectID: projectID,
		Language:  "en",
		FullText:  "hello there",
		Duration:  4,
		Segments:  []models.Segment{{Start: 0, End: 4, Text: "hello there"}},
	}

	mock.ExpectQuery(`INSERT INTO transcripts .+ ON CONFLICT \(project_id\) DO UPDATE`).
		WithArgs(projectID, "en", "hello there", 4.0, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(baseTime))
	require.NoError(t, database.SaveTranscript(context.Background(), transcript))

	mock.ExpectQuery(`FROM transcripts\s+WHERE project_id = \$1`).
		WithArgs(projectID).
		WillReturnRows(sqlmock.NewRows([]string{"project_id", "language", "full_text", "duration", "segments", "created_at"}).
			AddRow(projectID.String(), "en", "hello there", 4.0, `[{"start":0,"end":4,"text":"hello there"}]`, baseTime))

	got, err := database.GetTranscript(context.Background(), projectID)
	require.NoError(t, err)
	assert.Equal(t, transcript.Segments, got.Segments)

	mock.ExpectQuery(`FROM transcripts`).
		WithArgs(projectID).
		WillReturnRows(sqlmock.NewRows([]string{"project_id", "language", "full_text", "duration", "segments", "created_at"}))
	_, err = database.GetTranscript(context.Background(), projectID)
	assert.True(t, apperrors.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
