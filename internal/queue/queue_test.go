package queue

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobEncoding(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	job := &Job{ID: uuid.New(), Type: JobTypeProcessProject, ProjectID: uuid.New()}

	data, err := encodeJob(job, now)
	require.NoError(t, err)
	assert.Equal(t, now, job.CreatedAt)

	decoded, err := decodeJob(data)
	require.NoError(t, err)
	assert.Equal(t, job, decoded)
}

func TestEncodeRequiresProject(t *testing.T) {
	_, err := encodeJob(&Job{ID: uuid.New()}, time.Now())
	assert.Error(t, err)
}

func TestDecodeDefaultsType(t *testing.T) {
	job, err := decodeJob([]byte(`{"id":"6f1c1c8e-9f2e-4a59-9f5e-2d7f1b0a1c11","project_id":"6f1c1c8e-9f2e-4a59-9f5e-2d7f1b0a1c12"}`))
	require.NoError(t, err)
	assert.Equal(t, JobTypeProcessProject, job.Type)

	_, err = decodeJob([]byte("not json"))
	assert.Error(t, err)
}
