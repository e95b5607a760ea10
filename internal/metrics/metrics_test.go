package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.ProjectFinished("completed")
	m.ProjectFinished("completed")
	m.ProjectFinished("failed")
	m.ClipMaterialized("tiktok", "rendered")
	m.RetentionDeleted(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.projects.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.projects.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.clips.WithLabelValues("tiktok", "rendered")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.retention))
}

func TestInFlightGauge(t *testing.T) {
	m := New()
	done := m.TrackInFlight()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inFlight))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlight))
}

func TestHandlerServesNamespacedMetrics(t *testing.T) {
	m := New()
	m.ObserveStage("transcribe", time.Now().Add(-2*time.Second), nil)
	m.ObserveStage("download", time.Now(), errors.New("boom"))
	m.CandidatesFound(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `clipforge_stage_duration_seconds_count{outcome="ok",stage="transcribe"} 1`)
	assert.Contains(t, string(body), `clipforge_stage_duration_seconds_count{outcome="error",stage="download"} 1`)
	assert.Contains(t, string(body), "clipforge_candidates_per_project_count 1")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ProjectFinished("completed")
	m.ObserveStage("analyze", time.Now(), nil)
	m.TrackInFlight()()
	assert.Nil(t, m.Registry())
}
