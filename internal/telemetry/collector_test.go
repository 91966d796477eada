package telemetry

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/metrics"
	"vigil/internal/pipeline"
	"vigil/internal/session"
	"vigil/internal/video"
)

type staticStats session.Stats

func (s staticStats) Stats() session.Stats { return session.Stats(s) }

type countingStore struct{ n int }

func (c *countingStore) RecordJob(context.Context, video.JobRecord) error {
	c.n++
	return nil
}

func TestOnFrameResult(t *testing.T) {
	c := NewCollector()

	c.OnFrameResult(&pipeline.FrameResult{
		Metrics:        metrics.MetricsOutput{FaceMissing: true},
		Latency:        20 * time.Millisecond,
		AnalyzerFailed: true,
	})
	c.OnFrameResult(&pipeline.FrameResult{
		Metrics: metrics.MetricsOutput{EyeClosure: &metrics.EyeClosureOutput{EyeClosed: true, PERCLOSAlert: true}},
		Latency: 10 * time.Millisecond,
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.framesProcessed.WithLabelValues("missing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.framesProcessed.WithLabelValues("present")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.analyzerFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.alertFrames.WithLabelValues(metrics.AlertFaceMissing)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.alertFrames.WithLabelValues(metrics.AlertPERCLOS)))
	assert.Equal(t, 2, testutil.CollectAndCount(c.frameLatency))
}

func TestJobStoreCountsAndForwards(t *testing.T) {
	c := NewCollector()
	next := &countingStore{}
	st := c.JobStore(next)

	require.NoError(t, st.RecordJob(context.Background(), video.JobRecord{Status: video.StatusCompleted, ProcessedFrames: 40, Elapsed: time.Second}))
	require.NoError(t, st.RecordJob(context.Background(), video.JobRecord{Status: video.StatusTimedOut}))
	require.NoError(t, c.JobStore(nil).RecordJob(context.Background(), video.JobRecord{Status: video.StatusFailed}))

	assert.Equal(t, 2, next.n)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobs.WithLabelValues(video.StatusCompleted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobs.WithLabelValues(video.StatusTimedOut)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobs.WithLabelValues(video.StatusFailed)))
	assert.Equal(t, 40.0, testutil.ToFloat64(c.jobFrames))
}

func TestHandlerExposesSessionGauges(t *testing.T) {
	c := NewCollector()
	c.TrackSessions(staticStats{Sessions: 2, ActiveConnections: 1, FrameTasks: 1})

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "vigil_sessions 2")
	assert.Contains(t, string(body), "vigil_socket_connections 1")
	assert.Contains(t, string(body), "vigil_frame_tasks 1")
	assert.Contains(t, string(body), "go_goroutines")
}
