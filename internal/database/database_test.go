package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/video"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "vigil.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	require.NoError(t, db.Migrate(), "migrations are idempotent")
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSessions(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, db.SaveSession(ctx, SessionRecord{ClientID: "a", OpenedAt: base, ClosedAt: base.Add(time.Minute), Reason: "closed"}))
	require.NoError(t, db.SaveSession(ctx, SessionRecord{ClientID: "b", OpenedAt: base, ClosedAt: base.Add(2 * time.Minute), Reason: "expired"}))

	got, err := db.ListSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ClientID)
	assert.Equal(t, "expired", got[0].Reason)
	assert.True(t, got[1].ClosedAt.Equal(base.Add(time.Minute)))
	require.NoError(t, db.Ping(ctx))
}

func TestVideoJobs(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	jobs := []video.JobRecord{
		{ID: "j1", Filename: "a.mp4", SizeBytes: 10, TargetFPS: 15, Status: video.StatusCompleted, TotalFrames: 300, ProcessedFrames: 150, StartedAt: base, Elapsed: 1500 * time.Millisecond},
		{ID: "j2", Filename: "b.mp4", TargetFPS: 15, Status: video.StatusTimedOut, Error: "video processing timed out", StartedAt: base.Add(time.Hour)},
	}
	for _, j := range jobs {
		require.NoError(t, db.RecordJob(ctx, j))
	}

	all, err := db.ListJobs(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "j2", all[0].ID)
	assert.Equal(t, "video processing timed out", all[0].Error)
	assert.Equal(t, 1500*time.Millisecond, all[1].Elapsed)

	done, err := db.ListJobs(ctx, video.StatusCompleted, 5)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, 150, done[0].ProcessedFrames)

	n, err := db.DeleteOldJobs(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestAlertEvents(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, db.SaveAlertEvent(ctx, AlertEventRecord{ClientID: "a", Alert: "perclos", Frame: 40, Timestamp: base}))
	require.NoError(t, db.SaveAlertEvent(ctx, AlertEventRecord{ClientID: "a", Alert: "gaze", Frame: 90, Timestamp: base.Add(time.Minute)}))
	require.NoError(t, db.SaveAlertEvent(ctx, AlertEventRecord{ClientID: "b", Alert: "phone_usage", Frame: 5, Timestamp: base}))

	got, err := db.ListAlertEvents(ctx, "a", nil, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "gaze", got[0].Alert)
	assert.EqualValues(t, 90, got[0].Frame)

	since := base.Add(30 * time.Second)
	recent, err := db.ListAlertEvents(ctx, "", &since, 0)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}
