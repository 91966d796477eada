package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"vigil/internal/video"
)

// Database handles SQLite database operations
type Database struct {
	db *sql.DB
}

// SessionRecord is the history entry of one client session.
type SessionRecord struct {
	ClientID string
	OpenedAt time.Time
	ClosedAt time.Time
	Reason   string
}

// AlertEventRecord is one raised alert.
type AlertEventRecord struct {
	ID        int64
	ClientID  string
	Alert     string
	Frame     uint64
	Timestamp time.Time
}

// New creates a new database connection
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Ping checks that the database is reachable.
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Migrate runs database migrations
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id TEXT NOT NULL,
			opened_at DATETIME NOT NULL,
			closed_at DATETIME NOT NULL,
			reason TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS video_jobs (
			id TEXT PRIMARY KEY,
			filename TEXT,
			size_bytes INTEGER,
			target_fps INTEGER,
			status TEXT NOT NULL,
			error TEXT,
			total_frames INTEGER,
			processed_frames INTEGER,
			started_at DATETIME NOT NULL,
			elapsed_ms INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS alert_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id TEXT NOT NULL,
			alert TEXT NOT NULL,
			frame INTEGER,
			timestamp DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_closed ON sessions(closed_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_started ON video_jobs(started_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_client_time ON alert_events(client_id, timestamp DESC)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// SaveSession stores a closed session.
func (d *Database) SaveSession(ctx context.Context, rec SessionRecord) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO sessions (client_id, opened_at, closed_at, reason) VALUES (?, ?, ?, ?)`,
		rec.ClientID, rec.OpenedAt.UTC(), rec.ClosedAt.UTC(), rec.Reason)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// ListSessions returns the most recently closed sessions.
func (d *Database) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT client_id, opened_at, closed_at, reason FROM sessions ORDER BY closed_at DESC, id DESC LIMIT ?`,
		normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.ClientID, &rec.OpenedAt, &rec.ClosedAt, &rec.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecordJob implements video.JobStore.
func (d *Database) RecordJob(ctx context.Context, rec video.JobRecord) error {
	query := `INSERT INTO video_jobs
		(id, filename, size_bytes, target_fps, status, error, total_frames, processed_frames, started_at, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			processed_frames = excluded.processed_frames,
			elapsed_ms = excluded.elapsed_ms`

	_, err := d.db.ExecContext(ctx, query, rec.ID, rec.Filename, rec.SizeBytes, rec.TargetFPS,
		rec.Status, rec.Error, rec.TotalFrames, rec.ProcessedFrames, rec.StartedAt.UTC(),
		rec.Elapsed.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to save video job: %w", err)
	}
	return nil
}

// ListJobs returns the most recent jobs, optionally filtered by status.
func (d *Database) ListJobs(ctx context.Context, status string, limit int) ([]video.JobRecord, error) {
	query := `SELECT id, filename, size_bytes, target_fps, status, error, total_frames,
		processed_frames, started_at, elapsed_ms FROM video_jobs WHERE 1=1`
	args := []interface{}{}

	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, normalizeLimit(limit))

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list video jobs: %w", err)
	}
	defer rows.Close()

	var jobs []video.JobRecord
	for rows.Next() {
		var rec video.JobRecord
		var errText sql.NullString
		var elapsedMs int64
		if err := rows.Scan(&rec.ID, &rec.Filename, &rec.SizeBytes, &rec.TargetFPS, &rec.Status,
			&errText, &rec.TotalFrames, &rec.ProcessedFrames, &rec.StartedAt, &elapsedMs); err != nil {
			return nil, fmt.Errorf("failed to scan video job: %w", err)
		}
		rec.Error = errText.String
		rec.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		jobs = append(jobs, rec)
	}
	return jobs, rows.Err()
}

// DeleteOldJobs deletes jobs started before the specified time
func (d *Database) DeleteOldJobs(ctx context.Context, before time.Time) (int64, error) {
	result, err := d.db.ExecContext(ctx, "DELETE FROM video_jobs WHERE started_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old video jobs: %w", err)
	}
	return result.RowsAffected()
}

// SaveAlertEvent stores a raised alert.
func (d *Database) SaveAlertEvent(ctx context.Context, ev AlertEventRecord) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO alert_events (client_id, alert, frame, timestamp) VALUES (?, ?, ?, ?)`,
		ev.ClientID, ev.Alert, int64(ev.Frame), ev.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to save alert event: %w", err)
	}
	return nil
}

// ListAlertEvents returns alerts with optional filtering
func (d *Database) ListAlertEvents(ctx context.Context, clientID string, since *time.Time, limit int) ([]AlertEventRecord, error) {
	query := `SELECT id, client_id, alert, frame, timestamp FROM alert_events WHERE 1=1`
	args := []interface{}{}

	if clientID != "" {
		query += " AND client_id = ?"
		args = append(args, clientID)
	}
	if since != nil {
		query += " AND timestamp >= ?"
		args = append(args, since.UTC())
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, normalizeLimit(limit))

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert events: %w", err)
	}
	defer rows.Close()

	var events []AlertEventRecord
	for rows.Next() {
		var ev AlertEventRecord
		var frame int64
		if err := rows.Scan(&ev.ID, &ev.ClientID, &ev.Alert, &frame, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan alert event: %w", err)
		}
		ev.Frame = uint64(frame)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
