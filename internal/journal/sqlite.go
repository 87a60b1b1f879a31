package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteJournal implements Journal using SQLite.
type SQLiteJournal struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteJournal creates a new SQLite-backed journal.
// Use ":memory:" for an in-memory database, or a file path for persistent storage.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	j := &SQLiteJournal{db: db}
	if err := j.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return j, nil
}

func (j *SQLiteJournal) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pipeline_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		build_id TEXT NOT NULL,
		service_path TEXT NOT NULL,
		event_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		payload BLOB,
		metadata TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_build_id ON pipeline_events(build_id);
	CREATE INDEX IF NOT EXISTS idx_service_path ON pipeline_events(service_path);
	CREATE INDEX IF NOT EXISTS idx_timestamp ON pipeline_events(timestamp);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Append adds a new event to the journal.
func (j *SQLiteJournal) Append(ctx context.Context, buildID, servicePath, eventType string, payload []byte, metadata map[string]string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var metadataJSON []byte
	if metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}

	timestamp := time.Now().Unix()
	_, err := j.db.ExecContext(ctx,
		"INSERT INTO pipeline_events (build_id, service_path, event_type, timestamp, payload, metadata) VALUES (?, ?, ?, ?, ?, ?)",
		buildID, servicePath, eventType, timestamp, payload, metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	return nil
}

// GetByBuildID retrieves all events for a specific build.
func (j *SQLiteJournal) GetByBuildID(ctx context.Context, buildID string) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	rows, err := j.db.QueryContext(ctx,
		"SELECT id, build_id, service_path, event_type, timestamp, payload, metadata FROM pipeline_events WHERE build_id = ? ORDER BY id",
		buildID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	return j.scanEntries(rows)
}

// GetByServicePath retrieves all events for a service path.
func (j *SQLiteJournal) GetByServicePath(ctx context.Context, servicePath string) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	rows, err := j.db.QueryContext(ctx,
		"SELECT id, build_id, service_path, event_type, timestamp, payload, metadata FROM pipeline_events WHERE service_path = ? ORDER BY id",
		servicePath,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	return j.scanEntries(rows)
}

// GetRange retrieves events within a time range.
func (j *SQLiteJournal) GetRange(ctx context.Context, start, end time.Time) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	rows, err := j.db.QueryContext(ctx,
		"SELECT id, build_id, service_path, event_type, timestamp, payload, metadata FROM pipeline_events WHERE timestamp >= ? AND timestamp <= ? ORDER BY id",
		start.Unix(), end.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	return j.scanEntries(rows)
}

// Prune deletes events older than the cutoff.
func (j *SQLiteJournal) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	res, err := j.db.ExecContext(ctx,
		"DELETE FROM pipeline_events WHERE timestamp < ?", olderThan.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}

func (j *SQLiteJournal) scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var timestampUnix int64
		var metadataJSON []byte

		err := rows.Scan(&e.ID, &e.BuildID, &e.ServicePath, &e.EventType, &timestampUnix, &e.Payload, &metadataJSON)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		e.Timestamp = time.Unix(timestampUnix, 0)

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return entries, nil
}

// Close closes the database connection.
func (j *SQLiteJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.db.Close()
}
