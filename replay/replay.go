// Package replay persists replication frames to SQLite so a session
// can be inspected or played back offline. The recorder plugs into a
// server session as its Config.Sink.
package replay

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"worldsync"
)

const schema = `
CREATE TABLE IF NOT EXISTS diffs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tick INTEGER NOT NULL,
	client INTEGER NOT NULL,
	resync INTEGER NOT NULL,
	frame BLOB NOT NULL,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS diffs_by_tick ON diffs(tick);
`

// Recorder writes one row per replication frame sent.
type Recorder struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the database at path and ensures the schema.
func Open(path string) (*Recorder, error) {
	cleanPath := strings.TrimPrefix(path, "sqlite://")
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Recorder{db: db, now: time.Now}, nil
}

// RecordDiff stores one frame. It satisfies worldsync.DiffSink.
func (r *Recorder) RecordDiff(tick worldsync.Tick, client worldsync.ClientID, resync bool, frame []byte) error {
	flag := 0
	if resync {
		flag = 1
	}
	_, err := r.db.Exec(
		`INSERT INTO diffs (tick, client, resync, frame, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		int64(tick), int64(client), flag, frame, r.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert diff: %w", err)
	}
	return nil
}

// RecordedDiff is one stored frame.
type RecordedDiff struct {
	Tick       worldsync.Tick
	Client     worldsync.ClientID
	Resync     bool
	Frame      []byte
	RecordedAt time.Time
}

// Diffs returns the frames with from <= tick <= to in insertion order.
func (r *Recorder) Diffs(ctx context.Context, from, to worldsync.Tick) ([]RecordedDiff, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT tick, client, resync, frame, recorded_at FROM diffs WHERE tick >= ? AND tick <= ? ORDER BY id`,
		int64(from), int64(to),
	)
	if err != nil {
		return nil, fmt.Errorf("query diffs: %w", err)
	}
	defer rows.Close()

	var out []RecordedDiff
	for rows.Next() {
		var (
			tick, client, recordedAt int64
			resync                   int
			frame                    []byte
		)
		if err := rows.Scan(&tick, &client, &resync, &frame, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan diff: %w", err)
		}
		out = append(out, RecordedDiff{
			Tick:       worldsync.Tick(tick),
			Client:     worldsync.ClientID(client),
			Resync:     resync != 0,
			Frame:      frame,
			RecordedAt: time.UnixMilli(recordedAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate diffs: %w", err)
	}
	return out, nil
}

// Close flushes and closes the database.
func (r *Recorder) Close() error {
	return r.db.Close()
}

var _ worldsync.DiffSink = (*Recorder)(nil)
