package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"replay-merge/internal/merge"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get when no row matches.
var ErrNotFound = errors.New("recording not in catalog")

// Descriptor is the persisted form of a recording. StopPosition is -1 while
// the recording is active.
type Descriptor struct {
	ArchiveID     string            `json:"archive_id"`
	RecordingID   merge.RecordingID `json:"recording_id"`
	SessionID     merge.SessionID   `json:"session_id"`
	StreamID      int32             `json:"stream_id"`
	StartPosition merge.Position    `json:"start_position"`
	StopPosition  merge.Position    `json:"stop_position"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Catalog keeps recording descriptors in SQLite so they outlive the archive
// that wrote them. Rows are keyed by archive id, so every archive instance
// numbers its recordings independently.
type Catalog struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS recordings (
	archive_id TEXT NOT NULL,
	recording_id INTEGER NOT NULL,
	session_id INTEGER NOT NULL,
	stream_id INTEGER NOT NULL,
	start_position INTEGER NOT NULL CHECK(start_position >= 0),
	stop_position INTEGER NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY(archive_id, recording_id)
);

CREATE INDEX IF NOT EXISTS recordings_by_session
ON recordings(archive_id, session_id);
`

// Open opens or creates the catalog at path.
func Open(ctx context.Context, path string) (*Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create catalog dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply catalog schema: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Close closes the underlying database. It is safe on a nil Catalog.
func (c *Catalog) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Upsert writes d, replacing any earlier row for the same recording.
func (c *Catalog) Upsert(ctx context.Context, d Descriptor) error {
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now().UTC()
	}
	_, err := c.db.ExecContext(ctx, `
INSERT INTO recordings(archive_id, recording_id, session_id, stream_id, start_position, stop_position, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(archive_id, recording_id) DO UPDATE SET
	session_id=excluded.session_id,
	stream_id=excluded.stream_id,
	start_position=excluded.start_position,
	stop_position=excluded.stop_position,
	updated_at=excluded.updated_at
`, d.ArchiveID, int64(d.RecordingID), int64(d.SessionID), int64(d.StreamID),
		int64(d.StartPosition), int64(d.StopPosition), d.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert recording %d: %w", d.RecordingID, err)
	}
	return nil
}

// Get returns one descriptor or ErrNotFound.
func (c *Catalog) Get(ctx context.Context, archiveID string, id merge.RecordingID) (Descriptor, error) {
	row := c.db.QueryRowContext(ctx, `
SELECT archive_id, recording_id, session_id, stream_id, start_position, stop_position, updated_at
FROM recordings WHERE archive_id = ? AND recording_id = ?
`, archiveID, int64(id))
	d, err := scanDescriptor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Descriptor{}, fmt.Errorf("%w: %s/%d", ErrNotFound, archiveID, id)
	}
	return d, err
}

// List returns the descriptors of one archive ordered by recording id. An
// empty archiveID lists every archive.
func (c *Catalog) List(ctx context.Context, archiveID string) ([]Descriptor, error) {
	rows, err := c.db.QueryContext(ctx, `
SELECT archive_id, recording_id, session_id, stream_id, start_position, stop_position, updated_at
FROM recordings WHERE ? = '' OR archive_id = ?
ORDER BY archive_id, recording_id
`, archiveID, archiveID)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()

	var out []Descriptor
	for rows.Next() {
		d, err := scanDescriptor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDescriptor(s scanner) (Descriptor, error) {
	var (
		d                              Descriptor
		recordingID, sessionID, stream int64
		startPosition, stopPosition    int64
		updatedAt                      string
	)
	if err := s.Scan(&d.ArchiveID, &recordingID, &sessionID, &stream, &startPosition, &stopPosition, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Descriptor{}, err
		}
		return Descriptor{}, fmt.Errorf("scan recording: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return Descriptor{}, fmt.Errorf("parse updated_at %q: %w", updatedAt, err)
	}
	d.RecordingID = merge.RecordingID(recordingID)
	d.SessionID = merge.SessionID(sessionID)
	d.StreamID = int32(stream)
	d.StartPosition = merge.Position(startPosition)
	d.StopPosition = merge.Position(stopPosition)
	d.UpdatedAt = t
	return d, nil
}
