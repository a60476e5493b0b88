package streamable

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// EventStore persists outgoing SSE frames per logical stream so a dropped
// connection can resume via Last-Event-ID.
// Streams are identified by (sessionID, streamID); indices are dense and
// start at 0 within a stream.
type EventStore interface {
	// Append records data as the next event in the stream, returning its index.
	Append(ctx context.Context, sessionID string, streamID int64, data []byte) (index int, err error)
	// Replay returns every event recorded at or after fromIndex.
	Replay(ctx context.Context, sessionID string, streamID int64, fromIndex int) ([][]byte, error)
	// DropSession discards all events recorded for sessionID.
	DropSession(ctx context.Context, sessionID string) error
}

// MemoryEventStore is the default EventStore: an in-process map, lost on
// restart. Adequate for a single-process deployment or tests.
type MemoryEventStore struct {
	mu      sync.Mutex
	streams map[string][][]byte // key: sessionID + "/" + streamID
}

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{streams: make(map[string][][]byte)}
}

func streamKey(sessionID string, streamID int64) string {
	return fmt.Sprintf("%s/%d", sessionID, streamID)
}

func (s *MemoryEventStore) Append(ctx context.Context, sessionID string, streamID int64, data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := streamKey(sessionID, streamID)
	s.streams[key] = append(s.streams[key], append([]byte(nil), data...))
	return len(s.streams[key]) - 1, nil
}

func (s *MemoryEventStore) Replay(ctx context.Context, sessionID string, streamID int64, fromIndex int) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.streams[streamKey(sessionID, streamID)]
	if fromIndex >= len(events) {
		return nil, nil
	}
	if fromIndex < 0 {
		fromIndex = 0
	}
	out := make([][]byte, len(events)-fromIndex)
	copy(out, events[fromIndex:])
	return out, nil
}

func (s *MemoryEventStore) DropSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := sessionID + "/"
	for k := range s.streams {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(s.streams, k)
		}
	}
	return nil
}

// SQLiteEventStore durably persists stream events, for deployments that need
// resumption to survive a process restart. Backed by modernc.org/sqlite.
type SQLiteEventStore struct {
	db *sql.DB
}

// NewSQLiteEventStore opens (creating if needed) a SQLite database at path
// and ensures its schema exists.
func NewSQLiteEventStore(path string) (*SQLiteEventStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("streamable: opening event store: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS stream_events (
	session_id TEXT NOT NULL,
	stream_id  INTEGER NOT NULL,
	idx        INTEGER NOT NULL,
	data       BLOB NOT NULL,
	PRIMARY KEY (session_id, stream_id, idx)
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("streamable: creating event store schema: %w", err)
	}
	return &SQLiteEventStore{db: db}, nil
}

func (s *SQLiteEventStore) Close() error { return s.db.Close() }

func (s *SQLiteEventStore) Append(ctx context.Context, sessionID string, streamID int64, data []byte) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var next int
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(idx), -1) + 1 FROM stream_events WHERE session_id = ? AND stream_id = ?`, sessionID, streamID)
	if err := row.Scan(&next); err != nil {
		return 0, fmt.Errorf("streamable: computing next index: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO stream_events (session_id, stream_id, idx, data) VALUES (?, ?, ?, ?)`, sessionID, streamID, next, data); err != nil {
		return 0, fmt.Errorf("streamable: appending event: %w", err)
	}
	return next, tx.Commit()
}

func (s *SQLiteEventStore) Replay(ctx context.Context, sessionID string, streamID int64, fromIndex int) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM stream_events WHERE session_id = ? AND stream_id = ? AND idx >= ? ORDER BY idx ASC`, sessionID, streamID, fromIndex)
	if err != nil {
		return nil, fmt.Errorf("streamable: replaying events: %w", err)
	}
	defer rows.Close()
	var out [][]byte
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, rows.Err()
}

func (s *SQLiteEventStore) DropSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM stream_events WHERE session_id = ?`, sessionID)
	return err
}
