//go:build sqlite

package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"ypb/internal/storage"
)

// Store implements storage.Store using SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open initializes the SQLite database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := initialize(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

func initialize(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS blobs (
    id TEXT PRIMARY KEY,
    content BLOB NOT NULL,
    stored_at INTEGER NOT NULL
);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Put inserts or replaces a blob.
func (s *Store) Put(ctx context.Context, id string, content []byte) (time.Time, error) {
	if !storage.ValidID(id) {
		return time.Time{}, storage.ErrNotFound
	}
	if content == nil {
		content = []byte{}
	}
	storedAt := s.now()

	const q = `
INSERT INTO blobs (id, content, stored_at)
VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    content=excluded.content,
    stored_at=excluded.stored_at;
`
	if _, err := s.db.ExecContext(ctx, q, id, content, storedAt.UnixNano()); err != nil {
		return time.Time{}, fmt.Errorf("save blob: %w", err)
	}
	s.logger.Info("file saved", "id", id, "size", len(content))
	return storedAt, nil
}

// Get fetches a blob by id.
func (s *Store) Get(ctx context.Context, id string) (*storage.Blob, error) {
	const q = `SELECT content, stored_at FROM blobs WHERE id = ?;`
	var (
		content  []byte
		storedAt int64
	)
	if err := s.db.QueryRowContext(ctx, q, id).Scan(&content, &storedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("query blob: %w", err)
	}
	return &storage.Blob{
		ID:       id,
		Size:     int64(len(content)),
		StoredAt: time.Unix(0, storedAt),
		Body:     storage.BytesBody(content),
	}, nil
}

// Stat returns the time a blob was stored.
func (s *Store) Stat(ctx context.Context, id string) (time.Time, error) {
	const q = `SELECT stored_at FROM blobs WHERE id = ?;`
	var storedAt int64
	if err := s.db.QueryRowContext(ctx, q, id).Scan(&storedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, storage.ErrNotFound
		}
		return time.Time{}, fmt.Errorf("query stored time: %w", err)
	}
	return time.Unix(0, storedAt), nil
}

// Delete removes a blob by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM blobs WHERE id = ?;`
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// List returns every stored identifier.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM blobs ORDER BY id;`)
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan blob id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
