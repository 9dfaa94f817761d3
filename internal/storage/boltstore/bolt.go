package boltstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"

	"ypb/internal/storage"
)

var (
	blobBucket   = []byte("blobs")
	storedBucket = []byte("stored")
)

// Store implements storage.Store backed by BoltDB.
type Store struct {
	db     *bolt.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open initializes a BoltDB-backed store located at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(blobBucket); err != nil {
			return fmt.Errorf("create blob bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists(storedBucket); err != nil {
			return fmt.Errorf("create stored bucket: %w", err)
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// Put stores content and its write time in one transaction.
func (s *Store) Put(ctx context.Context, id string, content []byte) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	if !storage.ValidID(id) {
		return time.Time{}, storage.ErrNotFound
	}

	storedAt := s.now()
	err := s.db.Update(func(tx *bolt.Tx) error {
		bBucket, sBucket, err := buckets(tx)
		if err != nil {
			return err
		}
		if err := bBucket.Put([]byte(id), content); err != nil {
			return fmt.Errorf("save blob: %w", err)
		}
		if err := sBucket.Put([]byte(id), encodeTime(storedAt)); err != nil {
			return fmt.Errorf("save stored time: %w", err)
		}
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	s.logger.Info("file saved", "id", id, "size", len(content))
	return storedAt, nil
}

// Get retrieves a copy of the blob.
func (s *Store) Get(ctx context.Context, id string) (*storage.Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out *storage.Blob
	err := s.db.View(func(tx *bolt.Tx) error {
		bBucket, sBucket, err := buckets(tx)
		if err != nil {
			return err
		}
		rawTime := sBucket.Get([]byte(id))
		if rawTime == nil {
			return storage.ErrNotFound
		}
		storedAt, err := decodeTime(rawTime)
		if err != nil {
			return err
		}
		// Values are only valid for the life of the transaction.
		content := bytes.Clone(bBucket.Get([]byte(id)))
		out = &storage.Blob{
			ID:       id,
			Size:     int64(len(content)),
			StoredAt: storedAt,
			Body:     storage.BytesBody(content),
		}
		return nil
	})
	return out, err
}

// Stat returns the time the blob was stored.
func (s *Store) Stat(ctx context.Context, id string) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}

	var storedAt time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		_, sBucket, err := buckets(tx)
		if err != nil {
			return err
		}
		raw := sBucket.Get([]byte(id))
		if raw == nil {
			return storage.ErrNotFound
		}
		storedAt, err = decodeTime(raw)
		return err
	})
	return storedAt, err
}

// Delete removes a blob.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		bBucket, sBucket, err := buckets(tx)
		if err != nil {
			return err
		}
		if sBucket.Get([]byte(id)) == nil {
			return storage.ErrNotFound
		}
		if err := bBucket.Delete([]byte(id)); err != nil {
			return fmt.Errorf("delete blob: %w", err)
		}
		if err := sBucket.Delete([]byte(id)); err != nil {
			return fmt.Errorf("delete stored time: %w", err)
		}
		return nil
	})
}

// List returns every stored identifier.
func (s *Store) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		_, sBucket, err := buckets(tx)
		if err != nil {
			return err
		}
		return sBucket.ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buckets(tx *bolt.Tx) (*bolt.Bucket, *bolt.Bucket, error) {
	bBucket := tx.Bucket(blobBucket)
	sBucket := tx.Bucket(storedBucket)
	if bBucket == nil || sBucket == nil {
		return nil, nil, errors.New("buckets not initialized")
	}
	return bBucket, sBucket, nil
}

func encodeTime(t time.Time) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(t.UnixNano()))
	return buf
}

func decodeTime(raw []byte) (time.Time, error) {
	if len(raw) != 8 {
		return time.Time{}, errors.New("corrupt stored time")
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(raw))), nil
}
