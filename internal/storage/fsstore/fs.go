package fsstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ypb/internal/id"
	"ypb/internal/storage"
)

const partSuffix = ".part"

// Store implements storage.Store as one file per blob under a root directory.
type Store struct {
	root   string
	logger *slog.Logger
}

// Open prepares root for use, creating it if needed and removing upload
// files left behind by an interrupted write.
func Open(root string, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage root is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	s := &Store{root: abs, logger: logger}
	if _, err := s.RemoveParts(context.Background(), time.Now()); err != nil {
		return nil, err
	}
	return s, nil
}

// Root returns the absolute storage directory.
func (s *Store) Root() string {
	return s.root
}

// Put writes content to a temporary file, syncs it and renames it over the
// blob's final name.
func (s *Store) Put(ctx context.Context, blobID string, content []byte) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	dst, err := s.path(blobID)
	if err != nil {
		return time.Time{}, err
	}
	nonce, err := id.Random(10)
	if err != nil {
		return time.Time{}, fmt.Errorf("upload name: %w", err)
	}
	tmpPath := filepath.Join(s.root, "."+blobID+"-"+nonce+partSuffix)
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return time.Time{}, fmt.Errorf("create upload file: %w", err)
	}
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}
	if _, err := tmp.Write(content); err != nil {
		cleanup()
		return time.Time{}, fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return time.Time{}, fmt.Errorf("sync blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return time.Time{}, fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return time.Time{}, fmt.Errorf("rename blob: %w", err)
	}

	info, err := os.Stat(dst)
	if err != nil {
		return time.Time{}, s.notFound(err)
	}
	s.logger.Info("file saved", "id", blobID, "path", dst, "size", len(content))
	return info.ModTime(), nil
}

// Get opens the blob for reading.
func (s *Store) Get(ctx context.Context, blobID string) (*storage.Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(blobID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, s.notFound(err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat blob: %w", err)
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, storage.ErrNotFound
	}
	return &storage.Blob{
		ID:       blobID,
		Size:     info.Size(),
		StoredAt: info.ModTime(),
		Body:     f,
	}, nil
}

// Stat returns the blob's modification time.
func (s *Store) Stat(ctx context.Context, blobID string) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	p, err := s.path(blobID)
	if err != nil {
		return time.Time{}, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return time.Time{}, s.notFound(err)
	}
	if !info.Mode().IsRegular() {
		return time.Time{}, storage.ErrNotFound
	}
	return info.ModTime(), nil
}

// Delete removes the blob file.
func (s *Store) Delete(ctx context.Context, blobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(blobID)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return s.notFound(err)
	}
	return nil
}

// List returns the identifiers of all blob files in the root.
func (s *Store) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read storage root: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, storage.RawSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, storage.RawSuffix))
	}
	return ids, nil
}

// Close is a no-op; the store holds no open handles.
func (s *Store) Close() error {
	return nil
}

func (s *Store) path(blobID string) (string, error) {
	if !storage.ValidID(blobID) {
		return "", storage.ErrNotFound
	}
	return filepath.Join(s.root, blobID+storage.RawSuffix), nil
}

func (s *Store) notFound(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return storage.ErrNotFound
	}
	return err
}

// RemoveParts deletes upload files last modified at or before cutoff and returns
// how many were removed. A write still in progress is younger than any
// cutoff the sweeper passes.
func (s *Store) RemoveParts(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("read storage root: %w", err)
	}
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, partSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return removed, fmt.Errorf("stat upload %s: %w", name, err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.root, name)); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return removed, fmt.Errorf("remove stale upload %s: %w", name, err)
		}
		removed++
		s.logger.Warn("removed stale upload", "name", name)
	}
	return removed, nil
}
