package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned when no blob exists for an identifier.
var ErrNotFound = errors.New("file not found")

const (
	// RawExt marks content with no inherent type.
	RawExt = "txt"
	// RawSuffix is appended to an identifier to form its on-disk name.
	RawSuffix = "." + RawExt
)

// Blob is a stored payload. Callers must Close it.
type Blob struct {
	ID       string
	Size     int64
	StoredAt time.Time
	Body     io.ReadSeekCloser
}

// Close releases the blob body.
func (b *Blob) Close() error {
	if b == nil || b.Body == nil {
		return nil
	}
	return b.Body.Close()
}

// Store defines the storage backend contract.
type Store interface {
	// Put creates or overwrites the blob and returns its stored time.
	Put(ctx context.Context, id string, content []byte) (time.Time, error)
	Get(ctx context.Context, id string) (*Blob, error)
	Stat(ctx context.Context, id string) (time.Time, error)
	Delete(ctx context.Context, id string) error
	// List returns the identifiers of every stored blob.
	List(ctx context.Context) ([]string, error)
	Close() error
}

// ParseName splits a request route segment into an identifier and an optional
// extension. Only the final path element is used.
func ParseName(segment string) (id string, ext string) {
	segment = strings.ReplaceAll(segment, "\\", "/")
	base := path.Base(segment)
	if base == "." || base == ".." || base == "/" {
		return "", ""
	}
	dot := strings.LastIndexByte(base, '.')
	if dot <= 0 {
		return base, ""
	}
	return base[:dot], base[dot+1:]
}

// ValidID reports whether id can name a blob.
func ValidID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, "/\\\x00")
}

// BytesBody wraps content as a blob body.
func BytesBody(content []byte) io.ReadSeekCloser {
	return nopCloser{bytes.NewReader(content)}
}

type nopCloser struct {
	io.ReadSeeker
}

func (nopCloser) Close() error { return nil }
