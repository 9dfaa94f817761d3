package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrForbidden is returned when a supplied secret does not match the blob.
var ErrForbidden = errors.New("permission denied")

// Stater reports when a blob was stored.
type Stater interface {
	Stat(ctx context.Context, id string) (time.Time, error)
}

// FormatSecret renders a stored time as the deletion secret: whole seconds
// since the Unix epoch in decimal.
func FormatSecret(storedAt time.Time) (string, error) {
	secs := storedAt.Unix()
	if secs < 0 {
		return "", fmt.Errorf("stored time %s precedes the unix epoch", storedAt.UTC().Format(time.RFC3339))
	}
	return strconv.FormatInt(secs, 10), nil
}

// Authorize checks secret against the stored time of id. It returns the
// store's not-found error when the blob is absent, ErrForbidden on a
// mismatch and nil when deletion may proceed.
func Authorize(ctx context.Context, st Stater, id, secret string) error {
	storedAt, err := st.Stat(ctx, id)
	if err != nil {
		return err
	}
	expected, err := FormatSecret(storedAt)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(secret)) != 1 {
		return ErrForbidden
	}
	return nil
}
