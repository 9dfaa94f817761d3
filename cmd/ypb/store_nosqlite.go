//go:build !sqlite

package main

import (
	"errors"
	"log/slog"

	"ypb/internal/storage"
)

func openSQLite(path string, logger *slog.Logger) (storage.Store, error) {
	return nil, errors.New("sqlite backend not compiled in; rebuild with -tags sqlite")
}
