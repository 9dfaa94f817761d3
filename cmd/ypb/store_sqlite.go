//go:build sqlite

package main

import (
	"log/slog"

	"ypb/internal/storage"
	"ypb/internal/storage/sqlitestore"
)

func openSQLite(path string, logger *slog.Logger) (storage.Store, error) {
	return sqlitestore.Open(path, logger)
}
