package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"ypb/internal/config"
	"ypb/internal/storage"
	"ypb/internal/storage/boltstore"
	"ypb/internal/storage/fsstore"
)

const (
	boltFile   = "ypb.db"
	sqliteFile = "ypb.sqlite"
)

func openStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Backend {
	case "fs":
		return fsstore.Open(cfg.StoragePath, logger)
	case "bolt":
		if err := os.MkdirAll(cfg.StoragePath, 0o755); err != nil {
			return nil, fmt.Errorf("create storage path: %w", err)
		}
		return boltstore.Open(filepath.Join(cfg.StoragePath, boltFile), logger)
	case "sqlite":
		if err := os.MkdirAll(cfg.StoragePath, 0o755); err != nil {
			return nil, fmt.Errorf("create storage path: %w", err)
		}
		return openSQLite(filepath.Join(cfg.StoragePath, sqliteFile), logger)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
