package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"ypb/internal/config"
	"ypb/internal/httpserver"
	"ypb/internal/sweep"
)

const (
	shutdownTimeout = 10 * time.Second
	limiterTTL      = 15 * time.Minute
)

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "ypb",
		Short:         "ypb is a minimal pastebin served over plain HTTP verbs",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := cfg.ApplyFlags(cmd.Flags()); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := newCommandLogger(cmd, cfg.LogLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}

	cmd.Version = version
	cmd.Flags().StringVar(&configPath, "config", "", "path to a TOML config file (env: "+config.ConfigEnvKey+")")
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, err := openStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Backend, err)
	}
	defer store.Close()

	var limiter *httpserver.RateLimiter
	if cfg.RateLimit > 0 {
		limiter = httpserver.NewRateLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst, limiterTTL)
	}

	srv, err := httpserver.New(httpserver.Config{
		Store:       store,
		MaxBytes:    cfg.LimitSize,
		Theme:       cfg.SyntaxTheme,
		Highlight:   cfg.Highlight,
		RateLimiter: limiter,
		TrustProxy:  cfg.BehindProxy,
		BaseURL:     cfg.BaseURL,
		Timeout:     cfg.Timeout(),
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("construct server: %w", err)
	}

	sweeper, err := sweep.New(sweep.Config{
		Store:     store,
		Retention: cfg.Retention(),
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("construct sweeper: %w", err)
	}
	sweeper.Start(ctx)

	httpSrv := srv.HTTPServer(cfg.Addr())

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr(), "backend", cfg.Backend, "storage_path", cfg.StoragePath, "version", version)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
