// Package sweep removes blobs older than the retention period.
package sweep

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"ypb/internal/storage"
)

const (
	DefaultWarmup      = time.Minute
	DefaultInterval    = time.Minute
	DefaultConcurrency = 10
)

// Store is the subset of storage.Store the sweeper needs.
type Store interface {
	List(ctx context.Context) ([]string, error)
	Stat(ctx context.Context, id string) (time.Time, error)
	Delete(ctx context.Context, id string) error
}

// PartRemover is implemented by stores that leave upload files behind when
// a write is interrupted. The sweeper expires those on the same schedule.
type PartRemover interface {
	RemoveParts(ctx context.Context, cutoff time.Time) (int, error)
}

// Config captures sweeper configuration.
type Config struct {
	Store       Store
	Retention   time.Duration
	Warmup      time.Duration
	Interval    time.Duration
	Concurrency int
	Logger      *slog.Logger
}

// Result summarizes one pass.
type Result struct {
	Scanned int
	Removed int
	Parts   int
	Failed  int
}

// Sweeper periodically deletes expired blobs.
type Sweeper struct {
	store       Store
	retention   time.Duration
	warmup      time.Duration
	interval    time.Duration
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

// New constructs a Sweeper.
func New(cfg Config) (*Sweeper, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Retention <= 0 {
		return nil, errors.New("retention must be positive")
	}
	if cfg.Warmup <= 0 {
		cfg.Warmup = DefaultWarmup
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Sweeper{
		store:       cfg.Store,
		retention:   cfg.Retention,
		warmup:      cfg.Warmup,
		interval:    cfg.Interval,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
		now:         time.Now,
	}, nil
}

// Start launches Run in a background goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	go s.Run(ctx)
}

// Run waits for the warm-up delay and then sweeps every interval until ctx
// is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	timer := time.NewTimer(s.warmup)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.Pass(ctx)
			timer.Reset(s.interval)
		}
	}
}

// Pass makes one sweep over every stored blob. Failures on individual
// entries are logged and never stop the pass.
func (s *Sweeper) Pass(ctx context.Context) Result {
	s.logger.Debug("sweep started", "retention", s.retention)
	ids, err := s.store.List(ctx)
	if err != nil {
		s.logger.Error("sweep list failed", "error", err)
		return Result{Failed: 1}
	}

	var (
		removed atomic.Int64
		failed  atomic.Int64
		wg      sync.WaitGroup
	)
	work := make(chan string)
	workers := min(s.concurrency, len(ids))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range work {
				ok, err := s.expire(ctx, id)
				switch {
				case err != nil:
					failed.Add(1)
					s.logger.Error("sweep entry failed", "id", id, "error", err)
				case ok:
					removed.Add(1)
				}
			}
		}()
	}
	for _, id := range ids {
		work <- id
	}
	close(work)
	wg.Wait()

	res := Result{Scanned: len(ids), Removed: int(removed.Load()), Failed: int(failed.Load())}
	if pr, ok := s.store.(PartRemover); ok {
		n, err := pr.RemoveParts(ctx, s.now().Add(-s.retention))
		res.Parts = n
		if err != nil {
			res.Failed++
			s.logger.Error("sweep upload cleanup failed", "error", err)
		}
	}
	if res.Removed > 0 || res.Parts > 0 || res.Failed > 0 {
		s.logger.Info("sweep finished", "scanned", res.Scanned, "removed", res.Removed, "parts", res.Parts, "failed", res.Failed)
	}
	return res
}

func (s *Sweeper) expire(ctx context.Context, id string) (bool, error) {
	storedAt, err := s.store.Stat(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	age := s.now().Sub(storedAt)
	if age <= s.retention {
		return false, nil
	}
	if err := s.store.Delete(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	s.logger.Info("deleted expired file", "id", id, "age", age.Truncate(time.Second))
	return true, nil
}
