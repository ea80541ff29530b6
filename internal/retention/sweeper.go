// Package retention implements the periodic purge of expired messages.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/welldanyogia/dispomail/internal/metrics"
)

// ExpiringStore is the slice of the storage writer the sweeper needs
type ExpiringStore interface {
	DeleteOlderThan(ctx context.Context, ageInDays int) (int64, error)
}

// Config holds sweeper configuration
type Config struct {
	// Interval between sweeps.
	Interval time.Duration
	// RetentionDays is the maximum age a record may reach before purge.
	RetentionDays int
}

// DefaultConfig returns the reference deployment's cadence: an hourly
// sweep with a 7-day retention window.
func DefaultConfig() Config {
	return Config{
		Interval:      time.Hour,
		RetentionDays: 7,
	}
}

// SweepResult holds the outcome of one sweep
type SweepResult struct {
	StartTime time.Time
	EndTime   time.Time
	Deleted   int64
	Err       error
}

// Sweeper runs the expiry sweep on a fixed cadence. It is a scoped
// resource owned by the process lifecycle: Start spawns the ticker
// goroutine, Stop cancels it before the store connection closes.
type Sweeper struct {
	store  ExpiringStore
	config Config
	logger *slog.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	lastRun  *SweepResult
}

// NewSweeper creates a Sweeper
func NewSweeper(store ExpiringStore, cfg Config, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	return &Sweeper{
		store:    store,
		config:   cfg,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start begins the periodic sweep
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("sweeper is already running")
	}

	s.running = true
	s.stopChan = make(chan struct{})
	s.wg.Add(1)

	go s.run()

	s.logger.Info("retention sweeper started",
		slog.Duration("interval", s.config.Interval),
		slog.Int("retention_days", s.config.RetentionDays),
	)
	return nil
}

// Stop stops the periodic sweep and waits for an in-flight tick to finish.
// Safe to call more than once.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("retention sweeper stopped")
}

// IsRunning reports whether the sweeper is active
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastResult returns the outcome of the most recent sweep, nil before one
func (s *Sweeper) LastResult() *SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// run is the ticker loop
func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopChan:
			return
		}
	}
}

// sweep performs one purge. Errors are absorbed and logged; the next tick
// retries, and the host process never sees a failure.
func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result := s.RunNow(ctx)
	if result.Err != nil {
		return
	}
	if result.Deleted > 0 {
		s.logger.Info("purged expired messages",
			slog.Int64("deleted", result.Deleted),
			slog.Duration("took", result.EndTime.Sub(result.StartTime)),
		)
	}
}

// RunNow runs a single sweep immediately and records its result
func (s *Sweeper) RunNow(ctx context.Context) *SweepResult {
	result := &SweepResult{StartTime: time.Now()}

	deleted, err := s.store.DeleteOlderThan(ctx, s.config.RetentionDays)
	result.EndTime = time.Now()
	result.Deleted = deleted
	result.Err = err

	if err != nil {
		metrics.SweepFailures.Inc()
		s.logger.Error("retention sweep failed", slog.String("error", err.Error()))
	} else {
		metrics.SweepDeletedTotal.Add(float64(deleted))
	}

	s.mu.Lock()
	s.lastRun = result
	s.mu.Unlock()

	return result
}
