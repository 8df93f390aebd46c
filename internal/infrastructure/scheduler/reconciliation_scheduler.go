// Package scheduler runs periodic maintenance jobs inside the server process.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meterly/backend/internal/application/subscription"
)

// Repairer repairs open reconciliation cases in batches
type Repairer interface {
	RepairAll(ctx context.Context, limit int) (subscription.RepairReport, error)
}

// ReconciliationSchedulerConfig holds configuration for the reconciliation scheduler
type ReconciliationSchedulerConfig struct {
	Enabled bool

	// Interval between runs. The first run happens one interval after Start.
	Interval time.Duration

	// BatchSize caps the cases repaired per run
	BatchSize int

	// Timeout is the maximum time for a single run
	Timeout time.Duration
}

// DefaultReconciliationSchedulerConfig returns default configuration
func DefaultReconciliationSchedulerConfig() ReconciliationSchedulerConfig {
	return ReconciliationSchedulerConfig{
		Enabled:   true,
		Interval:  15 * time.Minute,
		BatchSize: 50,
		Timeout:   2 * time.Minute,
	}
}

// ReconciliationScheduler periodically writes the subscriber rows of signups
// that were billed but not persisted.
type ReconciliationScheduler struct {
	repairer  Repairer
	logger    *zap.Logger
	config    ReconciliationSchedulerConfig
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewReconciliationScheduler creates a new reconciliation scheduler
func NewReconciliationScheduler(repairer Repairer, logger *zap.Logger, config ReconciliationSchedulerConfig) *ReconciliationScheduler {
	def := DefaultReconciliationSchedulerConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	return &ReconciliationScheduler{
		repairer: repairer,
		logger:   logger.Named("reconciliation"),
		config:   config,
	}
}

// Start launches the background loop. Calling Start twice is a no-op.
func (s *ReconciliationScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return
	}
	if !s.config.Enabled {
		s.logger.Info("Reconciliation scheduler is disabled")
		return
	}
	s.isRunning = true

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Info("Reconciliation scheduler started",
		zap.Duration("interval", s.config.Interval),
		zap.Int("batch_size", s.config.BatchSize),
	)
}

// Stop cancels the loop and waits for an in-flight run to finish or ctx to expire
func (s *ReconciliationScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Reconciliation scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Reconciliation scheduler stop timed out")
		return ctx.Err()
	}
}

// IsRunning reports whether the loop is active
func (s *ReconciliationScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

func (s *ReconciliationScheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single bounded repair pass
func (s *ReconciliationScheduler) RunOnce(ctx context.Context) subscription.RepairReport {
	runCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	start := time.Now()
	report, err := s.repairer.RepairAll(runCtx, s.config.BatchSize)
	if err != nil {
		s.logger.Error("Reconciliation run failed", zap.Error(err))
		return report
	}
	if report.Repaired > 0 || report.Failed > 0 {
		s.logger.Info("Reconciliation run completed",
			zap.Int("repaired", report.Repaired),
			zap.Int("failed", report.Failed),
			zap.Duration("duration", time.Since(start)),
		)
	}
	return report
}
