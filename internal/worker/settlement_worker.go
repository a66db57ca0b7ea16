package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/soltrade-core/internal/logging"
)

// SettlementSweeper is the settlement surface the worker drives.
type SettlementSweeper interface {
	ProcessPending(ctx context.Context) error
}

// SettlementWorker runs the withdrawal settlement sweep on a fixed interval.
// Every due withdrawal gets one attempt per cycle; per-row failures are the
// sweeper's problem, the worker only keeps the clock ticking.
type SettlementWorker struct {
	sweeper       SettlementSweeper
	sweepInterval time.Duration
	running       bool
	mu            sync.RWMutex
	stopCh        chan struct{}
	doneCh        chan struct{}
	lastSweepTime time.Time
}

// NewSettlementWorker creates a settlement worker.
func NewSettlementWorker(sweeper SettlementSweeper, sweepInterval time.Duration) (*SettlementWorker, error) {
	if sweeper == nil {
		return nil, fmt.Errorf("sweeper cannot be nil")
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}

	return &SettlementWorker{
		sweeper:       sweeper,
		sweepInterval: sweepInterval,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}, nil
}

// Start begins the sweep loop.
func (w *SettlementWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("settlement worker is already running")
	}
	w.running = true
	w.mu.Unlock()

	logging.WithField("interval", w.sweepInterval.String()).Info("Settlement worker started")

	go w.sweepLoop(ctx)

	return nil
}

// Stop gracefully stops the worker, waiting for an in-flight sweep.
func (w *SettlementWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("settlement worker is not running")
	}
	w.mu.Unlock()

	close(w.stopCh)

	select {
	case <-w.doneCh:
		logging.Info("Settlement worker stopped")
	case <-ctx.Done():
		logging.Warn("Settlement worker stop timed out")
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	return nil
}

func (w *SettlementWorker) sweepLoop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.mu.Lock()
			w.lastSweepTime = time.Now()
			w.mu.Unlock()

			if err := w.sweeper.ProcessPending(ctx); err != nil {
				logging.WithError(err).Error("Settlement sweep failed")
			}
		}
	}
}

// Status returns the worker's current state.
func (w *SettlementWorker) Status() (running bool, lastSweep time.Time) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running, w.lastSweepTime
}
