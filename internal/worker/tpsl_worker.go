package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/soltrade-core/internal/logging"
)

// PositionEvaluator is the TP/SL surface the worker drives.
type PositionEvaluator interface {
	EvaluateManualPositions(ctx context.Context) error
}

// TPSLWorker sweeps open manual positions against their take-profit and
// stop-loss thresholds on a fixed interval.
type TPSLWorker struct {
	evaluator     PositionEvaluator
	sweepInterval time.Duration
	running       bool
	mu            sync.RWMutex
	stopCh        chan struct{}
	doneCh        chan struct{}
	lastSweepTime time.Time
}

// NewTPSLWorker creates a TP/SL sweep worker.
func NewTPSLWorker(evaluator PositionEvaluator, sweepInterval time.Duration) (*TPSLWorker, error) {
	if evaluator == nil {
		return nil, fmt.Errorf("evaluator cannot be nil")
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}

	return &TPSLWorker{
		evaluator:     evaluator,
		sweepInterval: sweepInterval,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}, nil
}

// Start begins the sweep loop.
func (w *TPSLWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("tp/sl worker is already running")
	}
	w.running = true
	w.mu.Unlock()

	logging.WithField("interval", w.sweepInterval.String()).Info("TP/SL worker started")

	go w.sweepLoop(ctx)

	return nil
}

// Stop gracefully stops the worker.
func (w *TPSLWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("tp/sl worker is not running")
	}
	w.mu.Unlock()

	close(w.stopCh)

	select {
	case <-w.doneCh:
		logging.Info("TP/SL worker stopped")
	case <-ctx.Done():
		logging.Warn("TP/SL worker stop timed out")
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	return nil
}

func (w *TPSLWorker) sweepLoop(ctx context.Context) {
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

			if err := w.evaluator.EvaluateManualPositions(ctx); err != nil {
				logging.WithError(err).Error("TP/SL sweep failed")
			}
		}
	}
}

// Status returns the worker's current state.
func (w *TPSLWorker) Status() (running bool, lastSweep time.Time) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running, w.lastSweepTime
}
