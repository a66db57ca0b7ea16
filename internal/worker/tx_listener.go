package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/soltrade-core/internal/adapter"
	"github.com/soltrade-core/internal/bus"
	"github.com/soltrade-core/internal/logging"
)

// SignatureSource lists a wallet's recent transaction signatures.
type SignatureSource interface {
	GetSignaturesForAddress(ctx context.Context, address string, limit int) ([]adapter.SignatureInfo, error)
}

// TransactionSink receives observed wallet transactions and knows which
// wallets have subscribers.
type TransactionSink interface {
	Addresses() []string
	Publish(ctx context.Context, event bus.TransactionEvent)
}

// TxListener turns chain polling into bus events: each cycle it asks the
// sink which wallets are subscribed, fetches their newest signatures, and
// publishes everything it has not seen before. The first poll of a wallet
// only primes the cursor so restarts never replay history; the dedup ledger
// downstream absorbs anything published twice anyway.
type TxListener struct {
	source    SignatureSource
	sink      TransactionSink
	interval  time.Duration
	batchSize int

	running bool
	mu      sync.RWMutex
	stopCh  chan struct{}
	doneCh  chan struct{}

	// cursor holds the newest signature seen per wallet; primed marks
	// wallets whose first poll already happened.
	cursor map[string]string
	primed map[string]bool
}

// NewTxListener creates a transaction listener.
func NewTxListener(source SignatureSource, sink TransactionSink, interval time.Duration, batchSize int) (*TxListener, error) {
	if source == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink cannot be nil")
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 20
	}

	return &TxListener{
		source:    source,
		sink:      sink,
		interval:  interval,
		batchSize: batchSize,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		cursor:    make(map[string]string),
		primed:    make(map[string]bool),
	}, nil
}

// Start begins the poll loop.
func (w *TxListener) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("transaction listener is already running")
	}
	w.running = true
	w.mu.Unlock()

	logging.WithField("interval", w.interval.String()).Info("Transaction listener started")

	go w.pollLoop(ctx)

	return nil
}

// Stop gracefully stops the listener, waiting for an in-flight poll.
func (w *TxListener) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("transaction listener is not running")
	}
	w.mu.Unlock()

	close(w.stopCh)

	select {
	case <-w.doneCh:
		logging.Info("Transaction listener stopped")
	case <-ctx.Done():
		logging.Warn("Transaction listener stop timed out")
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	return nil
}

func (w *TxListener) pollLoop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			for _, address := range w.sink.Addresses() {
				w.pollWallet(ctx, address)
			}
		}
	}
}

// pollWallet publishes the wallet's signatures newer than the cursor, oldest
// first so downstream handlers see them in chain order. Failed transactions
// are skipped; there is nothing to mirror.
func (w *TxListener) pollWallet(ctx context.Context, address string) {
	sigs, err := w.source.GetSignaturesForAddress(ctx, address, w.batchSize)
	if err != nil {
		logging.WithError(err).WithField("address", address).Warn("Signature poll failed")
		return
	}

	w.mu.Lock()
	primed := w.primed[address]
	last := w.cursor[address]
	if !primed {
		w.primed[address] = true
		if len(sigs) > 0 {
			w.cursor[address] = sigs[0].Signature
		}
	}
	w.mu.Unlock()

	if !primed || len(sigs) == 0 {
		return
	}

	var fresh []adapter.SignatureInfo
	for _, sig := range sigs {
		if sig.Signature == last {
			break
		}
		fresh = append(fresh, sig)
	}
	if len(fresh) == 0 {
		return
	}

	w.mu.Lock()
	w.cursor[address] = fresh[0].Signature
	w.mu.Unlock()

	for i := len(fresh) - 1; i >= 0; i-- {
		sig := fresh[i]
		if sig.Failed() {
			continue
		}

		event := bus.TransactionEvent{
			WalletAddress: address,
			Signature:     sig.Signature,
			Slot:          sig.Slot,
		}
		if sig.BlockTime != nil {
			event.BlockTime = time.Unix(*sig.BlockTime, 0)
		}
		w.sink.Publish(ctx, event)
	}
}

// Status returns the listener's current state.
func (w *TxListener) Status() (running bool, watched int) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running, len(w.primed)
}
