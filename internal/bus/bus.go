package bus

import (
	"context"
	"sync"
	"time"

	"github.com/soltrade-core/internal/logging"
	"github.com/soltrade-core/internal/types"
)

// TransactionEvent is a confirmed on-chain transaction observed on a tracked
// wallet. Delivery is at-least-once; consumers dedup by Signature.
type TransactionEvent struct {
	WalletAddress string
	Signature     string
	Slot          uint64
	BlockTime     time.Time
}

// Handler consumes transaction events for one subscribed wallet.
type Handler func(ctx context.Context, event TransactionEvent)

// Bus routes wallet transaction events to the services subscribed to that
// wallet address. Each (address, service) pair holds at most one handler;
// resubscribing replaces it.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]map[types.ServiceID]Handler
	wg       sync.WaitGroup
}

// New creates an empty event bus.
func New() *Bus {
	return &Bus{
		handlers: make(map[string]map[types.ServiceID]Handler),
	}
}

// Subscribe registers a handler for transactions on the given wallet.
func (b *Bus) Subscribe(address string, service types.ServiceID, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[address] == nil {
		b.handlers[address] = make(map[types.ServiceID]Handler)
	}
	b.handlers[address][service] = handler
}

// Unsubscribe removes the service's handler for the given wallet. No-op if
// nothing was subscribed.
func (b *Bus) Unsubscribe(address string, service types.ServiceID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.handlers[address]; ok {
		delete(subs, service)
		if len(subs) == 0 {
			delete(b.handlers, address)
		}
	}
}

// Addresses returns every wallet address with at least one subscriber. The
// transaction listener polls exactly this set.
func (b *Bus) Addresses() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.handlers))
	for address := range b.handlers {
		out = append(out, address)
	}
	return out
}

// Subscribed reports whether the service has a handler on the wallet.
func (b *Bus) Subscribed(address string, service types.ServiceID) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, ok := b.handlers[address][service]
	return ok
}

// Publish delivers the event to every handler subscribed to its wallet, each
// on its own goroutine. A panicking handler is recovered and logged; it never
// takes down the publisher or other subscribers.
func (b *Bus) Publish(ctx context.Context, event TransactionEvent) {
	b.mu.RLock()
	subs := b.handlers[event.WalletAddress]
	handlers := make([]Handler, 0, len(subs))
	services := make([]types.ServiceID, 0, len(subs))
	for svc, h := range subs {
		handlers = append(handlers, h)
		services = append(services, svc)
	}
	b.mu.RUnlock()

	for i, handler := range handlers {
		svc := services[i]
		h := handler
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logging.WithFields(map[string]interface{}{
						"service":   string(svc),
						"address":   event.WalletAddress,
						"signature": event.Signature,
						"panic":     r,
					}).Error("Event handler panicked")
				}
			}()
			h(ctx, event)
		}()
	}
}

// Wait blocks until all in-flight handler goroutines finish. Used during
// shutdown and in tests.
func (b *Bus) Wait() {
	b.wg.Wait()
}
