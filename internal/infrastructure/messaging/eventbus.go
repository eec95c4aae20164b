// Package messaging implements the event bus that carries reward events to
// notification subscribers and inbound activity events to the intake. The
// core publishes; delivery is the subscribers' problem.
package messaging

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/brightmind-edu/gamification/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// ErrEventBusClosed is returned when operations are attempted on a closed bus.
var ErrEventBusClosed = errors.New("event bus is closed")

// InMemoryEventBus dispatches events to subscribed handlers through a bounded
// worker pool. A slow or failing handler never blocks or fails the publisher;
// handler errors are logged and dropped.
type InMemoryEventBus struct {
	mu         sync.RWMutex
	handlers   map[shared.EventType][]shared.EventHandler
	workerPool chan struct{}
	logger     *slog.Logger
	closed     bool
	closeCh    chan struct{}
	wg         sync.WaitGroup
}

// InMemoryEventBusConfig contains configuration for InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// WorkerPoolSize is the number of concurrent handler executions.
	WorkerPoolSize int

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultInMemoryEventBusConfig returns sensible defaults.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{WorkerPoolSize: 10}
}

// NewInMemoryEventBus creates a new in-memory event bus.
func NewInMemoryEventBus(config InMemoryEventBusConfig) *InMemoryEventBus {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 10
	}

	return &InMemoryEventBus{
		handlers:   make(map[shared.EventType][]shared.EventHandler),
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		logger:     config.Logger,
		closeCh:    make(chan struct{}),
	}
}

var _ shared.EventBus = (*InMemoryEventBus)(nil)

// Subscribe registers a handler for a specific event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrEventBusClosed
	}

	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.logger.Debug("subscribed handler", "event_type", eventType)
	return nil
}

// Publish hands the event to every subscribed handler asynchronously.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	handlers := make([]shared.EventHandler, len(b.handlers[event.EventType()]))
	copy(handlers, b.handlers[event.EventType()])
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.Debug("no handlers for event", "event_type", event.EventType())
		return nil
	}

	for _, handler := range handlers {
		b.executeAsync(event, handler)
	}
	return nil
}

func (b *InMemoryEventBus) executeAsync(event shared.Event, handler shared.EventHandler) {
	b.wg.Add(1)

	go func() {
		defer b.wg.Done()

		select {
		case b.workerPool <- struct{}{}:
			defer func() { <-b.workerPool }()
		case <-b.closeCh:
			return
		}

		start := time.Now()
		if err := handler(event); err != nil {
			b.logger.Error("handler error",
				"event_type", event.EventType(),
				"aggregate_id", event.AggregateID(),
				"duration", time.Since(start),
				"error", err,
			)
		}
	}()
}

// Close shuts the bus down after the pending handlers finish.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.closeCh)
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info("event bus closed")
	return nil
}
