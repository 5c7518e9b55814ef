// Package messaging delivers ledger domain events to in-process subscribers.
package messaging

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/classpoints/classpoints-hub/internal/domain/shared"
)

var (
	// ErrEventBusClosed is returned by every call after Close.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrHandlerPanic wraps a recovered handler panic.
	ErrHandlerPanic = errors.New("handler panicked")

	errNilHandler = errors.New("handler cannot be nil")
	errNilEvent   = errors.New("event cannot be nil")
)

// anyEvent keys the handlers registered with SubscribeAll.
const anyEvent shared.EventType = "*"

// Observer receives bus activity. *metrics.Collector satisfies it.
type Observer interface {
	RecordPublish(eventType string)
	RecordHandlerExecution(eventType string, d time.Duration, success bool)
}

// InMemoryEventBusConfig configures NewInMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode runs handlers on at most WorkerPoolSize goroutines instead
	// of on the publisher's.
	AsyncMode      bool
	WorkerPoolSize int

	Logger   *slog.Logger
	Observer Observer
}

// DefaultInMemoryEventBusConfig returns the synchronous configuration used
// by the CLI, where the process exits right after the command.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{WorkerPoolSize: 4}
}

// InMemoryEventBus implements shared.EventBus. Type handlers run before
// SubscribeAll handlers, each group in registration order.
//
// Handler failures are logged and counted but never returned to the
// publisher: a committed ledger mutation is not undone because a
// projection failed.
type InMemoryEventBus struct {
	mu       sync.RWMutex
	handlers map[shared.EventType][]shared.EventHandler
	closed   bool

	async    bool
	slots    chan struct{}
	done     chan struct{}
	inFlight sync.WaitGroup

	logger   *slog.Logger
	observer Observer
}

// NewInMemoryEventBus creates a bus. A nil Logger means slog.Default.
func NewInMemoryEventBus(config InMemoryEventBusConfig) *InMemoryEventBus {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 4
	}
	return &InMemoryEventBus{
		handlers: make(map[shared.EventType][]shared.EventHandler),
		async:    config.AsyncMode,
		slots:    make(chan struct{}, config.WorkerPoolSize),
		done:     make(chan struct{}),
		logger:   config.Logger.With("component", "event_bus"),
		observer: config.Observer,
	}
}

// Subscribe registers handler for one event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.subscribe(eventType, handler)
}

// SubscribeAll registers handler for every event type.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.subscribe(anyEvent, handler)
}

func (b *InMemoryEventBus) subscribe(key shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return errNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	b.handlers[key] = append(b.handlers[key], handler)
	b.logger.Debug("subscribed handler", "event_type", key)
	return nil
}

// handlersFor copies the handlers of t. In async mode it also reserves
// their in-flight slots while the read lock still keeps Close out.
func (b *InMemoryEventBus) handlersFor(t shared.EventType) ([]shared.EventHandler, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrEventBusClosed
	}
	hs := append(append([]shared.EventHandler(nil), b.handlers[t]...), b.handlers[anyEvent]...)
	if b.async {
		b.inFlight.Add(len(hs))
	}
	return hs, nil
}

// Publish delivers event to its handlers. It fails only for a nil event
// or a closed bus.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}
	hs, err := b.handlersFor(event.EventType())
	if err != nil {
		return err
	}
	if b.observer != nil {
		b.observer.RecordPublish(string(event.EventType()))
	}
	if len(hs) == 0 {
		b.logger.Debug("no handlers for event", "event_type", event.EventType())
		return nil
	}

	for _, h := range hs {
		if b.async {
			go b.deliverAsync(event, h)
		} else {
			b.report(event, b.deliver(event, h))
		}
	}
	return nil
}

func (b *InMemoryEventBus) deliverAsync(event shared.Event, h shared.EventHandler) {
	defer b.inFlight.Done()

	select {
	case b.slots <- struct{}{}:
		defer func() { <-b.slots }()
	case <-b.done:
		b.logger.Warn("event dropped on close", "event_type", event.EventType())
		return
	}
	b.report(event, b.deliver(event, h))
}

// deliver runs one handler, converting a panic into ErrHandlerPanic.
func (b *InMemoryEventBus) deliver(event shared.Event, h shared.EventHandler) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
		if b.observer != nil {
			b.observer.RecordHandlerExecution(string(event.EventType()), time.Since(start), err == nil)
		}
	}()
	return h(event)
}

func (b *InMemoryEventBus) report(event shared.Event, err error) {
	if err == nil {
		return
	}
	b.logger.Error("event handler failed",
		"event_type", event.EventType(),
		"aggregate_id", event.AggregateID(),
		"async", b.async,
		"error", err,
	)
}

// Close stops accepting events and waits for in-flight handlers. Async
// handlers still waiting for a slot are dropped. Closing twice is a no-op.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	b.inFlight.Wait()
	b.logger.Info("event bus closed")
	return nil
}

// Drain waits for every async handler dispatched so far without closing
// the bus.
func (b *InMemoryEventBus) Drain() {
	b.inFlight.Wait()
}
