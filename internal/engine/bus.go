package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dockfra/dockfra/internal/core/domain"
)

// Subscriber receives every event it registered for. Callbacks run on the
// emitter's goroutine and must be fast; anything slow belongs behind a
// channel on the subscriber's side.
type Subscriber func(domain.Event)

// Bus is the write side of the engine: every state change goes through Emit,
// which persists the event and fans it out to subscribers. Reads go through
// the query methods, which hit the store directly.
type Bus struct {
	store  *Store
	logger *slog.Logger

	mu     sync.RWMutex
	byType map[string][]Subscriber
	global []Subscriber
}

// NewBus wraps store with subscriber fan-out.
func NewBus(store *Store, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		store:  store,
		logger: logger.With("component", "event_bus"),
		byType: make(map[string][]Subscriber),
	}
}

// Subscribe registers fn for one event type. Subscriptions are permanent;
// components subscribe at startup and live as long as the process.
func (b *Bus) Subscribe(eventType string, fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byType[eventType] = append(b.byType[eventType], fn)
}

// SubscribeAll registers fn for every event regardless of type.
func (b *Bus) SubscribeAll(fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.global = append(b.global, fn)
}

// Emit persists the event, then delivers it to the per-type subscribers and
// the global subscribers, in registration order. The returned event carries
// the assigned ID. Persistence failure does not stop delivery: subscribers
// see the event with ID 0 and the failure is logged by the store.
func (b *Bus) Emit(ctx context.Context, eventType string, data map[string]any, src string) domain.Event {
	if src == "" {
		src = domain.SrcSystem
	}

	id := b.store.Append(eventType, data, src)

	ev := domain.Event{
		ID:   id,
		TS:   domain.Now(),
		Src:  src,
		Type: eventType,
		Data: data,
	}

	if c := CollectorFrom(ctx); c != nil {
		c.add(ev)
	}

	b.mu.RLock()
	typed := b.byType[eventType]
	global := b.global
	b.mu.RUnlock()

	for _, fn := range typed {
		b.deliver(fn, ev)
	}
	for _, fn := range global {
		b.deliver(fn, ev)
	}
	return ev
}

// deliver invokes one subscriber, converting a panic into a log line so a
// bad subscriber cannot take the emitter down.
func (b *Bus) deliver(fn Subscriber, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked", "event", ev.Type, "id", ev.ID, "panic", r)
		}
	}()
	fn(ev)
}

// =============================================================================
// Query Side
// =============================================================================

// QueryEvents returns events after sinceID, optionally filtered.
func (b *Bus) QueryEvents(sinceID int64, limit int, eventType, src string) ([]domain.Event, error) {
	return b.store.GetSince(sinceID, limit, eventType, src)
}

// QueryMaxID returns the ID of the most recent event.
func (b *Bus) QueryMaxID() int64 {
	return b.store.GetMaxID()
}

// QueryLatestByType returns the newest events of one type, descending.
func (b *Bus) QueryLatestByType(eventType string, limit int) ([]domain.Event, error) {
	return b.store.LatestByType(eventType, limit)
}

// Replay feeds the stored events after sinceID to fn in ID order, paging
// through the store until it runs dry or ctx is cancelled.
func (b *Bus) Replay(ctx context.Context, sinceID int64, fn Subscriber) error {
	cursor := sinceID
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := b.store.GetSince(cursor, MaxQueryLimit, "", "")
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		for _, ev := range batch {
			fn(ev)
		}
		cursor = batch[len(batch)-1].ID
	}
}
