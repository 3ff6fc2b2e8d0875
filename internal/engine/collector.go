package engine

import (
	"context"
	"sync"

	"github.com/dockfra/dockfra/internal/core/domain"
)

// Collector accumulates the events emitted while one request is being
// handled so the HTTP response can return them inline. It rides on the
// request context; workers and background sweeps run without one and their
// events reach clients over the stream instead.
type Collector struct {
	mu     sync.Mutex
	events []domain.Event
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) add(ev domain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

// Drain returns the collected events and resets the collector.
func (c *Collector) Drain() []domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.events
	c.events = nil
	return out
}

type collectorKey struct{}

// WithCollector attaches a collector to ctx. Every event emitted under that
// context is appended to it in addition to the normal fan-out.
func WithCollector(ctx context.Context, c *Collector) context.Context {
	return context.WithValue(ctx, collectorKey{}, c)
}

// CollectorFrom extracts the collector from ctx, or nil.
func CollectorFrom(ctx context.Context) *Collector {
	c, _ := ctx.Value(collectorKey{}).(*Collector)
	return c
}
