// Package events carries "message created" events from their producers to the
// delivery dispatcher.
package events

import (
	"context"
	"errors"
	"sync"

	"github.com/chatline/gateway/internal/domain"
	"github.com/chatline/gateway/internal/metrics"
)

var (
	// ErrBusFull is returned when the dispatcher is too far behind to accept more events.
	ErrBusFull = errors.New("event bus full")
	// ErrBusClosed is returned after Close.
	ErrBusClosed = errors.New("event bus closed")
)

// Publisher hands an event over for delivery.
type Publisher interface {
	Publish(ctx context.Context, evt domain.MessageEvent) error
}

// Bus is a bounded in-process queue of message events. Publish never blocks.
type Bus struct {
	ch      chan domain.MessageEvent
	metrics *metrics.Collectors

	mu     sync.RWMutex
	closed bool
}

// NewBus creates a bus holding up to buffer undelivered events.
func NewBus(buffer int, m *metrics.Collectors) *Bus {
	return &Bus{
		ch:      make(chan domain.MessageEvent, buffer),
		metrics: m,
	}
}

// Events is the stream the dispatcher consumes. It is closed by Close.
func (b *Bus) Events() <-chan domain.MessageEvent {
	return b.ch
}

// From returns a Publisher that labels its events with source in metrics.
func (b *Bus) From(source string) Publisher {
	return sourcePublisher{bus: b, source: source}
}

// Publish enqueues evt under the "local" source.
func (b *Bus) Publish(ctx context.Context, evt domain.MessageEvent) error {
	return b.publish(ctx, "local", evt)
}

func (b *Bus) publish(ctx context.Context, source string, evt domain.MessageEvent) error {
	if err := evt.Validate(); err != nil {
		b.count(source, metrics.EventInvalid)
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.count(source, metrics.EventDropped)
		return ErrBusClosed
	}
	select {
	case b.ch <- evt:
		b.count(source, metrics.EventAccepted)
		return nil
	default:
		b.count(source, metrics.EventDropped)
		return ErrBusFull
	}
}

// Close stops accepting events and closes the stream. Queued events are still
// readable from Events.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
}

func (b *Bus) count(source, outcome string) {
	if b.metrics != nil {
		b.metrics.Events.WithLabelValues(source, outcome).Inc()
	}
}

type sourcePublisher struct {
	bus    *Bus
	source string
}

func (p sourcePublisher) Publish(ctx context.Context, evt domain.MessageEvent) error {
	return p.bus.publish(ctx, p.source, evt)
}
