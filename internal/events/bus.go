// ABOUTME: In-memory publish/subscribe hub for authentication events
// ABOUTME: Ordered synchronous handlers plus buffered channel subscriptions

package events

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each channel subscriber.
	subscriberBufferSize = 64
)

// EventType classifies auth events.
type EventType string

const (
	LoginSuccess       EventType = "auth.login_success"
	LoginFailed        EventType = "auth.login_failed"
	Logout             EventType = "auth.logout"
	TokenRefreshed     EventType = "auth.token_refreshed"
	TokenExpired       EventType = "auth.token_expired"
	AuthError          EventType = "auth.error"
	StateChanged       EventType = "auth.state_changed"
	PermissionsChanged EventType = "permission.changed"
)

// Event is a single notification.
type Event struct {
	Type      EventType
	Summary   string
	Detail    any
	Timestamp time.Time
}

// Handler receives events synchronously.
type Handler func(Event)

type handlerSub struct {
	id      string
	types   []EventType
	handler Handler
}

type chanSub struct {
	types []EventType
	ch    chan Event
}

// Bus is the auth event hub. The zero value is not usable; call NewBus.
type Bus struct {
	mu       sync.RWMutex
	handlers []handlerSub // registration order
	chans    map[string]chanSub
	closed   bool
	logger   *slog.Logger
}

// NewBus creates a bus. Pass nil logger for default.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		chans:  make(map[string]chanSub),
		logger: logger.With("component", "events"),
	}
}

// Subscribe registers handler for the given event types (all types when none
// are given) and returns a subscription ID for Unsubscribe.
func (b *Bus) Subscribe(handler Handler, types ...EventType) string {
	id := uuid.New().String()

	b.mu.Lock()
	b.handlers = append(b.handlers, handlerSub{id: id, types: slices.Clone(types), handler: handler})
	b.mu.Unlock()

	b.logger.Debug("handler subscribed", "sub_id", id, "types", types)
	return id
}

// SubscribeChan registers a buffered channel subscriber. The channel is closed
// when ctx is cancelled, on Unsubscribe, or when the bus closes.
func (b *Bus) SubscribeChan(ctx context.Context, types ...EventType) (<-chan Event, string) {
	id := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, id
	}
	b.chans[id] = chanSub{types: slices.Clone(types), ch: ch}
	b.mu.Unlock()

	b.logger.Debug("channel subscribed", "sub_id", id, "types", types)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(id)
	}()

	return ch, id
}

// Publish delivers an event. Handlers run in registration order on the
// caller's goroutine; a panicking handler is logged and skipped.
func (b *Bus) Publish(eventType EventType, summary string, detail any) {
	evt := Event{
		Type:      eventType,
		Summary:   summary,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	// Copy targets under read lock so handlers may (un)subscribe re-entrantly
	handlers := make([]handlerSub, 0, len(b.handlers))
	for _, h := range b.handlers {
		if matches(h.types, eventType) {
			handlers = append(handlers, h)
		}
	}
	for id, c := range b.chans {
		if !matches(c.types, eventType) {
			continue
		}
		select {
		case c.ch <- evt:
		default:
			b.logger.Debug("dropped event for slow subscriber", "sub_id", id, "type", eventType)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(h, evt)
	}
}

func (b *Bus) dispatch(h handlerSub, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "sub_id", h.id, "type", evt.Type, "panic", fmt.Sprint(r))
		}
	}()
	h.handler(evt)
}

// Unsubscribe removes a handler or channel subscription. Unknown IDs are ignored.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.chans[id]; ok {
		delete(b.chans, id)
		close(c.ch)
		b.logger.Debug("channel unsubscribed", "sub_id", id)
		return
	}

	for i, h := range b.handlers {
		if h.id == id {
			b.handlers = slices.Delete(b.handlers, i, i+1)
			b.logger.Debug("handler unsubscribed", "sub_id", id)
			return
		}
	}
}

// SubscriberCount returns the number of active subscriptions of both kinds.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers) + len(b.chans)
}

// Close drops all subscriptions and closes subscriber channels. Publishing
// after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, c := range b.chans {
		close(c.ch)
		delete(b.chans, id)
	}
	b.handlers = nil

	b.logger.Debug("bus closed")
}

func matches(types []EventType, t EventType) bool {
	return len(types) == 0 || slices.Contains(types, t)
}
