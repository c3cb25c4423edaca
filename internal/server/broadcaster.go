// Package server exposes a running debate over HTTP: a WebSocket event
// stream for UIs, Prometheus metrics, and a health check.
package server

import (
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/debateflow/types"
)

const subscriberBuffer = 64

// Broadcaster fans one run's event stream out to any number of
// subscribers. A subscriber that stops draining loses events rather than
// stalling the run.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[chan types.Event]struct{}
	closed bool
	logger *zap.Logger
}

func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		subs:   make(map[chan types.Event]struct{}),
		logger: logger.With(zap.String("component", "broadcaster")),
	}
}

// Subscribe registers a new subscriber. The returned cancel function must
// be called when the subscriber goes away.
func (b *Broadcaster) Subscribe() (<-chan types.Event, func()) {
	ch := make(chan types.Event, subscriberBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Publish delivers an event to all subscribers without blocking.
func (b *Broadcaster) Publish(ev types.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("subscriber lagging, dropping event",
				zap.String("type", string(ev.Type)))
		}
	}
}

// Run pumps a run's event channel into the broadcaster until it closes.
func (b *Broadcaster) Run(events <-chan types.Event) {
	for ev := range events {
		b.Publish(ev)
	}
}

// Close terminates all subscriptions.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}
