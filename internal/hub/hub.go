// Package hub implements the shared-producer broadcast hub (C7): a single
// producer runs while at least one subscriber is attached, and a slow
// subscriber that falls behind its queue is dropped with a Lagged error
// rather than stalling everyone else.
package hub

import (
	"errors"
	"sync"
)

// ErrLagged is delivered to a subscriber's channel (instead of a message)
// when it fell behind and was dropped.
var ErrLagged = errors.New("hub: subscriber lagged and was dropped")

// queueDepth bounds how many unread messages a subscriber may accumulate
// before it is considered lagged.
const queueDepth = 64

// Producer is started on the 0->1 subscriber transition and must keep
// publishing via publish until ctx-like stop is signaled by Hub calling
// it with a done channel closed on the last unsubscribe.
type Producer func(publish func([]byte), stop <-chan struct{})

// Hub multiplexes one Producer over any number of Subscriptions.
type Hub struct {
	mu       sync.Mutex
	producer Producer
	subs     map[*Subscription]struct{}
	stopCh   chan struct{}
}

// New creates a hub that runs producer while it has at least one
// subscriber.
func New(producer Producer) *Hub {
	return &Hub{producer: producer, subs: make(map[*Subscription]struct{})}
}

// Subscription delivers messages from the hub's producer until Close is
// called or the subscriber is dropped for lagging.
type Subscription struct {
	hub     *Hub
	ch      chan []byte
	errCh   chan error
	closed  bool
	mu      sync.Mutex
}

// Messages returns the channel of delivered payloads.
func (s *Subscription) Messages() <-chan []byte { return s.ch }

// Err returns a channel that receives ErrLagged if this subscriber is
// ever dropped for falling behind. It is closed (with no value) when the
// subscription is closed normally.
func (s *Subscription) Err() <-chan error { return s.errCh }

// Close detaches the subscription; if it was the last one, the producer
// is stopped.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.hub.unsubscribe(s)
}

// Subscribe attaches a new subscriber, starting the producer if this is
// the first one.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &Subscription{
		hub:   h,
		ch:    make(chan []byte, queueDepth),
		errCh: make(chan error, 1),
	}
	h.subs[sub] = struct{}{}

	if len(h.subs) == 1 {
		h.stopCh = make(chan struct{})
		go h.producer(h.publish, h.stopCh)
	}
	return sub
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	delete(h.subs, sub)
	last := len(h.subs) == 0
	stopCh := h.stopCh
	h.mu.Unlock()

	close(sub.errCh)

	if last && stopCh != nil {
		close(stopCh)
	}
}

// publish fans a message out to every live subscriber; a subscriber whose
// queue is full is dropped rather than blocking the producer.
func (h *Hub) publish(msg []byte) {
	h.mu.Lock()
	targets := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- msg:
		default:
			h.dropLagged(sub)
		}
	}
}

func (h *Hub) dropLagged(sub *Subscription) {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	sub.closed = true
	sub.mu.Unlock()

	select {
	case sub.errCh <- ErrLagged:
	default:
	}

	h.mu.Lock()
	delete(h.subs, sub)
	last := len(h.subs) == 0
	stopCh := h.stopCh
	h.mu.Unlock()

	if last && stopCh != nil {
		close(stopCh)
	}
}

// Publish fans msg out to current subscribers immediately. It is meant for
// hubs whose "producer" is a passive sink (see relayserver's admin-events
// hub): the real event source lives outside the Producer closure and calls
// Publish directly whenever something worth notifying subscribers happens.
// If no subscriber is attached, msg is silently dropped.
func (h *Hub) Publish(msg []byte) {
	h.publish(msg)
}

// SubscriberCount reports how many live subscriptions are attached.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
