package realtime

import "sync"

// subscriptionBuffer bounds the batches queued per subscriber. A subscriber
// that falls this far behind loses batches rather than stalling publishers;
// its version guard absorbs the gap on the next event.
const subscriptionBuffer = 16

// Hub routes event batches to channel subscribers. Subscribing and
// unsubscribing are cheap map operations with no side effects on other
// subscribers.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*Subscription]struct{}
}

// NewHub builds an empty hub.
func NewHub() *Hub {
	return &Hub{channels: make(map[string]map[*Subscription]struct{})}
}

// Subscription receives the batches published on one channel.
type Subscription struct {
	hub     *Hub
	channel string
	events  chan []Event
	once    sync.Once
}

// Subscribe registers a new subscription on a channel.
func (h *Hub) Subscribe(channel string) *Subscription {
	sub := &Subscription{
		hub:     h,
		channel: channel,
		events:  make(chan []Event, subscriptionBuffer),
	}
	h.mu.Lock()
	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.channels[channel] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Channel reports the channel the subscription listens on.
func (s *Subscription) Channel() string {
	return s.channel
}

// Events is the stream of batches routed to this subscription. It closes
// after Unsubscribe.
func (s *Subscription) Events() <-chan []Event {
	return s.events
}

// Unsubscribe detaches the subscription and closes its stream. Idempotent
// and free of side effects on the channel's other subscribers.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		if subs, ok := s.hub.channels[s.channel]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(s.hub.channels, s.channel)
			}
		}
		// No publisher can hold the read lock here, so closing is safe.
		close(s.events)
		s.hub.mu.Unlock()
	})
}

// Publish routes each event in the batch to its factory, doc, and list
// channels. Subscribers sharing a channel receive the channel's sub-batch in
// event order. Full subscriber buffers drop the batch.
func (h *Hub) Publish(events []Event) {
	if len(events) == 0 {
		return
	}
	perChannel := make(map[string][]Event)
	for _, event := range events {
		for _, channel := range event.Channels() {
			perChannel[channel] = append(perChannel[channel], event)
		}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for channel, batch := range perChannel {
		for sub := range h.channels[channel] {
			select {
			case sub.events <- batch:
			default:
			}
		}
	}
}

// SubscriberCount reports the live subscriptions on a channel.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}
