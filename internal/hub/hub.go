package hub

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rayguard/sentinel-backbone/internal/models"
	"github.com/rayguard/sentinel-backbone/pkg/utils"
)

// Hub fans recorded events out to live subscribers. Publish never blocks:
// every subscriber owns a bounded queue, and when a queue is full the oldest
// queued message is dropped to admit the newest. All subscribers that keep
// up observe messages in the same order they were published.
type Hub struct {
	logger *logrus.Logger

	mu          sync.Mutex
	subscribers map[string]*Subscriber
	closed      bool

	queueSize int
	stats     HubStats
}

// Subscriber is one registered consumer of the event stream
type Subscriber struct {
	ID string
	ch chan models.StreamMessage
}

// Events returns the subscriber's receive channel. The channel is closed
// when the subscriber is unsubscribed or the hub shuts down.
func (s *Subscriber) Events() <-chan models.StreamMessage {
	return s.ch
}

// HubStats holds hub counters
type HubStats struct {
	Subscribers     int    `json:"subscribers"`
	Published       uint64 `json:"published"`
	Delivered       uint64 `json:"delivered"`
	Dropped         uint64 `json:"dropped"`
	PeakSubscribers int    `json:"peak_subscribers"`
}

// New creates a hub whose subscribers each buffer up to queueSize messages
func New(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Hub{
		logger:      utils.GetLogger(),
		subscribers: make(map[string]*Subscriber),
		queueSize:   queueSize,
	}
}

// Subscribe registers a new subscriber and returns it
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{
		ID: uuid.New().String(),
		ch: make(chan models.StreamMessage, h.queueSize),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub
	}
	h.subscribers[sub.ID] = sub
	if len(h.subscribers) > h.stats.PeakSubscribers {
		h.stats.PeakSubscribers = len(h.subscribers)
	}
	count := len(h.subscribers)
	h.mu.Unlock()

	h.logger.WithFields(logrus.Fields{
		"subscriber_id": sub.ID,
		"subscribers":   count,
	}).Debug("Subscriber registered")

	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call
// more than once.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
	}
	count := len(h.subscribers)
	h.mu.Unlock()

	if !ok {
		return
	}
	close(sub.ch)

	h.logger.WithFields(logrus.Fields{
		"subscriber_id": id,
		"subscribers":   count,
	}).Debug("Subscriber removed")
}

// Publish delivers msg to every current subscriber without blocking. For a
// subscriber whose queue is full, the oldest queued message is discarded so
// the newest one fits.
func (h *Hub) Publish(msg models.StreamMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.stats.Published++

	for _, sub := range h.subscribers {
		select {
		case sub.ch <- msg:
			h.stats.Delivered++
		default:
			// Queue full. Evict the oldest entry, then retry. A concurrent
			// receive may have already made room, in which case the eviction
			// read is itself the newest delivery path.
			select {
			case <-sub.ch:
				h.stats.Dropped++
			default:
			}
			select {
			case sub.ch <- msg:
				h.stats.Delivered++
			default:
				h.stats.Dropped++
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// GetStats returns hub counters
func (h *Hub) GetStats() HubStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	stats := h.stats
	stats.Subscribers = len(h.subscribers)
	return stats
}

// Close unsubscribes everyone and rejects further publishes
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subscribers {
		delete(h.subscribers, id)
		close(sub.ch)
	}
	h.logger.Info("Broadcast hub closed")
}
