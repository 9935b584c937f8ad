// Package broadcast fans out decision events to live dashboard
// subscribers. The subscriber set and publish pattern are grounded in
// the teacher's internal/events.EventBus: Publish holds the read lock
// for the whole fan-out and, on a full per-subscriber buffer, skips
// that event rather than blocking or tearing down the subscriber -
// Publish never closes a subscriber channel, so it can't race a
// concurrent send on it. The connection lifecycle and ping/pong
// keepalive are grounded in internal/fabric's HandleWebSocket /
// handleSpokeConnection.
package broadcast

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ocx/wafcore/internal/metrics"
	"github.com/ocx/wafcore/internal/wafmodel"
)

// subscriberBufferSize bounds each subscriber's send channel. While a
// subscriber's buffer is full, Publish skips events for it rather than
// blocking publishers for everyone else; the subscriber itself is not
// dropped and simply misses those events.
const subscriberBufferSize = 100

type subscriberConn struct {
	wafmodel.Subscriber
	send chan []byte
}

// Hub is the process-local multi-producer multi-consumer fan-out.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriberConn
	log         *slog.Logger
}

// NewHub builds an empty Hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		subscribers: make(map[string]*subscriberConn),
		log:         log.With("component", "broadcast"),
	}
}

// Subscribe registers a new subscriber and returns its id and send
// channel. The caller (the websocket handler) drains the channel and
// removes the subscriber via Unsubscribe on any send failure.
func (h *Hub) Subscribe(remoteAddr string) (string, <-chan []byte) {
	id := uuid.NewString()
	conn := &subscriberConn{
		Subscriber: wafmodel.Subscriber{
			Id:          id,
			ConnectedAt: time.Now(),
			RemoteAddr:  remoteAddr,
		},
		send: make(chan []byte, subscriberBufferSize),
	}

	h.mu.Lock()
	h.subscribers[id] = conn
	h.mu.Unlock()
	metrics.SubscriberCount.Inc()

	h.log.Info("subscriber connected", "id", id, "remote_addr", remoteAddr)
	return id, conn.send
}

// Unsubscribe removes a subscriber. Safe to call more than once.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	conn, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
	}
	h.mu.Unlock()
	if ok {
		metrics.SubscriberCount.Dec()
		close(conn.send)
		h.log.Info("subscriber disconnected", "id", id)
	}
}

// SubscriberCount reports the current number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Publish serializes event and sends it to every current subscriber.
// It holds the read lock for the whole fan-out - matching the
// teacher's EventBus.Publish - so a concurrent Unsubscribe can never
// close a subscriber's channel while Publish is sending to it. A full
// subscriber buffer just skips that event for that subscriber; it
// does not tear down the subscription.
func (h *Hub) Publish(event wafmodel.DecisionEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Warn("event marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conn := range h.subscribers {
		select {
		case conn.send <- payload:
		default:
			h.log.Warn("subscriber buffer full, dropping event", "id", conn.Id)
		}
	}
}
