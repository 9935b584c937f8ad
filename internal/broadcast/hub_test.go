package broadcast

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/wafcore/internal/wafmodel"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSubscribe_ReceivesPublishedEvent(t *testing.T) {
	h := NewHub(discardLogger())
	_, ch := h.Subscribe("127.0.0.1:1234")

	h.Publish(wafmodel.DecisionEvent{Type: "new_request"})

	select {
	case msg := <-ch:
		assert.Contains(t, string(msg), "new_request")
	case <-time.After(time.Second):
		t.Fatal("did not receive published event")
	}
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	h := NewHub(discardLogger())
	id, ch := h.Subscribe("127.0.0.1:1234")
	h.Unsubscribe(id)

	assert.Equal(t, 0, h.SubscriberCount())
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestPublish_SkipsSlowConsumerWithoutBlockingOrUnsubscribing(t *testing.T) {
	h := NewHub(discardLogger())
	id, _ := h.Subscribe("127.0.0.1:1234")

	for i := 0; i < subscriberBufferSize+10; i++ {
		h.Publish(wafmodel.DecisionEvent{Type: "new_request"})
	}

	h.mu.RLock()
	_, stillPresent := h.subscribers[id]
	h.mu.RUnlock()
	assert.True(t, stillPresent, "a full buffer should skip the event, not drop the subscriber")
	assert.Equal(t, 1, h.SubscriberCount())

	h.Unsubscribe(id)
}

func TestPublish_DoesNotAffectOtherSubscribers(t *testing.T) {
	h := NewHub(discardLogger())
	slowID, slowCh := h.Subscribe("slow:1")
	fastID, fastCh := h.Subscribe("fast:1")
	_ = slowCh

	received := 0
	done := make(chan struct{})
	go func() {
		for range fastCh {
			received++
		}
		close(done)
	}()

	// Fill the slow subscriber's buffer without draining it; the fast
	// subscriber drains concurrently and must keep receiving every event.
	const total = subscriberBufferSize + 5
	for i := 0; i < total; i++ {
		h.Publish(wafmodel.DecisionEvent{Type: "new_request"})
	}

	h.mu.RLock()
	_, slowPresent := h.subscribers[slowID]
	h.mu.RUnlock()
	assert.True(t, slowPresent, "a full buffer should skip the event, not drop the subscriber")
	assert.Equal(t, 2, h.SubscriberCount())

	h.Unsubscribe(fastID)
	<-done
	assert.Equal(t, total, received)

	h.Unsubscribe(slowID)
}

func TestPublish_ConcurrentWithUnsubscribeDoesNotPanic(t *testing.T) {
	h := NewHub(discardLogger())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		id, ch := h.Subscribe("concurrent")
		wg.Add(1)
		go func(id string, ch <-chan []byte) {
			defer wg.Done()
			for range ch {
			}
		}(id, ch)
	}

	stop := make(chan struct{})
	wg.Add(2)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				h.Publish(wafmodel.DecisionEvent{Type: "new_request"})
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			id, ch := h.Subscribe("churn")
			h.Unsubscribe(id)
			_, ok := <-ch
			assert.False(t, ok)
		}
	}()

	time.Sleep(50 * time.Millisecond)
	close(stop)

	h.mu.RLock()
	ids := make([]string, 0, len(h.subscribers))
	for id := range h.subscribers {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	for _, id := range ids {
		h.Unsubscribe(id)
	}

	wg.Wait()
}

func TestSubscribe_AssignsUniqueIDs(t *testing.T) {
	h := NewHub(discardLogger())
	id1, _ := h.Subscribe("a")
	id2, _ := h.Subscribe("b")
	require.NotEqual(t, id1, id2)
	assert.Equal(t, 2, h.SubscriberCount())
}
