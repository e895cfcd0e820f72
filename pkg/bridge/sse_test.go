package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/conceptmesh/mesh-go/pkg/metrics"
)

func TestSSEFeedEndToEnd(t *testing.T) {
	broker := NewSSEBroker()
	defer broker.Close()

	server := httptest.NewServer(http.HandlerFunc(broker.Subscribe))
	defer server.Close()

	received := make(chan Event, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := NewClient(server.URL)
	go func() {
		_ = client.Subscribe(ctx, func(evt Event) {
			received <- evt
		})
	}()

	// give the client a moment to connect before broadcasting
	deadline := time.After(2 * time.Second)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	alarm := DriftAlarm{Coherence: 0.2, Threshold: 0.6, WindowTS: time.Now().UTC()}
	for {
		select {
		case <-ticker.C:
			assert.NoError(t, broker.Broadcast(alarm))
		case evt := <-received:
			got, ok := evt.(DriftAlarm)
			assert.True(t, ok)
			assert.Equal(t, alarm.Coherence, got.Coherence)
			return
		case <-deadline:
			t.Fatal("timed out waiting for SSE delivery")
		}
	}
}

func TestSSEBrokerClosedRejectsSubscribers(t *testing.T) {
	broker := NewSSEBroker()
	broker.Close()

	server := httptest.NewServer(http.HandlerFunc(broker.Subscribe))
	defer server.Close()

	resp, err := http.Get(server.URL)
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusGone, resp.StatusCode)
}

func TestForwardDrainsSubscription(t *testing.T) {
	broker := NewSSEBroker()
	defer broker.Close()

	bridge := New(metrics.NewMeshMetrics(), time.Hour)
	sub := bridge.Subscribe()
	done := make(chan struct{})
	go func() {
		broker.Forward(sub)
		close(done)
	}()

	bridge.Publish(DriftAlarm{Coherence: 0.1})
	sub.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Forward did not return after subscription close")
	}
}
