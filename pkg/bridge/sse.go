package bridge

// A minimal Server-Sent Events (SSE) transport for bridge events. Each
// event crosses the wire as a single-line SSE message containing a
// versioned Envelope:
//   data: {"v":1,"type":"resync_snapshot","data":{...}}\n\n
// This is the one serialized protocol every cross-process consumer speaks.

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// SSEBroker maintains a list of connected HTTP clients and broadcasts
// envelope-encoded bridge events to them.
type SSEBroker struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
	closed  bool
}

func NewSSEBroker() *SSEBroker {
	return &SSEBroker{
		clients: make(map[chan []byte]struct{}),
	}
}

// Subscribe upgrades the HTTP connection to an SSE stream and blocks until
// the client disconnects. Use from an HTTP handler:
//
//	broker.Subscribe(w, r)
func (b *SSEBroker) Subscribe(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan []byte, 8)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		http.Error(w, "broker closed", http.StatusGone)
		return
	}
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	// heartbeat ticker to keep connection alive in the presence of proxies.
	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			b.remove(ch)
			return
		case msg := <-ch:
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(msg)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-ticker.C:
			// comment heartbeat
			_, _ = w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()
		}
	}
}

// Broadcast seals the event into an envelope and sends it to all connected
// clients.
func (b *SSEBroker) Broadcast(evt Event) error {
	env, err := Seal(evt)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(env)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}
	for ch := range b.clients {
		select {
		case ch <- msg:
		default:
			// slow client – drop message, the next resync covers it.
		}
	}
	return nil
}

// Forward drains a bridge subscription into the broker until the
// subscription closes. Run on its own goroutine.
func (b *SSEBroker) Forward(sub *Subscription) {
	for evt := range sub.Events() {
		_ = b.Broadcast(evt)
	}
}

// Close disconnects all clients and prevents further subscriptions.
func (b *SSEBroker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.clients {
		close(ch)
		delete(b.clients, ch)
	}
}

func (b *SSEBroker) remove(ch chan []byte) {
	b.mu.Lock()
	delete(b.clients, ch)
	close(ch)
	b.mu.Unlock()
}
