package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/domainscribe/internal/recording"
)

const (
	defaultSubscriberBuffer = 64
	writeTimeout            = 5 * time.Second
)

// Message is the websocket frame sent for every manager event.
type Message struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

type subscriber struct {
	ch chan []byte
}

// Hub fans manager events out to websocket subscribers. A subscriber whose
// buffer is full is disconnected; Emit never blocks.
type Hub struct {
	buffer int

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

var _ recording.EventSink = (*Hub)(nil)

// NewHub returns a Hub whose subscribers may lag behind by at most buffer
// messages. Non-positive values use 64.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{buffer: buffer, subs: make(map[*subscriber]struct{})}
}

// Emit implements [recording.EventSink].
func (h *Hub) Emit(event string, payload any) {
	data, err := json.Marshal(Message{Event: event, Payload: payload})
	if err != nil {
		slog.Warn("server: cannot encode event", "event", event, "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.ch <- data:
		default:
			slog.Warn("server: dropping slow event subscriber", "event", event)
			delete(h.subs, s)
			close(s.ch)
		}
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for s := range h.subs {
		delete(h.subs, s)
		close(s.ch)
	}
}

func (h *Hub) subscribe() (*subscriber, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	s := &subscriber{ch: make(chan []byte, h.buffer)}
	h.subs[s] = struct{}{}
	return s, true
}

func (h *Hub) unsubscribe(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.ch)
	}
}

// ServeHTTP upgrades the request to a websocket and streams events until
// the client disconnects or falls behind.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("server: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	sub, ok := h.subscribe()
	if !ok {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.unsubscribe(sub)

	// Clients never send; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-sub.ch:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "subscriber too slow or server closing")
				return
			}
			if err := write(ctx, conn, data); err != nil {
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
