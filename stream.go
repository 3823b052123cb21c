package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	streamBuffer       = 32
	streamWriteTimeout = 5 * time.Second
)

// StreamEvent is what subscribers receive on /api/stream.
type StreamEvent struct {
	Event string    `json:"event"`
	Data  any       `json:"data"`
	At    time.Time `json:"at"`
}

// StreamHub fans trade events out to websocket subscribers. Slow
// subscribers lose events instead of blocking the publisher.
type StreamHub struct {
	log zerolog.Logger

	mu   sync.RWMutex
	subs map[chan StreamEvent]struct{}
}

func NewStreamHub(log zerolog.Logger) *StreamHub {
	return &StreamHub{
		log:  log.With().Str("component", "stream").Logger(),
		subs: make(map[chan StreamEvent]struct{}),
	}
}

func (h *StreamHub) Publish(event string, payload any) {
	ev := StreamEvent{Event: event, Data: payload, At: time.Now()}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.log.Warn().Str("event", event).Msg("Subscriber buffer full, dropping event")
		}
	}
}

func (h *StreamHub) subscribe() chan StreamEvent {
	ch := make(chan StreamEvent, streamBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *StreamHub) unsubscribe(ch chan StreamEvent) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// Subscribers returns the number of connected clients.
func (h *StreamHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// ServeWS upgrades the request and streams events until the client leaves.
func (h *StreamHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	// the server's read/write timeouts would otherwise cut the socket
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ch := h.subscribe()
	defer h.unsubscribe(ch)
	h.log.Info().Str("remote", r.RemoteAddr).Msg("Client connected to trade stream")

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			h.log.Info().Str("remote", r.RemoteAddr).Msg("Client disconnected from trade stream")
			return
		case ev := <-ch:
			wctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				h.log.Debug().Err(err).Msg("Stream write failed")
				return
			}
		}
	}
}
