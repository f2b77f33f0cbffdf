// README: Websocket hub streaming ride status events to subscribed clients.
package notification

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ridedispatch/internal/modules/ride"
	"ridedispatch/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	subscriberSize = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type subscriber struct {
	ch chan StatusMessage
}

// Hub keeps the open subscriptions per ride. Slow subscribers miss events
// rather than block the publisher.
type Hub struct {
	mu   sync.RWMutex
	subs map[types.ID]map[*subscriber]struct{}
	log  *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		subs: make(map[types.ID]map[*subscriber]struct{}),
		log:  log.With("component", "ws_hub"),
	}
}

// Subscribe registers for events of rideID until cancel is called.
func (h *Hub) Subscribe(rideID types.ID) (<-chan StatusMessage, func()) {
	s := &subscriber{ch: make(chan StatusMessage, subscriberSize)}
	h.mu.Lock()
	if h.subs[rideID] == nil {
		h.subs[rideID] = make(map[*subscriber]struct{})
	}
	h.subs[rideID][s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[rideID], s)
			if len(h.subs[rideID]) == 0 {
				delete(h.subs, rideID)
			}
			h.mu.Unlock()
			close(s.ch)
		})
	}
}

func (h *Hub) Subscribers(rideID types.ID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[rideID])
}

func (h *Hub) RideTransition(_ context.Context, e ride.Event) error {
	msg := NewStatusMessage(e)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[e.RideID] {
		select {
		case s.ch <- msg:
		default:
			h.log.Warn("subscriber too slow, event dropped", "ride_id", e.RideID, "to", e.To)
		}
	}
	return nil
}

// ServeWS upgrades the request and streams rideID's events until the client
// goes away or the ride reaches a terminal state.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, rideID types.ID) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "ride_id", rideID, "error", err)
		return
	}
	defer conn.Close()

	events, cancel := h.Subscribe(rideID)
	defer cancel()

	// The reader only handles control frames and notices disconnects.
	gone := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("websocket write failed", "ride_id", rideID, "error", err)
				return
			}
			if ride.Status(msg.To).Terminal() {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "ride finished"),
					time.Now().Add(writeWait))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
