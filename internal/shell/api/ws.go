package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dockfra/dockfra/internal/core/domain"
	"github.com/dockfra/dockfra/internal/engine"
	"github.com/gorilla/websocket"
)

const (
	maxWSClients = 200

	wsWriteTimeout = 5 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingPeriod   = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	// The API binds to the operator's machine; the UI may be served from
	// a different port on it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsFrame is one inbound client message: an action token plus optional
// form values, same shape as POST /api/action.
type wsFrame struct {
	Value string            `json:"value"`
	Form  map[string]string `json:"form,omitempty"`
}

// =============================================================================
// Hub
// =============================================================================

// Hub manages WebSocket connections. Outbound, every bus event is pushed
// to every client; inbound, frames are dispatched as web-sourced actions.
type Hub struct {
	engine *engine.DiagnosticEngine
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]chan domain.Event
}

// NewHub subscribes to every event on the bus.
func NewHub(e *engine.DiagnosticEngine, l *slog.Logger) *Hub {
	if l == nil {
		l = slog.Default()
	}
	h := &Hub{
		engine:  e,
		logger:  l.With("component", "ws_hub"),
		clients: make(map[*websocket.Conn]chan domain.Event),
	}
	e.Bus().SubscribeAll(h.fanout)
	return h
}

// fanout pushes one event to every client queue without blocking the
// emitter. A client with a full queue is disconnected.
func (h *Hub) fanout(ev domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- ev:
		default:
			delete(h.clients, conn)
			close(ch)
			conn.Close()
			h.logger.Warn("dropping slow websocket client", "event_id", ev.ID)
		}
	}
}

func (h *Hub) register(conn *websocket.Conn) (chan domain.Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) >= maxWSClients {
		return nil, false
	}
	ch := make(chan domain.Event, clientBuffer)
	h.clients[conn] = ch
	return ch, true
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(ch)
	}
	h.mu.Unlock()
	conn.Close()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// =============================================================================
// Connection Handling
// =============================================================================

// ServeWS upgrades the request and runs the connection until the client
// goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	send, ok := h.register(conn)
	if !ok {
		h.logger.Warn("websocket connection rejected", "max", maxWSClients)
		conn.Close()
		return
	}
	defer h.unregister(conn)

	h.logger.Info("websocket client connected", "remote", r.RemoteAddr)

	done := make(chan struct{})
	go h.writePump(conn, send, done)

	// Read pump: dead-client detection plus inbound action frames.
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read failed", "error", err)
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		if frame.Value == "" {
			continue
		}
		// Results reach the client through the bus fan-out, so no
		// collector is attached here.
		h.engine.Dispatch(r.Context(), frame.Value, frame.Form, domain.SrcWeb)
	}

	close(done)
}

// writePump owns all writes on the connection: queued events and pings.
func (h *Hub) writePump(conn *websocket.Conn, send <-chan domain.Event, done <-chan struct{}) {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-send:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Warn("websocket write failed", "error", err)
				return
			}
		}
	}
}
