package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/eyesoff/internal/alert"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 8
)

// ErrNoClients is returned when an overlay is requested but no page is
// connected to draw it.
var ErrNoClients = errors.New("no overlay clients connected")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// overlayMessage is sent to connected pages.
type overlayMessage struct {
	Type    string                `json:"type"`
	ID      string                `json:"id"`
	Overlay *alert.OverlayRequest `json:"overlay,omitempty"`
}

// clientMessage is read from connected pages.
type clientMessage struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// OverlayHub is an overlay surface drawn by browser pages connected over
// WebSocket. A page that sends {"type":"dismiss"} dismisses the alert; a
// dismiss naming an overlay that has since been replaced or hidden is ignored.
type OverlayHub struct {
	logger    *slog.Logger
	onDismiss func()

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	// current is replayed to pages that connect while an overlay is up.
	current *overlayMessage
}

// NewOverlayHub creates a hub. onDismiss runs when a page asks to dismiss
// the alert; it may be nil.
func NewOverlayHub(onDismiss func(), logger *slog.Logger) *OverlayHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &OverlayHub{
		logger:    logger,
		onDismiss: onDismiss,
		clients:   make(map[*wsClient]struct{}),
	}
}

// Name implements present.OverlaySurface.
func (h *OverlayHub) Name() string { return "websocket" }

// ShowOverlay broadcasts the overlay to every connected page.
func (h *OverlayHub) ShowOverlay(id string, req alert.OverlayRequest) error {
	msg := &overlayMessage{Type: "show", ID: id, Overlay: &req}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return ErrNoClients
	}
	h.current = msg
	h.broadcastLocked(msg)
	return nil
}

// HideOverlay tells every page to remove the overlay.
func (h *OverlayHub) HideOverlay(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current != nil && h.current.ID == id {
		h.current = nil
	}
	h.broadcastLocked(&overlayMessage{Type: "hide", ID: id})
	return nil
}

// Clients returns the number of connected pages.
func (h *OverlayHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *OverlayHub) broadcastLocked(msg *overlayMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("overlay client too slow, dropping message", "type", msg.Type)
		}
	}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *OverlayHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.current != nil {
		if data, err := json.Marshal(h.current); err == nil {
			c.send <- data
		}
	}
	h.mu.Unlock()
	h.logger.Debug("overlay client connected", "remote", r.RemoteAddr)

	done := make(chan struct{})
	go h.writePump(c, done)
	h.readPump(c)

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	close(done)
	conn.Close()
	h.logger.Debug("overlay client disconnected", "remote", r.RemoteAddr)
}

func (h *OverlayHub) readPump(c *wsClient) {
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				continue
			}
			return
		}
		if msg.Type == "dismiss" && h.onDismiss != nil && h.isCurrent(msg.ID) {
			h.onDismiss()
		}
	}
}

// isCurrent reports whether a dismiss for id targets the overlay on screen.
// An empty id means whatever is showing.
func (h *OverlayHub) isCurrent(id string) bool {
	if id == "" {
		return true
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current != nil && h.current.ID == id
}

// writePump is the only writer on c.conn.
func (h *OverlayHub) writePump(c *wsClient, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.conn.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}
