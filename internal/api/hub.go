package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/lampwatch/lampwatch/internal/logger"
	"github.com/lampwatch/lampwatch/internal/observability/metrics"
	"github.com/lampwatch/lampwatch/internal/pipeline"
)

const (
	clientBuffer = 16
	writeWait    = 5 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

// Hub fans pipeline results out to websocket clients. A client whose buffer
// is full misses messages rather than slowing down a detection request.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*wsClient
	closed  bool

	upgrader websocket.Upgrader
	metrics  *metrics.HTTPMetrics
	log      logger.Logger
	wg       sync.WaitGroup
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// NewHub returns an empty hub. m may be nil.
func NewHub(m *metrics.HTTPMetrics) *Hub {
	return &Hub{
		clients: make(map[string]*wsClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(nil),
		},
		metrics: m,
		log:     GetLogger().Module("hub"),
	}
}

// AllowOrigins sets the browser origins allowed to open the feed; "*"
// allows any. Call it before the server starts.
func (h *Hub) AllowOrigins(origins []string) {
	h.upgrader.CheckOrigin = checkOrigin(origins)
}

// checkOrigin admits requests without an Origin header (non-browser
// clients), same-host origins and the listed ones.
func checkOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(strings.TrimSuffix(a, "/"), origin) {
				return true
			}
		}
		return false
	}
}

// Broadcast implements pipeline.Deps.OnResult.
func (h *Hub) Broadcast(res *pipeline.Result) {
	if res == nil {
		return
	}
	msg, err := json.Marshal(res)
	if err != nil {
		h.log.Error("failed to encode result for event feed", logger.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.metrics.WSMessageDropped()
			h.log.Debug("event feed client is slow, message dropped", logger.String("client_id", c.id))
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams results until the client leaves.
func (h *Hub) ServeWS(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader already wrote an HTTP error response
		h.log.Warn("websocket upgrade failed", logger.Error(err))
		return nil
	}

	client := &wsClient{id: uuid.NewString(), conn: conn, send: make(chan []byte, clientBuffer)}
	if !h.register(client) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return nil
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.writePump(client)
	}()
	h.readPump(client)
	return nil
}

func (h *Hub) register(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	h.metrics.WSClientConnected(1)
	h.log.Info("event feed client connected",
		logger.String("client_id", c.id),
		logger.Int("clients", len(h.clients)))
	return true
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	if ok {
		delete(h.clients, c.id)
	}
	remaining := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	h.metrics.WSClientConnected(-1)
	c.once.Do(func() { close(c.send) })
	h.log.Info("event feed client disconnected",
		logger.String("client_id", c.id),
		logger.Int("clients", remaining))
}

// readPump discards client messages and detects disconnects.
func (h *Hub) readPump(c *wsClient) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("event feed read error", logger.String("client_id", c.id), logger.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
			h.metrics.WSMessageSent()
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every client and waits for their writers to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.unregister(c)
	}
	h.wg.Wait()
}
