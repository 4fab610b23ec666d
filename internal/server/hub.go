package server

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/cellsync/internal/monitor"
	"github.com/danmuck/cellsync/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	clientBuffer = 64
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 25 * time.Second
)

type hubClient struct {
	conn *websocket.Conn
	send chan monitor.Event
	done chan struct{}
	once sync.Once
}

func (c *hubClient) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Hub fans monitor events out to websocket subscribers.
// Publish never blocks; a subscriber that falls behind loses events.
type Hub struct {
	logger   zerolog.Logger
	mu       sync.Mutex
	clients  map[*hubClient]struct{}
	dropped  atomic.Uint64
	origins  atomic.Pointer[[]string]
	upgrader websocket.Upgrader
}

func NewHub(logger zerolog.Logger) *Hub {
	h := &Hub{
		logger:  observability.Component(logger, "events"),
		clients: make(map[*hubClient]struct{}),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	h.SetAllowedOrigins(nil)
	return h
}

// SetAllowedOrigins replaces the browser origins allowed to subscribe.
// Requests without an Origin header and same-host origins are always allowed.
func (h *Hub) SetAllowedOrigins(origins []string) {
	list := normalizeOrigins(origins)
	h.origins.Store(&list)
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, allowed := range *h.origins.Load() {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Publish has the monitor.EventSink signature.
func (h *Hub) Publish(ev monitor.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*hubClient]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.close()
	}
}

func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("origin", c.GetHeader("Origin")).Msg("server.Hub.ServeWS upgrade failed")
		return
	}
	client := &hubClient{
		conn: conn,
		send: make(chan monitor.Event, clientBuffer),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("server.Hub.ServeWS subscribed")

	go h.writeLoop(client)
	h.readLoop(client)
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// readLoop only watches for the subscriber going away.
func (h *Hub) readLoop(c *hubClient) {
	defer h.remove(c)
	c.conn.SetReadLimit(1 << 10)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *hubClient) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer h.remove(c)
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
