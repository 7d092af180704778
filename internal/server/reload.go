package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/conneroisu/sugar/internal/logging"
	"github.com/conneroisu/sugar/internal/view"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ReloadPath is where browsers connect for live reload.
const ReloadPath = "/__sugar/reload"

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

const reloadScript = `<script>(function(){` +
	`var ws=new WebSocket((location.protocol==="https:"?"wss://":"ws://")+location.host+"` + ReloadPath + `");` +
	`ws.onmessage=function(e){var m=JSON.parse(e.data);if(m.type==="reload"){location.reload();}};` +
	`})();</script>`

// UpdateMessage is sent to connected browsers.
type UpdateMessage struct {
	Type      string    `json:"type"`
	Paths     []string  `json:"paths,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Client is one connected browser.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *ReloadHub
}

// ReloadHub fans reload notifications out to connected browsers.
type ReloadHub struct {
	logger         logging.Logger
	originPatterns []string

	clients      map[*Client]bool
	clientsMutex sync.RWMutex
	broadcast    chan []byte
	register     chan *Client
	unregister   chan *Client
	done         chan struct{}
	runOnce      sync.Once
}

// NewReloadHub creates a hub accepting websocket origins whose host matches
// one of allowedOrigins. Same-host origins are always accepted.
func NewReloadHub(allowedOrigins []string, logger logging.Logger) *ReloadHub {
	if logger == nil {
		logger = logging.Nop()
	}
	patterns := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		}
	}
	return &ReloadHub{
		logger:         logger.WithComponent("reload"),
		originPatterns: patterns,
		clients:        make(map[*Client]bool),
		broadcast:      make(chan []byte, 16),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		done:           make(chan struct{}),
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every connection.
func (h *ReloadHub) Run(ctx context.Context) {
	h.runOnce.Do(func() {
		defer close(h.done)
		for {
			select {
			case <-ctx.Done():
				h.closeAll()
				return
			case client := <-h.register:
				h.clientsMutex.Lock()
				h.clients[client] = true
				count := len(h.clients)
				h.clientsMutex.Unlock()
				h.logger.Debug(ctx, "Client connected", "clients", count)
			case client := <-h.unregister:
				h.remove(client)
				h.logger.Debug(ctx, "Client disconnected", "clients", h.Clients())
			case message := <-h.broadcast:
				h.clientsMutex.RLock()
				var failed []*Client
				for client := range h.clients {
					select {
					case client.send <- message:
					default:
						failed = append(failed, client)
					}
				}
				h.clientsMutex.RUnlock()
				for _, client := range failed {
					h.remove(client)
				}
			}
		}
	})
}

func (h *ReloadHub) remove(client *Client) {
	h.clientsMutex.Lock()
	defer h.clientsMutex.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

func (h *ReloadHub) closeAll() {
	h.clientsMutex.Lock()
	defer h.clientsMutex.Unlock()
	for client := range h.clients {
		close(client.send)
		client.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
	h.clients = make(map[*Client]bool)
}

// Clients returns the number of connected browsers.
func (h *ReloadHub) Clients() int {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	return len(h.clients)
}

// Broadcast queues msg for every connected browser. It never blocks; when
// the queue is full the message is dropped.
func (h *ReloadHub) Broadcast(msg UpdateMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		data = []byte(`{"type":"reload"}`)
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn(context.Background(), nil, "Reload queue full, dropping message", "type", msg.Type)
	}
}

// ServeHTTP upgrades the request to a websocket and registers the client.
func (h *ReloadHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "WebSocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxMessageSize)

	client := &Client{conn: conn, send: make(chan []byte, 16), hub: h}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	go client.writePump()
	client.readPump()
}

// readPump discards incoming messages until the connection closes.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		if _, _, err := c.conn.Read(context.Background()); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				c.hub.logger.Debug(context.Background(), "WebSocket closed", "error", err.Error())
			}
			return
		}
	}
}

// writePump sends queued messages and keeps the connection alive.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				return
			}
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// InjectReload adds the live reload script to rendered HTML bodies.
func InjectReload(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if res, ok := view.ResponseOf(w); ok && res.BodySet() &&
			strings.HasPrefix(w.Header().Get("Content-Type"), "text/html") {
			res.SetBody(injectScript(res.Body(), []byte(reloadScript)))
		}
		next.ServeHTTP(w, r)
	})
}

// injectScript inserts script before the last </body> tag, or appends it
// when the document has none.
func injectScript(doc, script []byte) []byte {
	offset := 0
	insertAt := -1

	z := html.NewTokenizer(bytes.NewReader(doc))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		raw := len(z.Raw())
		if tt == html.EndTagToken {
			name, _ := z.TagName()
			if atom.Lookup(name) == atom.Body {
				insertAt = offset
			}
		}
		offset += raw
	}

	if insertAt < 0 {
		out := make([]byte, 0, len(doc)+len(script))
		return append(append(out, doc...), script...)
	}

	out := make([]byte, 0, len(doc)+len(script))
	out = append(out, doc[:insertAt]...)
	out = append(out, script...)
	return append(out, doc[insertAt:]...)
}
