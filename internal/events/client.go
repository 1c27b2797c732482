package events

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	defaultPongWait = 60 * time.Second

	defaultBufferSize = 1024

	// Maximum message size allowed from peer. Subscribers only listen.
	maxMessageSize = 512
)

// Settings tunes the event feed transport. Zero values fall back to
// the defaults.
type Settings struct {
	ReadBufferSize  int
	WriteBufferSize int
	PingPeriod      time.Duration
	PongWait        time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.ReadBufferSize <= 0 {
		s.ReadBufferSize = defaultBufferSize
	}
	if s.WriteBufferSize <= 0 {
		s.WriteBufferSize = defaultBufferSize
	}
	if s.PongWait <= 0 {
		s.PongWait = defaultPongWait
	}
	if s.PingPeriod <= 0 || s.PingPeriod >= s.PongWait {
		// Pings must land inside the pong window.
		s.PingPeriod = (s.PongWait * 9) / 10
	}
	return s
}

// Client is the middleman between one websocket connection and the hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	id          string
	remoteAddr  string
	connectedAt time.Time
	pingPeriod  time.Duration
	pongWait    time.Duration

	logger *slog.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, settings Settings, logger *slog.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, 32),
		id:          id,
		remoteAddr:  conn.RemoteAddr().String(),
		connectedAt: time.Now(),
		pingPeriod:  settings.PingPeriod,
		pongWait:    settings.PongWait,
		logger: logger.With(
			slog.String("component", "events.client"),
			slog.String("client_id", id)),
	}
}

// ReadPump drains inbound frames so control messages are processed.
// Subscriber payloads are ignored; any traffic refreshes the read
// deadline alongside the pong handler.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Debug("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	}
}

// WritePump pushes hub frames to the peer and keeps the connection
// alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("write failed", slog.String("error", err.Error()))
				return
			}

			// Flush anything already queued as separate frames.
			n := len(c.send)
			for i := 0; i < n; i++ {
				msg, ok := <-c.send
				if !ok {
					c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS returns the handler that upgrades event-feed requests and
// attaches the resulting connection to the hub.
func ServeWS(hub *Hub, settings Settings, allowedOrigins []string, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	settings = settings.withDefaults()

	upgrader := websocket.Upgrader{
		ReadBufferSize:  settings.ReadBufferSize,
		WriteBufferSize: settings.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r.Header.Get("Origin"), allowedOrigins)
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error response.
			logger.Warn("websocket upgrade failed",
				slog.String("error", err.Error()),
				slog.String("remote_addr", r.RemoteAddr))
			return
		}

		client := newClient(hub, conn, settings, logger)
		hub.Register(client)

		go client.WritePump()
		go client.ReadPump()
	}
}

// originAllowed accepts same-origin requests (no Origin header) and
// any origin on the configured list. "*" allows everything.
func originAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}
