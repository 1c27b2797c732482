package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"brvlicense/internal/infrastructure"
	"brvlicense/pkg/contracts/domain"
)

// Message type constants for the event feed.
const (
	TypeConnected         = "connected"
	TypeLicenseTransition = "license_transition"
)

// Message is the envelope every event-feed frame uses.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub maintains the set of connected event subscribers and broadcasts
// license transitions to them. It implements license.Notifier.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	running bool

	quit     chan struct{}
	stopOnce sync.Once

	metrics *infrastructure.LicenseMetrics
	logger  *slog.Logger
}

// NewHub creates a hub. Metrics may be nil.
func NewHub(metrics *infrastructure.LicenseMetrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		metrics:    metrics,
		logger:     logger.With(slog.String("component", "events.hub")),
	}
}

// Start launches the hub loop. Safe to call more than once.
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.Run()
}

// Stop terminates the hub loop and disconnects all subscribers.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

// Run processes registration, deregistration, and broadcast requests
// until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.running = false
			h.mu.Unlock()
			h.logger.Info("event hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()

			h.addActiveClients(1)
			h.logger.Info("event subscriber connected",
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr),
				slog.Int("total_clients", count))

			h.sendAck(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; !ok {
				h.mu.Unlock()
				continue
			}
			delete(h.clients, client)
			close(client.send)
			count := len(h.clients)
			h.mu.Unlock()

			h.addActiveClients(-1)
			h.logger.Info("event subscriber disconnected",
				slog.String("client_id", client.id),
				slog.Duration("connection_duration", time.Since(client.connectedAt)),
				slog.Int("total_clients", count))

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

// Register queues a client for registration. The hub must be running.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.quit:
	}
}

// Unregister queues a client for removal.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// ClientCount reports connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// LicenseTransition broadcasts one state transition to all subscribers.
// It never blocks: when the hub is saturated the event is dropped with
// a warning, because license operations must not wait on slow readers.
func (h *Hub) LicenseTransition(event domain.LicenseEvent) {
	payload, err := json.Marshal(Message{
		Type:      TypeLicenseTransition,
		Data:      event,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.logger.Error("event marshal failed", slog.String("error", err.Error()))
		return
	}

	select {
	case h.broadcast <- payload:
		if h.metrics != nil && h.metrics.EventsBroadcast != nil {
			h.metrics.EventsBroadcast.Add(context.Background(), 1,
				metric.WithAttributes(attribute.String("status", string(event.Status))))
		}
	default:
		h.logger.Warn("event dropped, broadcast queue full",
			slog.String("status", string(event.Status)))
	}
}

// deliver fans one frame out to every subscriber, disconnecting any
// whose send buffer is full.
func (h *Hub) deliver(message []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

			h.addActiveClients(-1)
			h.logger.Warn("subscriber send buffer full, disconnecting",
				slog.String("client_id", client.id))
		}
	}
}

func (h *Hub) sendAck(client *Client) {
	payload, err := json.Marshal(Message{
		Type:      TypeConnected,
		Data:      map[string]interface{}{"client_id": client.id},
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return
	}

	select {
	case client.send <- payload:
	default:
		h.logger.Warn("ack not sent, client buffer full",
			slog.String("client_id", client.id))
	}
}

func (h *Hub) addActiveClients(delta int64) {
	if h.metrics != nil && h.metrics.EventClientsActive != nil {
		h.metrics.EventClientsActive.Add(context.Background(), delta)
	}
}
