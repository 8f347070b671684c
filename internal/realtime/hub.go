// Package realtime fans live device positions out to websocket observers.
package realtime

import (
	"context"
	"sort"
	"sync"

	"github.com/jengzang/mobile-supervisor-go/internal/logging"
	"github.com/jengzang/mobile-supervisor-go/internal/metrics"
	"github.com/jengzang/mobile-supervisor-go/internal/models"
)

// Message types for websocket communication
const (
	MessageTypePosition = "position"
	MessageTypeSnapshot = "snapshot"
	MessageTypePing     = "ping"
	MessageTypePong     = "pong"
)

// Message represents a websocket message
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Config tunes the hub
type Config struct {
	// SnapshotOnConnect sends the last known position of every device to new clients
	SnapshotOnConnect bool
	// BufferSize bounds both the hub queue and each client's send queue
	BufferSize int
}

// Hub maintains the set of active clients and broadcasts messages to them.
// Broadcasting never blocks the caller: when a queue is full the message is dropped.
type Hub struct {
	cfg Config

	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	pongs      chan *Client
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex

	lastMu sync.RWMutex
	last   map[string]models.PositionEvent
}

// NewHub creates a new Hub
func NewHub(cfg Config) *Hub {
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 256
	}
	return &Hub{
		cfg:        cfg,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, cfg.BufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		pongs:      make(chan *Client, cfg.BufferSize),
		done:       make(chan struct{}),
		last:       make(map[string]models.PositionEvent),
	}
}

// Serve runs the hub until ctx is canceled
func (h *Hub) Serve(ctx context.Context) error {
	return h.RunWithContext(ctx)
}

// RunWithContext processes registrations and broadcasts until ctx is canceled,
// then closes every client. Only this goroutine writes to or closes a client's
// send channel. Lifecycle events are handled before broadcasts so a client
// registered before a broadcast always receives it.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			n := h.ClientCount()
			h.closeAllClients()
			h.stopOnce.Do(func() { close(h.done) })
			logging.Info().Str("component", "realtime-hub").Int("clients_closed", n).Msg("realtime hub stopped")
			return ctx.Err()
		default:
		}

		select {
		case c := <-h.register:
			h.addClient(c)
			continue
		case c := <-h.unregister:
			h.removeClient(c)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			continue
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		case msg := <-h.broadcast:
			h.broadcastToClients(msg)
		case c := <-h.pongs:
			h.replyPong(c)
		}
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()

	metrics.RealtimeClients.Set(float64(n))
	logging.Info().Int("total_clients", n).Msg("realtime client connected")

	if h.cfg.SnapshotOnConnect {
		c.enqueue(Message{Type: MessageTypeSnapshot, Data: h.Snapshot()})
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.RealtimeClients.Set(float64(n))
	logging.Info().Int("total_clients", n).Msg("realtime client disconnected")
}

// replyPong queues a pong for c if it is still connected
func (h *Hub) replyPong(c *Client) {
	h.mu.RLock()
	_, ok := h.clients[c]
	h.mu.RUnlock()
	if ok {
		c.enqueue(Message{Type: MessageTypePong})
	}
}

// broadcastToClients delivers msg to every client in registration order.
// Clients whose queue is full are disconnected.
func (h *Hub) broadcastToClients(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	var slow []*Client
	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		close(c.send)
		delete(h.clients, c)
		metrics.RealtimeDropped.Inc()
		logging.Warn().Uint64("client_id", c.id).Msg("realtime client too slow, disconnecting")
	}
	metrics.RealtimeClients.Set(float64(len(h.clients)))
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	metrics.RealtimeClients.Set(0)
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastPosition records evt as the device's last known position and
// queues it for every client
func (h *Hub) BroadcastPosition(evt models.PositionEvent) {
	h.lastMu.Lock()
	h.last[evt.DeviceID] = evt
	h.lastMu.Unlock()

	h.publish(Message{Type: MessageTypePosition, Data: evt})
}

// BroadcastSnapshot queues the current snapshot for every client
func (h *Hub) BroadcastSnapshot() {
	h.publish(Message{Type: MessageTypeSnapshot, Data: h.Snapshot()})
}

func (h *Hub) publish(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		metrics.RealtimeDropped.Inc()
		logging.Warn().Str("message_type", msg.Type).Msg("broadcast channel full, dropping message")
	}
}

// Snapshot returns the last known position of every device, ordered by device id
func (h *Hub) Snapshot() []models.PositionEvent {
	h.lastMu.RLock()
	out := make([]models.PositionEvent, 0, len(h.last))
	for _, evt := range h.last {
		out = append(out, evt)
	}
	h.lastMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}
