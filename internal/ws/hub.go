package ws

import (
	"context"
	gosync "sync"

	"go.uber.org/zap"

	"github.com/Alansi775/yshop-sync/internal/sync"
)

// Syncer is the subscription registry the hub forwards channel
// membership changes to.
type Syncer interface {
	Subscribe(channel, connID string)
	Unsubscribe(channel, connID string)
	RemoveConnection(connID string)
	Stats() sync.Stats
}

// Hub manages WebSocket connections and channel rooms. It is the
// transport collaborator for the sync core: subscribe/unsubscribe frames
// flow into the Syncer, and delta payloads flow back out through
// Broadcast to exactly the clients in the channel's room.
type Hub struct {
	clients    map[*Client]bool
	channels   map[string]map[*Client]bool // channel -> clients
	register   chan *Client
	unregister chan *Client
	mu         gosync.RWMutex
	syncer     Syncer
	validate   func(channel string) bool
	logger     *zap.Logger
}

// NewHub creates a new Hub. validate rejects malformed channel names
// before they reach the registry.
func NewHub(syncer Syncer, validate func(string) bool, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		channels:   make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		syncer:     syncer,
		validate:   validate,
		logger:     logger,
	}
}

// Run processes hub events. Call this in a goroutine.
// Returns when context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hub shutting down")
			h.shutdown()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered",
				zap.String("connID", client.connID),
			)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				for channel := range client.channels {
					if clients, ok := h.channels[channel]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.channels, channel)
						}
					}
				}
				close(client.send)
			}
			h.mu.Unlock()

			// The registry drops the lost connection from every channel
			// it was subscribed to, tearing down idle watchers.
			h.syncer.RemoveConnection(client.connID)
			h.logger.Debug("client unregistered",
				zap.String("connID", client.connID),
			)
		}
	}
}

// shutdown gracefully closes all client connections.
func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.channels = make(map[string]map[*Client]bool)
}

// joinChannel adds a client to a channel room.
func (h *Hub) joinChannel(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*Client]bool)
	}
	h.channels[channel][client] = true
	client.channels[channel] = true

	h.logger.Debug("client joined channel",
		zap.String("connID", client.connID),
		zap.String("channel", channel),
	)
}

// leaveChannel removes a client from a channel room.
func (h *Hub) leaveChannel(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.channels[channel]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.channels, channel)
		}
	}
	delete(client.channels, channel)

	h.logger.Debug("client left channel",
		zap.String("connID", client.connID),
		zap.String("channel", channel),
	)
}

// Broadcast delivers an encoded delta to every client in a channel's
// room. Registered with the sync core at startup as its broadcast
// callback. An empty room is a silent no-op.
func (h *Hub) Broadcast(channel string, payload []byte) {
	h.mu.RLock()
	clients, ok := h.channels[channel]
	if !ok {
		h.mu.RUnlock()
		return
	}
	// Copy clients to avoid holding lock during send
	clientList := make([]*Client, 0, len(clients))
	for client := range clients {
		clientList = append(clientList, client)
	}
	h.mu.RUnlock()

	frame := buildDeltaFrame(payload)
	for _, client := range clientList {
		select {
		case client.send <- frame:
		default:
			// Buffer full, schedule disconnect
			go func(c *Client) {
				h.unregister <- c
			}(client)
		}
	}
}
