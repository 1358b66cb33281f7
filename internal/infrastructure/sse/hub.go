package sse

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/duerelay/duerelay/internal/domain/tenant"
)

const (
	EventStatus  = "status"
	EventRemoved = "removed"
)

// Message is one server-sent event.
type Message struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

func NewMessage(event string, data json.RawMessage) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Client is one open status stream of a tenant.
type Client struct {
	ClientID    string
	TenantID    string
	ConnectedAt time.Time
	MessageChan chan *Message
}

func NewClient(tenantID string) *Client {
	return &Client{
		ClientID:    uuid.New().String(),
		TenantID:    tenantID,
		ConnectedAt: time.Now().UTC(),
		MessageChan: make(chan *Message, 16),
	}
}

// Hub fans tenant status changes out to the tenant's open streams.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger.With().Str("service", "sse").Logger(),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ClientID] = client
}

func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[clientID]; ok {
		close(c.MessageChan)
		delete(h.clients, clientID)
	}
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SendToTenant delivers msg to every stream of the tenant. Slow streams
// drop the message instead of blocking the publisher.
func (h *Hub) SendToTenant(tenantID string, msg *Message) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, c := range h.clients {
		if c.TenantID != tenantID {
			continue
		}
		if trySend(c, msg) {
			delivered++
		} else {
			h.logger.Debug().Str("tenant_id", tenantID).Str("client_id", c.ClientID).Msg("dropping status event for slow client")
		}
	}
	return delivered
}

// PublishStatus sends the tenant's current status snapshot.
func (h *Hub) PublishStatus(t *tenant.Tenant) {
	data, err := json.Marshal(t.Status())
	if err != nil {
		h.logger.Warn().Err(err).Str("tenant_id", t.ID).Msg("failed to marshal status")
		return
	}
	h.SendToTenant(t.ID, NewMessage(EventStatus, data))
}

// PublishRemoved tells the tenant's streams that the tenant is gone.
func (h *Hub) PublishRemoved(tenantID string) {
	data, _ := json.Marshal(map[string]string{"clientId": tenantID})
	h.SendToTenant(tenantID, NewMessage(EventRemoved, data))
}

func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		close(c.MessageChan)
		delete(h.clients, id)
	}
}

func trySend(c *Client, msg *Message) bool {
	select {
	case c.MessageChan <- msg:
		return true
	default:
		return false
	}
}
