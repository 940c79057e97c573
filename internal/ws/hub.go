package ws

import (
	"sync"

	"github.com/hbkhrishi0412-afk/reride-sub004/internal/models"
)

// Hub tracks connected clients by user key (user id, or anonymous session id).
// Broadcast fan-out resolves a conversation to its two participants.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[*Client]struct{})}
}

func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.Key]; !ok {
		h.clients[c.Key] = make(map[*Client]struct{})
	}
	h.clients[c.Key][c] = struct{}{}
}

func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.clients[c.Key]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.Key)
		}
	}
}

// SendToUser queues the payload on every socket the user has open. Slow
// clients are skipped rather than blocking the hub.
func (h *Hub) SendToUser(key string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[key] {
		select {
		case c.Send <- payload:
		default:
		}
	}
}

// BroadcastToConversation delivers the payload to both participants, except
// the excluded client (usually the author's own socket).
func (h *Hub) BroadcastToConversation(conv *models.Conversation, exclude *Client, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, key := range []string{conv.CustomerID, conv.SellerID} {
		for c := range h.clients[key] {
			if c == exclude {
				continue
			}
			select {
			case c.Send <- payload:
			default:
			}
		}
	}
}

// Connected reports whether the user has at least one open socket.
func (h *Hub) Connected(key string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[key]) > 0
}
