package signaling

import (
	"sync"

	"github.com/nkiryanov/caroauth/internal/metrics"
	"github.com/nkiryanov/caroauth/internal/models"
)

// Hub keeps connected clients by identity. One identity may have many connections
type Hub struct {
	metrics *metrics.Metrics

	mu      sync.RWMutex
	clients map[models.Identity]map[*Client]struct{}
}

func NewHub(m *metrics.Metrics) *Hub {
	if m == nil {
		m = metrics.NewNoOp()
	}

	return &Hub{
		metrics: m,
		clients: make(map[models.Identity]map[*Client]struct{}),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.clients[c.Principal.Identity]
	if !ok {
		conns = make(map[*Client]struct{})
		h.clients[c.Principal.Identity] = conns
	}
	if _, ok := conns[c]; !ok {
		conns[c] = struct{}{}
		h.metrics.SignalingConnections.Inc()
	}
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns := h.clients[c.Principal.Identity]
	if _, ok := conns[c]; !ok {
		return
	}

	delete(conns, c)
	h.metrics.SignalingConnections.Dec()
	if len(conns) == 0 {
		delete(h.clients, c.Principal.Identity)
	}
}

// Queue envelope to every connection of the identity.
// Return how many connections got it
func (h *Hub) Send(to models.Identity, env Envelope) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.clients[to] {
		if c.enqueue(env) {
			delivered++
		}
	}
	return delivered
}

// Count of open connections of the identity
func (h *Hub) Connections(identity models.Identity) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[identity])
}
