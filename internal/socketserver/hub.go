package socketserver

import (
	"sort"
	"sync"

	"github.com/codefionn/sockpong/internal/logger"
)

// Hub is the set of active connection handlers keyed by connection ID. It is
// touched by the accept loop, every handler goroutine and the shutdown path.
type Hub struct {
	mu       sync.RWMutex
	handlers map[string]*Handler
}

// NewHub creates a new hub
func NewHub() *Hub {
	return &Hub{
		handlers: make(map[string]*Handler),
	}
}

// Register adds a handler. It is called before the handler goroutine starts.
func (h *Hub) Register(handler *Handler) {
	h.mu.Lock()
	h.handlers[handler.ID] = handler
	total := len(h.handlers)
	h.mu.Unlock()

	logger.Debug("Connection registered: %s (total: %d)", handler.ID, total)
}

// Unregister removes a handler and reports whether it was present
func (h *Hub) Unregister(id string) bool {
	h.mu.Lock()
	_, ok := h.handlers[id]
	if ok {
		delete(h.handlers, id)
	}
	total := len(h.handlers)
	h.mu.Unlock()

	if ok {
		logger.Debug("Connection unregistered: %s (total: %d)", id, total)
	}
	return ok
}

// Count returns the number of active connections
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers)
}

// list returns a copy so callers never hold the lock while doing I/O
func (h *Hub) list() []*Handler {
	h.mu.RLock()
	defer h.mu.RUnlock()

	list := make([]*Handler, 0, len(h.handlers))
	for _, handler := range h.handlers {
		list = append(list, handler)
	}
	return list
}

// Snapshot describes every active connection, oldest first
func (h *Hub) Snapshot() []ConnectionInfo {
	list := h.list()
	infos := make([]ConnectionInfo, 0, len(list))
	for _, handler := range list {
		infos = append(infos, handler.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].ConnectedAt.Equal(infos[j].ConnectedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

// BroadcastShutdown sends the shutdown sentinel to every active connection.
// Delivery failures are ignored; the number of peers reached is returned.
func (h *Hub) BroadcastShutdown() int {
	sent := 0
	for _, handler := range h.list() {
		if err := handler.NotifyShutdown(); err == nil {
			sent++
		}
	}
	return sent
}

// CloseAll closes every active connection so blocked reads return
func (h *Hub) CloseAll() int {
	list := h.list()
	for _, handler := range list {
		handler.Close()
	}
	return len(list)
}
