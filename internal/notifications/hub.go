// Package notifications delivers comment events to websocket subscribers,
// across server instances through Redis pub/sub.
package notifications

import (
	"context"
	"errors"
	"sync"

	"threadboard/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const maxTotalConns = 10000

// Errors returned by Register.
var (
	ErrConnectionLimit = errors.New("server connection limit reached")
	ErrHubClosed       = errors.New("comment hub is shut down")
)

// CommentHub holds every push channel subscriber in one shared group.
type CommentHub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	limit   int
	closed  bool
	logger  *observability.WSLogger
}

// NewCommentHub creates an empty hub.
func NewCommentHub() *CommentHub {
	h := &CommentHub{
		clients: make(map[*Client]struct{}),
		limit:   maxTotalConns,
	}
	h.logger = observability.NewWSLogger(h.Name())
	return h
}

// Name returns a human-readable identifier for this hub.
func (h *CommentHub) Name() string { return "comment hub" }

// Register adds a subscriber. userID is 0 for anonymous subscribers.
func (h *CommentHub) Register(userID uint, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	if len(h.clients) >= h.limit {
		h.mu.Unlock()
		return nil, ErrConnectionLimit
	}

	client := NewClient(h, conn, userID)
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	observability.WebSocketConnections.Inc()
	h.logger.LogConnect(context.Background(), userID, count)
	return client, nil
}

// UnregisterClient removes the client and closes its send channel. Unknown or
// already removed clients are ignored.
func (h *CommentHub) UnregisterClient(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.Send)
	}
	h.mu.Unlock()

	if ok {
		observability.WebSocketConnections.Dec()
		h.logger.LogDisconnect(context.Background(), client.UserID, "unregistered")
	}
}

// Count returns the number of registered subscribers.
func (h *CommentHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastAll queues message for every registered subscriber.
func (h *CommentHub) BroadcastAll(message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.TrySend(message)
	}
}

// StartWiring subscribes the hub to the Redis comment channel so events
// published by any instance reach the local subscribers.
func (h *CommentHub) StartWiring(ctx context.Context, n *Notifier) error {
	return n.StartCommentSubscriber(ctx, func(payload string) {
		h.BroadcastAll([]byte(payload))
	})
}

// Shutdown disconnects every subscriber with a going-away frame and rejects
// further registrations.
func (h *CommentHub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	// closing Send makes each WritePump emit the close frame and drop the
	// connection, so no second writer touches the socket here
	for client := range h.clients {
		delete(h.clients, client)
		close(client.Send)
		observability.WebSocketConnections.Dec()
	}

	h.logger.LogLifecycle(ctx, "shutdown", nil)
	return nil
}
