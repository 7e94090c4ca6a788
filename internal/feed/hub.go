package feed

import (
	"context"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/tinyblog/blog/types"
)

const broadcastBuffer = 64

// Hub fans newly created posts out to connected websocket clients. The
// client set is owned by the Run goroutine.
type Hub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan types.Post
	done       chan struct{}
	connected  atomic.Int64
	logger     *logrus.Logger
}

func NewHub(logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan types.Post, broadcastBuffer),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves the hub until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.connected.Store(0)
			return
		case client := <-h.register:
			h.clients[client] = struct{}{}
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				close(client.send)
				delete(h.clients, client)
			}
		case post := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- post:
				default:
					h.logger.WithField("remote", client.remote).Warn("feed client too slow, dropping")
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
		h.connected.Store(int64(len(h.clients)))
	}
}

// Connected returns the number of registered clients.
func (h *Hub) Connected() int {
	return int(h.connected.Load())
}

// Broadcast queues post for every connected client. It never blocks the
// caller: when the queue is full the post is dropped from the live feed.
func (h *Hub) Broadcast(post types.Post) {
	select {
	case h.broadcast <- post:
	case <-h.done:
	default:
		h.logger.WithField("post_id", post.ID).Warn("feed queue full, dropping post")
	}
}

// PostCreated lets the hub listen to the post service directly.
func (h *Hub) PostCreated(_ context.Context, post types.Post) {
	h.Broadcast(post)
}

func (h *Hub) add(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}
