package sse

import (
	"path/filepath"
	"sync"

	"github.com/kbukum/stepflow/logger"
)

const clientBuffer = 256

// Frame is one SSE message. Final frames end the stream after delivery.
type Frame struct {
	ID    string
	Event string
	Data  []byte
	Final bool
}

// Client is a connected stream.
type Client struct {
	id     string
	frames chan Frame
}

// NewClient creates a client with a buffered frame channel.
func NewClient(id string) *Client {
	return &Client{id: id, frames: make(chan Frame, clientBuffer)}
}

// ID returns the client id patterns are matched against.
func (c *Client) ID() string { return c.id }

// Frames delivers frames until the hub drops the client.
func (c *Client) Frames() <-chan Frame { return c.frames }

// send reports false when the client is too slow and the frame was dropped.
func (c *Client) send(f Frame) bool {
	select {
	case c.frames <- f:
		return true
	default:
		return false
	}
}

type broadcast struct {
	pattern string
	frame   Frame
}

// Hub owns the client set. Register, Unregister and Broadcast are safe
// for concurrent use and never block once the hub has stopped.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcast
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
	dropped    int64
	log        *logger.Logger
}

// NewHub creates a hub. Start its loop with Run.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcast, clientBuffer),
		done:       make(chan struct{}),
		log:        log.WithComponent("sse"),
	}
}

// Run is the hub loop. It returns after Stop, closing every client.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.closeAll()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("Stream client registered", logger.Fields("client_id", c.id, "clients", n))
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.frames)
			}
			h.mu.Unlock()
		case b := <-h.broadcast:
			h.deliver(b)
		}
	}
}

// Stop ends Run. It is idempotent.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Done is closed once Stop is called.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		close(c.frames)
		delete(h.clients, id)
	}
}

// Register adds c. It reports false when the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes c and closes its frame channel.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast queues f for every client whose id matches pattern. A full
// queue drops the frame rather than stall the publisher.
func (h *Hub) Broadcast(pattern string, f Frame) {
	select {
	case h.broadcast <- broadcast{pattern: pattern, frame: f}:
	case <-h.done:
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
		h.log.Warn("Stream broadcast queue full, dropping frame", logger.Fields("pattern", pattern))
	}
}

func (h *Hub) deliver(b broadcast) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		matched, err := filepath.Match(b.pattern, id)
		if err != nil {
			h.log.Error("Bad stream pattern", logger.Fields("pattern", b.pattern, logger.FieldError, err.Error()))
			return
		}
		if matched && !c.send(b.frame) {
			h.dropped++
			h.log.Warn("Stream client too slow, dropping frame", logger.Fields("client_id", id))
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many frames were dropped for slow clients or a full
// queue.
func (h *Hub) Dropped() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}
