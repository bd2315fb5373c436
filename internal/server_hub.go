package internal

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"studyhub/internal/presence"
)

// outbound is a queued frame; a nil client means every client.
type outbound struct {
	client  *Client
	payload []byte
}

// Hub fans presence events out to every attached websocket client. A single
// goroutine owns the client set and drains one queue, so frames leave in the
// order they were queued. Clients that cannot keep up are dropped rather than waited on.
type Hub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	outbound   chan outbound
	quit       chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
	count      atomic.Int64
	onDrop     func()
	logger     *zap.Logger
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithDropHook is called from the hub goroutine whenever a slow client is dropped.
func WithDropHook(fn func()) HubOption {
	return func(h *Hub) { h.onDrop = fn }
}

func WithHubLogger(logger *zap.Logger) HubOption {
	return func(h *Hub) { h.logger = logger }
}

// NewHub builds a hub and starts its goroutine. Call Close to stop it.
func NewHub(opts ...HubOption) *Hub {
	hub := &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		outbound:   make(chan outbound, 256),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		onDrop:     func() {},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(hub)
	}
	go hub.run()
	return hub
}

func (hub *Hub) run() {
	defer close(hub.done)
	for {
		select {
		case client := <-hub.register:
			hub.clients[client] = struct{}{}
			hub.count.Store(int64(len(hub.clients)))
		case client := <-hub.unregister:
			hub.remove(client)
		case msg := <-hub.outbound:
			if msg.client != nil {
				if _, ok := hub.clients[msg.client]; ok {
					select {
					case msg.client.send <- msg.payload:
					default:
					}
				}
				continue
			}
			for client := range hub.clients {
				select {
				case client.send <- msg.payload:
				default:
					hub.logger.Warn("dropping slow listener", zap.String("conn_id", client.id))
					hub.remove(client)
					hub.onDrop()
				}
			}
		case <-hub.quit:
			for client := range hub.clients {
				hub.remove(client)
			}
			return
		}
	}
}

// remove closes the client's send queue; its write pump then closes the socket.
func (hub *Hub) remove(client *Client) {
	if _, ok := hub.clients[client]; !ok {
		return
	}
	delete(hub.clients, client)
	close(client.send)
	hub.count.Store(int64(len(hub.clients)))
}

// Register attaches a client. It reports false once the hub is closed.
func (hub *Hub) Register(client *Client) bool {
	select {
	case hub.register <- client:
		return true
	case <-hub.done:
		return false
	}
}

func (hub *Hub) Unregister(client *Client) {
	select {
	case hub.unregister <- client:
	case <-hub.done:
	}
}

// Broadcast implements presence.Broadcaster.
func (hub *Hub) Broadcast(event presence.Event) {
	payload, err := encodeEvent(event)
	if err != nil {
		hub.logger.Error("encode presence event", zap.Error(err))
		return
	}
	select {
	case hub.outbound <- outbound{payload: payload}:
	case <-hub.done:
	}
}

// sendTo queues a payload for one client only. It is dropped if the queue is
// full or the client is gone.
func (hub *Hub) sendTo(client *Client, payload []byte) {
	select {
	case hub.outbound <- outbound{client: client, payload: payload}:
	default:
	}
}

// Clients reports how many websocket clients are attached.
func (hub *Hub) Clients() int {
	return int(hub.count.Load())
}

// Close detaches every client and stops the hub goroutine.
func (hub *Hub) Close() {
	hub.closeOnce.Do(func() { close(hub.quit) })
	<-hub.done
}
