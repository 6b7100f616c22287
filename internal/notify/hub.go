// Package notify fans monitor events out to WebSocket subscribers. Each
// subscriber follows one topic, a (user, folder) pair, and may hold several
// connections at once (e.g., multiple tabs).
package notify

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wolethescientist/email-engine/internal/mailbox"
	"github.com/wolethescientist/email-engine/internal/monitor"
)

// Client wraps one WebSocket connection subscribed to a topic.
type Client struct {
	conn *websocket.Conn

	mu sync.Mutex // guards writes; gorilla allows one concurrent writer
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

func (c *Client) write(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Hub manages active WebSocket connections per topic.
type Hub struct {
	mu          sync.RWMutex
	clients     map[string]map[*Client]struct{} // topic -> set of clients
	maxPerTopic int
}

// NewHub creates a hub with a per-topic connection limit.
func NewHub(maxPerTopic int) *Hub {
	if maxPerTopic <= 0 {
		maxPerTopic = 10
	}
	return &Hub{
		clients:     make(map[string]map[*Client]struct{}),
		maxPerTopic: maxPerTopic,
	}
}

// Topic builds the subscription key for a watched mailbox.
func Topic(user string, folder mailbox.Folder) string {
	return user + "/" + string(folder)
}

// Register adds a connection under a topic. If the per-topic limit is
// exceeded, the new connection is closed and nil is returned.
func (h *Hub) Register(topic string, conn *websocket.Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	topicClients, ok := h.clients[topic]
	if !ok {
		topicClients = make(map[*Client]struct{})
		h.clients[topic] = topicClients
	}

	if len(topicClients) >= h.maxPerTopic {
		log.Printf("notify: topic %s exceeded max connections (%d), closing new connection", topic, h.maxPerTopic)
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections for this topic"),
			time.Time{},
		)
		_ = conn.Close()
		return nil
	}

	client := &Client{conn: conn}
	topicClients[client] = struct{}{}
	return client
}

// Unregister removes a client from a topic and closes its connection.
func (h *Hub) Unregister(topic string, client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	topicClients, ok := h.clients[topic]
	if !ok {
		_ = client.conn.Close()
		return
	}

	delete(topicClients, client)

	if len(topicClients) == 0 {
		delete(h.clients, topic)
	}

	_ = client.conn.Close()
}

// Send broadcasts a message to every client on a topic.
func (h *Hub) Send(topic string, msg []byte) {
	h.mu.RLock()
	topicClients := h.clients[topic]
	h.mu.RUnlock()

	if len(topicClients) == 0 {
		return
	}

	for client := range topicClients {
		if err := client.write(msg); err != nil {
			log.Printf("notify: failed to write message for topic %s: %v", topic, err)
			go h.Unregister(topic, client)
		}
	}
}

// ActiveConnections returns the number of connections on a topic.
func (h *Hub) ActiveConnections(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[topic])
}

// wireEvent is the JSON shape pushed to subscribers.
type wireEvent struct {
	Type   string    `json:"type"`
	Kind   string    `json:"kind,omitempty"`
	Detail string    `json:"detail,omitempty"`
	Refs   []wireRef `json:"refs,omitempty"`
	At     time.Time `json:"at"`
}

type wireRef struct {
	UID    uint32 `json:"uid"`
	Folder string `json:"folder"`
	Unseen bool   `json:"unseen"`
}

// Relay consumes a handle's event stream and pushes each event to the
// handle's topic until the stream closes. Meant to run as a goroutine per
// started watch.
func (h *Hub) Relay(handle *monitor.Handle) {
	topic := Topic(handle.User, handle.Folder)
	for ev := range handle.Events() {
		msg, err := json.Marshal(toWire(ev))
		if err != nil {
			log.Printf("notify: failed to encode event for topic %s: %v", topic, err)
			continue
		}
		h.Send(topic, msg)
	}
}

func toWire(ev monitor.Event) wireEvent {
	out := wireEvent{
		Type:   string(ev.Type),
		Kind:   ev.Kind,
		Detail: ev.Detail,
		At:     ev.At,
	}
	for _, ref := range ev.Refs {
		out.Refs = append(out.Refs, wireRef{
			UID:    ref.UID,
			Folder: string(ref.Folder),
			Unseen: ref.Unseen,
		})
	}
	return out
}
