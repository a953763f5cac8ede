package websocket

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

// ConnLike is the slice of a websocket connection the hub writes to. Tests
// substitute a fake.
type ConnLike interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one live connection with the authenticated participant attached.
// All writes into Send go through TrySend, which holds the same lock
// CloseSend takes: a publish racing a disconnect sees the closed flag
// instead of a closed channel.
type Client struct {
	ParticipantID uuid.UUID
	Role          string
	Conn          ConnLike
	Send          chan []byte

	mu     sync.Mutex
	closed bool
}

func NewClient(participantID uuid.UUID, role string, conn ConnLike) *Client {
	return &Client{
		ParticipantID: participantID,
		Role:          role,
		Conn:          conn,
		Send:          make(chan []byte, 32),
	}
}

// WritePump drains the send channel onto the socket until the channel is
// closed or a write fails.
func (c *Client) WritePump() {
	for data := range c.Send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("Error writing to client %s: %v", c.ParticipantID, err)
			return
		}
	}
}

// TrySend enqueues one frame without blocking. A full buffer or an already
// closed client drops the frame and reports false.
func (c *Client) TrySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// CloseSend ends the write pump. Safe to call more than once, and safe
// against concurrent TrySend from publishing goroutines.
func (c *Client) CloseSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// Hub owns all room membership for the process. Rooms are keyed by
// appointment id; a connection may be joined to any number of rooms at once.
// Membership is mutated only through Join and Leave, and publication is
// at-most-once fan-out to the members at the instant of the call: no
// queueing, no retry, and a slow consumer never blocks the others.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[uuid.UUID]map[*Client]struct{}
	byClient map[*Client]map[uuid.UUID]struct{}
}

func NewHub() *Hub {
	return &Hub{
		rooms:    make(map[uuid.UUID]map[*Client]struct{}),
		byClient: make(map[*Client]map[uuid.UUID]struct{}),
	}
}

// Join registers the client in the appointment's room.
func (h *Hub) Join(c *Client, appointmentID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[appointmentID] == nil {
		h.rooms[appointmentID] = make(map[*Client]struct{})
	}
	h.rooms[appointmentID][c] = struct{}{}

	if h.byClient[c] == nil {
		h.byClient[c] = make(map[uuid.UUID]struct{})
	}
	h.byClient[c][appointmentID] = struct{}{}
}

// Leave removes the client from every room it belonged to. Called on
// disconnect; causes no store mutation.
func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for appointmentID := range h.byClient[c] {
		delete(h.rooms[appointmentID], c)
		if len(h.rooms[appointmentID]) == 0 {
			delete(h.rooms, appointmentID)
		}
	}
	delete(h.byClient, c)
}

// Publish delivers the event to every connection currently joined to the
// room. Connections that joined later never receive it. A client whose send
// buffer is full is skipped rather than waited on.
func (h *Hub) Publish(appointmentID uuid.UUID, event interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error marshalling event for room %s: %v", appointmentID, err)
		return
	}

	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[appointmentID]))
	for c := range h.rooms[appointmentID] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		if !c.TrySend(data) {
			log.Printf("Dropping event for slow or closed client %s in room %s", c.ParticipantID, appointmentID)
		}
	}
}

// Close detaches every client and ends their write pumps. Bound to server
// shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.byClient))
	for c := range h.byClient {
		clients = append(clients, c)
	}
	h.rooms = make(map[uuid.UUID]map[*Client]struct{})
	h.byClient = make(map[*Client]map[uuid.UUID]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.CloseSend()
	}
}
