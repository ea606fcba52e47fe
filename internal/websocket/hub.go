// internal/websocket/hub.go
package websocket

import (
	"encoding/json"
	"log"
	"sync"
)

// Hub maintains the set of connected push clients and broadcasts domain
// events to all of them. It implements events.Emitter so the core can stay
// unaware of the websocket layer.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("Push client registered: %s", client.Conn.RemoteAddr())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mu.Unlock()
			log.Printf("Push client unregistered: %s", client.Conn.RemoteAddr())

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					// Slow or gone; drop it rather than stall the hub.
					close(client.Send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// RegisterClient adds a new client to the hub.
func (h *Hub) RegisterClient(client *Client) {
	h.register <- client
}

// Emit broadcasts a domain event to every connected client in the
// {type, payload} envelope. Encoding failures are logged and dropped.
func (h *Hub) Emit(eventType string, payload any) {
	messageBytes, err := json.Marshal(map[string]any{"type": eventType, "payload": payload})
	if err != nil {
		log.Printf("Error marshalling %s event for broadcast: %v", eventType, err)
		return
	}
	select {
	case h.broadcast <- messageBytes:
	default:
		log.Printf("Push broadcast buffer full, dropping %s event", eventType)
	}
}
