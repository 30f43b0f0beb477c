package status

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"printguard/internal/platform/logger"
)

// Hub fans watch events out to connected websocket clients
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	quit       chan struct{}
	log        *logger.Logger
}

// NewHub builds an empty hub; Run must be started before use
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		quit:       make(chan struct{}),
		log:        logger.Named("hub"),
	}
}

// Run owns the client set until ctx is cancelled, then closes every
// connection. Closing quit unblocks any handler still trying to
// register after shutdown
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.quit)
			for client := range h.clients {
				_ = client.Close()
			}
			h.clients = make(map[*websocket.Conn]bool)
			return

		case client := <-h.register:
			h.clients[client] = true
			h.log.Debug().Int("clients", len(h.clients)).Msg("client connected")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				_ = client.Close()
			}
			h.log.Debug().Int("clients", len(h.clients)).Msg("client disconnected")

		case message := <-h.broadcast:
			for client := range h.clients {
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					h.log.Warn().Err(err).Msg("dropping client after write error")
					delete(h.clients, client)
					_ = client.Close()
				}
			}
		}
	}
}

// Register hands a new connection to the hub. After shutdown the
// connection is closed instead of parked on the channel
func (h *Hub) Register(client *websocket.Conn) {
	select {
	case h.register <- client:
	case <-h.quit:
		_ = client.Close()
	}
}

// Unregister removes a connection from the hub
func (h *Hub) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.quit:
		_ = client.Close()
	}
}

// event is the wire shape pushed to websocket clients
type event struct {
	Type        string    `json:"type"`
	EpisodeID   string    `json:"episode_id"`
	SourceIndex int       `json:"source_index"`
	Label       string    `json:"label,omitempty"`
	ClassProb   float32   `json:"class_prob,omitempty"`
	At          time.Time `json:"at"`
}

func (h *Hub) push(ev event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal hub event")
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn().Str("type", ev.Type).Msg("hub broadcast full, dropping event")
	}
}
