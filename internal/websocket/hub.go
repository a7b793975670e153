// Package websocket gives clients an explicit subscription channel per job:
// instead of callbacks, status transitions are pushed to whoever subscribed
// to that job id. Polling the HTTP endpoints remains the fallback.
package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"

	"github.com/audioscribe/api/internal/model"
)

// Client represents one WebSocket subscriber for a job.
type Client struct {
	JobID string
	Conn  *websocket.Conn
	Send  chan []byte
}

// Hub maintains active subscriptions grouped by job id.
type Hub struct {
	clients    map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMessage
	log        zerolog.Logger

	mu sync.RWMutex
}

type broadcastMessage struct {
	jobID   string
	payload []byte
}

// NewHub creates a Hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMessage, 256),
		log:        log,
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.JobID] == nil {
				h.clients[client.JobID] = make(map[*Client]bool)
			}
			h.clients[client.JobID][client] = true
			h.mu.Unlock()
			h.log.Debug().Str("jobId", client.JobID).Msg("websocket subscriber registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.JobID]; ok {
				delete(clients, client)
				if len(clients) == 0 {
					delete(h.clients, client.JobID)
				}
			}
			h.mu.Unlock()
			// Unregister is the only closer, so an evicted client's channel
			// stays writable until its connection handler returns.
			close(client.Send)

		case msg := <-h.broadcast:
			h.mu.Lock()
			if clients, ok := h.clients[msg.jobID]; ok {
				for client := range clients {
					select {
					case client.Send <- msg.payload:
					default:
						// Too slow to keep up; stop sending and let the
						// connection handler tear the client down.
						delete(clients, client)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a subscriber.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a subscriber.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// BroadcastStatus pushes a status transition to all job subscribers.
func (h *Hub) BroadcastStatus(jobID string, status model.JobStatus) {
	h.send(jobID, model.WSStatusMessage{
		Type:   model.WSMessageTypeStatus,
		JobID:  jobID,
		Status: status,
	})
}

// BroadcastResult pushes the transcript once a job succeeds.
func (h *Hub) BroadcastResult(jobID string, result *model.Transcript) {
	h.send(jobID, model.WSResultMessage{
		Type:   model.WSMessageTypeResult,
		JobID:  jobID,
		Result: result,
	})
}

// BroadcastError pushes the failure cause once a job fails.
func (h *Hub) BroadcastError(jobID string, jobErr *model.JobError) {
	h.send(jobID, model.WSErrorMessage{
		Type:  model.WSMessageTypeError,
		JobID: jobID,
		Error: jobErr,
	})
}

func (h *Hub) send(jobID string, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Str("jobId", jobID).Msg("marshal websocket message")
		return
	}
	select {
	case h.broadcast <- &broadcastMessage{jobID: jobID, payload: data}:
	default:
		h.log.Warn().Str("jobId", jobID).Msg("websocket broadcast buffer full, dropping update")
	}
}

// HandleConnection services one WebSocket connection until it closes.
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string) {
	client := &Client{
		JobID: jobID,
		Conn:  c,
		Send:  make(chan []byte, 256),
	}

	h.Register(client)
	defer h.Unregister(client)

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug().Err(err).Str("jobId", jobID).Msg("websocket closed")
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == model.WSMessageTypePing {
			pong, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			client.Send <- pong
		}
	}
}
