package websocket

import (
	"encoding/json"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/model"
)

// ProjectTopic is the topic of a project's state, stage and error events.
func ProjectTopic(projectID string) string { return "project:" + projectID }

// JobTopic is the topic of a render job's progress.
func JobTopic(jobID string) string { return "job:" + jobID }

// Client represents a WebSocket client
type Client struct {
	Topic string
	Conn  *websocket.Conn
	Send  chan []byte
}

// Hub maintains active WebSocket connections
type Hub struct {
	// Clients grouped by topic
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	logger     *zap.Logger
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	Topic   string
	Message []byte
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		logger:     logger.Named("hub"),
	}
}

// Run starts the hub's main loop. Only Run touches the client map.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			if h.clients[client.Topic] == nil {
				h.clients[client.Topic] = make(map[*Client]bool)
			}
			h.clients[client.Topic][client] = true
			h.logger.Debug("Client registered", zap.String("topic", client.Topic))

		case client := <-h.unregister:
			if clients, ok := h.clients[client.Topic]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					if len(clients) == 0 {
						delete(h.clients, client.Topic)
					}
				}
			}
			h.logger.Debug("Client unregistered", zap.String("topic", client.Topic))

		case msg := <-h.broadcast:
			for client := range h.clients[msg.Topic] {
				select {
				case client.Send <- msg.Message:
				default:
					// slow consumer
					close(client.Send)
					delete(h.clients[msg.Topic], client)
				}
			}
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

func (h *Hub) publish(topic string, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal message", zap.String("topic", topic), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- &BroadcastMessage{Topic: topic, Message: data}:
	default:
		h.logger.Warn("Broadcast queue full, dropping message", zap.String("topic", topic))
	}
}

// BroadcastState sends a committed state to the project's subscribers
func (h *Hub) BroadcastState(projectID string, ev model.StateEvent) {
	h.publish(ProjectTopic(projectID), model.WSStateMessage{
		Type:      model.WSMessageTypeState,
		ProjectID: projectID,
		Event:     ev,
	})
}

// BroadcastStage sends a stage event to the project's subscribers
func (h *Hub) BroadcastStage(projectID string, ev model.StageEvent) {
	h.publish(ProjectTopic(projectID), model.WSStageMessage{
		Type:      model.WSMessageTypeStage,
		ProjectID: projectID,
		Event:     ev,
	})
}

// BroadcastProgress sends a progress update to all job subscribers
func (h *Hub) BroadcastProgress(jobID string, progress int, status model.JobStatus, step string) {
	h.publish(JobTopic(jobID), model.WSProgressMessage{
		Type:        model.WSMessageTypeProgress,
		JobID:       jobID,
		Progress:    progress,
		Status:      status,
		CurrentStep: step,
	})
}

// BroadcastComplete sends a completion message to all job subscribers
func (h *Hub) BroadcastComplete(jobID string, result interface{}) {
	h.publish(JobTopic(jobID), model.WSCompleteMessage{
		Type:   model.WSMessageTypeComplete,
		JobID:  jobID,
		Result: result,
	})
}

// BroadcastError sends an error event to a topic
func (h *Hub) BroadcastError(topic string, ev model.ErrorEvent) {
	h.publish(topic, model.WSErrorMessage{
		Type:  model.WSMessageTypeError,
		Topic: topic,
		Error: ev,
	})
}

// HandleConnection handles a WebSocket connection
func (h *Hub) HandleConnection(c *websocket.Conn, topic string) {
	client := &Client{
		Topic: topic,
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
				h.logger.Warn("WebSocket error", zap.String("topic", topic), zap.Error(err))
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			data, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			client.Send <- data
		}
	}
}
