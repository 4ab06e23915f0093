package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/vzahanych/digit-recognizer/internal/logger"
	"github.com/vzahanych/digit-recognizer/internal/service"
)

// Message types pushed to WebSocket clients
const (
	MessagePrediction   = "prediction"
	MessageNotification = "notification"
	MessageCamera       = "camera"
)

const (
	writeWait    = 5 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 16
)

// Message is a display update pushed over /ws
type Message struct {
	Type      string                 `json:"type"`
	Event     string                 `json:"event"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // local network display
	},
}

type wsClient struct {
	conn *websocket.Conn
	send chan Message
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// Hub fans event bus traffic out to connected display clients
type Hub struct {
	logger  *logger.Logger
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// NewHub creates an empty hub
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		logger:  log,
		clients: make(map[*wsClient]struct{}),
	}
}

// Run forwards bus events until ctx is cancelled or the bus is closed
func (h *Hub) Run(ctx context.Context, bus *service.EventBus) {
	events := bus.SubscribeAll()
	defer bus.UnsubscribeAll(events)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if msg, ok := messageFor(event); ok {
				h.Broadcast(msg)
			}
		}
	}
}

// Broadcast queues msg for every client. Slow clients drop messages.
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Debug("Dropping message for slow WebSocket client", "type", msg.Type)
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every client
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("WebSocket client connected", "remote", c.conn.RemoteAddr().String(), "clients", n)
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("WebSocket client disconnected", "remote", c.conn.RemoteAddr().String(), "clients", n)
}

// handleWebSocket upgrades the connection and streams display updates
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.LogWarn("WebSocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan Message, sendBuffer)}

	// Current result first so a fresh page does not wait for the next one
	client.send <- Message{
		Type:      MessagePrediction,
		Event:     "snapshot",
		Data:      map[string]interface{}{"view": s.presenter.Current()},
		Timestamp: time.Now(),
	}
	s.hub.register(client)

	go s.hub.writePump(client)
	s.hub.readPump(client)
}

// readPump discards client input and detects disconnects
func (h *Hub) readPump(c *wsClient) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// messageFor maps a bus event to a display message
func messageFor(event service.Event) (Message, bool) {
	msg := Message{
		Event:     string(event.Type),
		Data:      event.Data,
		Timestamp: event.Timestamp,
	}

	switch event.Type {
	case service.EventTypeInferenceResult:
		msg.Type = MessagePrediction
	case service.EventTypeCameraState, service.EventTypeCameraEnumerated:
		msg.Type = MessageCamera
	case service.EventTypeCameraNone:
		msg.Type = MessageNotification
		msg.Message = "No cameras found"
	case service.EventTypeCameraUnsupported:
		msg.Type = MessageNotification
		msg.Message = "Camera capture is not supported on this device"
	case service.EventTypeCameraError:
		msg.Type = MessageNotification
		msg.Message = "Camera error: " + stringField(event.Data, "error")
	case service.EventTypeInferenceFailed:
		msg.Type = MessageNotification
		msg.Message = "Prediction failed: " + stringField(event.Data, "error")
	default:
		return Message{}, false
	}
	return msg, true
}

func stringField(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
