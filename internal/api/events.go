package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// EventHub는 모션 이벤트를 WebSocket 클라이언트에 푸시합니다
type EventHub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	clients map[*EventClient]bool
	mutex   sync.RWMutex
}

// EventClient는 WebSocket 클라이언트를 나타냅니다
type EventClient struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	hub    *EventHub
	logger *zap.Logger
}

// NewEventHub는 새로운 이벤트 허브를 생성합니다
func NewEventHub(logger *zap.Logger) *EventHub {
	return &EventHub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[*EventClient]bool),
	}
}

// HandleWebSocket은 WebSocket 연결을 처리합니다
func (h *EventHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	clientID := uuid.New().String()
	client := &EventClient{
		id:     clientID,
		conn:   conn,
		send:   make(chan []byte, 256),
		hub:    h,
		logger: h.logger.With(zap.String("client_id", clientID)),
	}

	h.registerClient(client)

	go client.writePump()
	go client.readPump()

	client.logger.Info("Event client connected",
		zap.String("remote_addr", r.RemoteAddr),
	)
}

// Broadcast는 이벤트를 모든 클라이언트에 전송합니다
func (h *EventHub) Broadcast(event any) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to marshal event", zap.Error(err))
		return
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			client.logger.Warn("Event client send buffer full, dropping event")
		}
	}
}

// ClientCount는 연결된 클라이언트 수를 반환합니다
func (h *EventHub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Close는 모든 클라이언트 연결을 종료합니다
func (h *EventHub) Close() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.clients {
		close(client.send)
		client.conn.Close()
		delete(h.clients, client)
	}
}

func (h *EventHub) registerClient(client *EventClient) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.clients[client] = true

	h.logger.Info("Event client registered",
		zap.String("client_id", client.id),
		zap.Int("total_clients", len(h.clients)),
	)
}

func (h *EventHub) unregisterClient(client *EventClient) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, exists := h.clients[client]; exists {
		delete(h.clients, client)
		close(client.send)

		h.logger.Info("Event client unregistered",
			zap.String("client_id", client.id),
			zap.Int("total_clients", len(h.clients)),
		)
	}
}

// readPump은 연결 종료를 감지하기 위해 수신 메시지를 소비합니다
func (c *EventClient) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump은 이벤트를 클라이언트로 전송합니다
func (c *EventClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
