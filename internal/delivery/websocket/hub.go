package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"vnml-server/internal/render"
	"vnml-server/shared/interfaces"
	"vnml-server/shared/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
	sendBufferSize = 256
)

var _ interfaces.TurnNotifier = (*Hub)(nil)

// Hub рассылает события ходов подключенным рендерерам.
// Тема подписки - идентификатор сессии.
type Hub struct {
	clients    map[uuid.UUID]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan Message
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

// Client представляет WebSocket-клиента
type Client struct {
	ID     uuid.UUID
	Conn   *websocket.Conn
	Hub    *Hub
	Send   chan []byte
	mu     sync.RWMutex
	topics map[string]bool
}

// Message - сообщение для отправки через WebSocket
type Message struct {
	Type    string      `json:"type"`
	Topic   string      `json:"topic"`
	Payload interface{} `json:"payload"`
}

// TurnPayload - полезная нагрузка события хода для рендерера.
type TurnPayload struct {
	Seq    int          `json:"seq"`
	Turn   *models.Turn `json:"turn,omitempty"`
	Cues   []models.Cue `json:"cues,omitempty"`
	Action *string      `json:"action,omitempty"`
}

// NewHub создает хаб. allowedOrigins == ["*"] разрешает любой Origin.
func NewHub(logger *zap.Logger, allowedOrigins []string) *Hub {
	h := &Hub{
		clients:    make(map[uuid.UUID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Message, 64),
		done:       make(chan struct{}),
		logger:     logger.Named("WebSocketHub"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// Run обрабатывает регистрацию и рассылку до отмены ctx.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for id, client := range h.clients {
				close(client.Send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			h.logger.Info("WebSocket hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			h.logger.Debug("Client connected", zap.String("clientID", client.ID.String()))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				close(client.Send)
				delete(h.clients, client.ID)
				h.logger.Debug("Client disconnected", zap.String("clientID", client.ID.String()))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				h.logger.Error("Failed to marshal websocket message", zap.Error(err))
				continue
			}
			h.mu.Lock()
			for id, client := range h.clients {
				if !client.IsSubscribed(message.Topic) {
					continue
				}
				select {
				case client.Send <- data:
				default:
					// Медленный клиент: отключаем, чтобы не задерживать остальных.
					close(client.Send)
					delete(h.clients, id)
					h.logger.Warn("Dropping slow client", zap.String("clientID", id.String()))
				}
			}
			h.mu.Unlock()
		}
	}
}

// ServeWS обрабатывает новое WebSocket-соединение. Параметр session обязателен.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		http.Error(w, "missing session parameter", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		ID:     uuid.New(),
		Conn:   conn,
		Hub:    h,
		Send:   make(chan []byte, sendBufferSize),
		topics: map[string]bool{sessionID: true},
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.readPump()
	go client.writePump()
}

// NotifyTurn ставит событие в очередь рассылки. Никогда не блокирует вызывающего.
func (h *Hub) NotifyTurn(event interfaces.TurnEvent) {
	payload := TurnPayload{Seq: event.Seq, Action: event.Action}
	if event.Turn != nil {
		turn := event.Turn.Clone()
		payload.Turn = &turn
		payload.Cues = render.Cues(turn)
	}
	msg := Message{Type: string(event.EventType), Topic: event.SessionID, Payload: payload}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Broadcast queue is full, dropping event",
			zap.String("sessionID", event.SessionID), zap.Int("seq", event.Seq))
	}
}

// ClientCount возвращает число подключенных клиентов.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump обрабатывает команды клиента (подписка/отписка от сессий)
func (c *Client) readPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Warn("WebSocket read error", zap.String("clientID", c.ID.String()), zap.Error(err))
			}
			return
		}

		var cmd struct {
			Action string `json:"action"`
			Topic  string `json:"topic"`
		}
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.Hub.logger.Debug("Invalid websocket command", zap.Error(err))
			continue
		}
		switch cmd.Action {
		case "subscribe":
			c.Subscribe(cmd.Topic)
		case "unsubscribe":
			c.Unsubscribe(cmd.Topic)
		}
	}
}

// writePump отправляет сообщения клиенту, по одному JSON на кадр
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Subscribe подписывает клиента на сессию
func (c *Client) Subscribe(topic string) {
	if topic == "" {
		return
	}
	c.mu.Lock()
	c.topics[topic] = true
	c.mu.Unlock()
}

// Unsubscribe отписывает клиента от сессии
func (c *Client) Unsubscribe(topic string) {
	c.mu.Lock()
	delete(c.topics, topic)
	c.mu.Unlock()
}

// IsSubscribed проверяет, подписан ли клиент на сессию
func (c *Client) IsSubscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topics[topic]
}
