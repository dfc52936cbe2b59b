package handlers

import (
	"net/http"
	"sync"
	"time"

	"imovia/internal/auth"
	"imovia/pkg/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
	wsSendBuffer = 64
)

// WSEvent is one push to a portal client
type WSEvent struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversation_id,omitempty"`
	AgentID        string      `json:"agent_id,omitempty"`
	Payload        interface{} `json:"payload,omitempty"`
}

type wsClient struct {
	userID uuid.UUID
	role   string
	send   chan WSEvent
}

// WebSocketHandler pushes conversation and calendar events to connected
// portal sessions. Agents only receive their own events; admins receive
// everything.
type WebSocketHandler struct {
	authService *auth.Service
	logger      zerolog.Logger
	upgrader    websocket.Upgrader

	mu      sync.RWMutex
	clients map[*wsClient]struct{}

	// agentByConversation caches conversation ownership for routing
	agentByConversation sync.Map
}

// NewWebSocketHandler creates a websocket handler
func NewWebSocketHandler(authService *auth.Service, logger zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		authService: authService,
		logger:      logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// Handle upgrades the connection and streams events until the client leaves.
// The token travels as a query parameter because browsers cannot set headers
// on websocket dials.
func (h *WebSocketHandler) Handle(c echo.Context) error {
	token := c.QueryParam("token")
	claims, err := h.authService.ValidateToken(token)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return err
	}

	client := &wsClient{
		userID: claims.UserID,
		role:   claims.Role,
		send:   make(chan WSEvent, wsSendBuffer),
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug().Str("user_id", claims.UserID.String()).Msg("websocket client connected")

	go h.writeLoop(conn, client)
	h.readLoop(conn, client)
	return nil
}

func (h *WebSocketHandler) readLoop(conn *websocket.Conn, client *wsClient) {
	defer h.drop(conn, client)

	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// Clients do not send application messages; the loop exists to surface
	// disconnects and answer pings
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WebSocketHandler) writeLoop(conn *websocket.Conn, client *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-client.send:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) drop(conn *websocket.Conn, client *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
	conn.Close()
}

// TrackConversation records which agent owns a conversation so its events can
// be routed. Called by the portal handlers on reads.
func (h *WebSocketHandler) TrackConversation(conversationID, agentID uuid.UUID) {
	h.agentByConversation.Store(conversationID, agentID)
}

// NotifyConversation pushes a conversation event to the owning agent's
// sessions and to all admins
func (h *WebSocketHandler) NotifyConversation(conversationID uuid.UUID, event string, payload interface{}) {
	var agentID uuid.UUID
	if v, ok := h.agentByConversation.Load(conversationID); ok {
		agentID = v.(uuid.UUID)
	}
	h.broadcast(agentID, WSEvent{
		Type:           event,
		ConversationID: conversationID.String(),
		Payload:        payload,
	})
}

// NotifyAgent pushes a calendar event to the agent's sessions and all admins
func (h *WebSocketHandler) NotifyAgent(agentID uuid.UUID, event string, payload interface{}) {
	h.broadcast(agentID, WSEvent{
		Type:    event,
		AgentID: agentID.String(),
		Payload: payload,
	})
}

// broadcast fans an event out. A zero agentID means every client receives it.
// Slow clients are dropped rather than blocking the fanout.
func (h *WebSocketHandler) broadcast(agentID uuid.UUID, event WSEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if agentID != uuid.Nil && client.role != models.UserRoleAdmin && client.userID != agentID {
			continue
		}
		select {
		case client.send <- event:
		default:
			h.logger.Warn().Str("user_id", client.userID.String()).Msg("websocket send buffer full, dropping event")
		}
	}
}
