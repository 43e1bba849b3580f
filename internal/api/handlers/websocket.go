package handlers

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gorax/gorax/internal/api/middleware"
	ws "github.com/gorax/gorax/internal/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// In production, validate origin against allowed domains
		// For now, allow all origins (matches CORS config)
		return true
	},
}

// WebSocketHandler handles WebSocket connections for a tenant's auth
// dashboard: once upgraded, a client is subscribed to its tenant's
// "auth:<environmentID>" room, the room authbroker/notify broadcasts
// connection-succeeded/failed events to.
type WebSocketHandler struct {
	hub    *ws.Hub
	logger *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(hub *ws.Hub, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:    hub,
		logger: logger,
	}
}

// HandleConnection handles WebSocket connection upgrades
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	// User is already authenticated via middleware
	user := middleware.GetUser(r)
	if user == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	tenantID := middleware.GetTenantID(r)

	// Upgrade HTTP connection to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", "error", err)
		return
	}

	// Create client
	client := &ws.Client{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		Conn:          conn,
		Hub:           h.hub,
		Send:          make(chan []byte, 256),
		Subscriptions: make(map[string]bool),
	}

	// Register client with hub
	h.hub.Register <- client

	// Every connected client watches its own tenant's auth dashboard room.
	room := "auth:" + tenantID
	h.hub.SubscribeClient(client, room)

	// Start client pumps
	go client.WritePump()
	go client.ReadPump()

	h.logger.Info("websocket connection established",
		"client_id", client.ID,
		"tenant_id", tenantID,
		"user_id", user.ID,
		"room", room,
	)
}
