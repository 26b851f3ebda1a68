package handler

import (
	"github.com/labstack/echo/v4"

	"github.com/zizouhuweidi/ilm/internal/domain"
	ws "github.com/zizouhuweidi/ilm/internal/websocket"
)

var liveTopics = map[string]bool{
	domain.TopicLeaderboard: true,
}

// WebSocketHandler handles WebSocket connections
type WebSocketHandler struct {
	hub *ws.Hub
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(hub *ws.Hub) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
	}
}

func (h *WebSocketHandler) Register(g *echo.Group) {
	g.GET("/ws", h.HandleWebSocket)
}

// HandleWebSocket subscribes the connection to a live topic, the leaderboard by default
func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	topic := c.QueryParam("topic")
	if topic == "" {
		topic = domain.TopicLeaderboard
	}
	if !liveTopics[topic] {
		return domain.InvalidInput("unknown topic")
	}

	// once Serve runs the connection is hijacked or the upgrader has replied,
	// so there is nothing left to render
	_ = h.hub.Serve(c.Response(), c.Request(), topic)
	return nil
}
