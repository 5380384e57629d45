// Package websocket upgrades authenticated HTTP requests into live hub
// sessions.
package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"harmonic-universe/internal/domain"
	"harmonic-universe/internal/hub"
)

// WebSocketHandler handles the upgrade request and hands the connection to
// the hub. Room selection happens after the upgrade via a join_room event,
// so the endpoint itself carries no room parameter.
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	hub      *hub.Hub
}

func NewWebSocketHandler(h *hub.Hub) *WebSocketHandler {
	if h == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// TODO: restrict origins via config once the frontend host is fixed
			return true
		},
	}

	return &WebSocketHandler{
		upgrader: upgrader,
		hub:      h,
	}
}

// HandleConnection upgrades the request and starts the client pumps.
// Expects the auth middleware to have set user_id and username.
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	userIDAny, exists := c.Get("user_id")
	if !exists {
		logrus.Warn("WS Handler: user_id not found in context")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	userID, ok := userIDAny.(uint)
	if !ok {
		logrus.Errorf("WS Handler: user_id in context is not uint: %T", userIDAny)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	username, _ := c.Get("username")
	usernameStr, ok := username.(string)
	if !ok || usernameStr == "" {
		logrus.WithField("user_id", userID).Warn("WS Handler: username missing from context")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	logCtx := logrus.WithFields(logrus.Fields{
		"user_id":  userID,
		"username": usernameStr,
	})

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade writes its own HTTP error response.
		logCtx.WithError(err).Error("WS Handler: failed to upgrade connection")
		return
	}

	session := domain.Session{
		ID:       uuid.NewString(),
		UserID:   userID,
		Username: usernameStr,
		State:    domain.SessionConnecting,
	}
	logCtx = logCtx.WithField("session_id", session.ID)
	logCtx.Info("WS Handler: connection upgraded")

	client := hub.NewClient(h.hub, conn, session)
	client.Run()
}
