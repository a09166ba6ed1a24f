package notify

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tutorhall/backend/internal/models"
)

const (
	// PingInterval and PongWait are used for connection heartbeat (seconds).
	PingInterval = 30
	PongWait     = 60
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// Envelope is the push-channel message schema.
type Envelope struct {
	Type         string                    `json:"type"`
	Notification *models.NotificationEvent `json:"notification,omitempty"`
}

// Client is a single WebSocket connection. One browser tab maps to one
// client; the tab ID keeps concurrent role-scoped tabs distinguishable in
// logs even when they share a user account.
type Client struct {
	ID      string
	UserID  uuid.UUID
	TabID   string
	Role    string
	conn    *websocket.Conn
	send    chan Envelope
	cancels []func()
	logger  *zap.Logger
}

// ServeWs upgrades the connection, authenticates the tab's credential and
// subscribes the client to every course its identity hosts or is enrolled
// in. Token and tab ID travel in the query (no Authorization header on
// browser WebSocket dials).
func ServeWs(broker Broker, logger *zap.Logger, jwtValidate func(token string) (userID, role string, err error), courses func(userID uuid.UUID) ([]uuid.UUID, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
			return
		}
		userIDStr, role, err := jwtValidate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		userID, err := uuid.Parse(userIDStr)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		tabID := c.Query("tab")
		if tabID == "" {
			tabID = uuid.New().String()
		}

		subscriptions, err := courses(userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve subscriptions"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:     uuid.New().String(),
			UserID: userID,
			TabID:  tabID,
			Role:   role,
			conn:   conn,
			send:   make(chan Envelope, 256),
			logger: logger,
		}
		for _, courseID := range subscriptions {
			cancel := broker.Subscribe(courseID, client.handleEvent)
			client.cancels = append(client.cancels, cancel)
		}
		logger.Debug("client connected",
			zap.String("client_id", client.ID),
			zap.String("user_id", userID.String()),
			zap.String("tab_id", tabID),
			zap.Int("subscriptions", len(subscriptions)))

		go client.writePump()
		client.readPump()
	}
}

// handleEvent forwards a broker event to this connection. Events targeted at
// another user are skipped; a full send buffer drops the event (the client's
// next poll closes the gap).
func (c *Client) handleEvent(event models.NotificationEvent) {
	if event.TargetUserID != uuid.Nil && event.TargetUserID != c.UserID {
		return
	}
	ev := event
	select {
	case c.send <- Envelope{Type: "notification", Notification: &ev}:
	default:
	}
}

func (c *Client) readPump() {
	defer func() {
		for _, cancel := range c.cancels {
			cancel()
		}
		_ = c.conn.Close()
		c.logger.Debug("client disconnected", zap.String("client_id", c.ID), zap.String("tab_id", c.TabID))
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	// The push channel is server-to-client; inbound frames only refresh the
	// read deadline.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
