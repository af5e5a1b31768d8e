package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/revealcanvas/backend/internal/protocol"
)

// ConnState is the lifecycle state of a connection.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateActive
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	default:
		return "disconnected"
	}
}

// DefaultSessionID is used when a client does not name a session.
const DefaultSessionID = "default"

// Client represents a single WebSocket connection in a canvas session.
type Client struct {
	RemoteAddr string
	JoinedAt   time.Time
	session    *Session
	conn       *websocket.Conn
	send       chan protocol.Message
	logger     *zap.Logger
	closeOnce  sync.Once

	// owned by the session loop
	state       ConnState
	participant protocol.Participant
	lastCursor  time.Time
}

func newClient(s *Session, conn *websocket.Conn, buffer int, logger *zap.Logger) *Client {
	c := &Client{
		JoinedAt: time.Now(),
		session:  s,
		conn:     conn,
		send:     make(chan protocol.Message, buffer),
		logger:   logger,
		state:    StateConnecting,
	}
	if conn != nil {
		c.RemoteAddr = conn.RemoteAddr().String()
	}
	return c
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// ServeWs handles the WebSocket upgrade and runs the client loop. A nil checkOrigin accepts
// every origin.
func ServeWs(hub *Hub, logger *zap.Logger, checkOrigin func(r *http.Request) bool) gin.HandlerFunc {
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin,
	}
	return func(c *gin.Context) {
		sessionID := c.DefaultQuery("session", DefaultSessionID)
		if !ValidSessionID(sessionID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session"})
			return
		}
		session, err := hub.Session(sessionID)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := newClient(session, conn, hub.cfg.SendBuffer, logger)
		err = session.Join(client)
		if errors.Is(err, ErrSessionClosed) {
			// reclaimed between lookup and join
			if session, err = hub.Session(sessionID); err == nil {
				client = newClient(session, conn, hub.cfg.SendBuffer, logger)
				err = session.Join(client)
			}
		}
		if err != nil {
			logger.Warn("join session", zap.String("session_id", sessionID), zap.Error(err))
			_ = conn.Close()
			return
		}
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		_ = c.session.Leave(c)
		_ = c.conn.Close()
	}()

	cfg := c.session.cfg
	c.conn.SetReadLimit(cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket closed", zap.String("remote_addr", c.RemoteAddr), zap.Error(err))
			}
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("dropping malformed frame", zap.String("remote_addr", c.RemoteAddr), zap.Error(err))
			continue
		}
		if err := c.session.Handle(c, msg); err != nil {
			break
		}
	}
}

func (c *Client) writePump() {
	cfg := c.session.cfg
	ticker := time.NewTicker(cfg.PingInterval)
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
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
