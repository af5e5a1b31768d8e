// Package wsclient is the participant side of the relay: it connects a local pipeline and
// surface to a canvas session over WebSocket.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/revealcanvas/backend/internal/pipeline"
	"github.com/revealcanvas/backend/internal/protocol"
)

var (
	// ErrClosed is returned when sending on a closed client.
	ErrClosed = errors.New("wsclient: closed")
	// ErrSendBufferFull is returned when the outbound queue is full; the event is dropped.
	ErrSendBufferFull = errors.New("wsclient: send buffer full")
)

// Canvas is the local surface cleared on a session reset.
type Canvas interface {
	Reset()
}

// Config configures a connection.
type Config struct {
	// URL is the relay's WebSocket endpoint, e.g. ws://host:8080/ws.
	URL          string
	Session      string
	SendBuffer   int
	WriteWait    time.Duration
	PongWait     time.Duration
	PingInterval time.Duration
	CursorTTL    time.Duration
}

// DefaultConfig returns sensible connection defaults for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:          url,
		SendBuffer:   256,
		WriteWait:    10 * time.Second,
		PongWait:     60 * time.Second,
		PingInterval: 30 * time.Second,
		CursorTTL:    DefaultCursorTTL,
	}
}

// Client is one participant's connection.
type Client struct {
	cfg     Config
	conn    *websocket.Conn
	send    chan protocol.Message
	logger  *zap.Logger
	cursors *CursorTracker

	mu           sync.RWMutex
	pipe         *pipeline.Pipeline
	canvas       Canvas
	self         protocol.Participant
	brush        protocol.BrushConfig
	participants []protocol.Participant
	strokesIn    int

	welcomed    chan struct{}
	welcomeOnce sync.Once
	done        chan struct{}
	closeOnce   sync.Once
}

// Dial connects to the relay. The returned client does nothing until Run is called.
func Dial(ctx context.Context, cfg Config, clock clockwork.Clock, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	target, err := endpoint(cfg.URL, cfg.Session)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	def := DefaultConfig(cfg.URL)
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	return &Client{
		cfg:      cfg,
		conn:     conn,
		send:     make(chan protocol.Message, cfg.SendBuffer),
		logger:   logger,
		cursors:  NewCursorTracker(clock, cfg.CursorTTL),
		welcomed: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

func endpoint(raw, session string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported relay url scheme %q", u.Scheme)
	}
	if session != "" {
		q := u.Query()
		q.Set("session", session)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Bind attaches the local pipeline and canvas that inbound events are applied to. Call it
// before Run.
func (c *Client) Bind(p *pipeline.Pipeline, canvas Canvas) {
	c.mu.Lock()
	c.pipe, c.canvas = p, canvas
	c.mu.Unlock()
}

// Run pumps messages until ctx is done or the connection drops.
func (c *Client) Run(ctx context.Context) error {
	go c.writePump()
	errc := make(chan error, 1)
	go func() { errc <- c.readPump() }()

	select {
	case <-ctx.Done():
		c.Close()
		<-errc
		return ctx.Err()
	case err := <-errc:
		c.Close()
		return err
	}
}

// WaitWelcome blocks until the server's welcome has been applied.
func (c *Client) WaitWelcome(ctx context.Context) (protocol.Participant, error) {
	select {
	case <-c.welcomed:
		return c.Self(), nil
	case <-c.done:
		return protocol.Participant{}, ErrClosed
	case <-ctx.Done():
		return protocol.Participant{}, ctx.Err()
	}
}

// Self returns this client's identity from the welcome.
func (c *Client) Self() protocol.Participant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.self
}

// Brush returns the brush announced by the server.
func (c *Client) Brush() protocol.BrushConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.brush
}

// Participants returns the last participant list received.
func (c *Client) Participants() []protocol.Participant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]protocol.Participant, len(c.participants))
	copy(out, c.participants)
	return out
}

// RemoteStrokes returns how many strokes were applied from history and other participants.
func (c *Client) RemoteStrokes() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.strokesIn
}

// Cursors returns the remote cursor tracker.
func (c *Client) Cursors() *CursorTracker { return c.cursors }

// SendStroke implements pipeline.Sender.
func (c *Client) SendStroke(rec protocol.StrokeRecord) error {
	return c.enqueue(protocol.EventStroke, rec)
}

// SendCursor implements pipeline.Sender.
func (c *Client) SendCursor(x, y float64) error {
	return c.enqueue(protocol.EventCursorPosition, struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}{x, y})
}

// SendReset asks the server to clear the canvas for everyone. The local canvas is cleared
// when the broadcast comes back.
func (c *Client) SendReset() error {
	return c.enqueue(protocol.EventReset, nil)
}

func (c *Client) enqueue(event string, payload interface{}) error {
	msg, err := protocol.NewMessage(event, payload)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrSendBufferFull
	}
}

// Close tears down the connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) readPump() error {
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})
	c.conn.SetPingHandler(func(data string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.cfg.WriteWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(c.cfg.WriteWait))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

func (c *Client) handle(msg protocol.Message) {
	c.mu.RLock()
	pipe, canvas := c.pipe, c.canvas
	c.mu.RUnlock()

	switch msg.Event {
	case protocol.EventWelcome:
		var w protocol.Welcome
		if err := json.Unmarshal(msg.Data, &w); err != nil {
			c.logger.Warn("bad welcome", zap.Error(err))
			return
		}
		c.mu.Lock()
		c.self = protocol.Participant{ID: w.ParticipantID, Color: w.Color, Nickname: w.Nickname}
		c.brush = w.Brush
		c.strokesIn += len(w.History)
		c.mu.Unlock()
		if pipe != nil {
			if err := w.Brush.Validate(); err == nil {
				pipe.SetBrush(w.Brush)
			} else {
				c.logger.Warn("ignoring invalid brush", zap.Error(err))
			}
			pipe.Replay(w.History)
		}
		c.logger.Info("joined canvas",
			zap.String("participant_id", w.ParticipantID),
			zap.String("nickname", w.Nickname),
			zap.Int("history", len(w.History)))
		c.welcomeOnce.Do(func() { close(c.welcomed) })

	case protocol.EventStroke:
		rec, err := protocol.DecodeStroke(msg.Data)
		if err != nil {
			c.logger.Debug("dropping malformed stroke", zap.Error(err))
			return
		}
		c.mu.Lock()
		c.strokesIn++
		c.mu.Unlock()
		if pipe != nil {
			pipe.ApplyRemote(rec)
		}

	case protocol.EventReset:
		if canvas != nil {
			canvas.Reset()
		}
		if pipe != nil {
			pipe.Reset()
		}
		c.logger.Info("canvas reset")

	case protocol.EventCursorPosition:
		var pos protocol.CursorPosition
		if err := json.Unmarshal(msg.Data, &pos); err != nil {
			return
		}
		c.cursors.Update(pos)

	case protocol.EventParticipantList:
		var list protocol.ParticipantList
		if err := json.Unmarshal(msg.Data, &list); err != nil {
			return
		}
		c.mu.Lock()
		c.participants = list.Participants
		c.mu.Unlock()

	case protocol.EventParticipantJoined:
		var p protocol.Participant
		if err := json.Unmarshal(msg.Data, &p); err == nil {
			c.logger.Debug("participant joined", zap.String("nickname", p.Nickname))
		}

	case protocol.EventParticipantLeft:
		var left protocol.ParticipantLeft
		if err := json.Unmarshal(msg.Data, &left); err != nil {
			return
		}
		c.cursors.Remove(left.ParticipantID)
		c.logger.Debug("participant left", zap.String("nickname", left.Nickname))
	}
}
