package realtime

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/revealcanvas/backend/internal/history"
	"github.com/revealcanvas/backend/internal/presence"
	"github.com/revealcanvas/backend/internal/protocol"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30 * time.Second
	PongWait     = 60 * time.Second
	WriteWait    = 10 * time.Second

	DefaultCursorInterval = 100 * time.Millisecond
)

// ErrTooManySessions is returned when the hub refuses to open another session.
var ErrTooManySessions = errors.New("too many sessions")

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidSessionID reports whether id can name a session.
func ValidSessionID(id string) bool { return sessionIDPattern.MatchString(id) }

// Config tunes the relay.
type Config struct {
	MaxHistory      int
	Brush           protocol.BrushConfig
	CursorInterval  time.Duration
	EventBuffer     int
	SendBuffer      int
	MaxSessions     int
	MaxMessageSize  int64
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	PresenceOptions []presence.Option
}

// DefaultConfig returns the relay defaults.
func DefaultConfig() Config {
	return Config{
		MaxHistory:     history.DefaultMaxHistory,
		Brush:          protocol.DefaultBrush(),
		CursorInterval: DefaultCursorInterval,
		EventBuffer:    256,
		SendBuffer:     256,
		MaxSessions:    64,
		MaxMessageSize: 65536,
		PingInterval:   PingInterval,
		PongWait:       PongWait,
		WriteWait:      WriteWait,
	}
}

// Hub maintains session_id -> Session. Sessions are created on first use and keep their
// history while nobody is connected. At the session limit, sessions with no participants and
// no history are reclaimed to make room.
type Hub struct {
	cfg      Config
	clock    clockwork.Clock
	activity ActivitySink
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// Option configures a Hub.
type Option func(*Hub)

// WithClock replaces the wall clock used for cursor throttling and activity timestamps.
func WithClock(c clockwork.Clock) Option { return func(h *Hub) { h.clock = c } }

// WithActivitySink forwards join, leave and reset activity to sink.
func WithActivitySink(sink ActivitySink) Option { return func(h *Hub) { h.activity = sink } }

// NewHub creates a new hub.
func NewHub(cfg Config, logger *zap.Logger, opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:      cfg,
		clock:    clockwork.NewRealClock(),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Config returns the relay configuration.
func (h *Hub) Config() Config { return h.cfg }

// Session returns the session with id, creating it if needed.
func (h *Hub) Session(id string) (*Session, error) {
	h.mu.RLock()
	s, ok := h.sessions[id]
	closed := h.closed
	h.mu.RUnlock()
	if ok {
		return s, nil
	}
	if closed {
		return nil, ErrSessionClosed
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrSessionClosed
	}
	if s, ok := h.sessions[id]; ok {
		return s, nil
	}
	if h.cfg.MaxSessions > 0 && len(h.sessions) >= h.cfg.MaxSessions && !h.reclaimLocked() {
		return nil, ErrTooManySessions
	}
	s = newSession(h.ctx, id, h.cfg, h.activity, h.clock, h.logger)
	h.sessions[id] = s
	h.logger.Info("session opened", zap.String("session_id", id))
	return s, nil
}

// reclaimLocked stops and forgets the first idle session it finds. h.mu must be held.
func (h *Hub) reclaimLocked() bool {
	for id, s := range h.sessions {
		if s.stopIfIdle() {
			delete(h.sessions, id)
			h.logger.Info("idle session reclaimed", zap.String("session_id", id))
			return true
		}
	}
	return false
}

// Lookup returns an existing session.
func (h *Hub) Lookup(id string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

// SessionIDs returns the open session ids, sorted.
func (h *Hub) SessionIDs() []string {
	h.mu.RLock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Close stops every session loop and disconnects their clients.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.stop()
	}
	h.cancel()
	for _, s := range sessions {
		<-s.Done()
	}
}
