package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/revealcanvas/backend/internal/history"
	"github.com/revealcanvas/backend/internal/presence"
	"github.com/revealcanvas/backend/internal/protocol"
)

// ErrSessionClosed is returned when an event is submitted to a stopped session.
var ErrSessionClosed = errors.New("session closed")

type eventKind int

const (
	evJoin eventKind = iota
	evLeave
	evMessage
	evReclaim
)

type event struct {
	kind   eventKind
	client *Client
	msg    protocol.Message
	reply  chan bool
}

// Session is the relay authority of one canvas. Every mutation of its history and presence and
// every fan-out happens on the session's loop goroutine, one event at a time, so the order in
// which strokes are appended equals the order in which the loop received them.
type Session struct {
	ID       string
	cfg      Config
	history  *history.Store
	presence *presence.Registry
	activity ActivitySink
	clock    clockwork.Clock
	logger   *zap.Logger

	// owned by the loop
	conns map[string]*Client

	// stopped is set under the write lock so that no submit can enqueue once the loop is told
	// to stop.
	mu      sync.RWMutex
	stopped bool

	events chan event
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newSession(parent context.Context, id string, cfg Config, activity ActivitySink, clock clockwork.Clock, logger *zap.Logger) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		ID:       id,
		cfg:      cfg,
		history:  history.NewStore(cfg.MaxHistory),
		presence: presence.NewRegistry(cfg.PresenceOptions...),
		activity: activity,
		clock:    clock,
		logger:   logger.With(zap.String("session_id", id)),
		conns:    make(map[string]*Client),
		events:   make(chan event, cfg.EventBuffer),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Session) submit(ev event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrSessionClosed
	}
	select {
	case s.events <- ev:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

// Join activates a connecting client.
func (s *Session) Join(c *Client) error { return s.submit(event{kind: evJoin, client: c}) }

// Leave disconnects a client. Leaving twice is harmless.
func (s *Session) Leave(c *Client) error { return s.submit(event{kind: evLeave, client: c}) }

// Handle submits an inbound message from c.
func (s *Session) Handle(c *Client, msg protocol.Message) error {
	return s.submit(event{kind: evMessage, client: c, msg: msg})
}

// History returns a snapshot of the stroke history.
func (s *Session) History() []protocol.StrokeRecord { return s.history.Snapshot() }

// Participants returns the live participants in join order.
func (s *Session) Participants() []protocol.Participant { return s.presence.List() }

// Done is closed when the session loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// stop rejects further events and ends the loop, which disconnects every client.
func (s *Session) stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
}

// stopIfIdle stops the session when it has no connections and no history. The check runs on
// the loop behind every event already queued, and no event can be queued while it runs.
func (s *Session) stopIfIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return true
	}
	reply := make(chan bool, 1)
	select {
	case s.events <- event{kind: evReclaim, reply: reply}:
	case <-s.done:
		s.stopped = true
		return true
	}
	select {
	case idle := <-reply:
		if !idle {
			return false
		}
	case <-s.done:
	}
	s.stopped = true
	s.cancel()
	return true
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return
		case ev := <-s.events:
			s.dispatch(ev)
		}
	}
}

// shutdown disconnects every client, recording a leave for the active ones, and releases
// clients whose events were still queued.
func (s *Session) shutdown() {
	for _, c := range s.conns {
		p := c.participant
		s.presence.Leave(p.ID)
		c.state = StateDisconnected
		c.close()
		s.record(ActivityLeave, p, s.history.Len())
	}
	s.conns = nil
	for {
		select {
		case ev := <-s.events:
			if ev.client != nil {
				ev.client.close()
			}
			if ev.reply != nil {
				ev.reply <- false
			}
		default:
			s.logger.Debug("session loop stopped")
			return
		}
	}
}

func (s *Session) dispatch(ev event) {
	switch ev.kind {
	case evJoin:
		s.onJoin(ev.client)
	case evLeave:
		s.onLeave(ev.client)
	case evReclaim:
		ev.reply <- len(s.conns) == 0 && s.history.Len() == 0
	case evMessage:
		if !s.active(ev.client) {
			return
		}
		switch ev.msg.Event {
		case protocol.EventStroke:
			s.onStroke(ev.client, ev.msg)
		case protocol.EventReset:
			s.onReset(ev.client)
		case protocol.EventCursorPosition:
			s.onCursor(ev.client, ev.msg)
		default:
			s.logger.Debug("ignoring unknown event",
				zap.String("participant_id", ev.client.participant.ID),
				zap.String("event", ev.msg.Event))
		}
	}
}

func (s *Session) active(c *Client) bool {
	return c.state == StateActive && s.conns[c.participant.ID] == c
}

func (s *Session) onJoin(c *Client) {
	if c.state != StateConnecting {
		return
	}
	p := s.presence.Join()
	c.participant = p
	c.state = StateActive
	s.conns[p.ID] = c

	welcome := protocol.Welcome{
		ParticipantID: p.ID,
		Color:         p.Color,
		Nickname:      p.Nickname,
		History:       s.history.Snapshot(),
		Brush:         s.cfg.Brush,
	}
	var failed []*Client
	if !s.deliver(c, s.message(protocol.EventWelcome, welcome)) {
		failed = append(failed, c)
	}
	failed = append(failed, s.broadcast(s.message(protocol.EventParticipantJoined, p), p.ID)...)
	failed = append(failed, s.broadcast(s.participantList(), "")...)

	s.logger.Info("participant joined",
		zap.String("participant_id", p.ID),
		zap.String("nickname", p.Nickname),
		zap.Int("history", len(welcome.History)),
		zap.Int("participants", len(s.conns)))
	s.record(ActivityJoin, p, s.history.Len())
	s.dropAll(failed)
}

func (s *Session) onLeave(c *Client) {
	if !s.active(c) {
		if c.state == StateConnecting {
			c.state = StateDisconnected
			c.close()
		}
		return
	}
	s.dropAll([]*Client{c})
}

// dropAll disconnects clients and announces their departure. A failed delivery while
// announcing disconnects that client too.
func (s *Session) dropAll(pending []*Client) {
	for len(pending) > 0 {
		c := pending[0]
		pending = pending[1:]
		if !s.active(c) {
			continue
		}
		p := c.participant
		delete(s.conns, p.ID)
		s.presence.Leave(p.ID)
		c.state = StateDisconnected
		c.close()

		left := protocol.ParticipantLeft{ParticipantID: p.ID, Nickname: p.Nickname}
		pending = append(pending, s.broadcast(s.message(protocol.EventParticipantLeft, left), "")...)
		pending = append(pending, s.broadcast(s.participantList(), "")...)

		s.logger.Info("participant left",
			zap.String("participant_id", p.ID),
			zap.String("nickname", p.Nickname),
			zap.Int("participants", len(s.conns)))
		s.record(ActivityLeave, p, s.history.Len())
	}
}

func (s *Session) onStroke(c *Client, msg protocol.Message) {
	rec, err := protocol.DecodeStroke(msg.Data)
	if err != nil {
		s.logger.Warn("dropping malformed stroke",
			zap.String("participant_id", c.participant.ID),
			zap.Error(err))
		return
	}
	if evicted := s.history.Append(rec); evicted > 0 {
		s.logger.Debug("history full, evicted oldest", zap.Int("evicted", evicted))
	}
	s.dropAll(s.broadcast(msg, c.participant.ID))
}

func (s *Session) onReset(c *Client) {
	cleared := s.history.Len()
	s.history.Clear()
	s.logger.Info("canvas reset", zap.String("participant_id", c.participant.ID), zap.Int("cleared", cleared))
	s.record(ActivityReset, c.participant, cleared)
	s.dropAll(s.broadcast(s.message(protocol.EventReset, nil), ""))
}

func (s *Session) onCursor(c *Client, msg protocol.Message) {
	now := s.clock.Now()
	if !c.lastCursor.IsZero() && now.Sub(c.lastCursor) < s.cfg.CursorInterval {
		return
	}
	pos, err := protocol.DecodeCursor(msg.Data)
	if err != nil {
		s.logger.Debug("dropping malformed cursor",
			zap.String("participant_id", c.participant.ID),
			zap.Error(err))
		return
	}
	c.lastCursor = now
	pos.ParticipantID = c.participant.ID
	pos.Color = c.participant.Color
	pos.Nickname = c.participant.Nickname
	s.dropAll(s.broadcast(s.message(protocol.EventCursorPosition, pos), c.participant.ID))
}

func (s *Session) participantList() protocol.Message {
	return s.message(protocol.EventParticipantList, protocol.ParticipantList{Participants: s.presence.List()})
}

func (s *Session) message(event string, payload interface{}) protocol.Message {
	msg, err := protocol.NewMessage(event, payload)
	if err != nil {
		s.logger.Error("encode message", zap.String("event", event), zap.Error(err))
	}
	return msg
}

// broadcast enqueues msg to every active client except the one with id except and returns
// the clients whose send buffer was full.
func (s *Session) broadcast(msg protocol.Message, except string) []*Client {
	var failed []*Client
	for id, c := range s.conns {
		if id == except {
			continue
		}
		if !s.deliver(c, msg) {
			failed = append(failed, c)
		}
	}
	return failed
}

func (s *Session) deliver(c *Client, msg protocol.Message) bool {
	select {
	case c.send <- msg:
		return true
	default:
		s.logger.Warn("send buffer full, disconnecting",
			zap.String("participant_id", c.participant.ID),
			zap.String("event", msg.Event))
		return false
	}
}

func (s *Session) record(kind ActivityKind, p protocol.Participant, strokes int) {
	if s.activity == nil {
		return
	}
	s.activity.Record(Activity{
		Kind:          kind,
		SessionID:     s.ID,
		ParticipantID: p.ID,
		Nickname:      p.Nickname,
		Color:         p.Color,
		Strokes:       strokes,
		At:            s.clock.Now().UTC().Truncate(time.Millisecond),
	})
}
