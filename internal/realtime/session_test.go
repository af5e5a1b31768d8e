package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/revealcanvas/backend/internal/protocol"
)

type recordingSink struct {
	ch chan Activity
}

func (r *recordingSink) Record(a Activity) {
	select {
	case r.ch <- a:
	default:
	}
}

func newTestSession(t *testing.T, mutate func(*Config)) (*Session, *clockwork.FakeClock, *recordingSink) {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	clock := clockwork.NewFakeClock()
	sink := &recordingSink{ch: make(chan Activity, 64)}
	hub := NewHub(cfg, zap.NewNop(), WithClock(clock), WithActivitySink(sink))
	t.Cleanup(hub.Close)
	s, err := hub.Session("test")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	return s, clock, sink
}

func recv(t *testing.T, c *Client) (protocol.Message, bool) {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		return msg, ok
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
		return protocol.Message{}, false
	}
}

// nextContent returns the next message that is not a presence update.
func nextContent(t *testing.T, c *Client) protocol.Message {
	t.Helper()
	for {
		msg, ok := recv(t, c)
		if !ok {
			t.Fatalf("send channel closed")
		}
		switch msg.Event {
		case protocol.EventParticipantJoined, protocol.EventParticipantList, protocol.EventParticipantLeft:
			continue
		}
		return msg
	}
}

func joinClient(t *testing.T, s *Session, buffer int) (*Client, protocol.Welcome) {
	t.Helper()
	c := newClient(s, nil, buffer, zap.NewNop())
	if err := s.Join(c); err != nil {
		t.Fatalf("Join: %v", err)
	}
	msg, ok := recv(t, c)
	if !ok || msg.Event != protocol.EventWelcome {
		t.Fatalf("first message = %q (open=%v), want welcome", msg.Event, ok)
	}
	var w protocol.Welcome
	if err := json.Unmarshal(msg.Data, &w); err != nil {
		t.Fatalf("decode welcome: %v", err)
	}
	return c, w
}

// assertNoContent fails if any stroke, reset or cursor is queued for c.
func assertNoContent(t *testing.T, c *Client) {
	t.Helper()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			switch msg.Event {
			case protocol.EventStroke, protocol.EventReset, protocol.EventCursorPosition:
				t.Errorf("unexpected %q queued", msg.Event)
			}
		default:
			return
		}
	}
}

func send(t *testing.T, s *Session, c *Client, event string, payload interface{}) {
	t.Helper()
	msg, err := protocol.NewMessage(event, payload)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if err := s.Handle(c, msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}
}

func TestWelcomeCarriesIdentityAndBrush(t *testing.T) {
	s, _, _ := newTestSession(t, nil)
	_, w := joinClient(t, s, 16)
	if w.ParticipantID == "" || w.Color == "" || w.Nickname == "" {
		t.Errorf("welcome identity incomplete: %+v", w)
	}
	if len(w.History) != 0 {
		t.Errorf("history = %v, want empty", w.History)
	}
	if w.Brush != protocol.DefaultBrush() {
		t.Errorf("brush = %+v", w.Brush)
	}
}

func TestResetThenLateJoin(t *testing.T) {
	s, _, _ := newTestSession(t, nil)
	a, _ := joinClient(t, s, 64)
	c, _ := joinClient(t, s, 64)

	s1 := protocol.StrokeRecord{X1: 1, Y1: 2, X2: 3, Y2: 4}
	send(t, s, a, protocol.EventStroke, s1)
	send(t, s, a, protocol.EventReset, nil)

	_, wb := joinClient(t, s, 64)
	if len(wb.History) != 0 {
		t.Errorf("late joiner history = %v, want empty", wb.History)
	}

	if msg := nextContent(t, c); msg.Event != protocol.EventStroke {
		t.Fatalf("C first content = %q, want stroke", msg.Event)
	} else if rec, err := protocol.DecodeStroke(msg.Data); err != nil || rec != s1 {
		t.Errorf("C stroke = %+v (%v), want %+v", rec, err, s1)
	}
	if msg := nextContent(t, c); msg.Event != protocol.EventReset {
		t.Fatalf("C second content = %q, want reset", msg.Event)
	}
	// B's welcome was delivered after both, so anything else for C is already queued
	assertNoContent(t, c)

	// the sender sees its own reset but never its own stroke
	if msg := nextContent(t, a); msg.Event != protocol.EventReset {
		t.Errorf("A first content = %q, want reset", msg.Event)
	}
}

func TestLateJoinerReceivesHistoryInOrder(t *testing.T) {
	s, _, _ := newTestSession(t, func(cfg *Config) { cfg.MaxHistory = 3 })
	a, _ := joinClient(t, s, 64)
	for i := 1; i <= 5; i++ {
		send(t, s, a, protocol.EventStroke, protocol.StrokeRecord{X1: float64(i), Y1: 0, X2: float64(i), Y2: 0})
	}
	_, w := joinClient(t, s, 64)
	if len(w.History) != 3 {
		t.Fatalf("history len = %d, want 3", len(w.History))
	}
	for i, rec := range w.History {
		if want := float64(i + 3); rec.X1 != want {
			t.Errorf("history[%d].X1 = %v, want %v", i, rec.X1, want)
		}
	}
}

func TestMalformedStrokeDropped(t *testing.T) {
	s, _, _ := newTestSession(t, nil)
	a, _ := joinClient(t, s, 64)
	c, _ := joinClient(t, s, 64)

	if err := s.Handle(a, protocol.Message{Event: protocol.EventStroke, Data: json.RawMessage(`{"x1":1}`)}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	good := protocol.StrokeRecord{X1: 5, Y1: 5, X2: 6, Y2: 6}
	send(t, s, a, protocol.EventStroke, good)

	msg := nextContent(t, c)
	rec, err := protocol.DecodeStroke(msg.Data)
	if err != nil || rec != good {
		t.Errorf("relayed %+v (%v), want %+v", rec, err, good)
	}
	if got := len(s.History()); got != 1 {
		t.Errorf("history len = %d, want 1", got)
	}
}

// collectCursors reads cursor updates until the next reset.
func collectCursors(t *testing.T, c *Client) []protocol.CursorPosition {
	t.Helper()
	var got []protocol.CursorPosition
	for {
		msg := nextContent(t, c)
		if msg.Event == protocol.EventReset {
			return got
		}
		var pos protocol.CursorPosition
		if err := json.Unmarshal(msg.Data, &pos); err != nil {
			t.Fatalf("decode cursor: %v", err)
		}
		got = append(got, pos)
	}
}

func TestCursorThrottledAndAnnotated(t *testing.T) {
	s, clock, _ := newTestSession(t, nil)
	a, wa := joinClient(t, s, 64)
	c, _ := joinClient(t, s, 64)

	send(t, s, a, protocol.EventCursorPosition, map[string]float64{"x": 10, "y": 20})
	send(t, s, a, protocol.EventCursorPosition, map[string]float64{"x": 11, "y": 21})
	send(t, s, a, protocol.EventReset, nil)
	first := collectCursors(t, c)
	if len(first) != 1 || first[0].X != 10 {
		t.Fatalf("first window relayed %+v, want only x=10", first)
	}
	if first[0].ParticipantID != wa.ParticipantID || first[0].Color != wa.Color || first[0].Nickname != wa.Nickname {
		t.Errorf("cursor not annotated with sender: %+v", first[0])
	}

	clock.Advance(DefaultCursorInterval)
	send(t, s, a, protocol.EventCursorPosition, map[string]float64{"x": 12, "y": 22})
	send(t, s, a, protocol.EventReset, nil)
	second := collectCursors(t, c)
	if len(second) != 1 || second[0].X != 12 {
		t.Errorf("second window relayed %+v, want only x=12", second)
	}
}

func TestFullSendBufferDisconnects(t *testing.T) {
	s, _, sink := newTestSession(t, nil)
	a, _ := joinClient(t, s, 64)

	// room for the welcome only; the participant list that follows overflows it
	slow := newClient(s, nil, 1, zap.NewNop())
	if err := s.Join(slow); err != nil {
		t.Fatalf("Join: %v", err)
	}

	var left protocol.ParticipantLeft
	for {
		msg, ok := recv(t, a)
		if !ok {
			t.Fatalf("A disconnected")
		}
		if msg.Event == protocol.EventParticipantLeft {
			if err := json.Unmarshal(msg.Data, &left); err != nil {
				t.Fatalf("decode left: %v", err)
			}
			break
		}
	}

	msg, ok := recv(t, slow)
	if !ok || msg.Event != protocol.EventWelcome {
		t.Fatalf("slow client first message = %q (open=%v)", msg.Event, ok)
	}
	var w protocol.Welcome
	_ = json.Unmarshal(msg.Data, &w)
	if left.ParticipantID != w.ParticipantID {
		t.Errorf("left = %q, want %q", left.ParticipantID, w.ParticipantID)
	}
	if _, ok := recv(t, slow); ok {
		t.Errorf("slow client still open")
	}
	if n := len(s.Participants()); n != 1 {
		t.Errorf("participants = %d, want 1", n)
	}

	kinds := map[ActivityKind]int{}
	for i := 0; i < 3; i++ {
		select {
		case a := <-sink.ch:
			kinds[a.Kind]++
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for activity, have %v", kinds)
		}
	}
	if kinds[ActivityJoin] != 2 || kinds[ActivityLeave] != 1 {
		t.Errorf("activity = %v, want 2 joins and 1 leave", kinds)
	}
}

func TestMessagesFromDepartedClientIgnored(t *testing.T) {
	s, _, _ := newTestSession(t, nil)
	a, _ := joinClient(t, s, 64)
	b, _ := joinClient(t, s, 64)

	if err := s.Leave(a); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if err := s.Leave(a); err != nil {
		t.Fatalf("second Leave: %v", err)
	}
	send(t, s, a, protocol.EventStroke, protocol.StrokeRecord{X1: 1, Y1: 1, X2: 2, Y2: 2})
	send(t, s, b, protocol.EventReset, nil)

	if msg := nextContent(t, b); msg.Event != protocol.EventReset {
		t.Errorf("B content = %q, want reset", msg.Event)
	}
	if got := len(s.History()); got != 0 {
		t.Errorf("history len = %d, want 0", got)
	}
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	sink := &recordingSink{ch: make(chan Activity, 16)}
	hub := NewHub(DefaultConfig(), zap.NewNop(), WithActivitySink(sink))
	s, err := hub.Session("closing")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	c, w := joinClient(t, s, 16)
	hub.Close()

	for {
		if _, ok := recv(t, c); !ok {
			break
		}
	}
	if err := s.Join(newClient(s, nil, 4, zap.NewNop())); err != ErrSessionClosed {
		t.Errorf("Join after close = %v, want ErrSessionClosed", err)
	}
	if _, err := hub.Session("other"); err != ErrSessionClosed {
		t.Errorf("Session after close = %v, want ErrSessionClosed", err)
	}

	var kinds []ActivityKind
	for len(kinds) < 2 {
		select {
		case a := <-sink.ch:
			if a.ParticipantID != w.ParticipantID {
				t.Errorf("activity for %q, want %q", a.ParticipantID, w.ParticipantID)
			}
			kinds = append(kinds, a.Kind)
		case <-time.After(2 * time.Second):
			t.Fatalf("activity = %v, want join then leave", kinds)
		}
	}
	if kinds[0] != ActivityJoin || kinds[1] != ActivityLeave {
		t.Errorf("activity = %v, want join then leave", kinds)
	}
}

func TestHubSessionLimitAndIDs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSessions = 2
	hub := NewHub(cfg, zap.NewNop())
	defer hub.Close()

	a, err := hub.Session("a")
	if err != nil {
		t.Fatalf("Session(a): %v", err)
	}
	b, err := hub.Session("b")
	if err != nil {
		t.Fatalf("Session(b): %v", err)
	}
	if again, err := hub.Session("a"); err != nil || again != a {
		t.Fatalf("Session(a) again = %p, %v", again, err)
	}
	if ids := hub.SessionIDs(); len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("SessionIDs() = %v", ids)
	}

	// a has a participant, b has history but nobody connected: neither is reclaimable
	ca, _ := joinClient(t, a, 16)
	cb, _ := joinClient(t, b, 16)
	send(t, b, cb, protocol.EventStroke, protocol.StrokeRecord{X1: 1, Y1: 1, X2: 9, Y2: 9})
	if err := b.Leave(cb); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if _, err := hub.Session("c"); err != ErrTooManySessions {
		t.Errorf("third session err = %v, want ErrTooManySessions", err)
	}

	// once a is empty it makes room
	if err := a.Leave(ca); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if _, err := hub.Session("c"); err != nil {
		t.Fatalf("Session(c) after a emptied: %v", err)
	}
	if _, ok := hub.Lookup("a"); ok {
		t.Errorf("idle session a still registered")
	}
	if got := b.History(); len(got) != 1 {
		t.Errorf("session b history = %v, want kept", got)
	}
	if ids := hub.SessionIDs(); len(ids) != 2 || ids[0] != "b" || ids[1] != "c" {
		t.Errorf("SessionIDs() = %v, want [b c]", ids)
	}
	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("reclaimed session loop still running")
	}
	if err := a.Join(newClient(a, nil, 4, zap.NewNop())); err != ErrSessionClosed {
		t.Errorf("Join on reclaimed session = %v, want ErrSessionClosed", err)
	}

	tests := []struct {
		id   string
		want bool
	}{
		{"default", true},
		{"room_1-A", true},
		{"", false},
		{"has space", false},
		{"../etc", false},
	}
	for _, tt := range tests {
		if got := ValidSessionID(tt.id); got != tt.want {
			t.Errorf("ValidSessionID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}
