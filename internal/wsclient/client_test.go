package wsclient

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/revealcanvas/backend/internal/pipeline"
	"github.com/revealcanvas/backend/internal/protocol"
	"github.com/revealcanvas/backend/internal/realtime"
)

// fakeCanvas counts dabs and resets.
type fakeCanvas struct {
	mu     sync.Mutex
	dabs   int
	resets int
}

func (f *fakeCanvas) Paint(x, y, radius, opacity float64) {
	f.mu.Lock()
	f.dabs++
	f.mu.Unlock()
}

func (f *fakeCanvas) Reset() {
	f.mu.Lock()
	f.dabs = 0
	f.resets++
	f.mu.Unlock()
}

func (f *fakeCanvas) counts() (dabs, resets int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dabs, f.resets
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startRelay(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := realtime.NewHub(realtime.DefaultConfig(), zap.NewNop())
	r := gin.New()
	r.GET("/ws", realtime.ServeWs(hub, zap.NewNop(), nil))
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
	})
	return srv.URL + "/ws"
}

type participant struct {
	client *Client
	pipe   *pipeline.Pipeline
	canvas *fakeCanvas
}

func connect(t *testing.T, ctx context.Context, url, session string) participant {
	t.Helper()
	cfg := DefaultConfig(url)
	cfg.Session = session
	c, err := Dial(ctx, cfg, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	canvas := &fakeCanvas{}
	p := pipeline.New(pipeline.DefaultConfig(), pipeline.SourceFunc(func() (pipeline.Point, bool) {
		return pipeline.Point{}, false
	}), canvas, c, zap.NewNop())
	c.Bind(p, canvas)
	go func() { _ = c.Run(ctx) }()
	if _, err := c.WaitWelcome(ctx); err != nil {
		t.Fatalf("WaitWelcome: %v", err)
	}
	return participant{client: c, pipe: p, canvas: canvas}
}

func TestStrokesReachOtherParticipants(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	url := startRelay(t)

	a := connect(t, ctx, url, "room")
	b := connect(t, ctx, url, "room")
	if a.client.Self().ID == b.client.Self().ID {
		t.Fatalf("participants share an id")
	}

	// 0,0 -> 12,0 at step 6 subdivides into three dabs
	if err := a.client.SendStroke(protocol.StrokeRecord{X1: 0, Y1: 0, X2: 12, Y2: 0}); err != nil {
		t.Fatalf("SendStroke: %v", err)
	}
	eventually(t, "remote stroke", func() bool {
		dabs, _ := b.canvas.counts()
		return dabs == 3
	})
	if dabs, _ := a.canvas.counts(); dabs != 0 {
		t.Errorf("sender painted its own echo: %d dabs", dabs)
	}

	eventually(t, "participant list", func() bool { return len(a.client.Participants()) == 2 })

	c := connect(t, ctx, url, "room")
	if dabs, _ := c.canvas.counts(); dabs != 3 {
		t.Errorf("late joiner replayed %d dabs, want 3", dabs)
	}
	if c.client.RemoteStrokes() != 1 {
		t.Errorf("late joiner RemoteStrokes = %d, want 1", c.client.RemoteStrokes())
	}
	if c.client.Brush() != protocol.DefaultBrush() {
		t.Errorf("brush = %+v", c.client.Brush())
	}
}

func TestResetClearsEveryCanvas(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	url := startRelay(t)

	a := connect(t, ctx, url, "reset")
	b := connect(t, ctx, url, "reset")

	if err := a.client.SendStroke(protocol.StrokeRecord{X1: 5, Y1: 5, X2: 5, Y2: 5}); err != nil {
		t.Fatalf("SendStroke: %v", err)
	}
	eventually(t, "stroke", func() bool { d, _ := b.canvas.counts(); return d > 0 })

	if err := a.client.SendReset(); err != nil {
		t.Fatalf("SendReset: %v", err)
	}
	for _, p := range []participant{a, b} {
		p := p
		eventually(t, "reset", func() bool { _, r := p.canvas.counts(); return r == 1 })
	}

	late := connect(t, ctx, url, "reset")
	if late.client.RemoteStrokes() != 0 {
		t.Errorf("late joiner after reset got %d strokes", late.client.RemoteStrokes())
	}
}

func TestCursorsTrackedAndForgotten(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	url := startRelay(t)

	a := connect(t, ctx, url, "cursors")
	b := connect(t, ctx, url, "cursors")

	if err := a.client.SendCursor(42, 24); err != nil {
		t.Fatalf("SendCursor: %v", err)
	}
	eventually(t, "cursor", func() bool { return len(b.client.Cursors().Visible()) == 1 })
	got := b.client.Cursors().Visible()[0]
	if got.X != 42 || got.Y != 24 || got.ParticipantID != a.client.Self().ID {
		t.Errorf("cursor = %+v", got)
	}

	a.client.Close()
	eventually(t, "cursor removal", func() bool { return len(b.client.Cursors().Visible()) == 0 })
	if err := a.client.SendCursor(1, 1); err != ErrClosed {
		t.Errorf("send after close = %v, want ErrClosed", err)
	}
}

func TestCursorTrackerExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := NewCursorTracker(clock, DefaultCursorTTL)
	tr.Update(protocol.CursorPosition{ParticipantID: "b", X: 1})
	tr.Update(protocol.CursorPosition{ParticipantID: "a", X: 2})
	tr.Update(protocol.CursorPosition{X: 3})

	if v := tr.Visible(); len(v) != 2 || v[0].ParticipantID != "a" {
		t.Fatalf("Visible() = %+v", v)
	}
	clock.Advance(2 * time.Second)
	tr.Update(protocol.CursorPosition{ParticipantID: "a", X: 4})
	clock.Advance(time.Second)
	v := tr.Visible()
	if len(v) != 1 || v[0].ParticipantID != "a" || v[0].X != 4 {
		t.Errorf("after 3s Visible() = %+v, want only a", v)
	}
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		raw, session string
		want         string
		wantErr      bool
	}{
		{"ws://h:1/ws", "", "ws://h:1/ws", false},
		{"http://h:1/ws", "room", "ws://h:1/ws?session=room", false},
		{"https://h/ws", "", "wss://h/ws", false},
		{"ftp://h/ws", "", "", true},
	}
	for _, tt := range tests {
		got, err := endpoint(tt.raw, tt.session)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("endpoint(%q, %q) = %q, %v", tt.raw, tt.session, got, err)
		}
	}
}
