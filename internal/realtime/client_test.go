package realtime

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/revealcanvas/backend/internal/protocol"
)

func dialTestServer(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, event string) protocol.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read waiting for %q: %v", event, err)
		}
		if msg.Event == event {
			return msg
		}
	}
}

func TestServeWsRelaysStrokes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(DefaultConfig(), zap.NewNop())
	defer hub.Close()

	r := gin.New()
	r.GET("/ws", ServeWs(hub, zap.NewNop(), nil))
	srv := httptest.NewServer(r)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?session=itest"

	a := dialTestServer(t, url)
	readUntil(t, a, protocol.EventWelcome)
	b := dialTestServer(t, url)
	readUntil(t, b, protocol.EventWelcome)

	// a garbage frame is dropped without closing the connection
	if err := a.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	want := protocol.StrokeRecord{X1: 10, Y1: 20, X2: 30, Y2: 40}
	msg, _ := protocol.NewMessage(protocol.EventStroke, want)
	if err := a.WriteJSON(msg); err != nil {
		t.Fatalf("write stroke: %v", err)
	}

	got := readUntil(t, b, protocol.EventStroke)
	rec, err := protocol.DecodeStroke(got.Data)
	if err != nil || rec != want {
		t.Errorf("relayed %+v (%v), want %+v", rec, err, want)
	}

	s, ok := hub.Lookup("itest")
	if !ok {
		t.Fatalf("session not registered")
	}
	if h := s.History(); len(h) != 1 || h[0] != want {
		t.Errorf("history = %v", h)
	}

	_ = a.Close()
	readUntil(t, b, protocol.EventParticipantLeft)
}

func TestServeWsRejectsBadSessionID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(DefaultConfig(), zap.NewNop())
	defer hub.Close()

	r := gin.New()
	r.GET("/ws", ServeWs(hub, zap.NewNop(), nil))
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?session=bad%20id"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("dial succeeded")
	}
	if resp == nil || resp.StatusCode != 400 {
		t.Errorf("response = %v, want 400", resp)
	}
}
