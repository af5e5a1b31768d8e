package discovery

import (
	"net"
	"sort"
	"testing"
)

func TestInfoRoundTrip(t *testing.T) {
	txt := encodeInfo(map[string]string{"path": "/ws", "session": "default"})
	sort.Strings(txt)
	if len(txt) != 2 || txt[0] != "path=/ws" || txt[1] != "session=default" {
		t.Fatalf("encodeInfo = %q", txt)
	}
	m := decodeInfo(append(txt, "flag"))
	if m["path"] != "/ws" || m["session"] != "default" {
		t.Errorf("decodeInfo = %v", m)
	}
	if v, ok := m["flag"]; !ok || v != "" {
		t.Errorf("bare key = %q, %v", v, ok)
	}
}

func TestInstanceName(t *testing.T) {
	tests := []struct {
		name, want string
	}{
		{"studio._revealcanvas._tcp.local.", "studio"},
		{`my\ laptop._revealcanvas._tcp.local.`, "my laptop"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := instanceName(tt.name, DefaultService); got != tt.want {
			t.Errorf("instanceName(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestWebSocketURL(t *testing.T) {
	e := Endpoint{Addr: net.IPv4(192, 168, 1, 20), Port: 8080}
	if got := e.WebSocketURL(); got != "ws://192.168.1.20:8080/ws" {
		t.Errorf("WebSocketURL() = %q", got)
	}
	e.Info = map[string]string{"path": "/canvas"}
	if got := e.WebSocketURL(); got != "ws://192.168.1.20:8080/canvas" {
		t.Errorf("WebSocketURL() = %q", got)
	}
}
