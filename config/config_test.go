package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Relay.MaxHistory != 1000 {
		t.Errorf("MaxHistory = %d", cfg.Relay.MaxHistory)
	}
	if cfg.Pipeline.SmoothingFrames != 5 || cfg.Pipeline.MovementThreshold != 8 {
		t.Errorf("pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Canvas.BrushRadius != 20 || cfg.Canvas.SubdivisionFactor != 0.3 {
		t.Errorf("brush = %v/%v", cfg.Canvas.BrushRadius, cfg.Canvas.SubdivisionFactor)
	}
	if cfg.Redis.Addr != "" || cfg.Database.Enabled() || cfg.AWS.ExportBucket != "" {
		t.Errorf("optional backends enabled by default")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MAX_HISTORY", "50")
	t.Setenv("CURSOR_INTERVAL", "250")
	t.Setenv("TICK_INTERVAL", "40ms")
	t.Setenv("MOVEMENT_THRESHOLD", "4.5")
	t.Setenv("PARTICIPANT_PALETTE", " #111111, #222222 ,")
	t.Setenv("MDNS_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Relay.MaxHistory != 50 {
		t.Errorf("MaxHistory = %d", cfg.Relay.MaxHistory)
	}
	if cfg.Relay.CursorInterval != 250*time.Millisecond {
		t.Errorf("CursorInterval = %v", cfg.Relay.CursorInterval)
	}
	if cfg.Pipeline.TickInterval != 40*time.Millisecond {
		t.Errorf("TickInterval = %v", cfg.Pipeline.TickInterval)
	}
	if cfg.Pipeline.MovementThreshold != 4.5 {
		t.Errorf("MovementThreshold = %v", cfg.Pipeline.MovementThreshold)
	}
	if p := cfg.Relay.Palette; len(p) != 2 || p[0] != "#111111" || p[1] != "#222222" {
		t.Errorf("Palette = %q", p)
	}
	if !cfg.Discovery.Enabled {
		t.Errorf("Discovery not enabled")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"MAX_HISTORY", "0"},
		{"CANVAS_LAYERS", "3"},
		{"CANVAS_LAYERS", "2"},
		{"SMOOTHING_FRAMES", "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load succeeded with %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "n", SSLMode: "disable"}
	if got, want := c.DSN(), "postgres://u:p@db:5432/n?sslmode=disable"; got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
	c.URL = "postgres://x"
	if c.DSN() != "postgres://x" {
		t.Errorf("URL not preferred")
	}
}
