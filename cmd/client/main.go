// Package main runs a headless participant: it joins a canvas session, draws along a scripted
// path through the input pipeline, and optionally writes the resulting surface to a PNG file.
package main

import (
	"context"
	"errors"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/revealcanvas/backend/config"
	"github.com/revealcanvas/backend/internal/discovery"
	"github.com/revealcanvas/backend/internal/pipeline"
	"github.com/revealcanvas/backend/internal/surface"
	"github.com/revealcanvas/backend/internal/wsclient"
)

const welcomeTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		newLogger("info").Fatal("load config", zap.Error(err))
	}
	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverURL := cfg.Client.ServerURL
	if serverURL == "" {
		ep, err := discovery.Find(cfg.Discovery.Service, "", cfg.Discovery.Timeout)
		if err != nil {
			logger.Fatal("discover server (set CLIENT_SERVER_URL to skip)", zap.Error(err))
		}
		serverURL = ep.WebSocketURL()
		logger.Info("server discovered", zap.String("instance", ep.Instance), zap.String("url", serverURL))
	}

	clock := clockwork.NewRealClock()
	wcfg := wsclient.DefaultConfig(serverURL)
	wcfg.Session = cfg.Client.Session
	client, err := wsclient.Dial(ctx, wcfg, clock, logger)
	if err != nil {
		logger.Fatal("connect", zap.Error(err))
	}

	surf, err := surface.New(surface.Config{
		Width:          cfg.Canvas.Width,
		Height:         cfg.Canvas.Height,
		Layers:         cfg.Canvas.Layers,
		MaskColor:      cfg.Canvas.MaskColor,
		RevealColor:    cfg.Canvas.RevealColor,
		BackgroundPath: cfg.Canvas.BackgroundPath,
	})
	if err != nil {
		logger.Fatal("surface", zap.Error(err))
	}

	w, h := float64(cfg.Canvas.Width), float64(cfg.Canvas.Height)
	source := pipeline.NewScriptedSource(clock, scriptedPath(cfg.Client.Path, w, h), cfg.Client.Jitter)
	p := pipeline.New(pipeline.Config{
		SmoothingFrames:   cfg.Pipeline.SmoothingFrames,
		MovementThreshold: cfg.Pipeline.MovementThreshold,
		Brush:             cfg.Canvas.Brush(),
		Width:             w,
		Height:            h,
		TickInterval:      cfg.Pipeline.TickInterval,
		CursorInterval:    cfg.Pipeline.CursorInterval,
	}, source, surf, client, logger)
	client.Bind(p, surf)

	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(ctx) }()

	welcomeCtx, cancel := context.WithTimeout(ctx, welcomeTimeout)
	self, err := client.WaitWelcome(welcomeCtx)
	cancel()
	if err != nil {
		logger.Fatal("welcome", zap.Error(err))
	}
	logger.Info("joined",
		zap.String("participant_id", self.ID),
		zap.String("nickname", self.Nickname),
		zap.String("session_id", cfg.Client.Session),
		zap.Int("history", client.RemoteStrokes()))

	var strokes int
	runner := pipeline.NewRunner(p, clock, cfg.Pipeline.TickInterval, logger)
	runner.OnTick(func(r pipeline.Result) {
		if r.Stroke != nil {
			strokes++
		}
	})
	if err := runner.Start(ctx); err != nil {
		logger.Fatal("start pipeline", zap.Error(err))
	}

	var timeout <-chan time.Time
	if cfg.Client.Duration > 0 {
		timeout = clock.After(cfg.Client.Duration)
	}
	select {
	case <-ctx.Done():
	case <-timeout:
	case err := <-runErr:
		if err != nil {
			logger.Warn("connection lost", zap.Error(err))
		}
	}

	runner.Stop()
	logger.Debug("session state",
		zap.Int("participants", len(client.Participants())),
		zap.Int("visible_cursors", len(client.Cursors().Visible())))
	client.Close()
	logger.Info("left",
		zap.Int("strokes_sent", strokes),
		zap.Int("strokes_received", client.RemoteStrokes()),
		zap.Int("dabs", surf.Dabs()))

	if cfg.Client.OutputPNG != "" {
		if err := writePNG(surf, cfg.Client.OutputPNG); err != nil {
			logger.Fatal("write png", zap.Error(err))
		}
		logger.Info("surface written", zap.String("path", cfg.Client.OutputPNG))
	}
}

func scriptedPath(name string, w, h float64) pipeline.PathFunc {
	switch name {
	case "circle":
		return pipeline.Circle(w/2, h/2, math.Min(w, h)/3, 4*time.Second)
	default:
		return pipeline.Lissajous(w, h, 3, 2, 8*time.Second)
	}
}

func writePNG(s *surface.Surface, path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	return s.EncodePNG(f)
}

func newLogger(level string) *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		config.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, _ := config.Build()
	return logger
}
