// Package main runs the reveal canvas relay: the WebSocket session server, the canvas HTTP
// views, the optional activity log, and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/revealcanvas/backend/config"
	"github.com/revealcanvas/backend/internal/canvas"
	"github.com/revealcanvas/backend/internal/discovery"
	"github.com/revealcanvas/backend/internal/middleware"
	"github.com/revealcanvas/backend/internal/pipeline"
	"github.com/revealcanvas/backend/internal/presence"
	"github.com/revealcanvas/backend/internal/realtime"
	"github.com/revealcanvas/backend/internal/sessionlog"
	"github.com/revealcanvas/backend/internal/surface"
	"github.com/revealcanvas/backend/pkg/database"
	"github.com/revealcanvas/backend/pkg/queue"
	"github.com/revealcanvas/backend/pkg/redis"
	"github.com/revealcanvas/backend/pkg/response"
	"github.com/revealcanvas/backend/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		newLogger("info").Fatal("load config", zap.Error(err))
	}
	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()

	ctx := context.Background()

	// Activity log: Redis queue drained by cmd/worker, or direct Postgres writes, or nothing.
	var (
		rdb        *redis.Client
		sessionLog *sessionlog.Repository
		writer     sessionlog.Writer
	)
	if cfg.Database.Enabled() {
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool, logger); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		sessionLog = sessionlog.NewRepository(pool)
		writer = sessionlog.RepositoryWriter(sessionLog)
	}
	if cfg.Redis.Addr != "" {
		rdb, err = redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		writer = sessionlog.QueueWriter(queue.NewQueue(rdb.Client, logger))
	}

	var s3Client *storage.S3
	if cfg.AWS.ExportBucket != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ExportBucket:         cfg.AWS.ExportBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
			s3Client = nil
		}
	}

	// Relay
	relayCfg := realtime.DefaultConfig()
	relayCfg.MaxHistory = cfg.Relay.MaxHistory
	relayCfg.MaxSessions = cfg.Relay.MaxSessions
	relayCfg.SendBuffer = cfg.Relay.SendBuffer
	relayCfg.EventBuffer = cfg.Relay.EventBuffer
	relayCfg.CursorInterval = cfg.Relay.CursorInterval
	relayCfg.Brush = cfg.Canvas.Brush()
	if len(cfg.Relay.Palette) > 0 {
		relayCfg.PresenceOptions = append(relayCfg.PresenceOptions, presence.WithPalette(cfg.Relay.Palette))
	}

	hubOpts := []realtime.Option{}
	publisherCtx, publisherCancel := context.WithCancel(context.Background())
	publisherDone := make(chan struct{})
	if writer != nil {
		publisher := sessionlog.NewPublisher(writer, cfg.Relay.EventBuffer, logger)
		hubOpts = append(hubOpts, realtime.WithActivitySink(publisher))
		go func() {
			defer close(publisherDone)
			publisher.Run(publisherCtx)
		}()
		logger.Info("activity log enabled", zap.Bool("queued", rdb != nil))
	} else {
		close(publisherDone)
	}
	hub := realtime.NewHub(relayCfg, logger, hubOpts...)

	// Canvas views
	surfaceCfg := surface.Config{
		Width:          cfg.Canvas.Width,
		Height:         cfg.Canvas.Height,
		Layers:         cfg.Canvas.Layers,
		MaskColor:      cfg.Canvas.MaskColor,
		RevealColor:    cfg.Canvas.RevealColor,
		BackgroundPath: cfg.Canvas.BackgroundPath,
	}
	pipelineCfg := pipeline.Config{
		SmoothingFrames:   cfg.Pipeline.SmoothingFrames,
		MovementThreshold: cfg.Pipeline.MovementThreshold,
		Brush:             relayCfg.Brush,
		Width:             float64(cfg.Canvas.Width),
		Height:            float64(cfg.Canvas.Height),
		TickInterval:      cfg.Pipeline.TickInterval,
		CursorInterval:    cfg.Pipeline.CursorInterval,
	}
	var exporter canvas.Exporter
	if s3Client != nil {
		exporter = s3Client
	}
	canvasHandler := canvas.NewHandler(hub, surfaceCfg, pipelineCfg, exporter, clockwork.NewRealClock(), logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger, "/health"))

	// Health
	router.GET("/health", func(c *gin.Context) {
		status := gin.H{"status": "ok", "sessions": len(hub.SessionIDs())}
		if rdb != nil {
			if err := rdb.Healthy(c.Request.Context()); err != nil {
				response.ServiceUnavailable(c, "redis: "+err.Error())
				return
			}
		}
		response.OK(c, status)
	})

	canvasHandler.Register(router)
	if sessionLog != nil {
		router.GET("/sessions/:id/attendees", sessionlog.NewHandler(sessionLog).GetAttendees)
	}

	// WebSocket (?session= selects the canvas; default session when absent)
	router.GET("/ws", realtime.ServeWs(hub, logger, middleware.AllowOrigin(cfg.Server.CORSAllowedOrigins)))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	var advertiser *discovery.Advertiser
	if cfg.Discovery.Enabled {
		port, _ := strconv.Atoi(cfg.Server.Port)
		advertiser, err = discovery.Advertise(cfg.Discovery.Instance, cfg.Discovery.Service, port,
			map[string]string{"path": "/ws"}, logger)
		if err != nil {
			logger.Warn("mDNS disabled", zap.Error(err))
		}
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	if err := advertiser.Shutdown(); err != nil {
		logger.Warn("mDNS shutdown", zap.Error(err))
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	// WebSocket connections are hijacked and not tracked by Shutdown.
	hub.Close()
	publisherCancel()
	<-publisherDone
	logger.Info("server stopped")
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
