package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/revealcanvas/backend/internal/protocol"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Relay     RelayConfig
	Canvas    CanvasConfig
	Pipeline  PipelineConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	AWS       AWSConfig
	Discovery DiscoveryConfig
	Client    ClientConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
	LogLevel           string
}

// RelayConfig tunes the session relay.
type RelayConfig struct {
	MaxHistory     int
	MaxSessions    int
	SendBuffer     int
	EventBuffer    int
	CursorInterval time.Duration
	Palette        []string // comma-separated hex colours; empty = built-in palette
}

// CanvasConfig describes the reveal surface and the brush announced to clients.
type CanvasConfig struct {
	Width             int
	Height            int
	Layers            int // 1 = solid reveal colour, 2 = background image
	MaskColor         string
	RevealColor       string
	BackgroundPath    string
	BrushRadius       float64
	BrushOpacity      float64
	SubdivisionFactor float64
}

// PipelineConfig holds the client-side input pipeline parameters.
type PipelineConfig struct {
	SmoothingFrames   int
	MovementThreshold float64
	TickInterval      time.Duration
	CursorInterval    time.Duration
}

// DatabaseConfig holds PostgreSQL connection settings. An empty URL and Host disables the
// activity log.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/revealcanvas?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings. An empty Addr disables the activity queue.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AWSConfig holds AWS credentials and the export bucket. An empty bucket disables export.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ExportBucket         string
	PresignExpireMinutes int
}

// DiscoveryConfig controls mDNS advertisement on the local network.
type DiscoveryConfig struct {
	Enabled  bool
	Instance string
	Service  string
	Timeout  time.Duration
}

// ClientConfig holds settings of the headless participant.
type ClientConfig struct {
	ServerURL string // empty = discover via mDNS
	Session   string
	Path      string // circle or lissajous
	Jitter    float64
	Duration  time.Duration
	OutputPNG string
}

// Brush returns the brush announced to clients.
func (c CanvasConfig) Brush() protocol.BrushConfig {
	return protocol.BrushConfig{
		Radius:            c.BrushRadius,
		Opacity:           c.BrushOpacity,
		SubdivisionFactor: c.SubdivisionFactor,
	}
}

// Enabled reports whether a database is configured.
func (c DatabaseConfig) Enabled() bool { return c.URL != "" || c.Host != "" }

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			LogLevel:           getEnv("LOG_LEVEL", "info"),
		},
		Relay: RelayConfig{
			MaxHistory:     getEnvInt("MAX_HISTORY", 1000),
			MaxSessions:    getEnvInt("MAX_SESSIONS", 64),
			SendBuffer:     getEnvInt("WS_SEND_BUFFER", 256),
			EventBuffer:    getEnvInt("SESSION_EVENT_BUFFER", 256),
			CursorInterval: getEnvDuration("CURSOR_INTERVAL", 100*time.Millisecond),
			Palette:        splitTrim(getEnv("PARTICIPANT_PALETTE", ""), ","),
		},
		Canvas: CanvasConfig{
			Width:             getEnvInt("CANVAS_WIDTH", 800),
			Height:            getEnvInt("CANVAS_HEIGHT", 600),
			Layers:            getEnvInt("CANVAS_LAYERS", 1),
			MaskColor:         getEnv("CANVAS_MASK_COLOR", "#CC2ABE"),
			RevealColor:       getEnv("CANVAS_REVEAL_COLOR", "#0066FF"),
			BackgroundPath:    getEnv("CANVAS_BACKGROUND", ""),
			BrushRadius:       getEnvFloat("BRUSH_RADIUS", 20),
			BrushOpacity:      getEnvFloat("BRUSH_OPACITY", 1),
			SubdivisionFactor: getEnvFloat("BRUSH_SUBDIVISION_FACTOR", 0.3),
		},
		Pipeline: PipelineConfig{
			SmoothingFrames:   getEnvInt("SMOOTHING_FRAMES", 5),
			MovementThreshold: getEnvFloat("MOVEMENT_THRESHOLD", 8),
			TickInterval:      getEnvDuration("TICK_INTERVAL", 30*time.Millisecond),
			CursorInterval:    getEnvDuration("CURSOR_INTERVAL", 100*time.Millisecond),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", ""),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "revealcanvas"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ExportBucket:         getEnv("AWS_S3_EXPORT_BUCKET", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Discovery: DiscoveryConfig{
			Enabled:  getEnvBool("MDNS_ENABLED", false),
			Instance: getEnv("MDNS_INSTANCE", hostname()),
			Service:  getEnv("MDNS_SERVICE", "_revealcanvas._tcp"),
			Timeout:  getEnvDuration("MDNS_TIMEOUT", 3*time.Second),
		},
		Client: ClientConfig{
			ServerURL: getEnv("CLIENT_SERVER_URL", ""),
			Session:   getEnv("CLIENT_SESSION", "default"),
			Path:      getEnv("CLIENT_PATH", "lissajous"),
			Jitter:    getEnvFloat("CLIENT_JITTER", 2),
			Duration:  getEnvDuration("CLIENT_DURATION", 10*time.Second),
			OutputPNG: getEnv("CLIENT_OUTPUT_PNG", ""),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the relay and pipeline cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Relay.MaxHistory <= 0:
		return fmt.Errorf("MAX_HISTORY must be positive, got %d", c.Relay.MaxHistory)
	case c.Relay.SendBuffer <= 0 || c.Relay.EventBuffer <= 0:
		return fmt.Errorf("WS_SEND_BUFFER and SESSION_EVENT_BUFFER must be positive")
	case c.Canvas.Width <= 0 || c.Canvas.Height <= 0:
		return fmt.Errorf("canvas size %dx%d is invalid", c.Canvas.Width, c.Canvas.Height)
	case c.Canvas.Layers != 1 && c.Canvas.Layers != 2:
		return fmt.Errorf("CANVAS_LAYERS must be 1 or 2, got %d", c.Canvas.Layers)
	case c.Canvas.Layers == 2 && c.Canvas.BackgroundPath == "":
		return fmt.Errorf("CANVAS_BACKGROUND is required when CANVAS_LAYERS=2")
	case c.Canvas.Brush().Validate() != nil:
		return fmt.Errorf("brush: %w", c.Canvas.Brush().Validate())
	case c.Pipeline.SmoothingFrames <= 0:
		return fmt.Errorf("SMOOTHING_FRAMES must be positive, got %d", c.Pipeline.SmoothingFrames)
	case c.Pipeline.MovementThreshold < 0:
		return fmt.Errorf("MOVEMENT_THRESHOLD must not be negative")
	case c.Pipeline.TickInterval <= 0:
		return fmt.Errorf("TICK_INTERVAL must be positive")
	}
	return nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "revealcanvas"
	}
	return strings.SplitN(h, ".", 2)[0]
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("250ms") or a bare number of milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Millisecond
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
