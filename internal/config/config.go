// Package config provides configuration for the chat gateway.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the gateway configuration.
type Config struct {
	// Server settings
	WSPort       int    `envconfig:"WS_PORT" default:"8090" validate:"min=1,max=65535"`       // External WebSocket port
	HTTPPort     int    `envconfig:"HTTP_PORT" default:"8080" validate:"min=1,max=65535"`     // Public REST API
	InternalPort int    `envconfig:"INTERNAL_PORT" default:"8091" validate:"min=1,max=65535"` // /health, /metrics, /internal/*
	RPCPort      int    `envconfig:"RPC_PORT" default:"8092" validate:"min=0,max=65535"`      // JSON-RPC publisher, 0 disables
	GatewayID    string `envconfig:"GATEWAY_ID" default:"gw-1" validate:"required"`

	// Storage
	DatabaseURL string `envconfig:"DATABASE_URL" default:"file:chat.db?cache=shared&mode=rwc" validate:"required"`

	// Auth settings
	JWTSecret     string `envconfig:"JWT_SECRET" required:"true" validate:"min=16"`
	JWTAlg        string `envconfig:"JWT_ALG" default:"HS256" validate:"oneof=HS256 HS384 HS512"`
	AuthTimeoutMs int    `envconfig:"AUTH_TIMEOUT_MS" default:"5000" validate:"min=1"`

	// WebSocket settings
	PingIntervalMs  int      `envconfig:"WS_PING_INTERVAL_MS" default:"30000" validate:"min=1"`
	WriteTimeoutMs  int      `envconfig:"WS_WRITE_TIMEOUT_MS" default:"10000" validate:"min=1"`
	ReadTimeoutMs   int      `envconfig:"WS_READ_TIMEOUT_MS" default:"60000" validate:"gtfield=PingIntervalMs"`
	MaxMessageSize  int64    `envconfig:"WS_MAX_MESSAGE_SIZE" default:"65536" validate:"min=512"`
	SendBuffer      int      `envconfig:"WS_SEND_BUFFER" default:"256" validate:"min=1"`
	AllowedOrigins  []string `envconfig:"ALLOWED_ORIGINS"`
	HandshakeRPS    float64  `envconfig:"HANDSHAKE_RPS" default:"5" validate:"min=0"`
	HandshakeBurst  int      `envconfig:"HANDSHAKE_BURST" default:"10" validate:"min=0"`
	EventBuffer     int      `envconfig:"EVENT_BUFFER" default:"1024" validate:"min=1"`
	PresenceTTLMs   int      `envconfig:"PRESENCE_TTL_MS" default:"90000" validate:"min=1000"`
	ShutdownTimeout int      `envconfig:"SHUTDOWN_TIMEOUT_MS" default:"10000" validate:"min=1"`

	// Messaging / presence
	NATSURL     string `envconfig:"NATS_URL"`
	NATSSubject string `envconfig:"NATS_SUBJECT" default:"message.create" validate:"required"`
	RedisAddr   string `envconfig:"REDIS_ADDR"`
	RedisDB     int    `envconfig:"REDIS_DB" default:"0"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	AuthTimeout  time.Duration `ignored:"true"`
	PingInterval time.Duration `ignored:"true"`
	WriteTimeout time.Duration `ignored:"true"`
	ReadTimeout  time.Duration `ignored:"true"`
	PresenceTTL  time.Duration `ignored:"true"`
}

var validate = validator.New()

// Load reads an optional .env file, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from the process environment only.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.derive()
	return &cfg, nil
}

func (c *Config) derive() {
	c.AuthTimeout = ms(c.AuthTimeoutMs)
	c.PingInterval = ms(c.PingIntervalMs)
	c.WriteTimeout = ms(c.WriteTimeoutMs)
	c.ReadTimeout = ms(c.ReadTimeoutMs)
	c.PresenceTTL = ms(c.PresenceTTLMs)
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// NewLogger builds the process logger for the configured level.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}
