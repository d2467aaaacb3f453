// Package config loads chatlink settings from the environment.
//
// Every field maps to a CHATLINK_-prefixed variable. An optional .env file
// is read first; variables already set in the environment win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/risa-org/chatlink/codec"
)

// Transport names accepted in Config.Transport.
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
	TransportAMQP      = "amqp"
)

// Prefix is prepended to every variable name.
const Prefix = "CHATLINK_"

// Config holds client and server settings. Zero-valued optional fields
// disable the feature they configure.
type Config struct {
	Addr          string `env:"ADDR" envDefault:"127.0.0.1:7070"`
	Transport     string `env:"TRANSPORT" envDefault:"tcp"`
	WebSocketAddr string `env:"WS_ADDR"`
	WebSocketPath string `env:"WS_PATH" envDefault:"/ws"`
	AMQPURL       string `env:"AMQP_URL"`
	AMQPQueue     string `env:"AMQP_QUEUE" envDefault:"chatlink.requests"`

	Author string `env:"AUTHOR"`
	Secret string `env:"SECRET"`
	Target string `env:"TARGET" envDefault:"lobby"`

	TokenKey string `env:"TOKEN_KEY"` // server: HMAC key, random per process when empty
	StoreDir string `env:"STORE_DIR"` // server: files kept in memory when empty

	ExchangeTimeout time.Duration `env:"EXCHANGE_TIMEOUT" envDefault:"30s"`
	MaxFrameSize    int           `env:"MAX_FRAME_SIZE" envDefault:"67108864"`
	MaxUploadSize   int64         `env:"MAX_UPLOAD_SIZE" envDefault:"33554432"`
	ResultHighWater int           `env:"RESULT_HIGH_WATER" envDefault:"1024"`

	MetricsAddr string `env:"METRICS_ADDR"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads the given .env files (".env" when none are named), then
// parses the environment. Missing .env files are not an error.
func Load(dotenv ...string) (Config, error) {
	if len(dotenv) == 0 {
		dotenv = []string{".env"}
	}
	for _, path := range dotenv {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings no component could run with.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportTCP, TransportWebSocket:
	case TransportAMQP:
		if c.AMQPURL == "" {
			return errors.New("config: amqp transport needs CHATLINK_AMQP_URL")
		}
	default:
		return fmt.Errorf("config: unknown transport %q", c.Transport)
	}

	if c.MaxFrameSize <= 0 {
		return errors.New("config: CHATLINK_MAX_FRAME_SIZE must be positive")
	}
	if c.MaxUploadSize <= 0 {
		return errors.New("config: CHATLINK_MAX_UPLOAD_SIZE must be positive")
	}
	if limit := codec.MaxContentSize(c.MaxFrameSize); c.MaxUploadSize > limit {
		return fmt.Errorf("config: CHATLINK_MAX_UPLOAD_SIZE %d does not fit a %d byte frame once encoded (at most %d)",
			c.MaxUploadSize, c.MaxFrameSize, limit)
	}
	if c.ExchangeTimeout <= 0 {
		return errors.New("config: CHATLINK_EXCHANGE_TIMEOUT must be positive")
	}
	if c.ResultHighWater <= 0 {
		return errors.New("config: CHATLINK_RESULT_HIGH_WATER must be positive")
	}
	return nil
}
