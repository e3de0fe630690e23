package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Host            string        `env:"HOST,default=localhost"`
	Port            int           `env:"PORT,default=5000" validate:"min=0,max=65535"`
	LogLevel        string        `env:"LOG_LEVEL,default=INFO" validate:"oneof=DEBUG INFO WARN ERROR debug info warn error"`
	HistoryBackend  string        `env:"HISTORY_BACKEND,default=json" validate:"oneof=json badger"`
	HistoryPath     string        `env:"HISTORY_PATH,default=chat_log.json" validate:"required_if=HistoryBackend json"`
	BadgerPath      string        `env:"BADGER_PATH,default=chat_history" validate:"required_if=HistoryBackend badger"`
	OutboxSize      int           `env:"OUTBOX_SIZE,default=32" validate:"min=1"`
	MaxFrameSize    int           `env:"MAX_FRAME_SIZE,default=1048576" validate:"min=64"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT,default=10s"`
	HTTPAddr        string        `env:"HTTP_ADDR,default=:9090"` // "off" disables metrics and WebSocket
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=5s"`
}

// Addr is the chat listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

var validate = validator.New()

// Load reads an optional .env file, then the environment.
func Load(dotenv ...string) (Config, error) {
	_ = godotenv.Load(dotenv...)
	return FromEnviron()
}

func FromEnviron() (Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	return cfg, nil
}

// HTTPEnabled reports whether the metrics and WebSocket endpoint should run.
func (c Config) HTTPEnabled() bool {
	return c.HTTPAddr != "" && c.HTTPAddr != "off"
}
