package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	// Channel
	BackendURL string `env:"REGISTERKARO_BACKEND_URL" envDefault:"http://localhost:8001"`
	// WSURL overrides the channel URL derived from BackendURL.
	WSURL  string `env:"REGISTERKARO_WS_URL"`
	Secure bool   `env:"REGISTERKARO_SECURE" envDefault:"false"`

	HandshakeTimeout     time.Duration `env:"REGISTERKARO_HANDSHAKE_TIMEOUT" envDefault:"10s"`
	WriteTimeout         time.Duration `env:"REGISTERKARO_WRITE_TIMEOUT" envDefault:"10s"`
	MaxReconnectAttempts int           `env:"REGISTERKARO_MAX_RECONNECT_ATTEMPTS" envDefault:"5"`
	ReconnectBase        time.Duration `env:"REGISTERKARO_RECONNECT_BASE" envDefault:"1s"`
	ReconnectMax         time.Duration `env:"REGISTERKARO_RECONNECT_MAX" envDefault:"30s"`

	// Client state
	StateDir    string `env:"REGISTERKARO_STATE_DIR" envDefault:".registerkaro"`
	DatabaseURL string `env:"DB_URL"`
	StateScope  string `env:"REGISTERKARO_STATE_SCOPE" envDefault:"default"`

	// Session behaviour
	IdleTimeout time.Duration `env:"REGISTERKARO_IDLE_TIMEOUT" envDefault:"5m"`

	// Protocol stub
	Port          string `env:"PORT" envDefault:"8001"`
	AllowedOrigin string `env:"ALLOWED_ORIGIN" envDefault:"*"`
	ScriptFile    string `env:"ASSISTANT_SCRIPT" envDefault:"./prompts/assistant.yaml"`

	// Logging
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max reconnect attempts must be >= 0, got %d", c.MaxReconnectAttempts)
	}
	if c.ReconnectBase <= 0 {
		return fmt.Errorf("reconnect base must be positive")
	}
	if c.ReconnectMax < c.ReconnectBase {
		return fmt.Errorf("reconnect max %s is below base %s", c.ReconnectMax, c.ReconnectBase)
	}
	if c.WSURL == "" && strings.TrimSpace(c.BackendURL) == "" {
		return fmt.Errorf("REGISTERKARO_BACKEND_URL or REGISTERKARO_WS_URL is required")
	}
	return nil
}

// ChannelURL returns the websocket endpoint. The scheme follows the backend:
// wss when it is served over https or Secure is set, ws otherwise.
func (c Config) ChannelURL() string {
	if c.WSURL != "" {
		return c.WSURL
	}
	scheme := "ws"
	if c.Secure || strings.HasPrefix(strings.ToLower(c.BackendURL), "https://") {
		scheme = "wss"
	}
	host := c.BackendURL
	if u, err := url.Parse(c.BackendURL); err == nil && u.Host != "" {
		host = u.Host + strings.TrimSuffix(u.Path, "/")
	} else {
		host = strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://")
	}
	return scheme + "://" + strings.TrimSuffix(host, "/") + "/ws"
}

// IdentityFile is where the durable identity lives when no database is set.
func (c Config) IdentityFile() string {
	return filepath.Join(c.StateDir, "identity.json")
}
