package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Backend BackendConfig
	Channel ChannelConfig
	Poller  PollerConfig
	Phase   PhaseConfig
	Log     LogConfig
	Metrics MetricsConfig
}

type BackendConfig struct {
	BaseURL  string        `validate:"required,url"`
	APIToken string
	Timeout  time.Duration `validate:"gt=0"`
}

type ChannelConfig struct {
	ReconnectDelay       time.Duration `validate:"gt=0"`
	MaxReconnectAttempts int           `validate:"gte=0,lte=100"`
}

type PollerConfig struct {
	Interval time.Duration `validate:"gte=100ms"`
}

type PhaseConfig struct {
	CollapseDelay         time.Duration `validate:"gte=0"`
	BriefingCollapseDelay time.Duration `validate:"gte=0"`
}

type LogConfig struct {
	Level string `validate:"omitempty,oneof=debug info warn error"`
	File  string
}

type MetricsConfig struct {
	// Addr is the listen address of the /metrics endpoint. Empty disables it.
	Addr string `validate:"omitempty,hostname_port"`
}

func defaults() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL: "http://localhost:8000",
			Timeout: 30 * time.Second,
		},
		Channel: ChannelConfig{
			ReconnectDelay:       2 * time.Second,
			MaxReconnectAttempts: 3,
		},
		Poller: PollerConfig{
			Interval: 5 * time.Second,
		},
		Phase: PhaseConfig{
			CollapseDelay:         time.Second,
			BriefingCollapseDelay: 2 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, a .env file in
// the working directory, environment variables, and the platform secret
// store.
//
// On macOS the backend is UserDefaults (domain: dev.intelwatch.cli) and the
// API token falls back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/intelwatch/config.json
// and the token falls back to $XDG_DATA_HOME/intelwatch/secrets.json.
//
// Environment variables (INTELWATCH_*) override backend values on all
// platforms. Variables from .env never override the real environment.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{}, ".env")
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain, envFile string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	if envFile != "" {
		// A missing .env is the normal case.
		_ = godotenv.Load(envFile)
	}
	applyEnvOverrides(&cfg)

	if cfg.Backend.APIToken == "" {
		if tok, err := kc.Get("intelwatch", "api_token"); err == nil && tok != "" {
			cfg.Backend.APIToken = tok
		}
	}

	cfg.Backend.BaseURL = strings.TrimRight(cfg.Backend.BaseURL, "/")
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// SetToken stores the API token in the platform secret store.
func SetToken(token string) error {
	return keychainSet("intelwatch", "api_token", token)
}
