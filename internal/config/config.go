// Package config loads the global ~/.duet/config.toml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Environment overrides applied after the file is read.
const (
	EnvAPIURL     = "DUET_API_URL"
	EnvGatewayURL = "DUET_GATEWAY_URL"
)

// Duration is a time.Duration that reads and writes as "5s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config represents the global config file.
type Config struct {
	DefaultSession string   `toml:"default_session" validate:"omitempty,max=64"`
	APIURL         string   `toml:"api_url" validate:"required,url"`
	GatewayURL     string   `toml:"gateway_url" validate:"required,url"`
	LogLevel       string   `toml:"log_level" validate:"oneof=debug info warn error"`
	TypingWindow   Duration `toml:"typing_window"`
	ReconnectBase  Duration `toml:"reconnect_base_delay"`
	ReconnectMax   Duration `toml:"reconnect_max_delay"`
	RequestTimeout Duration `toml:"request_timeout"`
	MetricsAddr    string   `toml:"metrics_addr" validate:"omitempty,hostname_port"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		APIURL:         "http://localhost:8000/api",
		GatewayURL:     "ws://localhost:8000/ws",
		LogLevel:       "info",
		TypingWindow:   Duration{6 * time.Second},
		ReconnectBase:  Duration{time.Second},
		ReconnectMax:   Duration{30 * time.Second},
		RequestTimeout: Duration{15 * time.Second},
	}
}

// Load reads config from the given path on top of Default. Returns an error if
// the file is missing or invalid.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, falling back to Default when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = Default()
		cfg.applyEnv()
		return cfg, cfg.Validate()
	}
	return cfg, err
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIURL); v != "" {
		c.APIURL = v
	}
	if v := os.Getenv(EnvGatewayURL); v != "" {
		c.GatewayURL = v
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and delay ordering.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (got %v)", fe.Field(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return err
	}
	if c.TypingWindow.Duration < 5*time.Second || c.TypingWindow.Duration > 10*time.Second {
		return fmt.Errorf("invalid config: typing_window must be between 5s and 10s, got %s", c.TypingWindow)
	}
	if c.ReconnectBase.Duration <= 0 || c.ReconnectMax.Duration < c.ReconnectBase.Duration {
		return fmt.Errorf("invalid config: reconnect delays must satisfy 0 < base <= max")
	}
	if c.RequestTimeout.Duration <= 0 {
		return fmt.Errorf("invalid config: request_timeout must be positive")
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
