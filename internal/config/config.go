// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

// PortalConfig points the client at a gateway deployment.
type PortalConfig struct {
	BaseURL string `yaml:"base_url"`
	// OAuthToken is a build/deploy-time fallback bearer token, used only when
	// no token has been saved to the credential store.
	OAuthToken string `yaml:"oauth_token"`
	// TokenFile is the single-slot file holding the last saved bearer token.
	TokenFile string        `yaml:"token_file"`
	Timeout   time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

// PollConfig bounds the callback correlation loop.
type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
	// ResultsPath is the listing endpoint scanned for matching records.
	ResultsPath string `yaml:"results_path"`
	Limit       int    `yaml:"limit"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MockGatewayConfig configures the local sandbox gateway.
type MockGatewayConfig struct {
	Port          int           `yaml:"port"`
	JWTSecret     string        `yaml:"jwt_secret"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
	CallbackDelay time.Duration `yaml:"callback_delay"`
	DatabaseURL   string        `yaml:"database_url"` // empty = in-memory store
	StaffUsername string        `yaml:"staff_username"`
	StaffPassword string        `yaml:"staff_password"`
	ClientID      string        `yaml:"client_id"`
	ClientSecret  string        `yaml:"client_secret"`
	ShortCode     string        `yaml:"short_code"`
}

type Config struct {
	Portal      PortalConfig      `yaml:"portal"`
	Log         LogConfig         `yaml:"log"`
	Poll        PollConfig        `yaml:"poll"`
	Redis       RedisConfig       `yaml:"redis"`
	MockGateway MockGatewayConfig `yaml:"mock_gateway"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()

	// Minimal validation
	if cfg.Portal.BaseURL == "" {
		return nil, errors.New("portal.base_url is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

// ApplyDefaults fills zero values; exported so tests and the mock gateway can
// build configs without a file on disk.
func (cfg *Config) ApplyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Portal.Timeout <= 0 {
		cfg.Portal.Timeout = 30 * time.Second
	}
	if cfg.Portal.TokenFile == "" {
		cfg.Portal.TokenFile = defaultTokenFile()
	}
	cfg.Portal.OAuthToken = strings.TrimSpace(cfg.Portal.OAuthToken)

	if cfg.Poll.Interval <= 0 {
		cfg.Poll.Interval = 2 * time.Second
	}
	if cfg.Poll.Timeout <= 0 {
		cfg.Poll.Timeout = 60 * time.Second
	}
	if cfg.Poll.ResultsPath == "" {
		cfg.Poll.ResultsPath = "/api/v1/admin/logs/callbacks"
	}
	if cfg.Poll.Limit <= 0 {
		cfg.Poll.Limit = 200
	}

	if cfg.MockGateway.Port <= 0 {
		cfg.MockGateway.Port = 8090
	}
	if cfg.MockGateway.SessionTTL <= 0 {
		cfg.MockGateway.SessionTTL = 30 * time.Minute
	}
	if cfg.MockGateway.CallbackDelay <= 0 {
		cfg.MockGateway.CallbackDelay = 5 * time.Second
	}
	if cfg.MockGateway.ShortCode == "" {
		cfg.MockGateway.ShortCode = "174379"
	}
}

func defaultTokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".mpesa-portal-token"
	}
	return filepath.Join(home, ".mpesa-portal", "token")
}
