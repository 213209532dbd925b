package main

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Build-time variables - inject via ldflags
// Example: go build -ldflags "-X main.buildVersion=1.4.0"
var buildVersion = "dev"

// Settings is the process configuration, read from VIGGLE_* environment
// variables and an optional .env file.
type Settings struct {
	BaseURL   string `envconfig:"BASE_URL" default:"https://viggle.ai"`
	Transport string `envconfig:"TRANSPORT" default:"direct"`
	Profile   string `envconfig:"PROFILE" default:"chrome143"`
	ProxyFile string `envconfig:"PROXY_FILE"`

	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`

	BrowserTimeout     time.Duration `envconfig:"BROWSER_TIMEOUT" default:"30s"`
	BrowserIdleAfter   time.Duration `envconfig:"BROWSER_IDLE_AFTER" default:"500ms"`
	BrowserHeadless    bool          `envconfig:"BROWSER_HEADLESS" default:"true"`
	BrowserPath        string        `envconfig:"BROWSER_PATH"`
	BrowserMinInterval time.Duration `envconfig:"BROWSER_MIN_INTERVAL" default:"2s"`

	MaxRetries     int           `envconfig:"MAX_RETRIES" default:"0"`
	RetryBaseDelay time.Duration `envconfig:"RETRY_BASE_DELAY" default:"1s"`

	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat     string `envconfig:"LOG_FORMAT" default:"console"`
	LogFile       string `envconfig:"LOG_FILE"`
	LogMaxSizeMB  int    `envconfig:"LOG_MAX_SIZE_MB" default:"20"`
	LogMaxBackups int    `envconfig:"LOG_MAX_BACKUPS" default:"5"`
	LogMaxAgeDays int    `envconfig:"LOG_MAX_AGE_DAYS" default:"14"`

	ServeAddr string `envconfig:"SERVE_ADDR" default:"127.0.0.1:8787"`
}

// LoadSettings loads .env if present, then the environment.
func LoadSettings() (*Settings, error) {
	_ = godotenv.Load()

	settings := new(Settings)
	if err := envconfig.Process("viggle", settings); err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// Validate rejects settings that would fail later in a less obvious way.
func (s *Settings) Validate() error {
	if s.MaxRetries < 0 {
		return fmt.Errorf("VIGGLE_MAX_RETRIES must not be negative")
	}
	if s.RequestTimeout <= 0 || s.BrowserTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	switch s.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("VIGGLE_LOG_FORMAT must be console or json, got %q", s.LogFormat)
	}
	return nil
}

// RetryPolicy returns the processor retry policy.
func (s *Settings) RetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: s.MaxRetries, BaseDelay: s.RetryBaseDelay}
}
