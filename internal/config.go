package internal

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Env         string `env:"ENV" envDefault:"development"`
	Port        int    `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"debug"`
	DatabaseUrl string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	// Public site URL. Branded pages live at <BaseURL>/<slug>.
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	// SiteName is used in email subjects and bodies.
	SiteName string `env:"SITE_NAME" envDefault:"Members"`

	// AuthPath is where the platform auth endpoint is mounted.
	AuthPath string `env:"AUTH_PATH" envDefault:"/auth"`
	// AdminURL is where administrators land after sign in.
	// Defaults to <BaseURL>/admin/.
	AdminURL string `env:"ADMIN_URL"`

	RegistrationOpen bool `env:"REGISTRATION_OPEN" envDefault:"true"`
	ShowTitles       bool `env:"SHOW_TITLES" envDefault:"true"`

	// Admin access control. Always notified of new accounts and always
	// routed to AdminURL.
	AdminEmails []string `env:"ADMIN_EMAILS" envSeparator:","`

	// Page overrides. Empty keeps <BaseURL>/<default slug>.
	Pages PageOverrides `envPrefix:"PAGE_"`

	SMTP SMTPConfig `envPrefix:"SMTP_"`

	ResetKeyTTL     time.Duration `env:"RESET_KEY_TTL" envDefault:"24h"`
	SessionDuration time.Duration `env:"SESSION_DURATION" envDefault:"24h"`
	// SessionCleanupInterval is how often expired sessions are purged.
	SessionCleanupInterval time.Duration `env:"SESSION_CLEANUP_INTERVAL" envDefault:"1h"`

	// TemplatesDir reloads page templates from disk in development.
	// Empty serves the embedded templates.
	TemplatesDir string `env:"TEMPLATES_DIR"`

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string `env:"METRICS_USERNAME"`
	MetricsPassword string `env:"METRICS_PASSWORD"`
}

// PageOverrides points individual branded pages at custom URLs.
type PageOverrides struct {
	Login         string `env:"LOGIN_URL"`
	Account       string `env:"ACCOUNT_URL"`
	Register      string `env:"REGISTER_URL"`
	LostPassword  string `env:"LOST_PASSWORD_URL"`
	ResetPassword string `env:"RESET_PASSWORD_URL"`
}

type SMTPConfig struct {
	// Defaults target Mailhog (development)
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     int    `env:"PORT" envDefault:"1025"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
	From     string `env:"FROM" envDefault:"noreply@example.com"`
	FromName string `env:"FROM_NAME" envDefault:"Members"`
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	return loadConfig(env.Options{})
}

func loadConfig(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	var admins []string
	for _, email := range cfg.AdminEmails {
		if trimmed := strings.TrimSpace(strings.ToLower(email)); trimmed != "" {
			admins = append(admins, trimmed)
		}
	}
	cfg.AdminEmails = admins

	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.AdminURL == "" {
		cfg.AdminURL = cfg.BaseURL + "/admin/"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseUrl == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("BASE_URL must be an absolute URL, got: %s", c.BaseURL)
	}

	if !strings.HasPrefix(c.AuthPath, "/") || c.AuthPath == "/" {
		return fmt.Errorf("AUTH_PATH must be a path below the site root, got: %s", c.AuthPath)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got: %s", c.LogLevel)
	}

	if c.ResetKeyTTL <= 0 {
		return fmt.Errorf("RESET_KEY_TTL must be positive, got: %s", c.ResetKeyTTL)
	}
	return nil
}

// IsDevelopment reports whether the service runs in the development environment.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// AuthURL is the absolute URL of the platform auth endpoint.
func (c *Config) AuthURL() string {
	return c.BaseURL + c.AuthPath
}
