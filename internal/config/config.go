package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"

	"github.com/loopreach/social-sync/internal/model"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Internal callers authenticate with a static service key. When the
	// bcrypt hash is set it takes precedence over the plain key.
	ServiceAPIKey     string `env:"SERVICE_API_KEY"`
	ServiceAPIKeyHash string `env:"SERVICE_API_KEY_HASH"`

	// Base URL the provider redirects back to, e.g. https://api.example.com
	OAuthRedirectBase string `env:"OAUTH_REDIRECT_BASE,required"`

	YouTubeClientID     string `env:"YOUTUBE_CLIENT_ID"`
	YouTubeClientSecret string `env:"YOUTUBE_CLIENT_SECRET"`
	FacebookAppID       string `env:"FACEBOOK_APP_ID"`
	FacebookAppSecret   string `env:"FACEBOOK_APP_SECRET"`
	InstagramAppID      string `env:"INSTAGRAM_APP_ID"`
	InstagramAppSecret  string `env:"INSTAGRAM_APP_SECRET"`
	TwitterClientID     string `env:"TWITTER_CLIENT_ID"`
	TwitterClientSecret string `env:"TWITTER_CLIENT_SECRET"`

	StateTTLSeconds int `env:"STATE_TTL_SECONDS" envDefault:"600"`

	// Per-provider refresh lookahead. Token lifetimes differ wildly between
	// providers (hours for YouTube/Twitter, months for Instagram/Facebook
	// long-lived tokens), so the buffer is configuration, not a literal.
	YouTubeRefreshBufferSeconds   int `env:"YOUTUBE_REFRESH_BUFFER_SECONDS" envDefault:"300"`
	FacebookRefreshBufferSeconds  int `env:"FACEBOOK_REFRESH_BUFFER_SECONDS" envDefault:"300"`
	TwitterRefreshBufferSeconds   int `env:"TWITTER_REFRESH_BUFFER_SECONDS" envDefault:"300"`
	InstagramRefreshBufferSeconds int `env:"INSTAGRAM_REFRESH_BUFFER_SECONDS" envDefault:"86400"`

	ReconcileIntervalHours int `env:"RECONCILE_INTERVAL_HOURS" envDefault:"24"`
	ReconcileConcurrency   int `env:"RECONCILE_CONCURRENCY" envDefault:"4"`
	DisconnectThreshold    int `env:"DISCONNECT_THRESHOLD" envDefault:"3"`

	MetricsRetentionDays     int `env:"METRICS_RETENTION_DAYS" envDefault:"90"`
	AnalyticsRateLimitPerMin int `env:"ANALYTICS_RATE_LIMIT_PER_MIN" envDefault:"10"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) StateTTL() time.Duration {
	return time.Duration(c.StateTTLSeconds) * time.Second
}

func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalHours) * time.Hour
}

func (c *Config) MetricsRetention() time.Duration {
	return time.Duration(c.MetricsRetentionDays) * 24 * time.Hour
}

// RefreshBuffer returns the refresh lookahead window for one provider.
func (c *Config) RefreshBuffer(p model.Provider) time.Duration {
	var secs int
	switch p {
	case model.ProviderYouTube:
		secs = c.YouTubeRefreshBufferSeconds
	case model.ProviderFacebook:
		secs = c.FacebookRefreshBufferSeconds
	case model.ProviderTwitter:
		secs = c.TwitterRefreshBufferSeconds
	case model.ProviderInstagram:
		secs = c.InstagramRefreshBufferSeconds
	default:
		secs = 300
	}
	return time.Duration(secs) * time.Second
}

func (c *Config) Validate(isProduction bool) error {
	if c.ServiceAPIKeyHash != "" {
		if !strings.HasPrefix(c.ServiceAPIKeyHash, "$2a$") &&
			!strings.HasPrefix(c.ServiceAPIKeyHash, "$2b$") &&
			!strings.HasPrefix(c.ServiceAPIKeyHash, "$2y$") {
			return fmt.Errorf("SERVICE_API_KEY_HASH must be a bcrypt hash")
		}
	}

	if isProduction {
		if c.ServiceAPIKeyHash == "" {
			if err := validateSecret("SERVICE_API_KEY", c.ServiceAPIKey); err != nil {
				return err
			}
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	for _, p := range model.Providers {
		if !c.ProviderConfigured(p) {
			log.Warn().Str("provider", p.String()).Msg("provider credentials not configured: connect requests will fail")
		}
	}

	return nil
}

// ProviderConfigured reports whether client credentials exist for a provider.
func (c *Config) ProviderConfigured(p model.Provider) bool {
	switch p {
	case model.ProviderYouTube:
		return c.YouTubeClientID != "" && c.YouTubeClientSecret != ""
	case model.ProviderFacebook:
		return c.FacebookAppID != "" && c.FacebookAppSecret != ""
	case model.ProviderInstagram:
		return c.InstagramAppID != "" && c.InstagramAppSecret != ""
	case model.ProviderTwitter:
		return c.TwitterClientID != "" && c.TwitterClientSecret != ""
	}
	return false
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
