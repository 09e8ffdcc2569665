// Package config loads process configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds every environment-tunable setting for both the api and
// worker run modes. Fields not needed by a given mode are simply unused.
type Config struct {
	Mode string `env:"FORMY_MODE" envDefault:"api"`

	HTTPHost string `env:"FORMY_HTTP_HOST" envDefault:"0.0.0.0"`
	HTTPPort int    `env:"FORMY_HTTP_PORT" envDefault:"8080"`

	LogFormat string `env:"FORMY_LOG_FORMAT" envDefault:"json"`
	LogLevel  string `env:"FORMY_LOG_LEVEL" envDefault:"info"`

	DatabaseURL      string `env:"FORMY_DATABASE_URL,required"`
	MigrationsPath   string `env:"FORMY_MIGRATIONS_PATH" envDefault:"migrations"`
	RedisURL         string `env:"FORMY_REDIS_URL,required"`
	EngineConfigPath string `env:"FORMY_ENGINE_CONFIG_PATH" envDefault:"config/engines.yaml"`

	ObjectStoreRoot      string `env:"FORMY_OBJECT_STORE_ROOT" envDefault:"data/objects"`
	ObjectStoreURLPrefix string `env:"FORMY_OBJECT_STORE_URL_PREFIX" envDefault:"/files"`

	SessionSigningKey string `env:"FORMY_SESSION_SIGNING_KEY"`

	SlackBotToken   string `env:"FORMY_SLACK_BOT_TOKEN"`
	SlackOpsChannel string `env:"FORMY_SLACK_OPS_CHANNEL" envDefault:"#formy-ops"`

	MonthlyCreditsRenewalInterval string `env:"FORMY_RENEWAL_CHECK_INTERVAL" envDefault:"1h"`
	RequeueSweepInterval          string `env:"FORMY_REQUEUE_SWEEP_INTERVAL" envDefault:"5m"`
	TaskPopTimeoutSeconds         int    `env:"FORMY_QUEUE_POP_TIMEOUT_SECONDS" envDefault:"5"`

	CORSAllowedOrigins []string `env:"FORMY_CORS_ALLOWED_ORIGINS" envSeparator:","`

	// CreditWhitelist maps an email to its trial credit floor, e.g.
	// "alice@example.com:1000,bob@example.com:500".
	CreditWhitelist map[string]int `env:"FORMY_CREDIT_WHITELIST" envSeparator:"," envKeyValSeparator:":"`
}

// ListenAddr returns the host:port pair the HTTP server should bind.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPHost, c.HTTPPort)
}

// Load parses Config from the process environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}
