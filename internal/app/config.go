package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Martian-dev/leadsync/internal/store"
)

// Config is the service configuration. Keys map to config.yaml and to
// LEADSYNC_* environment variables with dots replaced by underscores.
type Config struct {
	Env string `mapstructure:"env"`

	Server struct {
		Addr            string        `mapstructure:"addr"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	Database struct {
		Driver string `mapstructure:"driver"`
		URL    string `mapstructure:"url"`
	} `mapstructure:"database"`

	Auth struct {
		JWKSURL string `mapstructure:"jwks_url"`
	} `mapstructure:"auth"`

	Google struct {
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
		RedirectURL  string `mapstructure:"redirect_url"`
	} `mapstructure:"google"`

	Microsoft struct {
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
		RedirectURL  string `mapstructure:"redirect_url"`
		Tenant       string `mapstructure:"tenant"`
		GraphURL     string `mapstructure:"graph_url"`
	} `mapstructure:"microsoft"`

	OpenAI struct {
		APIKey      string  `mapstructure:"api_key"`
		Model       string  `mapstructure:"model"`
		BaseURL     string  `mapstructure:"base_url"`
		Temperature float64 `mapstructure:"temperature"`
		MaxRetries  int     `mapstructure:"max_retries"`
	} `mapstructure:"openai"`

	NATS struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"nats"`
}

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LEADSYNC"

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("database.driver", string(store.DialectSQLite))
	v.SetDefault("database.url", "data/leadsync.db")
	v.SetDefault("auth.jwks_url", "")
	v.SetDefault("google.client_id", "")
	v.SetDefault("google.client_secret", "")
	v.SetDefault("google.redirect_url", "http://localhost:8080/oauth/callback")
	v.SetDefault("microsoft.client_id", "")
	v.SetDefault("microsoft.client_secret", "")
	v.SetDefault("microsoft.redirect_url", "http://localhost:8080/oauth/callback")
	v.SetDefault("microsoft.tenant", "common")
	v.SetDefault("microsoft.graph_url", "")
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.temperature", 0.0)
	v.SetDefault("openai.max_retries", 2)
	v.SetDefault("nats.url", "")
}

// newViper returns a viper instance with defaults and env overrides set.
func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig decodes and checks the configuration held by v.
func LoadConfig(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch store.Dialect(c.Database.Driver) {
	case store.DialectSQLite, store.DialectPostgres:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", store.DialectSQLite, store.DialectPostgres, c.Database.Driver)
	}
	if c.Database.Driver == string(store.DialectPostgres) && c.Database.URL == "" {
		return fmt.Errorf("database.url not configured")
	}
	return nil
}
