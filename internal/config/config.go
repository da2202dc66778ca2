package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	// Inbound HL7v2 listener.
	MLLPEnabled bool   `mapstructure:"MLLP_ENABLED"`
	MLLPAddr    string `mapstructure:"MLLP_ADDR"`

	// Inbound queue drain.
	QueueWorkers int `mapstructure:"QUEUE_WORKERS"`

	// EHR sync scheduler.
	SyncWorkers     int           `mapstructure:"SYNC_WORKERS"`
	SyncMaxAttempts int           `mapstructure:"SYNC_MAX_ATTEMPTS"`
	SyncInterval    time.Duration `mapstructure:"SYNC_INTERVAL"`

	// EHR connector credentials. A connector is registered only when its
	// base URL is set.
	EpicBaseURL      string `mapstructure:"EPIC_BASE_URL"`
	EpicTokenURL     string `mapstructure:"EPIC_TOKEN_URL"`
	EpicClientID     string `mapstructure:"EPIC_CLIENT_ID"`
	EpicClientSecret string `mapstructure:"EPIC_CLIENT_SECRET"`

	CernerBaseURL      string `mapstructure:"CERNER_BASE_URL"`
	CernerTokenURL     string `mapstructure:"CERNER_TOKEN_URL"`
	CernerClientID     string `mapstructure:"CERNER_CLIENT_ID"`
	CernerClientSecret string `mapstructure:"CERNER_CLIENT_SECRET"`

	AllscriptsBaseURL      string `mapstructure:"ALLSCRIPTS_BASE_URL"`
	AllscriptsTokenURL     string `mapstructure:"ALLSCRIPTS_TOKEN_URL"`
	AllscriptsClientID     string `mapstructure:"ALLSCRIPTS_CLIENT_ID"`
	AllscriptsClientSecret string `mapstructure:"ALLSCRIPTS_CLIENT_SECRET"`
	AllscriptsAppName      string `mapstructure:"ALLSCRIPTS_APP_NAME"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("MLLP_ENABLED", false)
	v.SetDefault("MLLP_ADDR", ":2575")
	v.SetDefault("QUEUE_WORKERS", 4)
	v.SetDefault("SYNC_WORKERS", 4)
	v.SetDefault("SYNC_MAX_ATTEMPTS", 3)
	v.SetDefault("SYNC_INTERVAL", "1m")
	v.SetDefault("ALLSCRIPTS_APP_NAME", "healthflow")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "CORS_ORIGINS",
		"MLLP_ENABLED", "MLLP_ADDR", "QUEUE_WORKERS",
		"SYNC_WORKERS", "SYNC_MAX_ATTEMPTS", "SYNC_INTERVAL",
		"EPIC_BASE_URL", "EPIC_TOKEN_URL", "EPIC_CLIENT_ID", "EPIC_CLIENT_SECRET",
		"CERNER_BASE_URL", "CERNER_TOKEN_URL", "CERNER_CLIENT_ID", "CERNER_CLIENT_SECRET",
		"ALLSCRIPTS_BASE_URL", "ALLSCRIPTS_TOKEN_URL", "ALLSCRIPTS_CLIENT_ID",
		"ALLSCRIPTS_CLIENT_SECRET", "ALLSCRIPTS_APP_NAME",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ehrCredential is one connector's settings, used only for validation.
type ehrCredential struct {
	name     string
	baseURL  string
	tokenURL string
	clientID string
}

// Validate checks that the configuration is safe to run. A connector whose
// base URL is set must also carry a token URL and client ID, otherwise the
// first sync against it would fail at runtime instead of at startup.
func (c *Config) Validate() error {
	if c.QueueWorkers <= 0 {
		return fmt.Errorf("QUEUE_WORKERS must be positive, got %d", c.QueueWorkers)
	}
	if c.SyncWorkers <= 0 {
		return fmt.Errorf("SYNC_WORKERS must be positive, got %d", c.SyncWorkers)
	}
	if c.SyncMaxAttempts <= 0 {
		return fmt.Errorf("SYNC_MAX_ATTEMPTS must be positive, got %d", c.SyncMaxAttempts)
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("SYNC_INTERVAL must be positive, got %s", c.SyncInterval)
	}
	if c.MLLPEnabled && c.MLLPAddr == "" {
		return fmt.Errorf("MLLP_ADDR is required when MLLP_ENABLED is true")
	}

	for _, cred := range []ehrCredential{
		{"EPIC", c.EpicBaseURL, c.EpicTokenURL, c.EpicClientID},
		{"CERNER", c.CernerBaseURL, c.CernerTokenURL, c.CernerClientID},
		{"ALLSCRIPTS", c.AllscriptsBaseURL, c.AllscriptsTokenURL, c.AllscriptsClientID},
	} {
		if cred.baseURL == "" {
			continue
		}
		if cred.tokenURL == "" {
			return fmt.Errorf("%s_TOKEN_URL is required when %s_BASE_URL is set", cred.name, cred.name)
		}
		if cred.clientID == "" {
			return fmt.Errorf("%s_CLIENT_ID is required when %s_BASE_URL is set", cred.name, cred.name)
		}
	}

	return nil
}
