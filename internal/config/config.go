package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	LockMemory   = "memory"
	LockPostgres = "postgres"
)

type Config struct {
	Port             string        `mapstructure:"PORT"`
	Env              string        `mapstructure:"ENV"`
	LogLevel         string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL      string        `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32         `mapstructure:"DB_MIN_CONNS"`
	DBSchema         string        `mapstructure:"DB_SCHEMA"`
	MigrationsDir    string        `mapstructure:"MIGRATIONS_DIR"`
	AuthIssuer       string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience     string        `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL      string        `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey   string        `mapstructure:"AUTH_SIGNING_KEY"`
	EvalInterval     time.Duration `mapstructure:"EVAL_INTERVAL"`
	EvalWorkers      int           `mapstructure:"EVAL_WORKERS"`
	PatientTimeout   time.Duration `mapstructure:"PATIENT_TIMEOUT"`
	AlertDedupWindow time.Duration `mapstructure:"ALERT_DEDUP_WINDOW"`
	VisitDedupWindow time.Duration `mapstructure:"VISIT_DEDUP_WINDOW"`
	DefaultRulesFile string        `mapstructure:"DEFAULT_RULES_FILE"`
	KafkaBrokers     []string      `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic       string        `mapstructure:"KAFKA_TOPIC"`
	DedupLock        string        `mapstructure:"DEDUP_LOCK"`
}

var defaults = map[string]interface{}{
	"PORT":               "8000",
	"ENV":                "development",
	"LOG_LEVEL":          "info",
	"DB_MAX_CONNS":       20,
	"DB_MIN_CONNS":       2,
	"DB_SCHEMA":          "public",
	"EVAL_INTERVAL":      "5m",
	"EVAL_WORKERS":       8,
	"PATIENT_TIMEOUT":    "30s",
	"ALERT_DEDUP_WINDOW": "24h",
	"VISIT_DEDUP_WINDOW": "168h",
	"KAFKA_TOPIC":        "rpm.actions",
	"DEDUP_LOCK":         LockMemory,
}

var envKeys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA", "MIGRATIONS_DIR",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"EVAL_INTERVAL", "EVAL_WORKERS", "PATIENT_TIMEOUT",
	"ALERT_DEDUP_WINDOW", "VISIT_DEDUP_WINDOW", "DEFAULT_RULES_FILE",
	"KAFKA_BROKERS", "KAFKA_TOPIC", "DEDUP_LOCK",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range envKeys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.KafkaBrokers = splitList(v.GetString("KAFKA_BROKERS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is safe to run. Outside development
// a token issuer and a way to verify tokens are required.
func (c *Config) Validate() error {
	if c.EvalInterval <= 0 {
		return fmt.Errorf("EVAL_INTERVAL must be positive, got %s", c.EvalInterval)
	}
	if c.EvalWorkers <= 0 {
		return fmt.Errorf("EVAL_WORKERS must be positive, got %d", c.EvalWorkers)
	}
	if c.PatientTimeout <= 0 {
		return fmt.Errorf("PATIENT_TIMEOUT must be positive, got %s", c.PatientTimeout)
	}
	if c.AlertDedupWindow <= 0 || c.VisitDedupWindow <= 0 {
		return fmt.Errorf("dedup windows must be positive (alert %s, visit %s)", c.AlertDedupWindow, c.VisitDedupWindow)
	}
	if c.DedupLock != LockMemory && c.DedupLock != LockPostgres {
		return fmt.Errorf("DEDUP_LOCK must be %q or %q, got %q", LockMemory, LockPostgres, c.DedupLock)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.IsDev() {
		return nil
	}
	if c.AuthIssuer == "" {
		return fmt.Errorf("AUTH_ISSUER must be set outside development (current ENV=%q)", c.Env)
	}
	if c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY or AUTH_JWKS_URL must be set outside development")
	}
	return nil
}
