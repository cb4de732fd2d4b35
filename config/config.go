// Package config loads server settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Ledger backends.
const (
	LedgerSQLite = "sqlite"
	LedgerRedis  = "redis"
	LedgerMemory = "memory"
)

type Config struct {
	Port          int
	DBPath        string
	LedgerBackend string
	RedisURL      string

	AMQPURL             string // empty disables claim events
	ClaimEventsExchange string

	LogLevel  string
	LogFormat string

	// Applied on the authoring path only; never read during evaluation.
	DefaultCoparticipationPercent decimal.Decimal

	CORSOrigins []string

	// How often to poll the catalog for writes by other nodes. 0 disables.
	CatalogRefreshInterval time.Duration
}

// Load reads .env (if present) then the environment. Variables already set
// in the environment win over .env.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := Config{
		DBPath:              getEnv("DB_PATH", "benefit.db"),
		LedgerBackend:       strings.ToLower(getEnv("LEDGER_BACKEND", LedgerSQLite)),
		RedisURL:            getEnv("REDIS_URL", "localhost:6379"),
		AMQPURL:             os.Getenv("AMQP_URL"),
		ClaimEventsExchange: getEnv("CLAIM_EVENTS_EXCHANGE", "claims"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "json"),
		CORSOrigins:         splitList(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173")),
	}

	port, err := strconv.Atoi(getEnv("PORT", "8080"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid PORT: %w", err)
	}
	cfg.Port = port

	pct, err := decimal.NewFromString(getEnv("DEFAULT_COPARTICIPATION_PERCENT", "0"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DEFAULT_COPARTICIPATION_PERCENT: %w", err)
	}
	cfg.DefaultCoparticipationPercent = pct

	refresh, err := time.ParseDuration(getEnv("CATALOG_REFRESH_INTERVAL", "30s"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid CATALOG_REFRESH_INTERVAL: %w", err)
	}
	cfg.CatalogRefreshInterval = refresh

	return cfg, cfg.Validate()
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	switch c.LedgerBackend {
	case LedgerSQLite, LedgerRedis, LedgerMemory:
	default:
		return fmt.Errorf("unknown LEDGER_BACKEND %q (want sqlite, redis or memory)", c.LedgerBackend)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}
	if c.DefaultCoparticipationPercent.IsNegative() || c.DefaultCoparticipationPercent.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("DEFAULT_COPARTICIPATION_PERCENT must be between 0 and 100, got %s", c.DefaultCoparticipationPercent)
	}
	if c.CatalogRefreshInterval < 0 {
		return fmt.Errorf("CATALOG_REFRESH_INTERVAL must not be negative, got %s", c.CatalogRefreshInterval)
	}
	return nil
}

// EventsEnabled reports whether claim events should be published.
func (c Config) EventsEnabled() bool { return c.AMQPURL != "" }

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
