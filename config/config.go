// Package config loads the service configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AppEnv     string
	ListenAddr string
	LogLevel   string

	DatabaseURL         string
	SimulationEngineURL string
	GameServiceToken    string
	RosterServiceURL    string
	AllowedOrigins      string

	PageSize           int
	Concurrency        int
	ChunkSize          int
	CurrencyMultiplier int64
	ClaimTTL           time.Duration

	CreateEvery     time.Duration
	ResolveEvery    time.Duration
	ReconcileEvery  time.Duration
	RosterSyncEvery time.Duration

	R2AccountID       string
	R2AccessKeyID     string
	R2AccessKeySecret string
	R2ArchiveBucket   string
}

// IsProduction reports whether the operator trigger routes must stay closed.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// SIMULATION_ENGINE_URL is optional: without it every phase but resolve runs.
var required = []string{"DATABASE_URL", "GAME_SERVICE_TOKEN"}

// Load reads .env when present and then the process environment, which wins.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LISTEN_ADDR", ":5200")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:3000")
	v.SetDefault("MATCH_PAGE_SIZE", 1000)
	v.SetDefault("MATCH_CONCURRENCY", 16)
	v.SetDefault("RECONCILE_CHUNK_SIZE", 500)
	v.SetDefault("CURRENCY_MULTIPLIER", 10)
	v.SetDefault("CLAIM_TTL", "30m")
	v.SetDefault("CREATE_EVERY", "0s")
	v.SetDefault("RESOLVE_EVERY", "0s")
	v.SetDefault("RECONCILE_EVERY", "0s")
	v.SetDefault("ROSTER_SYNC_EVERY", "1m")
	return v
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	var missing []error
	for _, key := range required {
		if v.GetString(key) == "" {
			missing = append(missing, fmt.Errorf("%s environment variable not set", key))
		}
	}
	if err := errors.Join(missing...); err != nil {
		return nil, err
	}

	cfg := &Config{
		AppEnv:     v.GetString("APP_ENV"),
		ListenAddr: v.GetString("LISTEN_ADDR"),
		LogLevel:   v.GetString("LOG_LEVEL"),

		DatabaseURL:         v.GetString("DATABASE_URL"),
		SimulationEngineURL: v.GetString("SIMULATION_ENGINE_URL"),
		GameServiceToken:    v.GetString("GAME_SERVICE_TOKEN"),
		RosterServiceURL:    v.GetString("ROSTER_SERVICE_URL"),
		AllowedOrigins:      v.GetString("ALLOWED_ORIGINS"),

		PageSize:           v.GetInt("MATCH_PAGE_SIZE"),
		Concurrency:        v.GetInt("MATCH_CONCURRENCY"),
		ChunkSize:          v.GetInt("RECONCILE_CHUNK_SIZE"),
		CurrencyMultiplier: v.GetInt64("CURRENCY_MULTIPLIER"),
		ClaimTTL:           v.GetDuration("CLAIM_TTL"),

		CreateEvery:     v.GetDuration("CREATE_EVERY"),
		ResolveEvery:    v.GetDuration("RESOLVE_EVERY"),
		ReconcileEvery:  v.GetDuration("RECONCILE_EVERY"),
		RosterSyncEvery: v.GetDuration("ROSTER_SYNC_EVERY"),

		R2AccountID:       v.GetString("R2_ACCOUNT_ID"),
		R2AccessKeyID:     v.GetString("R2_ACCESS_KEY_ID"),
		R2AccessKeySecret: v.GetString("R2_ACCESS_KEY_SECRET"),
		R2ArchiveBucket:   v.GetString("R2_ARCHIVE_BUCKET"),
	}

	if cfg.PageSize <= 0 || cfg.Concurrency <= 0 || cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("page size, concurrency and chunk size must be positive (got %d, %d, %d)",
			cfg.PageSize, cfg.Concurrency, cfg.ChunkSize)
	}
	if cfg.ClaimTTL <= 0 {
		return nil, fmt.Errorf("CLAIM_TTL must be positive (got %s)", cfg.ClaimTTL)
	}
	return cfg, nil
}
