package config

import "time"

// APIConfig holds runtime configuration for the fleet API service.
type APIConfig struct {
	Environment      string
	Addr             string
	DatabaseURL      string
	MigrationsDir    string
	TriggerAuthToken string
	CacheRedisAddr   string
	CacheRedisPass   string
	CacheRedisDB     int
	CacheKeyPrefix   string
	SweepInterval    time.Duration
	SweepAtMidnight  bool
	SweepParallelism int
	RebuildTimeout   time.Duration
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:      GetString("APP_ENV", "development"),
		Addr:             GetString("API_ADDR", ":4000"),
		DatabaseURL:      GetString("DATABASE_URL", "postgres://staggerd:staggerd@db:5432/staggerd?sslmode=disable"),
		MigrationsDir:    GetString("DB_MIGRATIONS_DIR", "./db/migrations"),
		TriggerAuthToken: GetString("TRIGGER_AUTH_TOKEN", ""),
		CacheRedisAddr:   GetString("TARGET_CACHE_REDIS_ADDR", ""),
		CacheRedisPass:   GetString("TARGET_CACHE_REDIS_PASSWORD", ""),
		CacheRedisDB:     GetInt("TARGET_CACHE_REDIS_DB", 0),
		CacheKeyPrefix:   GetString("TARGET_CACHE_KEY_PREFIX", "staggerd:targets:"),
		SweepInterval:    time.Duration(GetInt("SWEEP_INTERVAL_SECONDS", 86400)) * time.Second,
		SweepAtMidnight:  GetBool("SWEEP_AT_MIDNIGHT", true),
		SweepParallelism: GetInt("SWEEP_PARALLELISM", 4),
		RebuildTimeout:   time.Duration(GetInt("REBUILD_TIMEOUT_SECONDS", 30)) * time.Second,
	}
}
