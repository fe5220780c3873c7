package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Audit    AuditConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// AuditConfig tunes the outbox pipeline, the drain worker, and the
// admin query surface.
type AuditConfig struct {
	Environment     string
	LimiterCapacity int
	DrainEnabled    bool
	DrainInterval   time.Duration
	DrainBatchSize  int
	MaxAttempts     int
	VerifyMaxLimit  int
	ExportPageSize  int
	ExportMaxRows   int
	StatsCacheTTL   time.Duration
}

// Load reads configuration from the environment (and an optional .env
// file) applying defaults for anything unset.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Audit = AuditConfig{
		Environment:     v.GetString("AUDIT_ENVIRONMENT"),
		LimiterCapacity: v.GetInt("AUDIT_LIMITER_CAPACITY"),
		DrainEnabled:    v.GetBool("AUDIT_DRAIN_ENABLED"),
		DrainInterval:   parseDuration(v.GetString("AUDIT_DRAIN_INTERVAL"), 15*time.Second),
		DrainBatchSize:  v.GetInt("AUDIT_DRAIN_BATCH_SIZE"),
		MaxAttempts:     v.GetInt("AUDIT_MAX_ATTEMPTS"),
		VerifyMaxLimit:  v.GetInt("AUDIT_VERIFY_MAX_LIMIT"),
		ExportPageSize:  v.GetInt("AUDIT_EXPORT_PAGE_SIZE"),
		ExportMaxRows:   v.GetInt("AUDIT_EXPORT_MAX_ROWS"),
		StatsCacheTTL:   parseDuration(v.GetString("AUDIT_STATS_CACHE_TTL"), time.Minute),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "audit")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("AUDIT_ENVIRONMENT", "production")
	v.SetDefault("AUDIT_LIMITER_CAPACITY", 100)
	v.SetDefault("AUDIT_DRAIN_ENABLED", true)
	v.SetDefault("AUDIT_DRAIN_INTERVAL", "15s")
	v.SetDefault("AUDIT_DRAIN_BATCH_SIZE", 100)
	v.SetDefault("AUDIT_MAX_ATTEMPTS", 5)
	v.SetDefault("AUDIT_VERIFY_MAX_LIMIT", 10000)
	v.SetDefault("AUDIT_EXPORT_PAGE_SIZE", 500)
	v.SetDefault("AUDIT_EXPORT_MAX_ROWS", 100000)
	v.SetDefault("AUDIT_STATS_CACHE_TTL", "1m")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
