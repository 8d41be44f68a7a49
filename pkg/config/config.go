package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Catalog sources understood by CatalogConfig.Source.
const (
	CatalogSourceHTTP     = "http"
	CatalogSourcePostgres = "postgres"
)

const (
	defaultHTTPLevelShapes     = "nursery=/nursery/sections,/sections?level={level};primary=/levels/{level}/sections,/sections?level={level};secondary=/levels/{level}/sections,/secondary/classrooms,/sections?level={level}"
	defaultPostgresLevelShapes = "nursery=nursery_sections,sections_by_level;primary=sections_by_level;secondary=sections_by_level,secondary_classrooms"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	CORS     CORSConfig
	Log      LogConfig
	Catalog  CatalogConfig
	Resolver ResolverConfig
	Forms    FormsConfig
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
	PoolSize int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// CatalogConfig points the console at the backend that owns teachers, subjects and classrooms.
type CatalogConfig struct {
	Source          string
	BaseURL         string
	Timeout         time.Duration
	ServiceSecret   string
	ServiceTokenTTL time.Duration
}

// ResolverConfig tunes candidate resolution.
//
// LevelShapes holds, per education level, the ordered query shapes tried for the
// "all sections for a level" lookup. The first shape that answers wins.
type ResolverConfig struct {
	LevelShapes  map[string][]string
	MemoTTL      time.Duration
	NegativeTTL  time.Duration
	CacheEnabled bool
}

// FormsConfig governs form sessions and the refresh worker pool.
type FormsConfig struct {
	SessionTTL        time.Duration
	SweepInterval     time.Duration
	Workers           int
	QueueBuffer       int
	PersistedRetries  int
	PersistedRetryGap time.Duration
}

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
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
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
		PoolSize: v.GetInt("REDIS_POOL_SIZE"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"), ",")}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	source := strings.ToLower(strings.TrimSpace(v.GetString("CATALOG_SOURCE")))
	if source != CatalogSourcePostgres {
		source = CatalogSourceHTTP
	}
	cfg.Catalog = CatalogConfig{
		Source:          source,
		BaseURL:         strings.TrimRight(v.GetString("CATALOG_BASE_URL"), "/"),
		Timeout:         parseDuration(v.GetString("CATALOG_TIMEOUT"), 5*time.Second),
		ServiceSecret:   v.GetString("CATALOG_SERVICE_SECRET"),
		ServiceTokenTTL: parseDuration(v.GetString("CATALOG_SERVICE_TOKEN_TTL"), 5*time.Minute),
	}

	rawShapes := v.GetString("RESOLVER_LEVEL_SHAPES")
	if rawShapes == "" {
		rawShapes = defaultHTTPLevelShapes
		if source == CatalogSourcePostgres {
			rawShapes = defaultPostgresLevelShapes
		}
	}
	cfg.Resolver = ResolverConfig{
		LevelShapes:  ParseLevelShapes(rawShapes),
		MemoTTL:      parseDuration(v.GetString("RESOLVER_MEMO_TTL"), 5*time.Minute),
		NegativeTTL:  parseDuration(v.GetString("RESOLVER_NEGATIVE_TTL"), 30*time.Second),
		CacheEnabled: v.GetBool("RESOLVER_CACHE_ENABLED"),
	}

	cfg.Forms = FormsConfig{
		SessionTTL:        parseDuration(v.GetString("FORM_SESSION_TTL"), 30*time.Minute),
		SweepInterval:     parseDuration(v.GetString("FORM_SWEEP_INTERVAL"), time.Minute),
		Workers:           v.GetInt("FORM_WORKERS"),
		QueueBuffer:       v.GetInt("FORM_QUEUE_BUFFER"),
		PersistedRetries:  v.GetInt("FORM_PERSISTED_RETRIES"),
		PersistedRetryGap: parseDuration(v.GetString("FORM_PERSISTED_RETRY_DELAY"), time.Second),
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
	v.SetDefault("DB_NAME", "school_console")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 10)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("CATALOG_SOURCE", CatalogSourceHTTP)
	v.SetDefault("CATALOG_BASE_URL", "http://localhost:8000/api")
	v.SetDefault("CATALOG_TIMEOUT", "5s")
	v.SetDefault("CATALOG_SERVICE_SECRET", "")
	v.SetDefault("CATALOG_SERVICE_TOKEN_TTL", "5m")

	v.SetDefault("RESOLVER_LEVEL_SHAPES", "")
	v.SetDefault("RESOLVER_MEMO_TTL", "5m")
	v.SetDefault("RESOLVER_NEGATIVE_TTL", "30s")
	v.SetDefault("RESOLVER_CACHE_ENABLED", false)

	v.SetDefault("FORM_SESSION_TTL", "30m")
	v.SetDefault("FORM_SWEEP_INTERVAL", "1m")
	v.SetDefault("FORM_WORKERS", 4)
	v.SetDefault("FORM_QUEUE_BUFFER", 64)
	v.SetDefault("FORM_PERSISTED_RETRIES", 3)
	v.SetDefault("FORM_PERSISTED_RETRY_DELAY", "1s")
}

// ParseLevelShapes reads "level=shapeA,shapeB;level2=shapeC" into an ordered
// shape list per lower-cased level. Malformed entries are skipped.
func ParseLevelShapes(raw string) map[string][]string {
	result := make(map[string][]string)
	for _, entry := range splitAndTrim(raw, ";") {
		level, shapes, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		level = strings.ToLower(strings.TrimSpace(level))
		list := splitAndTrim(shapes, ",")
		if level == "" || len(list) == 0 {
			continue
		}
		result[level] = append(result[level], list...)
	}
	return result
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw, sep string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, sep)
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
