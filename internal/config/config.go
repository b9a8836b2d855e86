// Package config loads the service configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Database DatabaseConfig
	Store    StoreConfig
	Cache    CacheConfig
	Redis    RedisConfig
	Metrics  MetricsConfig
	CORS     CORSConfig
	PACS     PACSConfig
	Viewer   ViewerConfig
	Auth     AuthConfig
	Upload   UploadConfig
	Patients PatientsConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	LogLevel string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// StoreConfig selects where studies are persisted: postgres or memory
type StoreConfig struct {
	Driver string
}

type CacheConfig struct {
	Enabled bool
	Type    string // memory or redis
	TTL     time.Duration
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Prefix   string
}

type MetricsConfig struct {
	Enabled bool
}

type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

type PACSConfig struct {
	URL                 string
	Username            string
	Password            string
	Token               string
	Timeout             time.Duration
	UploadRetries       int
	TimeoutRetries      int
	RetryBackoff        time.Duration
	MaxRetryBackoff     time.Duration
	CompensationTimeout time.Duration
}

type ViewerConfig struct {
	WadoRoot   string
	WadoRsRoot string
	QidoRsRoot string
}

type AuthConfig struct {
	JWTSecret string
}

type UploadConfig struct {
	MaxBytes int64
}

type PatientsConfig struct {
	Table string
	Seed  []uuid.UUID // patient ids known to the memory directory
}

// Load reads .env if present, then the environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return fromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", "60s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "120s")
	v.SetDefault("SERVER_SHUTDOWN_TIMEOUT", "30s")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_NAME", "ris")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_LOG_LEVEL", "warn")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "5m")

	v.SetDefault("STORE_DRIVER", "postgres")

	v.SetDefault("CACHE_ENABLED", true)
	v.SetDefault("CACHE_TYPE", "memory")
	v.SetDefault("CACHE_TTL", "1h")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_PREFIX", "ris-study-ingest:")

	v.SetDefault("METRICS_ENABLED", true)

	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("CORS_ALLOWED_METHODS", "GET,POST,DELETE,OPTIONS")
	v.SetDefault("CORS_ALLOWED_HEADERS", "Accept,Authorization,Content-Type,X-Request-ID")

	v.SetDefault("PACS_URL", "http://localhost:8042")
	v.SetDefault("PACS_TIMEOUT", "30s")
	v.SetDefault("PACS_UPLOAD_RETRIES", 2)
	v.SetDefault("PACS_TIMEOUT_RETRIES", 1)
	v.SetDefault("PACS_RETRY_BACKOFF", "500ms")
	v.SetDefault("PACS_MAX_RETRY_BACKOFF", "5s")
	v.SetDefault("PACS_COMPENSATION_TIMEOUT", "30s")

	v.SetDefault("VIEWER_WADO_ROOT", "http://localhost:8042/wado")
	v.SetDefault("VIEWER_WADO_RS_ROOT", "http://localhost:8042/dicom-web")
	v.SetDefault("VIEWER_QIDO_RS_ROOT", "http://localhost:8042/dicom-web")

	v.SetDefault("UPLOAD_MAX_BYTES", 512<<20)

	v.SetDefault("PATIENTS_TABLE", "patients")

	return v
}

func fromViper(v *viper.Viper) (*Config, error) {
	seed, err := parseUUIDs(v.GetString("PATIENTS_SEED"))
	if err != nil {
		return nil, fmt.Errorf("PATIENTS_SEED: %w", err)
	}

	return &Config{
		Server: ServerConfig{
			Host:            v.GetString("SERVER_HOST"),
			Port:            v.GetInt("SERVER_PORT"),
			ReadTimeout:     v.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout:    v.GetDuration("SERVER_WRITE_TIMEOUT"),
			ShutdownTimeout: v.GetDuration("SERVER_SHUTDOWN_TIMEOUT"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetInt("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
			LogLevel: v.GetString("DB_LOG_LEVEL"),

			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(v.GetString("STORE_DRIVER")),
		},
		Cache: CacheConfig{
			Enabled: v.GetBool("CACHE_ENABLED"),
			Type:    strings.ToLower(v.GetString("CACHE_TYPE")),
			TTL:     v.GetDuration("CACHE_TTL"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetInt("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
			Prefix:   v.GetString("REDIS_PREFIX"),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("METRICS_ENABLED"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
			AllowedMethods: splitList(v.GetString("CORS_ALLOWED_METHODS")),
			AllowedHeaders: splitList(v.GetString("CORS_ALLOWED_HEADERS")),
		},
		PACS: PACSConfig{
			URL:                 v.GetString("PACS_URL"),
			Username:            v.GetString("PACS_USERNAME"),
			Password:            v.GetString("PACS_PASSWORD"),
			Token:               v.GetString("PACS_TOKEN"),
			Timeout:             v.GetDuration("PACS_TIMEOUT"),
			UploadRetries:       v.GetInt("PACS_UPLOAD_RETRIES"),
			TimeoutRetries:      v.GetInt("PACS_TIMEOUT_RETRIES"),
			RetryBackoff:        v.GetDuration("PACS_RETRY_BACKOFF"),
			MaxRetryBackoff:     v.GetDuration("PACS_MAX_RETRY_BACKOFF"),
			CompensationTimeout: v.GetDuration("PACS_COMPENSATION_TIMEOUT"),
		},
		Viewer: ViewerConfig{
			WadoRoot:   v.GetString("VIEWER_WADO_ROOT"),
			WadoRsRoot: v.GetString("VIEWER_WADO_RS_ROOT"),
			QidoRsRoot: v.GetString("VIEWER_QIDO_RS_ROOT"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("JWT_SECRET"),
		},
		Upload: UploadConfig{
			MaxBytes: v.GetInt64("UPLOAD_MAX_BYTES"),
		},
		Patients: PatientsConfig{
			Table: v.GetString("PATIENTS_TABLE"),
			Seed:  seed,
		},
	}, nil
}

// Validate checks the configuration before anything connects
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid SERVER_PORT %d", c.Server.Port)
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Database.Host == "" || c.Database.DBName == "" {
			return errors.New("DB_HOST and DB_NAME are required for the postgres store")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q (want postgres or memory)", c.Store.Driver)
	}

	if c.Cache.Enabled && c.Cache.Type != "memory" && c.Cache.Type != "redis" {
		return fmt.Errorf("unknown CACHE_TYPE %q (want memory or redis)", c.Cache.Type)
	}

	if u, err := url.Parse(c.PACS.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid PACS_URL %q", c.PACS.URL)
	}
	if c.PACS.UploadRetries < 0 || c.PACS.TimeoutRetries < 0 {
		return errors.New("PACS retry budgets must not be negative")
	}

	for name, root := range map[string]string{
		"VIEWER_WADO_ROOT":    c.Viewer.WadoRoot,
		"VIEWER_WADO_RS_ROOT": c.Viewer.WadoRsRoot,
		"VIEWER_QIDO_RS_ROOT": c.Viewer.QidoRsRoot,
	} {
		if u, err := url.Parse(root); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid %s %q", name, root)
		}
	}

	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("invalid UPLOAD_MAX_BYTES %d", c.Upload.MaxBytes)
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseUUIDs(raw string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, part := range splitList(raw) {
		id, err := uuid.Parse(part)
		if err != nil {
			return nil, fmt.Errorf("invalid patient id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
