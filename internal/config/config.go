package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	BackendS3    = "s3"
	BackendMinio = "minio"
)

type Config struct {
	AWS        AWSConfig
	Dispatch   DispatchConfig
	Storage    StorageConfig
	Checkpoint CheckpointConfig
	Ledger     LedgerConfig
	Server     ServerConfig
	Log        LogConfig
}

type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	EndpointURL     string
}

type DispatchConfig struct {
	Bucket   string
	Function string
	Marker   string
	Workers  int
	PageSize int
	DryRun   bool
}

type StorageConfig struct {
	Backend  string
	Endpoint string
	UseSSL   bool
}

type CheckpointConfig struct {
	Enabled       bool
	RedisURL      string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	TTLHours      int
}

type LedgerConfig struct {
	Enabled     bool
	DatabaseURL string
	Host        string
	Port        string
	User        string
	Password    string
	DBName      string
	SSLMode     string
}

type ServerConfig struct {
	StatusAddr     string
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

var (
	once     sync.Once
	instance *Config
)

// Load reads .env (if present) and the process environment into a Config.
// It is evaluated once per process.
func Load() *Config {
	once.Do(func() {
		_ = godotenv.Load()

		SetDefaults(viper.GetViper())
		viper.AutomaticEnv()

		instance = FromViper(viper.GetViper())
	})

	return instance
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("AWS_REGION", "us-east-2")
	v.SetDefault("AWS_ACCESS_KEY_ID", "")
	v.SetDefault("AWS_SECRET_ACCESS_KEY", "")
	v.SetDefault("AWS_ENDPOINT_URL", "")
	v.SetDefault("DISPATCH_BUCKET", "highlight-session-data")
	v.SetDefault("DISPATCH_FUNCTION", "passwordReplacer")
	v.SetDefault("DISPATCH_MARKER", "session-contents-compressed-")
	v.SetDefault("DISPATCH_WORKERS", 250)
	v.SetDefault("DISPATCH_PAGE_SIZE", 1000)
	v.SetDefault("DISPATCH_DRY_RUN", false)
	v.SetDefault("STORAGE_BACKEND", BackendS3)
	v.SetDefault("STORAGE_ENDPOINT", "")
	v.SetDefault("STORAGE_USE_SSL", true)
	v.SetDefault("CHECKPOINT_ENABLED", false)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_HOST", "127.0.0.1")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CHECKPOINT_TTL_HOURS", 72)
	v.SetDefault("LEDGER_ENABLED", false)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "passwordreplacer")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("STATUS_ADDR", "")
	v.SetDefault("SERVER_ALLOWED_ORIGINS", []string{"*"})
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
}

// FromViper builds a Config from the values visible through v.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		AWS: AWSConfig{
			Region:          v.GetString("AWS_REGION"),
			AccessKeyID:     v.GetString("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: v.GetString("AWS_SECRET_ACCESS_KEY"),
			EndpointURL:     v.GetString("AWS_ENDPOINT_URL"),
		},
		Dispatch: DispatchConfig{
			Bucket:   v.GetString("DISPATCH_BUCKET"),
			Function: v.GetString("DISPATCH_FUNCTION"),
			Marker:   v.GetString("DISPATCH_MARKER"),
			Workers:  v.GetInt("DISPATCH_WORKERS"),
			PageSize: v.GetInt("DISPATCH_PAGE_SIZE"),
			DryRun:   v.GetBool("DISPATCH_DRY_RUN"),
		},
		Storage: StorageConfig{
			Backend:  strings.ToLower(v.GetString("STORAGE_BACKEND")),
			Endpoint: v.GetString("STORAGE_ENDPOINT"),
			UseSSL:   v.GetBool("STORAGE_USE_SSL"),
		},
		Checkpoint: CheckpointConfig{
			Enabled:       v.GetBool("CHECKPOINT_ENABLED"),
			RedisURL:      v.GetString("REDIS_URL"),
			RedisHost:     v.GetString("REDIS_HOST"),
			RedisPort:     v.GetString("REDIS_PORT"),
			RedisPassword: v.GetString("REDIS_PASSWORD"),
			RedisDB:       v.GetInt("REDIS_DB"),
			TTLHours:      v.GetInt("CHECKPOINT_TTL_HOURS"),
		},
		Ledger: LedgerConfig{
			Enabled:     v.GetBool("LEDGER_ENABLED"),
			DatabaseURL: v.GetString("DATABASE_URL"),
			Host:        v.GetString("DB_HOST"),
			Port:        v.GetString("DB_PORT"),
			User:        v.GetString("DB_USER"),
			Password:    v.GetString("DB_PASSWORD"),
			DBName:      v.GetString("DB_NAME"),
			SSLMode:     v.GetString("DB_SSLMODE"),
		},
		Server: ServerConfig{
			StatusAddr:     v.GetString("STATUS_ADDR"),
			AllowedOrigins: v.GetStringSlice("SERVER_ALLOWED_ORIGINS"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}
}

// Validate reports the first setting that would make a run meaningless.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Dispatch.Bucket) == "":
		return fmt.Errorf("bucket must be provided")
	case strings.TrimSpace(c.Dispatch.Function) == "":
		return fmt.Errorf("function name must be provided")
	case c.Dispatch.Marker == "":
		return fmt.Errorf("marker must not be empty")
	case c.Dispatch.Workers < 1:
		return fmt.Errorf("workers must be at least 1, got %d", c.Dispatch.Workers)
	}

	switch c.Storage.Backend {
	case BackendS3:
	case BackendMinio:
		if c.Storage.Endpoint == "" {
			return fmt.Errorf("minio backend requires a storage endpoint")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	return nil
}

// DSN returns the Postgres connection string for the ledger.
func (c LedgerConfig) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
