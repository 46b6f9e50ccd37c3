// Package config loads the registry server configuration from defaults, an
// optional .env file, a YAML config file, MODEL_REGISTRY_* environment
// variables and command line flags, in rising precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nainya/modelregistry/internal/tracing"
	"github.com/nainya/modelregistry/pkg/query"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "MODEL_REGISTRY"

// Config holds all configuration options for the registry server.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	GRPC          GRPCConfig          `mapstructure:"grpc"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Log           LogConfig           `mapstructure:"log"`
	Tracing       tracing.Config      `mapstructure:"tracing"`
	Pagination    PaginationConfig    `mapstructure:"pagination"`
}

// DatabaseConfig locates the page file and its journal.
type DatabaseConfig struct {
	Path   string `mapstructure:"path"`
	WALDir string `mapstructure:"wal_dir"` // defaults to the directory of Path
	// CheckpointInterval between background checkpoints; 0 disables them
	CheckpointInterval time.Duration `mapstructure:"checkpoint_interval"`
}

type GRPCConfig struct {
	Port int `mapstructure:"port"`
}

// HTTPConfig configures the REST server.
type HTTPConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin mode: "debug", "release" or "test"
}

// ObservabilityConfig configures the metrics, health and pprof server.
type ObservabilityConfig struct {
	Port int `mapstructure:"port"` // 0 disables the server
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
	Caller bool   `mapstructure:"caller"`
}

// PaginationConfig bounds list page sizes.
type PaginationConfig struct {
	DefaultPageSize int `mapstructure:"default_page_size"`
	MaxPageSize     int `mapstructure:"max_page_size"`
}

// Limits converts the pagination section for the store.
func (p PaginationConfig) Limits() query.Limits {
	return query.Limits{DefaultPageSize: p.DefaultPageSize, MaxPageSize: p.MaxPageSize}
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	limits := query.DefaultLimits()
	return Config{
		Database: DatabaseConfig{
			Path:               "model-registry.db",
			CheckpointInterval: 5 * time.Minute,
		},
		GRPC:          GRPCConfig{Port: 9090},
		HTTP:          HTTPConfig{Port: 8080, Mode: "release"},
		Observability: ObservabilityConfig{Port: 9091},
		Log:           LogConfig{Level: "info"},
		Tracing: tracing.Config{
			Exporter:    "none",
			SampleRate:  1.0,
			ServiceName: "model-registry",
		},
		Pagination: PaginationConfig{
			DefaultPageSize: limits.DefaultPageSize,
			MaxPageSize:     limits.MaxPageSize,
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.wal_dir", d.Database.WALDir)
	v.SetDefault("database.checkpoint_interval", d.Database.CheckpointInterval)
	v.SetDefault("grpc.port", d.GRPC.Port)
	v.SetDefault("http.port", d.HTTP.Port)
	v.SetDefault("http.mode", d.HTTP.Mode)
	v.SetDefault("observability.port", d.Observability.Port)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.pretty", d.Log.Pretty)
	v.SetDefault("log.caller", d.Log.Caller)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("pagination.default_page_size", d.Pagination.DefaultPageSize)
	v.SetDefault("pagination.max_page_size", d.Pagination.MaxPageSize)
}

// flagKeys maps command line flags to config keys
var flagKeys = map[string]string{
	"db-path":             "database.path",
	"wal-dir":             "database.wal_dir",
	"checkpoint-interval": "database.checkpoint_interval",
	"grpc-port":           "grpc.port",
	"http-port":           "http.port",
	"metrics-port":        "observability.port",
	"log-level":           "log.level",
	"log-pretty":          "log.pretty",
	"trace-exporter":      "tracing.exporter",
}

// RegisterFlags adds the server flags to fs. Unset flags do not override
// lower precedence sources.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.String("db-path", d.Database.Path, "path to the registry database file")
	fs.String("wal-dir", d.Database.WALDir, "directory of the write-ahead log")
	fs.Duration("checkpoint-interval", d.Database.CheckpointInterval, "interval between WAL checkpoints (0 disables)")
	fs.Int("grpc-port", d.GRPC.Port, "gRPC listen port")
	fs.Int("http-port", d.HTTP.Port, "REST listen port")
	fs.Int("metrics-port", d.Observability.Port, "metrics, health and pprof port (0 disables)")
	fs.String("log-level", d.Log.Level, "log level (trace, debug, info, warn, error)")
	fs.Bool("log-pretty", d.Log.Pretty, "human readable console logs")
	fs.String("trace-exporter", d.Tracing.Exporter, "span exporter (none, stdout)")
}

// LoadOptions selects the sources Load reads.
type LoadOptions struct {
	// ConfigFile is read when set; otherwise config.yaml is looked up in the
	// working directory and ~/.config/model-registry, and may be absent.
	ConfigFile string
	// EnvFile defaults to .env; a missing file is ignored
	EnvFile string
	Flags   *pflag.FlagSet
}

// Load resolves and validates the configuration.
func Load(opts LoadOptions) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", opts.ConfigFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "model-registry"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if opts.Flags != nil {
		for name, key := range flagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	// a non-none exporter implies tracing
	if cfg.Tracing.Exporter != "" && cfg.Tracing.Exporter != "none" {
		cfg.Tracing.Enabled = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validPort(p int) bool {
	return p > 0 && p < 65536
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.CheckpointInterval < 0 {
		return fmt.Errorf("database.checkpoint_interval must not be negative, got %s", c.Database.CheckpointInterval)
	}

	if !validPort(c.GRPC.Port) {
		return fmt.Errorf("grpc.port must be between 1 and 65535, got %d", c.GRPC.Port)
	}
	if !validPort(c.HTTP.Port) {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Observability.Port != 0 && !validPort(c.Observability.Port) {
		return fmt.Errorf("observability.port must be 0 or between 1 and 65535, got %d", c.Observability.Port)
	}
	ports := map[int]string{c.GRPC.Port: "grpc.port"}
	if other, ok := ports[c.HTTP.Port]; ok {
		return fmt.Errorf("http.port %d is already used by %s", c.HTTP.Port, other)
	}
	ports[c.HTTP.Port] = "http.port"
	if other, ok := ports[c.Observability.Port]; ok && c.Observability.Port != 0 {
		return fmt.Errorf("observability.port %d is already used by %s", c.Observability.Port, other)
	}

	switch c.HTTP.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("http.mode must be \"debug\", \"release\" or \"test\", got %q", c.HTTP.Mode)
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	switch c.Tracing.Exporter {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("tracing.exporter must be \"none\" or \"stdout\", got %q", c.Tracing.Exporter)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", c.Tracing.SampleRate)
	}

	if c.Pagination.DefaultPageSize <= 0 || c.Pagination.MaxPageSize <= 0 {
		return fmt.Errorf("pagination sizes must be positive")
	}
	if c.Pagination.DefaultPageSize > c.Pagination.MaxPageSize {
		return fmt.Errorf("pagination.default_page_size %d exceeds pagination.max_page_size %d",
			c.Pagination.DefaultPageSize, c.Pagination.MaxPageSize)
	}
	return nil
}
