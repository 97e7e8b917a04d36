// Package config assembles the immutable, process-wide configuration for the
// code-intelligence server from defaults, an optional file, environment
// variables, and command-line flags, in that increasing order of precedence.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"codeintel.dev/codeerr"
)

// EnvPrefix is the prefix every environment variable is read under, e.g.
// MCP_PORT, MCP_VECTOR_ENDPOINT.
const EnvPrefix = "MCP"

// Config is the validated, immutable configuration for one server process.
// Once Load returns successfully the struct is never mutated again.
type Config struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	VectorEndpoint string `mapstructure:"vector_endpoint"`
	VectorAPIKey   string `mapstructure:"vector_api_key"`
	CollectionName string `mapstructure:"collection_name"`

	EmbeddingModel string `mapstructure:"embedding_model"`
	EmbeddingDim   int    `mapstructure:"embedding_dim"`

	ADRDir   string `mapstructure:"adr_dir"`
	DocsDir  string `mapstructure:"docs_dir"`
	KBDir    string `mapstructure:"kb_dir"`
	CacheDir string `mapstructure:"cache_dir"`

	CacheMemBytes   int64  `mapstructure:"cache_mem_bytes"`
	CacheDiskBytes  int64  `mapstructure:"cache_disk_bytes"`
	CacheTTLSeconds int    `mapstructure:"cache_ttl_seconds"`
	CacheRedisURL   string `mapstructure:"cache_redis_url"` // optional shared tier; "" disables it

	TaskWorkers    int            `mapstructure:"task_workers"`
	TaskQueueDepth int            `mapstructure:"task_queue_depth"`
	TaskRetries    map[string]int `mapstructure:"task_retries"`

	LogLevel string `mapstructure:"log_level"`

	AuthEnabled    bool     `mapstructure:"auth_enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	HealthPollInterval int `mapstructure:"health_poll_interval_seconds"`
	ShutdownDeadline   int `mapstructure:"shutdown_deadline_seconds"`

	StrictMode bool `mapstructure:"strict_mode"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("vector_endpoint", "")
	v.SetDefault("vector_api_key", "")
	v.SetDefault("collection_name", "patterns")
	v.SetDefault("embedding_model", "local-minilm")
	v.SetDefault("embedding_dim", 384)
	v.SetDefault("adr_dir", "./data/adrs")
	v.SetDefault("docs_dir", "./data/docs")
	v.SetDefault("kb_dir", "./data/kb")
	v.SetDefault("cache_dir", "./data/cache")
	v.SetDefault("cache_mem_bytes", int64(64<<20))
	v.SetDefault("cache_disk_bytes", int64(512<<20))
	v.SetDefault("cache_ttl_seconds", 3600)
	v.SetDefault("cache_redis_url", "")
	v.SetDefault("task_workers", 4)
	v.SetDefault("task_queue_depth", 128)
	v.SetDefault("task_retries", map[string]int{})
	v.SetDefault("log_level", "info")
	v.SetDefault("auth_enabled", false)
	v.SetDefault("allowed_origins", []string{"*"})
	v.SetDefault("health_poll_interval_seconds", 30)
	v.SetDefault("shutdown_deadline_seconds", 10)
	v.SetDefault("strict_mode", false)
}

// Load assembles configuration from defaults, the optional file at
// configPath (if non-empty and present), environment variables prefixed
// with MCP_, and flags already bound to v by the caller (cmd/server binds
// cobra flags into the same viper instance before calling Load).
func Load(v *viper.Viper, configPath string) (*Config, error) {
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				return nil, codeerr.Wrap(codeerr.ConfigInvalid, "reading config file", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, codeerr.Wrap(codeerr.ConfigInvalid, "decoding configuration", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	v := newValidator()

	v.requirePositiveInt("embedding_dim", cfg.EmbeddingDim)
	v.requirePositiveInt("port", cfg.Port)
	v.requirePositiveInt("task_workers", cfg.TaskWorkers)
	v.requirePositiveInt("task_queue_depth", cfg.TaskQueueDepth)

	for _, dir := range []struct {
		field, path string
	}{
		{"adr_dir", cfg.ADRDir},
		{"docs_dir", cfg.DocsDir},
		{"kb_dir", cfg.KBDir},
		{"cache_dir", cfg.CacheDir},
	} {
		if err := ensureWritableDir(dir.path); err != nil {
			v.errors = append(v.errors, fmt.Sprintf("%s %q is not writable: %v", dir.field, dir.path, err))
		}
	}

	if cfg.VectorEndpoint != "" {
		if _, err := url.ParseRequestURI(cfg.VectorEndpoint); err != nil {
			v.errors = append(v.errors, fmt.Sprintf("vector_endpoint %q is malformed", cfg.VectorEndpoint))
		}
	}

	if !v.isValid() {
		return codeerr.New(codeerr.ConfigInvalid, v.errorString())
	}
	return nil
}

func ensureWritableDir(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}
	probe := filepath.Join(path, ".write-probe")
	f, err := os.Create(probe)
	if err != nil {
		return err
	}
	f.Close()
	return os.Remove(probe)
}

// validator accumulates configuration errors so Load can report every
// violation at once rather than failing on the first.
type validator struct {
	errors []string
}

func newValidator() *validator { return &validator{} }

func (v *validator) requirePositiveInt(field string, value int) {
	if value <= 0 {
		v.errors = append(v.errors, fmt.Sprintf("%s must be positive", field))
	}
}

func (v *validator) isValid() bool { return len(v.errors) == 0 }

func (v *validator) errorString() string { return strings.Join(v.errors, "; ") }
