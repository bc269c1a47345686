package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete picatest configuration
type Config struct {
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Graph       GraphConfig       `mapstructure:"graph"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Minio       MinioConfig       `mapstructure:"minio"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Executor    ExecutorConfig    `mapstructure:"executor"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// SchedulerConfig controls how actions are batched
type SchedulerConfig struct {
	// BatchSize is the target number of actions per batch (default: 10).
	// A batch can grow past this until a model/platform boundary is reached.
	BatchSize int `mapstructure:"batch_size"`
	// Resume continues from the last recorded batch instead of starting over (default: true)
	Resume bool `mapstructure:"resume"`
	// MaxBatches stops a run after this many batches (0 = no limit)
	MaxBatches int `mapstructure:"max_batches"`
}

// GraphConfig controls dependency graph construction
type GraphConfig struct {
	// OracleEnabled asks the LLM classifier for dependency hints (default: true)
	OracleEnabled bool `mapstructure:"oracle_enabled"`
	// OracleMaxActions is the catalog size at or above which the oracle is skipped (default: 100)
	OracleMaxActions int `mapstructure:"oracle_max_actions"`
	// OracleTimeoutSeconds bounds a single oracle call (default: 60)
	OracleTimeoutSeconds int `mapstructure:"oracle_timeout_seconds"`
}

// PersistenceConfig controls where and how often campaign state is saved
type PersistenceConfig struct {
	// Dir is the root directory for history, contexts, checkpoints and interrupts.
	// Empty means ~/.config/picatest/state.
	Dir string `mapstructure:"dir"`
	// Backend selects the store: "file" (default) or "minio"
	Backend string `mapstructure:"backend"`
	// CheckpointIntervalSeconds is the time-based checkpoint trigger (default: 30)
	CheckpointIntervalSeconds int `mapstructure:"checkpoint_interval_seconds"`
	// CheckpointStride is the index-based checkpoint trigger (default: 5)
	CheckpointStride int `mapstructure:"checkpoint_stride"`
	// CompressionThresholdBytes is the serialized context size above which a
	// completed batch is stored in compact form (default: 50000)
	CompressionThresholdBytes int `mapstructure:"compression_threshold_bytes"`
	// RecentActions is the capacity of the recent-action ring (default: 10)
	RecentActions int `mapstructure:"recent_actions"`
}

// MinioConfig configures the S3-compatible object store backend
type MinioConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// LLMConfig configures the OpenAI-compatible endpoint used by the oracle and
// the agent executor
type LLMConfig struct {
	// APIKey is read from OPENAI_API_KEY when unset
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// ExecutorConfig controls how actions are executed
type ExecutorConfig struct {
	// Mode is "agent" (LLM-backed) or "dry_run" (default: "agent")
	Mode string `mapstructure:"mode"`
	// ActionTimeoutSeconds bounds a single action execution (default: 120)
	ActionTimeoutSeconds int `mapstructure:"action_timeout_seconds"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether debug.log is written (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the minimum log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// MaxSizeMB is the size at which debug.log rotates (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated files kept (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated files (default: false)
	Compress bool `mapstructure:"compress"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			BatchSize:  10,
			Resume:     true,
			MaxBatches: 0,
		},
		Graph: GraphConfig{
			OracleEnabled:        true,
			OracleMaxActions:     100,
			OracleTimeoutSeconds: 60,
		},
		Persistence: PersistenceConfig{
			Dir:                       "",
			Backend:                   BackendFile,
			CheckpointIntervalSeconds: 30,
			CheckpointStride:          5,
			CompressionThresholdBytes: 50000,
			RecentActions:             10,
		},
		Minio: MinioConfig{
			Bucket: "picatest",
			Region: "us-east-1",
			UseSSL: true,
		},
		LLM: LLMConfig{
			Model: "gpt-4o-mini",
		},
		Executor: ExecutorConfig{
			Mode:                 ExecutorAgent,
			ActionTimeoutSeconds: 120,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Storage backends
const (
	BackendFile  = "file"
	BackendMinio = "minio"
)

// Executor modes
const (
	ExecutorAgent  = "agent"
	ExecutorDryRun = "dry_run"
)

// OracleTimeout returns the oracle call deadline as a time.Duration
func (c *GraphConfig) OracleTimeout() time.Duration {
	return time.Duration(c.OracleTimeoutSeconds) * time.Second
}

// CheckpointInterval returns the checkpoint interval as a time.Duration
func (c *PersistenceConfig) CheckpointInterval() time.Duration {
	return time.Duration(c.CheckpointIntervalSeconds) * time.Second
}

// ResolveDir returns the state directory, expanding ~ and defaulting to
// ConfigDir()/state.
func (c *PersistenceConfig) ResolveDir() string {
	if c.Dir == "" {
		return filepath.Join(ConfigDir(), "state")
	}

	path := c.Dir
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			path = home
		}
	}
	return path
}

// ActionTimeout returns the per-action deadline as a time.Duration
func (c *ExecutorConfig) ActionTimeout() time.Duration {
	return time.Duration(c.ActionTimeoutSeconds) * time.Second
}

// ResolveAPIKey returns the configured key, falling back to OPENAI_API_KEY.
func (c *LLMConfig) ResolveAPIKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	return os.Getenv("OPENAI_API_KEY")
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Scheduler defaults
	viper.SetDefault("scheduler.batch_size", defaults.Scheduler.BatchSize)
	viper.SetDefault("scheduler.resume", defaults.Scheduler.Resume)
	viper.SetDefault("scheduler.max_batches", defaults.Scheduler.MaxBatches)

	// Graph defaults
	viper.SetDefault("graph.oracle_enabled", defaults.Graph.OracleEnabled)
	viper.SetDefault("graph.oracle_max_actions", defaults.Graph.OracleMaxActions)
	viper.SetDefault("graph.oracle_timeout_seconds", defaults.Graph.OracleTimeoutSeconds)

	// Persistence defaults
	viper.SetDefault("persistence.dir", defaults.Persistence.Dir)
	viper.SetDefault("persistence.backend", defaults.Persistence.Backend)
	viper.SetDefault("persistence.checkpoint_interval_seconds", defaults.Persistence.CheckpointIntervalSeconds)
	viper.SetDefault("persistence.checkpoint_stride", defaults.Persistence.CheckpointStride)
	viper.SetDefault("persistence.compression_threshold_bytes", defaults.Persistence.CompressionThresholdBytes)
	viper.SetDefault("persistence.recent_actions", defaults.Persistence.RecentActions)

	// Minio defaults
	viper.SetDefault("minio.endpoint", defaults.Minio.Endpoint)
	viper.SetDefault("minio.access_key", defaults.Minio.AccessKey)
	viper.SetDefault("minio.secret_key", defaults.Minio.SecretKey)
	viper.SetDefault("minio.bucket", defaults.Minio.Bucket)
	viper.SetDefault("minio.region", defaults.Minio.Region)
	viper.SetDefault("minio.use_ssl", defaults.Minio.UseSSL)

	// LLM defaults
	viper.SetDefault("llm.api_key", defaults.LLM.APIKey)
	viper.SetDefault("llm.model", defaults.LLM.Model)
	viper.SetDefault("llm.base_url", defaults.LLM.BaseURL)

	// Executor defaults
	viper.SetDefault("executor.mode", defaults.Executor.Mode)
	viper.SetDefault("executor.action_timeout_seconds", defaults.Executor.ActionTimeoutSeconds)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// LoadDotEnv loads a .env file from the working directory if one exists.
// Variables already set in the environment win.
func LoadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}
	return godotenv.Load()
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "picatest")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".picatest"
	}
	return filepath.Join(home, ".config", "picatest")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
