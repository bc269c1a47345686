package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ameyarj/pica-testing-sub000/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify picatest configuration",
	Long: `View or modify picatest configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  picatest config set scheduler.batch_size 20
  picatest config set persistence.backend minio
  picatest config set executor.mode dry_run

Valid keys:
  scheduler.batch_size                   - Target actions per batch
  scheduler.resume                       - Resume from history (true/false)
  scheduler.max_batches                  - Stop after this many batches (0 = no limit)
  graph.oracle_enabled                   - Ask the LLM for dependency hints (true/false)
  graph.oracle_max_actions               - Skip the oracle at or above this catalog size
  graph.oracle_timeout_seconds           - Oracle call deadline
  persistence.dir                        - State directory
  persistence.backend                    - Options: file, minio
  persistence.checkpoint_interval_seconds - Time-based checkpoint trigger
  persistence.checkpoint_stride          - Index-based checkpoint trigger
  persistence.compression_threshold_bytes - Size above which contexts are compacted
  llm.model                              - Model for the oracle and agent
  llm.base_url                           - OpenAI-compatible endpoint
  executor.mode                          - Options: agent, dry_run
  executor.action_timeout_seconds        - Per-action deadline
  logging.level                          - Options: debug, info, warn, error`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/picatest/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Current configuration:")
	fmt.Fprintln(out)

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Config file: (none - using defaults)\n")
	}
	fmt.Fprintln(out)

	printConfig(out, cfg)
	return nil
}

func printConfig(out io.Writer, cfg *config.Config) {
	fmt.Fprintln(out, "scheduler:")
	fmt.Fprintf(out, "  batch_size: %d\n", cfg.Scheduler.BatchSize)
	fmt.Fprintf(out, "  resume: %v\n", cfg.Scheduler.Resume)
	fmt.Fprintf(out, "  max_batches: %d\n", cfg.Scheduler.MaxBatches)

	fmt.Fprintln(out, "graph:")
	fmt.Fprintf(out, "  oracle_enabled: %v\n", cfg.Graph.OracleEnabled)
	fmt.Fprintf(out, "  oracle_max_actions: %d\n", cfg.Graph.OracleMaxActions)
	fmt.Fprintf(out, "  oracle_timeout_seconds: %d\n", cfg.Graph.OracleTimeoutSeconds)

	fmt.Fprintln(out, "persistence:")
	fmt.Fprintf(out, "  dir: %s\n", cfg.Persistence.ResolveDir())
	fmt.Fprintf(out, "  backend: %s\n", cfg.Persistence.Backend)
	fmt.Fprintf(out, "  checkpoint_interval_seconds: %d\n", cfg.Persistence.CheckpointIntervalSeconds)
	fmt.Fprintf(out, "  checkpoint_stride: %d\n", cfg.Persistence.CheckpointStride)
	fmt.Fprintf(out, "  compression_threshold_bytes: %d\n", cfg.Persistence.CompressionThresholdBytes)
	fmt.Fprintf(out, "  recent_actions: %d\n", cfg.Persistence.RecentActions)

	if cfg.Persistence.Backend == config.BackendMinio {
		fmt.Fprintln(out, "minio:")
		fmt.Fprintf(out, "  endpoint: %s\n", cfg.Minio.Endpoint)
		fmt.Fprintf(out, "  bucket: %s\n", cfg.Minio.Bucket)
		fmt.Fprintf(out, "  region: %s\n", cfg.Minio.Region)
		fmt.Fprintf(out, "  use_ssl: %v\n", cfg.Minio.UseSSL)
	}

	fmt.Fprintln(out, "llm:")
	fmt.Fprintf(out, "  model: %s\n", cfg.LLM.Model)
	if cfg.LLM.BaseURL != "" {
		fmt.Fprintf(out, "  base_url: %s\n", cfg.LLM.BaseURL)
	}
	fmt.Fprintf(out, "  api_key: %s\n", maskSecret(cfg.LLM.ResolveAPIKey()))

	fmt.Fprintln(out, "executor:")
	fmt.Fprintf(out, "  mode: %s\n", cfg.Executor.Mode)
	fmt.Fprintf(out, "  action_timeout_seconds: %d\n", cfg.Executor.ActionTimeoutSeconds)

	fmt.Fprintln(out, "logging:")
	fmt.Fprintf(out, "  enabled: %v\n", cfg.Logging.Enabled)
	fmt.Fprintf(out, "  level: %s\n", cfg.Logging.Level)
}

// maskSecret keeps the last four characters of s.
func maskSecret(s string) string {
	switch {
	case s == "":
		return "(not set)"
	case len(s) <= 4:
		return "****"
	default:
		return "****" + s[len(s)-4:]
	}
}

// settableKeys maps each settable key to its value type.
var settableKeys = map[string]string{
	"scheduler.batch_size":                    "int",
	"scheduler.resume":                        "bool",
	"scheduler.max_batches":                   "int",
	"graph.oracle_enabled":                    "bool",
	"graph.oracle_max_actions":                "int",
	"graph.oracle_timeout_seconds":            "int",
	"persistence.dir":                         "string",
	"persistence.backend":                     "string",
	"persistence.checkpoint_interval_seconds": "int",
	"persistence.checkpoint_stride":           "int",
	"persistence.compression_threshold_bytes": "int",
	"llm.model":                               "string",
	"llm.base_url":                            "string",
	"executor.mode":                           "string",
	"executor.action_timeout_seconds":         "int",
	"logging.level":                           "string",
}

// parseConfigValue validates value for key and converts it to the key's type.
func parseConfigValue(key, value string) (any, error) {
	keyType, ok := settableKeys[key]
	if !ok {
		return nil, fmt.Errorf("unknown configuration key: %s\nRun 'picatest config set --help' to see valid keys", key)
	}

	switch keyType {
	case "string":
		var allowed []string
		switch key {
		case "persistence.backend":
			allowed = config.ValidBackends()
		case "executor.mode":
			allowed = config.ValidExecutorModes()
		case "logging.level":
			allowed = config.ValidLogLevels()
		}
		if allowed != nil && !slices.Contains(allowed, value) {
			return nil, fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(allowed, ", "))
		}
		return value, nil
	case "bool":
		if value != "true" && value != "false" {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return value == "true", nil
	default:
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if intVal < 0 {
			return nil, fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		return intVal, nil
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	typedValue, err := parseConfigValue(key, args[1])
	if err != nil {
		return err
	}

	// Ensure config directory exists
	configDir := config.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Set the value in viper
	viper.Set(key, typedValue)

	// Write to config file
	configFile := config.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, typedValue)
	fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", configFile)
	return nil
}

const defaultConfigFile = `# picatest configuration

# Batching
scheduler:
  # Target number of actions per batch. A batch grows past this until the
  # next action belongs to a different model or platform.
  batch_size: 10
  # Continue from the last recorded batch instead of starting over
  resume: true
  # Stop a run after this many batches (0 = no limit)
  max_batches: 0

# Dependency analysis
graph:
  # Ask the LLM classifier for dependency hints; heuristics are used otherwise
  oracle_enabled: true
  # Catalogs of this size or larger skip the oracle
  oracle_max_actions: 100
  oracle_timeout_seconds: 60

# Campaign state
persistence:
  # Defaults to ~/.config/picatest/state
  dir: ""
  # Options: file, minio
  backend: file
  checkpoint_interval_seconds: 30
  checkpoint_stride: 5
  compression_threshold_bytes: 50000
  recent_actions: 10

# Object store backend (persistence.backend: minio)
minio:
  endpoint: ""
  access_key: ""
  secret_key: ""
  bucket: picatest
  region: us-east-1
  use_ssl: true

# OpenAI-compatible model used by the oracle and the agent executor.
# The key falls back to OPENAI_API_KEY.
llm:
  model: gpt-4o-mini
  base_url: ""

executor:
  # Options: agent, dry_run
  mode: agent
  action_timeout_seconds: 120

logging:
  enabled: true
  # Options: debug, info, warn, error
  level: info
  max_size_mb: 10
  max_backups: 3
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'picatest config set' to modify values", configFile)
	}

	// Create config directory
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configFile, []byte(defaultConfigFile), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	configFile := config.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", configFile)
	}

	// Also show config search paths
	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Fprintf(out, "  2. ./config.yaml (current directory)\n")
	fmt.Fprintln(out, "\nEnvironment variables: PICATEST_* (e.g., PICATEST_SCHEDULER_BATCH_SIZE)")
	return nil
}
