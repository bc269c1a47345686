package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "scheduler.batch_size")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidBackends returns the list of valid persistence backends
func ValidBackends() []string {
	return []string{BackendFile, BackendMinio}
}

// ValidExecutorModes returns the list of valid executor modes
func ValidExecutorModes() []string {
	return []string{ExecutorAgent, ExecutorDryRun}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateScheduler()...)
	errors = append(errors, c.validateGraph()...)
	errors = append(errors, c.validatePersistence()...)
	errors = append(errors, c.validateMinio()...)
	errors = append(errors, c.validateLLM()...)
	errors = append(errors, c.validateExecutor()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateScheduler() []ValidationError {
	var errors []ValidationError

	if c.Scheduler.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "scheduler.batch_size",
			Value:   c.Scheduler.BatchSize,
			Message: "must be at least 1",
		})
	}
	if c.Scheduler.MaxBatches < 0 {
		errors = append(errors, ValidationError{
			Field:   "scheduler.max_batches",
			Value:   c.Scheduler.MaxBatches,
			Message: "must be non-negative (0 = no limit)",
		})
	}

	return errors
}

func (c *Config) validateGraph() []ValidationError {
	var errors []ValidationError

	if c.Graph.OracleMaxActions < 0 {
		errors = append(errors, ValidationError{
			Field:   "graph.oracle_max_actions",
			Value:   c.Graph.OracleMaxActions,
			Message: "must be non-negative",
		})
	}
	if c.Graph.OracleEnabled && c.Graph.OracleTimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "graph.oracle_timeout_seconds",
			Value:   c.Graph.OracleTimeoutSeconds,
			Message: "must be positive when the oracle is enabled",
		})
	}

	return errors
}

func (c *Config) validatePersistence() []ValidationError {
	var errors []ValidationError
	p := c.Persistence

	if !slices.Contains(ValidBackends(), p.Backend) {
		errors = append(errors, ValidationError{
			Field:   "persistence.backend",
			Value:   p.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidBackends(), ", ")),
		})
	}
	if strings.ContainsRune(p.Dir, '\x00') {
		errors = append(errors, ValidationError{
			Field:   "persistence.dir",
			Value:   p.Dir,
			Message: "path contains invalid null character",
		})
	}
	if p.CheckpointIntervalSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "persistence.checkpoint_interval_seconds",
			Value:   p.CheckpointIntervalSeconds,
			Message: "must be non-negative",
		})
	}
	if p.CheckpointStride < 1 {
		errors = append(errors, ValidationError{
			Field:   "persistence.checkpoint_stride",
			Value:   p.CheckpointStride,
			Message: "must be at least 1",
		})
	}
	if p.CompressionThresholdBytes < 0 {
		errors = append(errors, ValidationError{
			Field:   "persistence.compression_threshold_bytes",
			Value:   p.CompressionThresholdBytes,
			Message: "must be non-negative",
		})
	}
	if p.RecentActions < 1 {
		errors = append(errors, ValidationError{
			Field:   "persistence.recent_actions",
			Value:   p.RecentActions,
			Message: "must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateMinio() []ValidationError {
	if c.Persistence.Backend != BackendMinio {
		return nil
	}

	var errors []ValidationError
	if c.Minio.Endpoint == "" {
		errors = append(errors, ValidationError{
			Field:   "minio.endpoint",
			Value:   c.Minio.Endpoint,
			Message: "is required when persistence.backend is minio",
		})
	} else if strings.Contains(c.Minio.Endpoint, "://") {
		errors = append(errors, ValidationError{
			Field:   "minio.endpoint",
			Value:   c.Minio.Endpoint,
			Message: "must be host[:port] without a scheme (use minio.use_ssl)",
		})
	}
	if c.Minio.Bucket == "" {
		errors = append(errors, ValidationError{
			Field:   "minio.bucket",
			Value:   c.Minio.Bucket,
			Message: "is required when persistence.backend is minio",
		})
	}

	return errors
}

func (c *Config) validateLLM() []ValidationError {
	var errors []ValidationError

	if c.LLM.BaseURL != "" {
		u, err := url.Parse(c.LLM.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "llm.base_url",
				Value:   c.LLM.BaseURL,
				Message: "must be an absolute URL",
			})
		}
	}
	usesLLM := c.Graph.OracleEnabled || c.Executor.Mode == ExecutorAgent
	if usesLLM && strings.TrimSpace(c.LLM.Model) == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.model",
			Value:   c.LLM.Model,
			Message: "is required when the oracle or agent executor is enabled",
		})
	}

	return errors
}

func (c *Config) validateExecutor() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidExecutorModes(), c.Executor.Mode) {
		errors = append(errors, ValidationError{
			Field:   "executor.mode",
			Value:   c.Executor.Mode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidExecutorModes(), ", ")),
		})
	}
	if c.Executor.ActionTimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "executor.action_timeout_seconds",
			Value:   c.Executor.ActionTimeoutSeconds,
			Message: "must be non-negative (0 = no limit)",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
