package config

import (
	"strings"
	"testing"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "test.field",
		Value:   123,
		Message: "must be greater than zero",
	}

	expected := "test.field: must be greater than zero (got: 123)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty errors", func(t *testing.T) {
		var errs ValidationErrors
		if errs.Error() != "" {
			t.Errorf("Error() for empty = %q, want empty string", errs.Error())
		}
	})

	t.Run("single error", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "test.field", Value: 123, Message: "is invalid"},
		}
		expected := "test.field: is invalid (got: 123)"
		if errs.Error() != expected {
			t.Errorf("Error() = %q, want %q", errs.Error(), expected)
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "field1", Value: "bad", Message: "is invalid"},
			{Field: "field2", Value: -1, Message: "must be positive"},
		}
		result := errs.Error()
		if !strings.Contains(result, "2 validation errors") {
			t.Errorf("Error() should mention 2 errors: %s", result)
		}
		if !strings.Contains(result, "field1") || !strings.Contains(result, "field2") {
			t.Errorf("Error() should mention both fields: %s", result)
		}
	})
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	cfg := Default()
	errs := cfg.Validate()
	if len(errs) != 0 {
		t.Errorf("Default config should be valid, got %d errors: %v", len(errs), errs)
	}
}

func fields(errs []ValidationError) []string {
	var out []string
	for _, e := range errs {
		out = append(out, e.Field)
	}
	return out
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero batch size", func(c *Config) { c.Scheduler.BatchSize = 0 }, "scheduler.batch_size"},
		{"negative max batches", func(c *Config) { c.Scheduler.MaxBatches = -1 }, "scheduler.max_batches"},
		{"negative oracle max", func(c *Config) { c.Graph.OracleMaxActions = -5 }, "graph.oracle_max_actions"},
		{"zero oracle timeout", func(c *Config) { c.Graph.OracleTimeoutSeconds = 0 }, "graph.oracle_timeout_seconds"},
		{"unknown backend", func(c *Config) { c.Persistence.Backend = "s3" }, "persistence.backend"},
		{"null byte dir", func(c *Config) { c.Persistence.Dir = "a\x00b" }, "persistence.dir"},
		{"zero stride", func(c *Config) { c.Persistence.CheckpointStride = 0 }, "persistence.checkpoint_stride"},
		{"negative interval", func(c *Config) { c.Persistence.CheckpointIntervalSeconds = -1 }, "persistence.checkpoint_interval_seconds"},
		{"negative threshold", func(c *Config) { c.Persistence.CompressionThresholdBytes = -1 }, "persistence.compression_threshold_bytes"},
		{"zero ring", func(c *Config) { c.Persistence.RecentActions = 0 }, "persistence.recent_actions"},
		{"minio without endpoint", func(c *Config) { c.Persistence.Backend = BackendMinio }, "minio.endpoint"},
		{"minio endpoint with scheme", func(c *Config) {
			c.Persistence.Backend = BackendMinio
			c.Minio.Endpoint = "https://s3.local"
		}, "minio.endpoint"},
		{"minio without bucket", func(c *Config) {
			c.Persistence.Backend = BackendMinio
			c.Minio.Endpoint = "localhost:9000"
			c.Minio.Bucket = ""
		}, "minio.bucket"},
		{"relative base url", func(c *Config) { c.LLM.BaseURL = "api/v1" }, "llm.base_url"},
		{"empty model", func(c *Config) { c.LLM.Model = " " }, "llm.model"},
		{"unknown executor", func(c *Config) { c.Executor.Mode = "shell" }, "executor.mode"},
		{"negative action timeout", func(c *Config) { c.Executor.ActionTimeoutSeconds = -1 }, "executor.action_timeout_seconds"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"zero log size", func(c *Config) { c.Logging.MaxSizeMB = 0 }, "logging.max_size_mb"},
		{"huge log size", func(c *Config) { c.Logging.MaxSizeMB = 5000 }, "logging.max_size_mb"},
		{"negative backups", func(c *Config) { c.Logging.MaxBackups = -1 }, "logging.max_backups"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			if len(errs) != 1 || errs[0].Field != tt.field {
				t.Errorf("Validate() fields = %v, want [%s]", fields(errs), tt.field)
			}
		})
	}
}

func TestConfig_Validate_ModelOptionalWithoutLLM(t *testing.T) {
	cfg := Default()
	cfg.Graph.OracleEnabled = false
	cfg.Executor.Mode = ExecutorDryRun
	cfg.LLM.Model = ""
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
}

func TestConfig_Validate_OracleTimeoutIgnoredWhenDisabled(t *testing.T) {
	cfg := Default()
	cfg.Graph.OracleEnabled = false
	cfg.Graph.OracleTimeoutSeconds = 0
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
}
