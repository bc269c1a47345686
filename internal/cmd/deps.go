package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ameyarj/pica-testing-sub000/internal/compress"
	"github.com/ameyarj/pica-testing-sub000/internal/config"
	"github.com/ameyarj/pica-testing-sub000/internal/executor"
	"github.com/ameyarj/pica-testing-sub000/internal/graph"
	"github.com/ameyarj/pica-testing-sub000/internal/llm"
	"github.com/ameyarj/pica-testing-sub000/internal/logging"
	"github.com/ameyarj/pica-testing-sub000/internal/objectstore"
	"github.com/ameyarj/pica-testing-sub000/internal/oracle"
	"github.com/ameyarj/pica-testing-sub000/internal/persist"
)

// app holds the components every command shares.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	store  persist.Store
	state  *persist.Manager
}

// newApp loads configuration and opens the state store.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	store, err := newStore(ctx, cfg)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		store:  store,
		state:  newManager(cfg, store, logger),
	}, nil
}

// Close releases the logger.
func (a *app) Close() error {
	return a.logger.Close()
}

// lockDir holds run locks. Locks are host-local even when state lives in an
// object store, and sit outside the file store's platform prefixes.
func lockDir(cfg *config.Config) string {
	return filepath.Join(cfg.Persistence.ResolveDir(), "locks")
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NopLogger(), nil
	}
	logger, err := logging.NewLogger(cfg.Persistence.ResolveDir(), logging.Options{
		Level: cfg.Logging.Level,
		Rotation: logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			Compress:   cfg.Logging.Compress,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

func newStore(ctx context.Context, cfg *config.Config) (persist.Store, error) {
	switch cfg.Persistence.Backend {
	case config.BackendMinio:
		store, err := objectstore.New(cfg.Minio, "")
		if err != nil {
			return nil, fmt.Errorf("failed to create object store: %w", err)
		}
		if err := store.EnsureBucket(ctx, cfg.Minio.Region); err != nil {
			return nil, fmt.Errorf("failed to prepare bucket: %w", err)
		}
		return store, nil
	default:
		store, err := persist.NewFileStore(cfg.Persistence.ResolveDir())
		if err != nil {
			return nil, fmt.Errorf("failed to create state store: %w", err)
		}
		return store, nil
	}
}

func newManager(cfg *config.Config, store persist.Store, logger *logging.Logger) *persist.Manager {
	return persist.NewManager(store,
		persist.WithLogger(logger),
		persist.WithCheckpointInterval(cfg.Persistence.CheckpointInterval()),
		persist.WithCheckpointStride(cfg.Persistence.CheckpointStride),
		persist.WithCompressionThreshold(cfg.Persistence.CompressionThresholdBytes),
		persist.WithCompressor(compress.New(compress.DefaultValuesPerType)),
	)
}

func newCompleter(cfg *config.Config, timeout time.Duration) (*llm.Client, error) {
	key := cfg.LLM.ResolveAPIKey()
	if key == "" {
		return nil, fmt.Errorf("no LLM API key: set llm.api_key, PICATEST_LLM_API_KEY or OPENAI_API_KEY")
	}
	return llm.New(llm.Options{
		APIKey:  key,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: timeout,
	}), nil
}

// newBuilder returns a graph builder, consulting the LLM classifier when the
// oracle is enabled and a key is available.
func newBuilder(cfg *config.Config, logger *logging.Logger, useOracle bool) *graph.Builder {
	opts := []graph.Option{
		graph.WithLogger(logger),
		graph.WithTimeout(cfg.Graph.OracleTimeout()),
		graph.WithMaxOracleActions(cfg.Graph.OracleMaxActions),
	}
	if useOracle && cfg.Graph.OracleEnabled {
		completer, err := newCompleter(cfg, cfg.Graph.OracleTimeout())
		if err != nil {
			logger.Warn("oracle disabled", "error", err.Error())
		} else {
			opts = append(opts, graph.WithOracle(oracle.NewClassifier(completer,
				oracle.WithLogger(logger),
				oracle.WithModelName(completer.Model()),
			)))
		}
	}
	return graph.NewBuilder(opts...)
}

func newExecutor(cfg *config.Config, logger *logging.Logger, mode string) (executor.Executor, error) {
	switch mode {
	case config.ExecutorDryRun:
		return &executor.DryRun{}, nil
	case config.ExecutorAgent:
		completer, err := newCompleter(cfg, cfg.Executor.ActionTimeout())
		if err != nil {
			return nil, err
		}
		return executor.NewAgentExecutor(completer,
			executor.WithAgentLogger(logger),
			executor.WithActionTimeout(cfg.Executor.ActionTimeout()),
			executor.WithRateLimitRetry(executor.DefaultRateLimitRetries, executor.DefaultRateLimitBackoff),
		), nil
	default:
		return nil, fmt.Errorf("unknown executor mode %q", mode)
	}
}
