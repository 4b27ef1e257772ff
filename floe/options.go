package floe

import (
	"errors"
	"time"

	"go.uber.org/zap"
)

// -----------------------------------------------------------------------------
// Options
// -----------------------------------------------------------------------------

// DefaultPostTimeout bounds one blocking post attempt to the outbound queue.
const DefaultPostTimeout = 1 * time.Second

// readerConfig holds the resolved configuration for a Reader.
type readerConfig struct {
	log         *zap.Logger
	postTimeout time.Duration
}

// indexerConfig holds the resolved configuration for an Indexer.
type indexerConfig struct {
	log         *zap.Logger
	postTimeout time.Duration
}

// Option configures Reader or Indexer construction. Options implement
// methods for the constructors they support; using an option with an
// unsupported constructor returns an error.
type Option interface {
	applyReader(*readerConfig) error
	applyIndexer(*indexerConfig) error
}

// loggerOption implements Option for WithLogger.
type loggerOption struct {
	log *zap.Logger
}

// WithLogger sets the structured logger for orchestrator events.
// Default: zap.NewNop() — the library is silent unless asked.
func WithLogger(log *zap.Logger) Option {
	return &loggerOption{log: log}
}

func (o *loggerOption) applyReader(cfg *readerConfig) error {
	if o.log == nil {
		return errors.New("logger must not be nil")
	}
	cfg.log = o.log
	return nil
}

func (o *loggerOption) applyIndexer(cfg *indexerConfig) error {
	if o.log == nil {
		return errors.New("logger must not be nil")
	}
	cfg.log = o.log
	return nil
}

// postTimeoutOption implements Option for WithPostTimeout.
type postTimeoutOption struct {
	d time.Duration
}

// WithPostTimeout sets the bound on one blocking queue post attempt.
// Default: DefaultPostTimeout. Workers retry while active, so this only
// controls how quickly a stopping worker notices.
func WithPostTimeout(d time.Duration) Option {
	return &postTimeoutOption{d: d}
}

func (o *postTimeoutOption) applyReader(cfg *readerConfig) error {
	if o.d <= 0 {
		return errors.New("post timeout must be positive")
	}
	cfg.postTimeout = o.d
	return nil
}

func (o *postTimeoutOption) applyIndexer(cfg *indexerConfig) error {
	if o.d <= 0 {
		return errors.New("post timeout must be positive")
	}
	cfg.postTimeout = o.d
	return nil
}

func defaultReaderConfig() *readerConfig {
	return &readerConfig{log: zap.NewNop(), postTimeout: DefaultPostTimeout}
}

func defaultIndexerConfig() *indexerConfig {
	return &indexerConfig{log: zap.NewNop(), postTimeout: DefaultPostTimeout}
}
