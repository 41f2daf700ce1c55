package ledgerq

import "time"

const defaultPollInterval = 10 * time.Second

// WorkerConfig defines how the Worker polls and routes outcomes.
type WorkerConfig struct {
	PollInterval time.Duration
	RetryPolicy  RetryPolicy
	Clock        Clock
	Logger       Logger
	Metrics      Metrics
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if len(c.RetryPolicy.schedule) == 0 {
		c.RetryPolicy = NewRetryPolicy(nil)
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}

	return c
}

// WorkerOption configures Worker behavior.
type WorkerOption func(*WorkerConfig)

// WithPollInterval sets the delay between empty polls.
func WithPollInterval(interval time.Duration) WorkerOption {
	return func(c *WorkerConfig) {
		c.PollInterval = interval
	}
}

// WithRetryPolicy sets the backoff/dead-letter policy for transient failures.
func WithRetryPolicy(policy RetryPolicy) WorkerOption {
	return func(c *WorkerConfig) {
		c.RetryPolicy = policy
	}
}

// WithClock sets the worker clock.
func WithClock(clock Clock) WorkerOption {
	return func(c *WorkerConfig) {
		c.Clock = clock
	}
}

// WithLogger sets the worker logger.
func WithLogger(logger Logger) WorkerOption {
	return func(c *WorkerConfig) {
		c.Logger = logger
	}
}

// WithMetrics sets the worker metrics recorder.
func WithMetrics(metrics Metrics) WorkerOption {
	return func(c *WorkerConfig) {
		c.Metrics = metrics
	}
}

// ProcessorConfig defines processor collaborators.
type ProcessorConfig struct {
	Clock     Clock
	Logger    Logger
	Generator IDGenerator
}

func (c ProcessorConfig) withDefaults() ProcessorConfig {
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Generator == nil {
		c.Generator = NewUUIDv7Generator(c.Clock)
	}

	return c
}

// ProcessorOption configures Processor behavior.
type ProcessorOption func(*ProcessorConfig)

// WithProcessorClock sets the processor time source.
func WithProcessorClock(clock Clock) ProcessorOption {
	return func(c *ProcessorConfig) {
		c.Clock = clock
	}
}

// WithProcessorLogger sets the processor logger.
func WithProcessorLogger(logger Logger) ProcessorOption {
	return func(c *ProcessorConfig) {
		c.Logger = logger
	}
}

// WithProcessorGenerator sets the id generator for audit and
// idempotency rows.
func WithProcessorGenerator(gen IDGenerator) ProcessorOption {
	return func(c *ProcessorConfig) {
		c.Generator = gen
	}
}
