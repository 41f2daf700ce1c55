package ledgerq

import "time"

// Metrics captures worker-level telemetry.
type Metrics interface {
	// ObserveProcessDuration records the time to process one message.
	ObserveProcessDuration(duration time.Duration)
	// AddProcessed increments the count of successfully applied messages.
	AddProcessed(count int)
	// AddDuplicates increments the count of idempotent replays.
	AddDuplicates(count int)
	// AddPermanentFailures increments the count of dead-lettered invalid messages.
	AddPermanentFailures(count int)
	// AddTransientFailures increments the count of transient processing failures.
	AddTransientFailures(count int)
	// AddRetries increments the count of rescheduled messages.
	AddRetries(count int)
	// AddDeadLettered increments the count of messages moved to the dead-letter channel.
	AddDeadLettered(count int)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// ObserveProcessDuration implements Metrics.
func (NopMetrics) ObserveProcessDuration(time.Duration) {}

// AddProcessed implements Metrics.
func (NopMetrics) AddProcessed(int) {}

// AddDuplicates implements Metrics.
func (NopMetrics) AddDuplicates(int) {}

// AddPermanentFailures implements Metrics.
func (NopMetrics) AddPermanentFailures(int) {}

// AddTransientFailures implements Metrics.
func (NopMetrics) AddTransientFailures(int) {}

// AddRetries implements Metrics.
func (NopMetrics) AddRetries(int) {}

// AddDeadLettered implements Metrics.
func (NopMetrics) AddDeadLettered(int) {}
