package ledgerq

import "time"

// DefaultBackoffSchedule is the default delay sequence between retries
// of a transiently failed message.
var DefaultBackoffSchedule = []time.Duration{
	5 * time.Second,
	25 * time.Second,
	125 * time.Second,
}

// RetryDecision is the result of consulting the retry policy.
type RetryDecision struct {
	// Delay is how long to defer redelivery. Meaningless when Dead is set.
	Delay time.Duration
	// Dead indicates the message exhausted its retries and must be
	// dead-lettered.
	Dead bool
}

// RetryPolicy maps a message's transient-failure attempt count to a
// backoff delay or a dead-letter decision. It is a pure function of
// the attempt count.
type RetryPolicy struct {
	schedule []time.Duration
}

// NewRetryPolicy builds a policy over the given delay schedule. An
// empty schedule falls back to DefaultBackoffSchedule.
func NewRetryPolicy(schedule []time.Duration) RetryPolicy {
	if len(schedule) == 0 {
		schedule = DefaultBackoffSchedule
	}
	owned := make([]time.Duration, len(schedule))
	copy(owned, schedule)

	return RetryPolicy{schedule: owned}
}

// Decide returns the action for a message that has already failed
// transiently attempts times. Once attempts reaches the schedule
// length the message is dead-lettered.
func (p RetryPolicy) Decide(attempts int) RetryDecision {
	if attempts >= len(p.schedule) {
		return RetryDecision{Dead: true}
	}
	if attempts < 0 {
		attempts = 0
	}

	return RetryDecision{Delay: p.schedule[attempts]}
}

// MaxAttempts returns the number of retries before dead-lettering.
func (p RetryPolicy) MaxAttempts() int {
	return len(p.schedule)
}

// Schedule returns a copy of the delay schedule.
func (p RetryPolicy) Schedule() []time.Duration {
	out := make([]time.Duration, len(p.schedule))
	copy(out, p.schedule)

	return out
}
