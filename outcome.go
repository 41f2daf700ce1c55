package ledgerq

// OutcomeCode classifies the result of processing one message.
type OutcomeCode int

const (
	// OutcomeSuccess indicates the message was applied (or is an idempotent replay).
	OutcomeSuccess OutcomeCode = iota
	// OutcomeTransientFailure indicates an infrastructure failure worth retrying.
	OutcomeTransientFailure
	// OutcomePermanentFailure indicates an invalid message that must never be retried.
	OutcomePermanentFailure
)

// String returns a short name for the code.
func (c OutcomeCode) String() string {
	switch c {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransientFailure:
		return "transient_failure"
	case OutcomePermanentFailure:
		return "permanent_failure"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of one processing attempt.
type Outcome struct {
	Code OutcomeCode
	// Reason is a short human-readable failure description, empty on success.
	Reason string
	// Err is the underlying error, if any.
	Err error
	// Duplicate marks a Success that re-applied nothing because the
	// message was already processed.
	Duplicate bool
}

// Success returns a successful outcome.
func Success() Outcome {
	return Outcome{Code: OutcomeSuccess}
}

// DuplicateSuccess returns a successful outcome for an idempotent replay.
func DuplicateSuccess() Outcome {
	return Outcome{Code: OutcomeSuccess, Duplicate: true}
}

// TransientFailure returns an outcome for a retryable infrastructure failure.
func TransientFailure(reason string, err error) Outcome {
	return Outcome{Code: OutcomeTransientFailure, Reason: reason, Err: err}
}

// PermanentFailure returns an outcome for an invalid, never-retried message.
func PermanentFailure(reason string, err error) Outcome {
	return Outcome{Code: OutcomePermanentFailure, Reason: reason, Err: err}
}

// IsSuccess reports whether the outcome is a success.
func (o Outcome) IsSuccess() bool {
	return o.Code == OutcomeSuccess
}

// IsTransient reports whether the outcome is a retryable failure.
func (o Outcome) IsTransient() bool {
	return o.Code == OutcomeTransientFailure
}

// IsPermanent reports whether the outcome is a non-retryable failure.
func (o Outcome) IsPermanent() bool {
	return o.Code == OutcomePermanentFailure
}
