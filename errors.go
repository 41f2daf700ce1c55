package ledgerq

import "errors"

var (
	// ErrNoMessages signals that the queue has no message available.
	ErrNoMessages = errors.New("ledgerq: no messages available")
	// ErrNotFound signals that a ProcessedTransaction lookup matched nothing.
	ErrNotFound = errors.New("ledgerq: record not found")
	// ErrAccountNotFound signals that the referenced account does not exist.
	ErrAccountNotFound = errors.New("ledgerq: account not found")
	// ErrDuplicateMessage is reported by the store when inserting a
	// ProcessedTransaction whose source message id already exists.
	ErrDuplicateMessage = errors.New("ledgerq: message already processed")
	// ErrConflict is reported by the store on an optimistic-concurrency
	// conflict (another transaction touched the same rows).
	ErrConflict = errors.New("ledgerq: store concurrency conflict")
	// ErrStoreTimeout is reported by the store when a statement or
	// commit times out.
	ErrStoreTimeout = errors.New("ledgerq: store timeout")
	// ErrEmptyBody is returned when a message arrives without a payload.
	ErrEmptyBody = errors.New("ledgerq: message body is empty")
	// ErrInvalidType is returned when the payload type tag is not Credit or Debit.
	ErrInvalidType = errors.New("ledgerq: invalid transaction type")
	// ErrInvalidAmount is returned when the payload amount is not strictly positive.
	ErrInvalidAmount = errors.New("ledgerq: invalid amount")
	// ErrInsufficientFunds is returned when a debit would drive the balance negative.
	ErrInsufficientFunds = errors.New("ledgerq: insufficient funds")
	// ErrInvalidID is returned when parsing or scanning an ID fails.
	ErrInvalidID = errors.New("ledgerq: id is invalid")
	// ErrWorkerPanic indicates a recovered panic inside message processing.
	ErrWorkerPanic = errors.New("ledgerq: worker panic")
)
