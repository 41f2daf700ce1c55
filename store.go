package ledgerq

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store is the transactional data store behind the processor.
//
// Implementations must enforce uniqueness of
// ProcessedTransaction.MessageID at the storage layer; that constraint,
// not a lookup, is what makes application idempotent under concurrent
// workers. Error classification contract: duplicate inserts surface
// ErrDuplicateMessage, optimistic-concurrency conflicts ErrConflict,
// and statement or commit timeouts ErrStoreTimeout, all matchable with
// errors.Is.
type Store interface {
	// FindProcessed looks up the idempotency record for a message id,
	// returning ErrNotFound when the message was never applied.
	FindProcessed(ctx context.Context, messageID ID) (*ProcessedTransaction, error)
	// Begin opens an atomic multi-row transaction.
	Begin(ctx context.Context) (Tx, error)
	// AppendAudit appends one audit row outside any transaction. Used
	// for failed attempts; success audit rows ride the Tx instead.
	AppendAudit(ctx context.Context, entry AuditEntry) error
}

// Tx is one atomic store transaction. Either every write in it commits
// or none do.
type Tx interface {
	// Account loads an account row, or ErrAccountNotFound.
	Account(ctx context.Context, accountID ID) (*Account, error)
	// UpdateBalance moves an account balance from an expected previous
	// value to a new one, reporting ErrConflict when another
	// transaction changed the row since it was read.
	UpdateBalance(ctx context.Context, accountID ID, from, to decimal.Decimal) error
	// InsertProcessed inserts the idempotency record, reporting
	// ErrDuplicateMessage when the message id is already recorded.
	InsertProcessed(ctx context.Context, record ProcessedTransaction) error
	// AppendAudit appends one audit row inside the transaction.
	AppendAudit(ctx context.Context, entry AuditEntry) error
	// Commit finalizes the transaction.
	Commit() error
	// Rollback discards the transaction. Safe to call after Commit.
	Rollback() error
}
