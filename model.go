package ledgerq

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType distinguishes balance credits from debits.
type TransactionType string

const (
	// TypeCredit increases the account balance.
	TypeCredit TransactionType = "Credit"
	// TypeDebit decreases the account balance.
	TypeDebit TransactionType = "Debit"
)

// ParseTransactionType maps a wire type tag to a TransactionType.
// Matching is case-insensitive; anything else is ErrInvalidType.
func ParseTransactionType(tag string) (TransactionType, error) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "credit":
		return TypeCredit, nil
	case "debit":
		return TypeDebit, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidType, tag)
	}
}

// Account is a bank account row. The balance never goes below zero;
// it is mutated only inside a committed store transaction.
type Account struct {
	ID      ID
	Balance decimal.Decimal
}

// ProcessedTransaction is the idempotency record for one applied
// message. MessageID is unique in the store; the row is created
// exactly once per applied message and never updated or deleted.
type ProcessedTransaction struct {
	ID              ID
	MessageID       ID
	AccountID       ID
	Amount          decimal.Decimal
	Type            TransactionType
	PreviousBalance decimal.Decimal
	NewBalance      decimal.Decimal
	ProcessedAt     time.Time
}

// AuditStatus is the recorded result of one processing attempt.
type AuditStatus int16

const (
	// AuditRetry marks a transient failure that will be retried.
	AuditRetry AuditStatus = 0
	// AuditSuccess marks an applied transaction.
	AuditSuccess AuditStatus = 1
	// AuditFailed marks a permanently rejected message.
	AuditFailed AuditStatus = -1
)

// String returns a short name for the status.
func (s AuditStatus) String() string {
	switch s {
	case AuditRetry:
		return "retry"
	case AuditSuccess:
		return "success"
	case AuditFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// AuditEntry is one append-only audit row. One entry is written per
// processing attempt regardless of whether the mutation succeeded.
// AccountID, Amount and Type stay zero-valued when the payload never
// decoded; balances are set only on success.
type AuditEntry struct {
	ID              ID
	MessageID       ID
	AccountID       ID
	Amount          decimal.Decimal
	Type            TransactionType
	Status          AuditStatus
	Error           string
	Attempt         int
	PreviousBalance *decimal.Decimal
	NewBalance      *decimal.Decimal
	ProcessedAt     time.Time
}
