package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/finvolt/ledgerq"
)

const maxErrorLen = 1024

// MySQL server error numbers the store classifies.
const (
	errDupEntry        = 1062
	errLockDeadlock    = 1213
	errLockWaitTimeout = 1205
)

// Store implements ledgerq.Store over the accounts, idempotency, and
// audit tables.
type Store struct {
	db      *sql.DB
	cfg     Config
	queries storeQueries
}

var _ ledgerq.Store = (*Store)(nil)

type storeQueries struct {
	findProcessed   string
	selectAccount   string
	updateBalance   string
	insertProcessed string
	insertAudit     string
	insertAccount   string
	selectBalance   string
}

func newStoreQueries(accounts, processed, audit string) storeQueries {
	return storeQueries{
		findProcessed: fmt.Sprintf(
			"SELECT id, message_id, account_id, amount, transaction_type, previous_balance, new_balance, processed_at "+
				"FROM %s WHERE message_id = ?", processed),
		selectAccount: fmt.Sprintf(
			"SELECT id, balance FROM %s WHERE id = ?", accounts),
		updateBalance: fmt.Sprintf(
			"UPDATE %s SET balance = ? WHERE id = ? AND balance = ?", accounts),
		insertProcessed: fmt.Sprintf(
			"INSERT INTO %s (id, message_id, account_id, amount, transaction_type, previous_balance, new_balance, processed_at) "+
				"VALUES (?, ?, ?, ?, ?, ?, ?, ?)", processed),
		insertAudit: fmt.Sprintf(
			"INSERT INTO %s (id, message_id, account_id, amount, transaction_type, status, error_message, attempt, previous_balance, new_balance, processed_at) "+
				"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", audit),
		insertAccount: fmt.Sprintf(
			"INSERT INTO %s (id, balance) VALUES (?, ?)", accounts),
		selectBalance: fmt.Sprintf(
			"SELECT balance FROM %s WHERE id = ?", accounts),
	}
}

// NewStore constructs a MySQL store with validated configuration.
func NewStore(db *sql.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	accounts, err := sanitizeTableName(cfg.AccountsTable)
	if err != nil {
		return nil, err
	}
	processed, err := sanitizeTableName(cfg.ProcessedTable)
	if err != nil {
		return nil, err
	}
	audit, err := sanitizeTableName(cfg.AuditTable)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:      db,
		cfg:     cfg,
		queries: newStoreQueries(accounts, processed, audit),
	}, nil
}

// FindProcessed looks up the idempotency record for a message id.
func (s *Store) FindProcessed(ctx context.Context, messageID ledgerq.ID) (*ledgerq.ProcessedTransaction, error) {
	var (
		record ledgerq.ProcessedTransaction
		txType string
	)
	err := s.db.QueryRowContext(ctx, s.queries.findProcessed, messageID).Scan(
		&record.ID,
		&record.MessageID,
		&record.AccountID,
		&record.Amount,
		&txType,
		&record.PreviousBalance,
		&record.NewBalance,
		&record.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledgerq.ErrNotFound
		}

		return nil, classify(fmt.Errorf("ledgerq mysql: processed lookup failed: %w", err))
	}
	record.Type = ledgerq.TransactionType(txType)

	return &record, nil
}

// Begin opens one atomic transaction with READ COMMITTED isolation.
func (s *Store) Begin(ctx context.Context) (ledgerq.Tx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, classify(fmt.Errorf("ledgerq mysql: begin tx failed: %w", err))
	}

	return &storeTx{tx: tx, store: s}, nil
}

// AppendAudit appends one audit row on its own connection, outside any
// transaction.
func (s *Store) AppendAudit(ctx context.Context, entry ledgerq.AuditEntry) error {
	return s.insertAudit(ctx, s.db, entry)
}

// CreateAccount inserts an account row with an opening balance.
// Inserting an existing account reports ledgerq.ErrDuplicateMessage.
func (s *Store) CreateAccount(ctx context.Context, id ledgerq.ID, balance decimal.Decimal) error {
	if _, err := s.db.ExecContext(ctx, s.queries.insertAccount, id, balance); err != nil {
		return classify(fmt.Errorf("ledgerq mysql: create account failed: %w", err))
	}

	return nil
}

// AccountBalance returns the current balance for an account.
func (s *Store) AccountBalance(ctx context.Context, id ledgerq.ID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.db.QueryRowContext(ctx, s.queries.selectBalance, id).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Decimal{}, ledgerq.ErrAccountNotFound
		}

		return decimal.Decimal{}, classify(fmt.Errorf("ledgerq mysql: balance lookup failed: %w", err))
	}

	return balance, nil
}

type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insertAudit(ctx context.Context, exec executor, entry ledgerq.AuditEntry) error {
	var accountID any
	if !entry.AccountID.IsZero() {
		accountID = entry.AccountID
	}
	var txType any
	if entry.Type != "" {
		txType = string(entry.Type)
	}
	var errMsg any
	if entry.Error != "" {
		errMsg = truncateError(entry.Error)
	}

	_, err := exec.ExecContext(ctx, s.queries.insertAudit,
		entry.ID,
		entry.MessageID,
		accountID,
		entry.Amount,
		txType,
		int16(entry.Status),
		errMsg,
		entry.Attempt,
		nullDecimal(entry.PreviousBalance),
		nullDecimal(entry.NewBalance),
		entry.ProcessedAt,
	)
	if err != nil {
		return classify(fmt.Errorf("ledgerq mysql: audit insert failed: %w", err))
	}

	return nil
}

// storeTx is one atomic multi-row transaction.
type storeTx struct {
	tx    *sql.Tx
	store *Store
}

var _ ledgerq.Tx = (*storeTx)(nil)

// Account loads an account row.
func (t *storeTx) Account(ctx context.Context, accountID ledgerq.ID) (*ledgerq.Account, error) {
	var account ledgerq.Account
	err := t.tx.QueryRowContext(ctx, t.store.queries.selectAccount, accountID).
		Scan(&account.ID, &account.Balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledgerq.ErrAccountNotFound
		}

		return nil, classify(fmt.Errorf("ledgerq mysql: account lookup failed: %w", err))
	}

	return &account, nil
}

// UpdateBalance moves the balance from an expected previous value to a
// new one. A zero-row update means another transaction changed the
// balance since it was read and is reported as ledgerq.ErrConflict.
func (t *storeTx) UpdateBalance(ctx context.Context, accountID ledgerq.ID, from, to decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx, t.store.queries.updateBalance, to, accountID, from)
	if err != nil {
		return classify(fmt.Errorf("ledgerq mysql: balance update failed: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return classify(fmt.Errorf("ledgerq mysql: balance update rows failed: %w", err))
	}
	if affected == 0 {
		return fmt.Errorf("ledgerq mysql: balance moved under us: %w", ledgerq.ErrConflict)
	}

	return nil
}

// InsertProcessed inserts the idempotency record; the unique key on
// message_id reports concurrent application as ErrDuplicateMessage.
func (t *storeTx) InsertProcessed(ctx context.Context, record ledgerq.ProcessedTransaction) error {
	_, err := t.tx.ExecContext(ctx, t.store.queries.insertProcessed,
		record.ID,
		record.MessageID,
		record.AccountID,
		record.Amount,
		string(record.Type),
		record.PreviousBalance,
		record.NewBalance,
		record.ProcessedAt,
	)
	if err != nil {
		return classify(fmt.Errorf("ledgerq mysql: processed insert failed: %w", err))
	}

	return nil
}

// AppendAudit appends one audit row inside the transaction.
func (t *storeTx) AppendAudit(ctx context.Context, entry ledgerq.AuditEntry) error {
	return t.store.insertAudit(ctx, t.tx, entry)
}

// Commit finalizes the transaction.
func (t *storeTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return classify(fmt.Errorf("ledgerq mysql: commit failed: %w", err))
	}

	return nil
}

// Rollback discards the transaction; calling it after Commit is a no-op.
func (t *storeTx) Rollback() error {
	return rollback(t.tx)
}

// classify maps recognizable MySQL and driver failures onto the
// ledgerq sentinel errors the processor keys its retry decisions on.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case errDupEntry:
			return fmt.Errorf("%w: %v", ledgerq.ErrDuplicateMessage, err)
		case errLockDeadlock:
			return fmt.Errorf("%w: %v", ledgerq.ErrConflict, err)
		case errLockWaitTimeout:
			return fmt.Errorf("%w: %v", ledgerq.ErrStoreTimeout, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ledgerq.ErrStoreTimeout, err)
	}

	return err
}

func nullDecimal(value *decimal.Decimal) decimal.NullDecimal {
	if value == nil {
		return decimal.NullDecimal{}
	}

	return decimal.NullDecimal{Decimal: *value, Valid: true}
}

func truncateError(msg string) string {
	if utf8.RuneCountInString(msg) <= maxErrorLen {
		return msg
	}

	runes := []rune(msg)

	return string(runes[:maxErrorLen])
}
