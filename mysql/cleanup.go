package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/finvolt/ledgerq"
)

const (
	defaultCleanupLimit      = 10000
	defaultCleanupEvery      = time.Hour
	defaultCleanupLockPrefix = "ledgerq:cleanup:"
)

// CleanupOptions defines how to delete completed (and optionally
// dead-lettered) queue rows. Accounts, idempotency records, and audit
// rows are never touched; only the message table shrinks.
type CleanupOptions struct {
	// Before removes rows older than this timestamp (required).
	Before time.Time
	// Limit caps the number of rows deleted per call (0 uses the default).
	Limit int
	// IncludeDead removes dead-lettered rows using updated_at for cutoff.
	IncludeDead bool
}

// CleanupResult reports how many rows were removed.
type CleanupResult struct {
	Completed int64
	Dead      int64
}

// Cleanup removes completed rows (and optionally dead rows) older than
// opts.Before.
func (q *Queue) Cleanup(ctx context.Context, opts CleanupOptions) (CleanupResult, error) {
	if opts.Before.IsZero() {
		return CleanupResult{}, ErrCleanupBeforeRequired
	}
	limit := opts.Limit
	if limit == 0 {
		limit = defaultCleanupLimit
	}
	if limit < 0 {
		return CleanupResult{}, ErrCleanupLimitInvalid
	}

	remaining := limit
	completed, err := q.cleanupByStatus(ctx, MessageCompleted, "completed_at", opts.Before, remaining)
	if err != nil {
		return CleanupResult{}, err
	}
	remaining -= int(completed)

	var dead int64
	if opts.IncludeDead && remaining > 0 {
		dead, err = q.cleanupByStatus(ctx, MessageDead, "updated_at", opts.Before, remaining)
		if err != nil {
			return CleanupResult{}, err
		}
	}

	return CleanupResult{Completed: completed, Dead: dead}, nil
}

func (q *Queue) cleanupByStatus(ctx context.Context, status MessageStatus, tsColumn string, before time.Time, limit int) (int64, error) {
	if limit <= 0 {
		return 0, nil
	}

	// #nosec G201 -- table and column names are internal and sanitized.
	query := fmt.Sprintf(
		"DELETE FROM %s WHERE status = ? AND %s IS NOT NULL AND %s <= ? ORDER BY id LIMIT ?",
		q.table(),
		tsColumn,
		tsColumn,
	)
	res, err := q.db.ExecContext(ctx, query, status, before, limit)
	if err != nil {
		return 0, fmt.Errorf("ledgerq mysql: cleanup delete failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("ledgerq mysql: cleanup rows failed: %w", err)
	}

	return affected, nil
}

func (q *Queue) table() string {
	return q.cfg.MessagesTable
}

// CleanupMaintainerConfig controls periodic queue-row cleanup.
type CleanupMaintainerConfig struct {
	// Table is the messages table name.
	Table string
	// Retention removes rows older than now-retention (required).
	Retention time.Duration
	// CheckEvery is the interval between cleanup runs.
	CheckEvery time.Duration
	// Limit caps the number of rows deleted per run (0 uses the default).
	Limit int
	// IncludeDead removes dead-lettered rows in addition to completed rows.
	IncludeDead bool
	// LockName is the advisory lock name. Defaults to ledgerq:cleanup:<table>.
	LockName string
	// Clock overrides the time source (useful for tests).
	Clock ledgerq.Clock
	// Logger receives warnings about cleanup failures.
	Logger ledgerq.Logger
}

// CleanupMaintainer runs periodic cleanup, advisory-locked so only one
// instance per table does the deleting.
type CleanupMaintainer struct {
	queue *Queue
	cfg   CleanupMaintainerConfig
}

// NewCleanupMaintainer creates a cleanup maintainer with defaults applied.
func NewCleanupMaintainer(db *sql.DB, cfg CleanupMaintainerConfig) (*CleanupMaintainer, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	if cfg.Retention <= 0 {
		return nil, ErrCleanupRetentionInvalid
	}
	if cfg.Clock == nil {
		cfg.Clock = ledgerq.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = ledgerq.NopLogger{}
	}
	if cfg.CheckEvery <= 0 {
		cfg.CheckEvery = defaultCleanupEvery
	}
	if cfg.Limit == 0 {
		cfg.Limit = defaultCleanupLimit
	}
	if cfg.Limit < 0 {
		return nil, ErrCleanupLimitInvalid
	}

	opts := []Option{WithClock(cfg.Clock)}
	if cfg.Table != "" {
		opts = append(opts, WithMessagesTable(cfg.Table))
	}
	queue, err := NewQueue(db, opts...)
	if err != nil {
		return nil, err
	}
	cfg.Table = queue.cfg.MessagesTable
	if cfg.LockName == "" {
		cfg.LockName = defaultCleanupLockPrefix + cfg.Table
	}

	return &CleanupMaintainer{queue: queue, cfg: cfg}, nil
}

// Run periodically deletes old queue rows until the context is canceled.
func (m *CleanupMaintainer) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CheckEvery)
	defer ticker.Stop()

	if _, err := m.Ensure(ctx); err != nil {
		m.cfg.Logger.Warn("queue cleanup failed", "err", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.Ensure(ctx); err != nil {
				m.cfg.Logger.Warn("queue cleanup failed", "err", err)
			}
		}
	}
}

// Ensure executes a single cleanup pass.
func (m *CleanupMaintainer) Ensure(ctx context.Context) (CleanupResult, error) {
	conn, err := m.queue.db.Conn(ctx)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("ledgerq mysql: cleanup conn failed: %w", err)
	}
	defer conn.Close()

	locked, err := m.tryLock(ctx, conn)
	if err != nil {
		return CleanupResult{}, err
	}
	if !locked {
		m.cfg.Logger.Debug("queue cleanup lock held by another session")

		return CleanupResult{}, nil
	}
	defer m.releaseLock(ctx, conn)

	before := m.cfg.Clock.Now().Add(-m.cfg.Retention)

	return m.queue.Cleanup(ctx, CleanupOptions{
		Before:      before,
		Limit:       m.cfg.Limit,
		IncludeDead: m.cfg.IncludeDead,
	})
}

func (m *CleanupMaintainer) tryLock(ctx context.Context, conn *sql.Conn) (bool, error) {
	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", m.cfg.LockName).Scan(&got); err != nil {
		return false, fmt.Errorf("ledgerq mysql: acquire cleanup lock failed: %w", err)
	}
	if !got.Valid || got.Int64 == 0 {
		return false, nil
	}

	return true, nil
}

func (m *CleanupMaintainer) releaseLock(ctx context.Context, conn *sql.Conn) {
	var released sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", m.cfg.LockName).Scan(&released); err != nil {
		m.cfg.Logger.Warn("queue cleanup release lock failed", "err", err)
	}
}
