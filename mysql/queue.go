package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/finvolt/ledgerq"
)

// Queue implements ledgerq.Queue on a MySQL table using
// FOR UPDATE SKIP LOCKED claims and a visibility lease.
type Queue struct {
	db      *sql.DB
	cfg     Config
	queries queueQueries
}

var _ ledgerq.Queue = (*Queue)(nil)

type queueQueries struct {
	insert     string
	selectNext string
	lease      string
	complete   string
	reschedule string
	dead       string
	selectDead string
}

func newQueueQueries(table string) queueQueries {
	return queueQueries{
		insert: fmt.Sprintf(
			"INSERT INTO %s (id, body, visible_at) VALUES (?, ?, ?)", table),
		selectNext: fmt.Sprintf(
			"SELECT id, body, attempt_count FROM %s WHERE status = ? AND visible_at <= ? "+
				"ORDER BY visible_at, id LIMIT 1 FOR UPDATE SKIP LOCKED", table),
		lease: fmt.Sprintf(
			"UPDATE %s SET visible_at = ? WHERE id = ?", table),
		complete: fmt.Sprintf(
			"UPDATE %s SET status = ?, completed_at = ? WHERE id = ? AND status = ?", table),
		reschedule: fmt.Sprintf(
			"UPDATE %s SET visible_at = ?, attempt_count = attempt_count + 1 WHERE id = ? AND status = ?", table),
		dead: fmt.Sprintf(
			"UPDATE %s SET status = ? WHERE id = ? AND status = ?", table),
		selectDead: fmt.Sprintf(
			"SELECT id, body, attempt_count FROM %s WHERE status = ? ORDER BY id LIMIT ?", table),
	}
}

// NewQueue constructs a MySQL queue with validated configuration.
func NewQueue(db *sql.DB, opts ...Option) (*Queue, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()
	if cfg.Lease <= 0 {
		return nil, ErrInvalidLease
	}

	table, err := sanitizeTableName(cfg.MessagesTable)
	if err != nil {
		return nil, err
	}
	cfg.MessagesTable = table

	return &Queue{
		db:      db,
		cfg:     cfg,
		queries: newQueueQueries(table),
	}, nil
}

// Publish enqueues a message for immediate delivery. A zero id is
// replaced with a generated one; the assigned id is returned.
func (q *Queue) Publish(ctx context.Context, id ledgerq.ID, body []byte) (ledgerq.ID, error) {
	if len(body) == 0 {
		return ledgerq.ID{}, ErrBodyRequired
	}
	if id.IsZero() {
		var err error
		id, err = q.cfg.Generator.New()
		if err != nil {
			return ledgerq.ID{}, fmt.Errorf("ledgerq mysql: generate id failed: %w", err)
		}
	}

	if _, err := q.db.ExecContext(ctx, q.queries.insert, id, body, q.cfg.Clock.Now()); err != nil {
		return ledgerq.ID{}, fmt.Errorf("ledgerq mysql: publish failed: %w", err)
	}

	return id, nil
}

// Peek claims the next visible message. The claim extends the
// message's visible_at by the configured lease, so an unacknowledged
// message is redelivered after the lease expires.
func (q *Queue) Peek(ctx context.Context) (*ledgerq.EventMessage, error) {
	tx, err := q.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("ledgerq mysql: peek begin failed: %w", err)
	}

	now := q.cfg.Clock.Now()

	var (
		id       ledgerq.ID
		body     []byte
		attempts int
	)
	err = tx.QueryRowContext(ctx, q.queries.selectNext, MessageReady, now).Scan(&id, &body, &attempts)
	if err != nil {
		rollbackErr := rollback(tx)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Join(ledgerq.ErrNoMessages, rollbackErr)
		}

		return nil, errors.Join(fmt.Errorf("ledgerq mysql: peek select failed: %w", err), rollbackErr)
	}

	if _, err := tx.ExecContext(ctx, q.queries.lease, now.Add(q.cfg.Lease), id); err != nil {
		return nil, errors.Join(fmt.Errorf("ledgerq mysql: peek lease failed: %w", err), rollback(tx))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("ledgerq mysql: peek commit failed: %w", err)
	}

	return &ledgerq.EventMessage{ID: id, Body: body, Attempts: attempts}, nil
}

// Complete acknowledges the message. Completing a message that was
// already completed or dead-lettered elsewhere is a no-op.
func (q *Queue) Complete(ctx context.Context, msg *ledgerq.EventMessage) error {
	if msg == nil {
		return ErrMessageRequired
	}
	_, err := q.db.ExecContext(ctx, q.queries.complete,
		MessageCompleted, q.cfg.Clock.Now(), msg.ID, MessageReady)
	if err != nil {
		return fmt.Errorf("ledgerq mysql: complete failed: %w", err)
	}

	return nil
}

// Abandon makes the message immediately deliverable again with its
// attempt count incremented.
func (q *Queue) Abandon(ctx context.Context, msg *ledgerq.EventMessage) error {
	return q.reschedule(ctx, msg, q.cfg.Clock.Now(), "abandon")
}

// Reschedule defers redelivery until notBefore with the attempt count
// incremented. The schedule is stored on the row, so it survives
// worker restarts.
func (q *Queue) Reschedule(ctx context.Context, msg *ledgerq.EventMessage, notBefore time.Time) error {
	return q.reschedule(ctx, msg, notBefore, "reschedule")
}

func (q *Queue) reschedule(ctx context.Context, msg *ledgerq.EventMessage, notBefore time.Time, op string) error {
	if msg == nil {
		return ErrMessageRequired
	}
	_, err := q.db.ExecContext(ctx, q.queries.reschedule, notBefore, msg.ID, MessageReady)
	if err != nil {
		return fmt.Errorf("ledgerq mysql: %s failed: %w", op, err)
	}

	return nil
}

// MoveToDeadLetter removes the message from live delivery. The row is
// retained with its body for manual inspection.
func (q *Queue) MoveToDeadLetter(ctx context.Context, msg *ledgerq.EventMessage) error {
	if msg == nil {
		return ErrMessageRequired
	}
	_, err := q.db.ExecContext(ctx, q.queries.dead, MessageDead, msg.ID, MessageReady)
	if err != nil {
		return fmt.Errorf("ledgerq mysql: dead-letter failed: %w", err)
	}

	return nil
}

// DeadLetters returns up to limit dead-lettered messages for
// inspection, oldest first.
func (q *Queue) DeadLetters(ctx context.Context, limit int) ([]ledgerq.EventMessage, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := q.db.QueryContext(ctx, q.queries.selectDead, MessageDead, limit)
	if err != nil {
		return nil, fmt.Errorf("ledgerq mysql: dead-letter select failed: %w", err)
	}
	defer rows.Close()

	var messages []ledgerq.EventMessage
	for rows.Next() {
		var msg ledgerq.EventMessage
		if err := rows.Scan(&msg.ID, &msg.Body, &msg.Attempts); err != nil {
			return nil, fmt.Errorf("ledgerq mysql: dead-letter scan failed: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledgerq mysql: dead-letter rows failed: %w", err)
	}

	return messages, nil
}

func rollback(tx *sql.Tx) error {
	err := tx.Rollback()
	if err == nil || errors.Is(err, sql.ErrTxDone) {
		return nil
	}

	return fmt.Errorf("ledgerq mysql: rollback failed: %w", err)
}
