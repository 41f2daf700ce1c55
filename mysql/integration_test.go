//go:build integration

package mysql_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	_ "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/finvolt/ledgerq"
	"github.com/finvolt/ledgerq/mysql"
)

func TestWorkerAppliesCreditIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})

	setupSchema(t, ctx, db)

	queue, store, worker := newWorker(t, db)

	accountID := seedAccount(t, ctx, store, "1000.00")
	msgID := publishEvent(t, ctx, queue, accountID, "Credit", "200.50")

	processed, err := worker.ProcessOnce(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	balance, err := store.AccountBalance(ctx, accountID)
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.RequireFromString("1200.50")), "balance %s", balance)

	record, err := store.FindProcessed(ctx, msgID)
	require.NoError(t, err)
	require.Equal(t, accountID, record.AccountID)
	require.Equal(t, ledgerq.TypeCredit, record.Type)
	require.True(t, record.PreviousBalance.Equal(decimal.RequireFromString("1000.00")))
	require.True(t, record.NewBalance.Equal(decimal.RequireFromString("1200.50")))

	status, attempts := fetchMessage(t, ctx, db, msgID)
	require.Equal(t, mysql.MessageCompleted, status)
	require.Equal(t, 0, attempts)

	auditStatus, auditErr := fetchAudit(t, ctx, db, msgID)
	require.Equal(t, ledgerq.AuditSuccess, auditStatus)
	require.False(t, auditErr.Valid)
}

func TestWorkerInsufficientFundsDeadLettersIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})

	setupSchema(t, ctx, db)

	queue, store, worker := newWorker(t, db)

	accountID := seedAccount(t, ctx, store, "100.00")
	msgID := publishEvent(t, ctx, queue, accountID, "Debit", "250.00")

	processed, err := worker.ProcessOnce(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	balance, err := store.AccountBalance(ctx, accountID)
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.RequireFromString("100.00")), "balance %s", balance)

	status, _ := fetchMessage(t, ctx, db, msgID)
	require.Equal(t, mysql.MessageDead, status)

	auditStatus, auditErr := fetchAudit(t, ctx, db, msgID)
	require.Equal(t, ledgerq.AuditFailed, auditStatus)
	require.True(t, auditErr.Valid)
	require.Contains(t, auditErr.String, "insufficient funds")

	dead, err := queue.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	require.Equal(t, msgID, dead[0].ID)
}

func TestWorkerMalformedPayloadDeadLettersIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})

	setupSchema(t, ctx, db)

	queue, _, worker := newWorker(t, db)

	msgID, err := queue.Publish(ctx, ledgerq.ID{}, []byte("{not json"))
	require.NoError(t, err)

	processed, err := worker.ProcessOnce(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	status, _ := fetchMessage(t, ctx, db, msgID)
	require.Equal(t, mysql.MessageDead, status)

	// Payload never decoded, so the audit row carries no account.
	var accountID any
	err = db.QueryRowContext(ctx, "SELECT account_id FROM audit_log WHERE message_id = ?", msgID).Scan(&accountID)
	require.NoError(t, err)
	require.Nil(t, accountID)
}

func TestWorkerDuplicateRedeliveryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})

	setupSchema(t, ctx, db)

	queue, store, worker := newWorker(t, db)

	accountID := seedAccount(t, ctx, store, "1000.00")
	msgID := publishEvent(t, ctx, queue, accountID, "Credit", "200.00")

	processed, err := worker.ProcessOnce(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	// Simulate a crash after commit but before the acknowledgment: the
	// message row comes back even though the mutation is recorded.
	_, err = db.ExecContext(ctx,
		"UPDATE messages SET status = ?, visible_at = NOW(6), completed_at = NULL WHERE id = ?",
		mysql.MessageReady, msgID)
	require.NoError(t, err)

	processed, err = worker.ProcessOnce(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	balance, err := store.AccountBalance(ctx, accountID)
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.RequireFromString("1200.00")), "balance applied twice: %s", balance)

	var records int
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM processed_transactions WHERE message_id = ?", msgID).Scan(&records)
	require.NoError(t, err)
	require.Equal(t, 1, records)

	status, _ := fetchMessage(t, ctx, db, msgID)
	require.Equal(t, mysql.MessageCompleted, status)
}

func TestWorkerBackoffRescheduleIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})

	setupSchema(t, ctx, db)

	queue, err := mysql.NewQueue(db)
	require.NoError(t, err)
	store, err := mysql.NewStore(db)
	require.NoError(t, err)
	worker := ledgerq.NewWorker(queue, ledgerq.NewProcessor(store))

	accountID := seedAccount(t, ctx, store, "50.00")
	msgID := publishEvent(t, ctx, queue, accountID, "Credit", "10.00")

	// Claim the row ourselves so the worker's peek sees nothing; then
	// reschedule it an hour out and verify it stays invisible with its
	// attempt count bumped.
	msg, err := queue.Peek(ctx)
	require.NoError(t, err)
	require.Equal(t, msgID, msg.ID)

	require.NoError(t, queue.Reschedule(ctx, msg, time.Now().UTC().Add(time.Hour)))

	_, err = queue.Peek(ctx)
	require.ErrorIs(t, err, ledgerq.ErrNoMessages)

	_, attempts := fetchMessage(t, ctx, db, msgID)
	require.Equal(t, 1, attempts)

	// Pull it back into the present and the worker applies it with the
	// delivery's attempt count.
	_, err = db.ExecContext(ctx, "UPDATE messages SET visible_at = NOW(6) WHERE id = ?", msgID)
	require.NoError(t, err)

	processed, err := worker.ProcessOnce(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	balance, err := store.AccountBalance(ctx, accountID)
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.RequireFromString("60.00")), "balance %s", balance)
}

func TestQueueLeaseRedeliveryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})

	setupSchema(t, ctx, db)

	queue, err := mysql.NewQueue(db, mysql.WithLease(200*time.Millisecond))
	require.NoError(t, err)

	id, err := queue.Publish(ctx, ledgerq.ID{}, []byte(`{"messageType":"Credit"}`))
	require.NoError(t, err)

	msg, err := queue.Peek(ctx)
	require.NoError(t, err)
	require.Equal(t, id, msg.ID)

	// The claim holds until the lease expires.
	_, err = queue.Peek(ctx)
	require.ErrorIs(t, err, ledgerq.ErrNoMessages)

	time.Sleep(300 * time.Millisecond)

	redelivered, err := queue.Peek(ctx)
	require.NoError(t, err)
	require.Equal(t, id, redelivered.ID)
	// Lease expiry is not a processing attempt.
	require.Equal(t, 0, redelivered.Attempts)
}

func TestQueueCleanupIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})

	setupSchema(t, ctx, db)

	queue, err := mysql.NewQueue(db)
	require.NoError(t, err)

	var ids []ledgerq.ID
	for i := 0; i < 3; i++ {
		id, err := queue.Publish(ctx, ledgerq.ID{}, []byte(`{}`))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	now := time.Now().UTC()
	old := now.Add(-2 * time.Hour)
	recent := now.Add(-10 * time.Minute)

	markMessage(t, ctx, db, ids[0], mysql.MessageCompleted, old)
	markMessage(t, ctx, db, ids[1], mysql.MessageCompleted, recent)
	markDead(t, ctx, db, ids[2], old)

	res, err := queue.Cleanup(ctx, mysql.CleanupOptions{
		Before:      now.Add(-time.Hour),
		Limit:       10,
		IncludeDead: true,
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, res.Completed)
	require.EqualValues(t, 1, res.Dead)

	var remaining int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&remaining))
	require.Equal(t, 1, remaining)
}

func TestCleanupMaintainerEnsureIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})

	setupSchema(t, ctx, db)

	queue, err := mysql.NewQueue(db)
	require.NoError(t, err)

	id, err := queue.Publish(ctx, ledgerq.ID{}, []byte(`{}`))
	require.NoError(t, err)
	markMessage(t, ctx, db, id, mysql.MessageCompleted, time.Now().UTC().Add(-48*time.Hour))

	maintainer, err := mysql.NewCleanupMaintainer(db, mysql.CleanupMaintainerConfig{
		Retention: 24 * time.Hour,
	})
	require.NoError(t, err)

	res, err := maintainer.Ensure(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, res.Completed)

	var remaining int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&remaining))
	require.Equal(t, 0, remaining)
}

func startMySQLContainer(t *testing.T, ctx context.Context) (testcontainers.Container, *sql.DB) {
	t.Helper()
	port := nat.Port("3306/tcp")
	req := testcontainers.ContainerRequest{
		Image:        "mysql:8.0.36",
		ExposedPorts: []string{string(port)},
		Env: map[string]string{
			"MYSQL_ROOT_PASSWORD": "secret",
			"MYSQL_DATABASE":      "ledgerq",
		},
		WaitingFor: wait.ForSQL(port, "mysql", func(host string, port nat.Port) string {
			return fmt.Sprintf("root:secret@tcp(%s:%s)/ledgerq?parseTime=true&multiStatements=true", host, port.Port())
		}).WithStartupTimeout(2 * time.Minute),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("start mysql container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("resolve host: %v", err)
	}
	mappedPort, err := container.MappedPort(ctx, port)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("resolve port: %v", err)
	}

	dsn := fmt.Sprintf("root:secret@tcp(%s:%s)/ledgerq?parseTime=true&multiStatements=true", host, mappedPort.Port())
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("open db: %v", err)
	}
	return container, db
}

func setupSchema(t *testing.T, ctx context.Context, db *sql.DB) {
	t.Helper()
	statements, err := mysql.Schema()
	require.NoError(t, err)
	for _, stmt := range statements {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}
}

func newWorker(t *testing.T, db *sql.DB) (*mysql.Queue, *mysql.Store, *ledgerq.Worker) {
	t.Helper()
	queue, err := mysql.NewQueue(db)
	require.NoError(t, err)
	store, err := mysql.NewStore(db)
	require.NoError(t, err)
	worker := ledgerq.NewWorker(queue, ledgerq.NewProcessor(store))

	return queue, store, worker
}

func seedAccount(t *testing.T, ctx context.Context, store *mysql.Store, balance string) ledgerq.ID {
	t.Helper()
	id := newID(t)
	require.NoError(t, store.CreateAccount(ctx, id, decimal.RequireFromString(balance)))

	return id
}

func publishEvent(t *testing.T, ctx context.Context, queue *mysql.Queue, accountID ledgerq.ID, txType, amount string) ledgerq.ID {
	t.Helper()
	eventID := newID(t)
	body := fmt.Sprintf(`{"id":"%s","messageType":"%s","bankAccountId":"%s","amount":"%s"}`,
		eventID, txType, accountID, amount)
	id, err := queue.Publish(ctx, eventID, []byte(body))
	require.NoError(t, err)

	return id
}

func newID(t *testing.T) ledgerq.ID {
	t.Helper()
	id, err := ledgerq.NewUUIDv7Generator(ledgerq.SystemClock{}).New()
	require.NoError(t, err)

	return id
}

func fetchMessage(t *testing.T, ctx context.Context, db *sql.DB, id ledgerq.ID) (mysql.MessageStatus, int) {
	t.Helper()
	var (
		status   mysql.MessageStatus
		attempts int
	)
	err := db.QueryRowContext(ctx, "SELECT status, attempt_count FROM messages WHERE id = ?", id).
		Scan(&status, &attempts)
	require.NoError(t, err)

	return status, attempts
}

func fetchAudit(t *testing.T, ctx context.Context, db *sql.DB, messageID ledgerq.ID) (ledgerq.AuditStatus, sql.NullString) {
	t.Helper()
	var (
		status ledgerq.AuditStatus
		errMsg sql.NullString
	)
	err := db.QueryRowContext(ctx, "SELECT status, error_message FROM audit_log WHERE message_id = ?", messageID).
		Scan(&status, &errMsg)
	require.NoError(t, err)

	return status, errMsg
}

func markMessage(t *testing.T, ctx context.Context, db *sql.DB, id ledgerq.ID, status mysql.MessageStatus, at time.Time) {
	t.Helper()
	_, err := db.ExecContext(ctx,
		"UPDATE messages SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?",
		status, at, at, id)
	require.NoError(t, err)
}

func markDead(t *testing.T, ctx context.Context, db *sql.DB, id ledgerq.ID, at time.Time) {
	t.Helper()
	_, err := db.ExecContext(ctx,
		"UPDATE messages SET status = ?, updated_at = ? WHERE id = ?",
		mysql.MessageDead, at, id)
	require.NoError(t, err)
}
