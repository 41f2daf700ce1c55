package mysql

import "fmt"

// MessageStatus is the lifecycle state of a queue row.
type MessageStatus int16

const (
	// MessageReady indicates the message is live and deliverable once
	// its visible_at passes.
	MessageReady MessageStatus = 0
	// MessageCompleted indicates the message was acknowledged.
	MessageCompleted MessageStatus = 1
	// MessageDead indicates the message was moved to the dead-letter
	// side channel.
	MessageDead MessageStatus = -1
)

const messagesSchemaTemplate = `CREATE TABLE IF NOT EXISTS %s (
	id BINARY(16) NOT NULL,
	body BLOB NOT NULL,
	status SMALLINT NOT NULL DEFAULT 0,
	attempt_count INT NOT NULL DEFAULT 0,
	visible_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
	enqueued_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
	updated_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
	completed_at TIMESTAMP(6) NULL,
	PRIMARY KEY (id),
	INDEX idx_status_visible (status, visible_at)
);`

const accountsSchemaTemplate = `CREATE TABLE IF NOT EXISTS %s (
	id BINARY(16) NOT NULL,
	balance DECIMAL(19,4) NOT NULL DEFAULT 0,
	created_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
	updated_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
	PRIMARY KEY (id),
	CONSTRAINT chk_balance_non_negative CHECK (balance >= 0)
);`

const processedSchemaTemplate = `CREATE TABLE IF NOT EXISTS %s (
	id BINARY(16) NOT NULL,
	message_id BINARY(16) NOT NULL,
	account_id BINARY(16) NOT NULL,
	amount DECIMAL(19,4) NOT NULL,
	transaction_type VARCHAR(16) NOT NULL,
	previous_balance DECIMAL(19,4) NOT NULL,
	new_balance DECIMAL(19,4) NOT NULL,
	processed_at TIMESTAMP(6) NOT NULL,
	PRIMARY KEY (id),
	UNIQUE KEY uq_message_id (message_id)
);`

const auditSchemaTemplate = `CREATE TABLE IF NOT EXISTS %s (
	id BINARY(16) NOT NULL,
	message_id BINARY(16) NOT NULL,
	account_id BINARY(16) NULL,
	amount DECIMAL(19,4) NOT NULL DEFAULT 0,
	transaction_type VARCHAR(16) NULL,
	status SMALLINT NOT NULL,
	error_message VARCHAR(1024) NULL,
	attempt INT NOT NULL DEFAULT 0,
	previous_balance DECIMAL(19,4) NULL,
	new_balance DECIMAL(19,4) NULL,
	processed_at TIMESTAMP(6) NOT NULL,
	PRIMARY KEY (id),
	INDEX idx_message_id (message_id)
);`

// Schema returns the CREATE TABLE statements for all four tables in
// dependency-free order. Table names come from the options.
func Schema(opts ...Option) ([]string, error) {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	statements := make([]string, 0, 4)
	for _, build := range []struct {
		template string
		table    string
	}{
		{messagesSchemaTemplate, cfg.MessagesTable},
		{accountsSchemaTemplate, cfg.AccountsTable},
		{processedSchemaTemplate, cfg.ProcessedTable},
		{auditSchemaTemplate, cfg.AuditTable},
	} {
		name, err := sanitizeTableName(build.table)
		if err != nil {
			return nil, err
		}
		statements = append(statements, fmt.Sprintf(build.template, name))
	}

	return statements, nil
}
