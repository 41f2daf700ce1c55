package mysql

import "errors"

var (
	// ErrDBRequired is returned when a nil *sql.DB is provided.
	ErrDBRequired = errors.New("ledgerq mysql: db is required")
	// ErrTableNameRequired is returned when a table name is empty.
	ErrTableNameRequired = errors.New("ledgerq mysql: table name is required")
	// ErrInvalidTableName is returned when a table name has disallowed characters.
	ErrInvalidTableName = errors.New("ledgerq mysql: invalid table name")
	// ErrBodyRequired is returned when publishing a message without a body.
	ErrBodyRequired = errors.New("ledgerq mysql: message body is required")
	// ErrMessageRequired is returned when a queue operation gets a nil message.
	ErrMessageRequired = errors.New("ledgerq mysql: message is required")
	// ErrInvalidLease is returned when the visibility lease is not positive.
	ErrInvalidLease = errors.New("ledgerq mysql: lease must be positive")
	// ErrCleanupBeforeRequired is returned when the cleanup cutoff is missing.
	ErrCleanupBeforeRequired = errors.New("ledgerq mysql: cleanup before time is required")
	// ErrCleanupLimitInvalid is returned when the cleanup limit is negative.
	ErrCleanupLimitInvalid = errors.New("ledgerq mysql: cleanup limit must be non-negative")
	// ErrCleanupRetentionInvalid is returned when cleanup retention is not positive.
	ErrCleanupRetentionInvalid = errors.New("ledgerq mysql: cleanup retention must be positive")
)
