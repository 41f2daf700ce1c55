package mysql

import (
	"time"

	"github.com/finvolt/ledgerq"
)

const (
	defaultMessagesTable  = "messages"
	defaultAccountsTable  = "accounts"
	defaultProcessedTable = "processed_transactions"
	defaultAuditTable     = "audit_log"
	defaultLease          = 5 * time.Minute
)

// Config defines queue and store behavior.
type Config struct {
	MessagesTable  string
	AccountsTable  string
	ProcessedTable string
	AuditTable     string
	// Lease is how long a peeked message stays invisible before it is
	// redelivered to another worker.
	Lease     time.Duration
	Clock     ledgerq.Clock
	Generator ledgerq.IDGenerator
}

func (c Config) withDefaults() Config {
	if c.MessagesTable == "" {
		c.MessagesTable = defaultMessagesTable
	}
	if c.AccountsTable == "" {
		c.AccountsTable = defaultAccountsTable
	}
	if c.ProcessedTable == "" {
		c.ProcessedTable = defaultProcessedTable
	}
	if c.AuditTable == "" {
		c.AuditTable = defaultAuditTable
	}
	if c.Lease <= 0 {
		c.Lease = defaultLease
	}
	if c.Clock == nil {
		c.Clock = ledgerq.SystemClock{}
	}
	if c.Generator == nil {
		c.Generator = ledgerq.NewUUIDv7Generator(c.Clock)
	}

	return c
}

// Option configures the MySQL queue and store.
type Option func(*Config)

// WithMessagesTable sets the queue table name.
func WithMessagesTable(name string) Option {
	return func(c *Config) {
		c.MessagesTable = name
	}
}

// WithAccountsTable sets the accounts table name.
func WithAccountsTable(name string) Option {
	return func(c *Config) {
		c.AccountsTable = name
	}
}

// WithProcessedTable sets the idempotency record table name.
func WithProcessedTable(name string) Option {
	return func(c *Config) {
		c.ProcessedTable = name
	}
}

// WithAuditTable sets the audit log table name.
func WithAuditTable(name string) Option {
	return func(c *Config) {
		c.AuditTable = name
	}
}

// WithLease sets the message visibility lease.
func WithLease(lease time.Duration) Option {
	return func(c *Config) {
		c.Lease = lease
	}
}

// WithClock sets the time source.
func WithClock(clock ledgerq.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithGenerator sets the id generator.
func WithGenerator(gen ledgerq.IDGenerator) Option {
	return func(c *Config) {
		c.Generator = gen
	}
}
