// Package mysql provides MySQL-backed implementations of the ledgerq
// Queue and Store interfaces.
//
// The queue claims one message at a time with FOR UPDATE SKIP LOCKED
// and a visibility lease: a worker that crashes mid-processing simply
// lets the lease expire and the message is redelivered. Reschedule
// writes the retry time into the row, so backoff delays survive
// process restarts. The store enforces idempotency with a unique key
// on the source message id and applies the balance mutation, the
// idempotency record, and the success audit entry in one transaction.
package mysql
