// Package ledgerq applies queued banking transaction events to account
// balances exactly once despite at-least-once delivery.
//
// Typical flow:
//  1. Messages arrive on a durable Queue (see the mysql package for a
//     SKIP LOCKED backed implementation).
//  2. A Worker polls the queue one message at a time and hands each
//     message to the Processor.
//  3. The Processor validates the payload and applies the balance
//     mutation, the idempotency record, and the success audit entry as
//     one atomic Store transaction, returning a classified Outcome.
//  4. The Worker completes, reschedules with backoff, or dead-letters
//     the message based on the Outcome and the RetryPolicy.
//
// Idempotency relies on the store's uniqueness constraint on the
// source message id, not on check-then-act, so multiple workers may
// safely poll the same queue.
package ledgerq
