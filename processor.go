package ledgerq

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Processor validates one transaction event and applies it to the
// account balance under an atomic store transaction. Every invocation
// writes at most one audit entry; failed-attempt audit writes are
// best-effort and never change the returned Outcome.
type Processor struct {
	store Store
	cfg   ProcessorConfig
}

var _ MessageProcessor = (*Processor)(nil)

// NewProcessor constructs a Processor with defaults and optional settings.
func NewProcessor(store Store, opts ...ProcessorOption) *Processor {
	if store == nil {
		panic("ledgerq: nil Store")
	}

	var cfg ProcessorConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	return &Processor{store: store, cfg: cfg}
}

// Process runs the validation and mutation pipeline for one message
// and returns its classified Outcome.
func (p *Processor) Process(ctx context.Context, msg *EventMessage) Outcome {
	if msg == nil {
		return PermanentFailure("nil message", nil)
	}

	if _, err := p.store.FindProcessed(ctx, msg.ID); err == nil {
		p.cfg.Logger.Info("message already processed, skipping", "message_id", msg.ID)

		return DuplicateSuccess()
	} else if !errors.Is(err, ErrNotFound) {
		return p.transient(ctx, msg, nil, "", "idempotency lookup failed", err)
	}

	event, err := DecodeTransactionEvent(msg.Body)
	if err != nil {
		reason := "malformed payload"
		if errors.Is(err, ErrEmptyBody) {
			reason = "empty message body"
		}

		return p.permanent(ctx, msg, nil, "", reason, err)
	}

	txType, err := ParseTransactionType(event.Type)
	if err != nil {
		return p.permanent(ctx, msg, &event, "", fmt.Sprintf("invalid transaction type %q", event.Type), err)
	}

	if err := event.ValidateAmount(); err != nil {
		return p.permanent(ctx, msg, &event, txType, fmt.Sprintf("invalid amount %s", event.Amount), err)
	}

	return p.apply(ctx, msg, event, txType)
}

// apply performs the atomic mutation: balance update, idempotency
// record, and success audit entry in one store transaction.
func (p *Processor) apply(ctx context.Context, msg *EventMessage, event TransactionEvent, txType TransactionType) Outcome {
	tx, err := p.store.Begin(ctx)
	if err != nil {
		return p.transient(ctx, msg, &event, txType, "begin transaction failed", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	account, err := tx.Account(ctx, event.AccountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return p.permanent(ctx, msg, &event, txType, fmt.Sprintf("account not found: %s", event.AccountID), err)
		}

		return p.transient(ctx, msg, &event, txType, "account lookup failed", err)
	}

	previous := account.Balance
	var next decimal.Decimal
	switch txType {
	case TypeCredit:
		next = previous.Add(event.Amount)
	case TypeDebit:
		next = previous.Sub(event.Amount)
	}

	if txType == TypeDebit && next.IsNegative() {
		reason := fmt.Sprintf("insufficient funds: balance %s, debit %s", previous, event.Amount)

		return p.permanent(ctx, msg, &event, txType, reason, ErrInsufficientFunds)
	}

	if err := tx.UpdateBalance(ctx, account.ID, previous, next); err != nil {
		return p.transient(ctx, msg, &event, txType, "balance update failed", err)
	}

	recordID, err := p.cfg.Generator.New()
	if err != nil {
		return p.transient(ctx, msg, &event, txType, "id generation failed", err)
	}

	now := p.cfg.Clock.Now()
	record := ProcessedTransaction{
		ID:              recordID,
		MessageID:       msg.ID,
		AccountID:       account.ID,
		Amount:          event.Amount,
		Type:            txType,
		PreviousBalance: previous,
		NewBalance:      next,
		ProcessedAt:     now,
	}
	if err := tx.InsertProcessed(ctx, record); err != nil {
		if errors.Is(err, ErrDuplicateMessage) {
			// Another worker applied the same message between the
			// idempotency lookup and this insert. The uniqueness
			// constraint makes this a no-op replay.
			p.cfg.Logger.Info("message applied concurrently elsewhere, skipping", "message_id", msg.ID)

			return DuplicateSuccess()
		}

		return p.transient(ctx, msg, &event, txType, "idempotency record insert failed", err)
	}

	entry := p.newAudit(msg, &event, txType, AuditSuccess, "")
	if entry.ID.IsZero() {
		return p.transient(ctx, msg, &event, txType, "id generation failed", nil)
	}
	entry.PreviousBalance = &previous
	entry.NewBalance = &next
	if err := tx.AppendAudit(ctx, entry); err != nil {
		return p.transient(ctx, msg, &event, txType, "success audit write failed", err)
	}

	if err := tx.Commit(); err != nil {
		if errors.Is(err, ErrDuplicateMessage) {
			p.cfg.Logger.Info("message applied concurrently elsewhere, skipping", "message_id", msg.ID)

			return DuplicateSuccess()
		}

		return p.transient(ctx, msg, &event, txType, "commit failed", err)
	}
	committed = true

	p.cfg.Logger.Info("transaction applied",
		"message_id", msg.ID,
		"account_id", account.ID,
		"type", txType,
		"amount", event.Amount,
		"previous_balance", previous,
		"new_balance", next,
	)

	return Success()
}

// permanent audits the attempt as Failed and returns a PermanentFailure.
func (p *Processor) permanent(ctx context.Context, msg *EventMessage, event *TransactionEvent, txType TransactionType, reason string, err error) Outcome {
	p.cfg.Logger.Error("permanent processing failure",
		"message_id", msg.ID, "attempt", msg.Attempts, "reason", reason, "err", err)
	p.audit(ctx, p.newAudit(msg, event, txType, AuditFailed, reason))

	return PermanentFailure(reason, err)
}

// transient audits the attempt as Retry and returns a TransientFailure,
// refining the reason for recognized store error classes.
func (p *Processor) transient(ctx context.Context, msg *EventMessage, event *TransactionEvent, txType TransactionType, reason string, err error) Outcome {
	switch {
	case errors.Is(err, ErrConflict):
		reason = "store concurrency conflict"
	case errors.Is(err, ErrStoreTimeout):
		reason = "store timeout"
	}
	p.cfg.Logger.Warn("transient processing failure",
		"message_id", msg.ID, "attempt", msg.Attempts, "reason", reason, "err", err)
	p.audit(ctx, p.newAudit(msg, event, txType, AuditRetry, reason))

	return TransientFailure(reason, err)
}

func (p *Processor) newAudit(msg *EventMessage, event *TransactionEvent, txType TransactionType, status AuditStatus, reason string) AuditEntry {
	entry := AuditEntry{
		MessageID:   msg.ID,
		Type:        txType,
		Status:      status,
		Error:       reason,
		Attempt:     msg.Attempts,
		ProcessedAt: p.cfg.Clock.Now(),
	}
	if event != nil {
		entry.AccountID = event.AccountID
		entry.Amount = event.Amount
	}
	if id, err := p.cfg.Generator.New(); err == nil {
		entry.ID = id
	}

	return entry
}

// audit appends a failed-attempt audit row best-effort. A write
// failure is logged and swallowed; it never changes the Outcome.
func (p *Processor) audit(ctx context.Context, entry AuditEntry) {
	if entry.ID.IsZero() {
		p.cfg.Logger.Error("audit id generation failed", "message_id", entry.MessageID)

		return
	}
	if err := p.store.AppendAudit(ctx, entry); err != nil {
		p.cfg.Logger.Error("audit write failed", "message_id", entry.MessageID, "err", err)
	}
}
