package ledgerq

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// EventMessage is the queue envelope for one delivery.
type EventMessage struct {
	// ID is the source message id and the idempotency key.
	ID ID
	// Body is the raw JSON payload.
	Body []byte
	// Attempts counts prior transient-failure cycles for this message.
	Attempts int
}

// TransactionEvent is the decoded message payload.
type TransactionEvent struct {
	ID        ID              `json:"id"`
	Type      string          `json:"messageType"`
	AccountID ID              `json:"bankAccountId"`
	Amount    decimal.Decimal `json:"amount"`
}

// DecodeTransactionEvent parses a message body. It reports ErrEmptyBody
// for blank bodies and a wrapped decode error for malformed JSON; type
// and amount validation are separate steps.
func DecodeTransactionEvent(body []byte) (TransactionEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return TransactionEvent{}, ErrEmptyBody
	}

	var event TransactionEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return TransactionEvent{}, fmt.Errorf("ledgerq: decode event: %w", err)
	}

	return event, nil
}

// ValidateAmount checks that the event amount is strictly positive.
func (e TransactionEvent) ValidateAmount() error {
	if !e.Amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, e.Amount)
	}

	return nil
}
