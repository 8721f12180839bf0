package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TypeDeposit  TransactionType = "DEPOSIT"
	TypeWithdraw TransactionType = "WITHDRAW"
	TypeTransfer TransactionType = "TRANSFER"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
	// StatusInconsistent marks a transfer whose compensating write could not
	// be applied: the source debit committed but neither the credit nor the
	// restore did. Requires manual reconciliation.
	StatusInconsistent TransactionStatus = "INCONSISTENT"
)

// Transaction is the journal record of one movement attempt. Records are
// append-only: built in memory as PENDING, transitioned exactly once to a
// terminal status, then written to the journal and never touched again.
type Transaction struct {
	ID            uuid.UUID         `json:"id"`
	AccountID     string            `json:"account_id"`
	ToAccountID   *string           `json:"to_account_id,omitempty"`
	Type          TransactionType   `json:"type"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency"`
	Description   string            `json:"description"`
	Status        TransactionStatus `json:"status"`
	RequestKey    *uuid.UUID        `json:"request_key,omitempty"`
	FailureDetail string            `json:"failure_detail,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Terminal reports whether the record has reached a final status.
func (t *Transaction) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed || t.Status == StatusInconsistent
}

// TransactionJournal is the append-only store of movement outcomes.
type TransactionJournal interface {
	// Append writes the record exactly once. A duplicate request key maps to
	// ErrDuplicateMovement so the caller can fall back to the recorded outcome.
	Append(tx *Transaction) error
	// GetByRequestKey returns nil, nil when no record carries the key.
	GetByRequestKey(key uuid.UUID) (*Transaction, error)
	// ListByAccount returns records where the account is source or
	// destination, newest first. Pages are 1-based.
	ListByAccount(accountID string, page, pageSize int) ([]Transaction, error)
}
