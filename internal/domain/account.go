package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// AccountState is the snapshot of an account as the account service reports
// it. The account entity itself (owner, account number, type) lives behind
// the service; this core only ever sees balance, currency, active flag and
// the version used for compare-and-swap writes.
type AccountState struct {
	ID       string          `json:"account_id"`
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
	Active   bool            `json:"active"`
	Version  int64           `json:"version"`
}

// BalanceGateway is the network boundary to the account service.
//
// SetBalance is a compare-and-swap: the write is rejected with a version
// conflict when the stored version no longer matches expectedVersion. On
// success it returns the version the account now carries, so a follow-up
// write (e.g. a compensating restore) can chain off it.
type BalanceGateway interface {
	GetBalance(ctx context.Context, accountID string) (*AccountState, error)
	SetBalance(ctx context.Context, accountID string, newBalance decimal.Decimal, expectedVersion int64) (int64, error)
}
