package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"bank-movements/internal/domain"
	"bank-movements/internal/errors"
	"bank-movements/internal/guard"
)

// compensationAttempts caps how often the source restore is retried before
// a transfer is journaled INCONSISTENT.
const compensationAttempts = 3

// maxAmountExponent rejects amounts below cent precision.
const maxAmountExponent = -2

// MovementService coordinates deposits, withdrawals and transfers against
// balances that live behind the account service. Balance writes are
// compare-and-swap; a version conflict restarts the movement from the read
// step up to casMaxAttempts times. Transfers follow a saga: debit the source,
// credit the destination, and on credit failure restore the source. Every
// attempt ends in exactly one journal row carrying its terminal status.
type MovementService struct {
	gateway        domain.BalanceGateway
	journal        domain.TransactionJournal
	guard          *guard.AccountGuard
	logger         *slog.Logger
	casMaxAttempts int
}

func NewMovementService(
	gateway domain.BalanceGateway,
	journal domain.TransactionJournal,
	accountGuard *guard.AccountGuard,
	casMaxAttempts int,
	logger *slog.Logger,
) *MovementService {
	if casMaxAttempts < 1 {
		casMaxAttempts = 1
	}
	return &MovementService{
		gateway:        gateway,
		journal:        journal,
		guard:          accountGuard,
		logger:         logger,
		casMaxAttempts: casMaxAttempts,
	}
}

type MovementRequest struct {
	AccountID   string
	Amount      decimal.Decimal
	Description string
	RequestKey  *uuid.UUID
}

type TransferRequest struct {
	FromAccountID string
	ToAccountID   string
	Amount        decimal.Decimal
	Description   string
	RequestKey    *uuid.UUID
}

func (s *MovementService) Deposit(ctx context.Context, req *MovementRequest) (*domain.Transaction, error) {
	s.logger.Info("Processing deposit", "account_id", req.AccountID, "amount", req.Amount)

	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}
	if req.AccountID == "" {
		return nil, errors.ErrInvalidAccountID
	}

	unlock := s.guard.Lock(req.AccountID)
	defer unlock()

	// Resolved under the lock so a concurrent retry of the same request
	// sees the first attempt's outcome instead of executing again.
	if recorded, err := s.recordedOutcome(req.RequestKey); recorded != nil || err != nil {
		return recorded, err
	}

	for attempt := 1; ; attempt++ {
		state, err := s.gateway.GetBalance(ctx, req.AccountID)
		if err != nil {
			return nil, err
		}
		if !state.Active {
			return nil, errors.ErrAccountInactive
		}

		tx := s.newTransaction(domain.TypeDeposit, req.AccountID, nil, req.Amount, state.Currency, req.Description, req.RequestKey)

		_, err = s.gateway.SetBalance(noCancel(ctx), req.AccountID, state.Balance.Add(req.Amount), state.Version)
		if err == nil {
			return s.journalOutcome(tx, domain.StatusCompleted, "")
		}
		if errors.Is(err, errors.VersionConflict) && attempt < s.casMaxAttempts {
			s.logger.Warn("Deposit hit version conflict, retrying", "account_id", req.AccountID, "attempt", attempt)
			continue
		}
		return s.failMovement(tx, err)
	}
}

func (s *MovementService) Withdraw(ctx context.Context, req *MovementRequest) (*domain.Transaction, error) {
	s.logger.Info("Processing withdrawal", "account_id", req.AccountID, "amount", req.Amount)

	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}
	if req.AccountID == "" {
		return nil, errors.ErrInvalidAccountID
	}

	unlock := s.guard.Lock(req.AccountID)
	defer unlock()

	if recorded, err := s.recordedOutcome(req.RequestKey); recorded != nil || err != nil {
		return recorded, err
	}

	for attempt := 1; ; attempt++ {
		state, err := s.gateway.GetBalance(ctx, req.AccountID)
		if err != nil {
			return nil, err
		}
		if !state.Active {
			return nil, errors.ErrAccountInactive
		}

		tx := s.newTransaction(domain.TypeWithdraw, req.AccountID, nil, req.Amount, state.Currency, req.Description, req.RequestKey)

		if state.Balance.LessThan(req.Amount) {
			// No mutation happened; the FAILED row is kept for audit.
			if _, jerr := s.journalOutcome(tx, domain.StatusFailed, "insufficient balance"); jerr != nil {
				s.logger.Error("Failed to journal rejected withdrawal", "transaction_id", tx.ID, "error", jerr)
			}
			return nil, errors.ErrInsufficientBalance
		}

		_, err = s.gateway.SetBalance(noCancel(ctx), req.AccountID, state.Balance.Sub(req.Amount), state.Version)
		if err == nil {
			return s.journalOutcome(tx, domain.StatusCompleted, "")
		}
		if errors.Is(err, errors.VersionConflict) && attempt < s.casMaxAttempts {
			s.logger.Warn("Withdrawal hit version conflict, retrying", "account_id", req.AccountID, "attempt", attempt)
			continue
		}
		return s.failMovement(tx, err)
	}
}

func (s *MovementService) Transfer(ctx context.Context, req *TransferRequest) (*domain.Transaction, error) {
	s.logger.Info("Processing transfer",
		"from_account_id", req.FromAccountID,
		"to_account_id", req.ToAccountID,
		"amount", req.Amount)

	if req.FromAccountID == "" || req.ToAccountID == "" {
		return nil, errors.ErrInvalidAccountID
	}
	if req.FromAccountID == req.ToAccountID {
		return nil, errors.ErrSameAccountTransfer
	}
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}

	unlock := s.guard.LockPair(req.FromAccountID, req.ToAccountID)
	defer unlock()

	if recorded, err := s.recordedOutcome(req.RequestKey); recorded != nil || err != nil {
		return recorded, err
	}

	for attempt := 1; ; attempt++ {
		fromState, toState, err := s.readPair(ctx, req.FromAccountID, req.ToAccountID)
		if err != nil {
			return nil, err
		}
		if fromState.Currency != toState.Currency {
			return nil, errors.ErrCurrencyMismatch
		}

		tx := s.newTransaction(domain.TypeTransfer, req.FromAccountID, &req.ToAccountID, req.Amount, fromState.Currency, req.Description, req.RequestKey)

		if fromState.Balance.LessThan(req.Amount) {
			if _, jerr := s.journalOutcome(tx, domain.StatusFailed, "insufficient balance"); jerr != nil {
				s.logger.Error("Failed to journal rejected transfer", "transaction_id", tx.ID, "error", jerr)
			}
			return nil, errors.ErrInsufficientBalance
		}

		// Debit first. Once this commits the operation runs to a terminal
		// outcome no matter what the caller's context does.
		debitVersion, err := s.gateway.SetBalance(noCancel(ctx), req.FromAccountID, fromState.Balance.Sub(req.Amount), fromState.Version)
		if err != nil {
			if errors.Is(err, errors.VersionConflict) && attempt < s.casMaxAttempts {
				s.logger.Warn("Transfer debit hit version conflict, retrying",
					"from_account_id", req.FromAccountID, "attempt", attempt)
				continue
			}
			return s.failMovement(tx, err)
		}

		creditErr := s.credit(noCancel(ctx), req.ToAccountID, req.Amount, toState)
		if creditErr == nil {
			return s.journalOutcome(tx, domain.StatusCompleted, "")
		}
		// Exhausted version conflicts never leave the taxonomy's retry
		// layer; callers see them as gateway unavailability.
		if errors.Is(creditErr, errors.VersionConflict) {
			creditErr = errors.ErrGatewayUnavailable.WithDetails("version conflict retries exhausted")
		}

		s.logger.Error("Transfer credit failed, compensating",
			"transaction_id", tx.ID,
			"from_account_id", req.FromAccountID,
			"to_account_id", req.ToAccountID,
			"error", creditErr)

		if compErr := s.compensate(noCancel(ctx), req.FromAccountID, fromState.Balance, req.Amount, debitVersion); compErr != nil {
			s.logger.Error("Compensation failed, transfer is inconsistent",
				"transaction_id", tx.ID,
				"from_account_id", req.FromAccountID,
				"error", compErr)
			detail := fmt.Sprintf(
				"source %s debited %s but destination credit and source restore both failed; restore delta +%s (credit: %v; restore: %v)",
				req.FromAccountID, req.Amount, req.Amount, creditErr, compErr)
			if _, jerr := s.journalOutcome(tx, domain.StatusInconsistent, detail); jerr != nil {
				s.logger.Error("Failed to journal inconsistent transfer", "transaction_id", tx.ID, "error", jerr)
			}
			return nil, errors.ErrInconsistentState.WithDetails(detail)
		}

		s.logger.Info("Source balance restored after failed credit",
			"transaction_id", tx.ID, "from_account_id", req.FromAccountID)
		if _, jerr := s.journalOutcome(tx, domain.StatusFailed, fmt.Sprintf("destination credit failed: %v", creditErr)); jerr != nil {
			s.logger.Error("Failed to journal compensated transfer", "transaction_id", tx.ID, "error", jerr)
		}
		return nil, creditErr
	}
}

// History returns the account's movement records, newest first. Pages are
// 1-based; pageSize is clamped to [1, 100] with a default of 20.
func (s *MovementService) History(ctx context.Context, accountID string, page, pageSize int) ([]domain.Transaction, error) {
	if accountID == "" {
		return nil, errors.ErrInvalidAccountID
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return s.journal.ListByAccount(accountID, page, pageSize)
}

// readPair fetches both balances concurrently under the held pair lock.
func (s *MovementService) readPair(ctx context.Context, fromID, toID string) (*domain.AccountState, *domain.AccountState, error) {
	var fromState, toState *domain.AccountState

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		state, err := s.gateway.GetBalance(gctx, fromID)
		if err != nil {
			return err
		}
		if !state.Active {
			return errors.ErrAccountInactive
		}
		fromState = state
		return nil
	})
	g.Go(func() error {
		state, err := s.gateway.GetBalance(gctx, toID)
		if err != nil {
			return err
		}
		if !state.Active {
			return errors.ErrAccountInactive
		}
		toState = state
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return fromState, toState, nil
}

// credit applies the destination write. A version conflict means the
// destination moved underneath us (a writer outside this process); the
// credit is a fixed delta, so re-read and re-apply against the fresh
// version, bounded by the usual attempt budget.
func (s *MovementService) credit(ctx context.Context, toID string, amount decimal.Decimal, toState *domain.AccountState) error {
	balance := toState.Balance
	version := toState.Version

	var err error
	for attempt := 1; attempt <= s.casMaxAttempts; attempt++ {
		_, err = s.gateway.SetBalance(ctx, toID, balance.Add(amount), version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errors.VersionConflict) {
			return err
		}

		fresh, readErr := s.gateway.GetBalance(ctx, toID)
		if readErr != nil {
			return readErr
		}
		balance = fresh.Balance
		version = fresh.Version
	}
	return err
}

// compensate restores the source to its pre-transfer balance after a failed
// credit. The first attempt chains off the version the debit returned; a
// conflict means an outside writer touched the source since, in which case
// the restore becomes a delta credit against the fresh state.
func (s *MovementService) compensate(ctx context.Context, fromID string, preBalance, amount decimal.Decimal, debitVersion int64) error {
	_, err := s.gateway.SetBalance(ctx, fromID, preBalance, debitVersion)
	if err == nil || !errors.Is(err, errors.VersionConflict) {
		return err
	}

	for attempt := 1; attempt <= compensationAttempts; attempt++ {
		state, readErr := s.gateway.GetBalance(ctx, fromID)
		if readErr != nil {
			return readErr
		}
		_, err = s.gateway.SetBalance(ctx, fromID, state.Balance.Add(amount), state.Version)
		if err == nil || !errors.Is(err, errors.VersionConflict) {
			return err
		}
	}
	return err
}

// recordedOutcome resolves request-level idempotency: a request key with a
// journaled outcome short-circuits to that record.
func (s *MovementService) recordedOutcome(key *uuid.UUID) (*domain.Transaction, error) {
	if key == nil {
		return nil, nil
	}
	recorded, err := s.journal.GetByRequestKey(*key)
	if err != nil {
		return nil, err
	}
	if recorded != nil {
		s.logger.Info("Returning recorded outcome for request key",
			"request_key", *key,
			"transaction_id", recorded.ID,
			"status", recorded.Status)
		return recorded, nil
	}
	return nil, nil
}

func (s *MovementService) newTransaction(
	txType domain.TransactionType,
	accountID string,
	toAccountID *string,
	amount decimal.Decimal,
	currency string,
	description string,
	requestKey *uuid.UUID,
) *domain.Transaction {
	return &domain.Transaction{
		ID:          uuid.New(),
		AccountID:   accountID,
		ToAccountID: toAccountID,
		Type:        txType,
		Amount:      amount,
		Currency:    currency,
		Description: description,
		Status:      domain.StatusPending,
		RequestKey:  requestKey,
	}
}

// journalOutcome transitions the record to its terminal status and appends
// it exactly once. A duplicate request key lost a race with a concurrent
// retry of the same request; the recorded outcome wins.
func (s *MovementService) journalOutcome(tx *domain.Transaction, status domain.TransactionStatus, failureDetail string) (*domain.Transaction, error) {
	tx.Status = status
	tx.FailureDetail = failureDetail

	err := s.journal.Append(tx)
	if err == nil {
		return tx, nil
	}
	if errors.Is(err, errors.DuplicateMovement) && tx.RequestKey != nil {
		recorded, getErr := s.journal.GetByRequestKey(*tx.RequestKey)
		if getErr == nil && recorded != nil {
			return recorded, nil
		}
	}
	s.logger.Error("Failed to journal movement outcome", "transaction_id", tx.ID, "status", status, "error", err)
	return nil, err
}

// failMovement journals the FAILED row for a movement whose balance write
// did not commit and surfaces the originating error. Exhausted version
// conflicts surface as gateway unavailability.
func (s *MovementService) failMovement(tx *domain.Transaction, cause error) (*domain.Transaction, error) {
	if errors.Is(cause, errors.VersionConflict) {
		cause = errors.ErrGatewayUnavailable.WithDetails("version conflict retries exhausted")
	}
	if _, jerr := s.journalOutcome(tx, domain.StatusFailed, cause.Error()); jerr != nil {
		s.logger.Error("Failed to journal failed movement", "transaction_id", tx.ID, "error", jerr)
	}
	return nil, cause
}

func validateAmount(amount decimal.Decimal) error {
	if amount.IsNegative() || amount.IsZero() {
		return errors.ErrInvalidAmount
	}
	if amount.Exponent() < maxAmountExponent {
		return errors.NewAppError(errors.InvalidAmount, "amount precision exceeds currency precision")
	}
	return nil
}

// noCancel detaches the saga from caller cancellation. Cancellation is free
// before the first balance write; after that the operation must reach a
// terminal outcome.
func noCancel(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
