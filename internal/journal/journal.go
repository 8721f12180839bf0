package journal

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"bank-movements/internal/domain"
	"bank-movements/internal/errors"
)

// postgresJournal is the append-only movement journal. Rows are inserted
// once with their terminal status already decided and never updated.
type postgresJournal struct {
	db     SQLExecutor
	logger *slog.Logger
}

func New(db SQLExecutor, logger *slog.Logger) domain.TransactionJournal {
	return &postgresJournal{
		db:     db,
		logger: logger,
	}
}

func (j *postgresJournal) Append(tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions
		(id, account_id, to_account_id, type, amount, currency, description, status, request_key, failure_detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	var toAccountID interface{}
	if tx.ToAccountID != nil {
		toAccountID = *tx.ToAccountID
	}

	var requestKey interface{}
	if tx.RequestKey != nil {
		requestKey = *tx.RequestKey
	}

	var failureDetail interface{}
	if tx.FailureDetail != "" {
		failureDetail = tx.FailureDetail
	}

	_, err := j.db.Exec(
		query,
		tx.ID,
		tx.AccountID,
		toAccountID,
		string(tx.Type),
		tx.Amount.String(),
		tx.Currency,
		tx.Description,
		string(tx.Status),
		requestKey,
		failureDetail,
		tx.CreatedAt,
	)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code == "23505" && pqErr.Constraint == "idx_transactions_request_key" {
				j.logger.Warn("Duplicate request key", "request_key", tx.RequestKey)
				return errors.ErrDuplicateMovement
			}
		}
		j.logger.Error("Failed to append transaction",
			"transaction_id", tx.ID,
			"account_id", tx.AccountID,
			"type", tx.Type,
			"error", err)
		return errors.NewAppError(errors.InternalError, "failed to append transaction").WithDetails(err.Error())
	}

	j.logger.Info("Transaction appended",
		"transaction_id", tx.ID,
		"type", tx.Type,
		"status", tx.Status)
	return nil
}

func (j *postgresJournal) GetByRequestKey(key uuid.UUID) (*domain.Transaction, error) {
	query := `
		SELECT id, account_id, to_account_id, type, amount, currency, description, status, request_key, failure_detail, created_at
		FROM transactions WHERE request_key = $1
	`

	row := j.db.QueryRow(query, key)
	tx, err := scanTransaction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		j.logger.Error("Failed to get transaction by request key", "request_key", key, "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to get transaction").WithDetails(err.Error())
	}
	return tx, nil
}

func (j *postgresJournal) ListByAccount(accountID string, page, pageSize int) ([]domain.Transaction, error) {
	query := `
		SELECT id, account_id, to_account_id, type, amount, currency, description, status, request_key, failure_detail, created_at
		FROM transactions
		WHERE account_id = $1 OR to_account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`

	offset := (page - 1) * pageSize
	rows, err := j.db.Query(query, accountID, pageSize, offset)
	if err != nil {
		j.logger.Error("Failed to list transactions", "account_id", accountID, "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to list transactions").WithDetails(err.Error())
	}
	defer rows.Close()

	transactions := []domain.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to scan transaction").WithDetails(err.Error())
		}
		transactions = append(transactions, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to read transactions").WithDetails(err.Error())
	}

	return transactions, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var (
		tx            domain.Transaction
		toAccountID   sql.NullString
		amountStr     string
		requestKey    sql.NullString
		failureDetail sql.NullString
	)

	err := row.Scan(
		&tx.ID,
		&tx.AccountID,
		&toAccountID,
		&tx.Type,
		&amountStr,
		&tx.Currency,
		&tx.Description,
		&tx.Status,
		&requestKey,
		&failureDetail,
		&tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, err
	}
	tx.Amount = amount

	if toAccountID.Valid {
		tx.ToAccountID = &toAccountID.String
	}
	if requestKey.Valid {
		key, err := uuid.Parse(requestKey.String)
		if err != nil {
			return nil, err
		}
		tx.RequestKey = &key
	}
	if failureDetail.Valid {
		tx.FailureDetail = failureDetail.String
	}

	return &tx, nil
}
